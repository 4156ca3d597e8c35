package resilience

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/roach88/projtrack/internal/oplog"
)

// sqliteMagic opens every SQLite 3 database file.
var sqliteMagic = []byte("SQLite format 3\x00")

const sqliteHeaderSize = 100

// IntegrityChecker probes a store for structural damage.
//
// Checks are read-only and never take the Handle's write lock.
type IntegrityChecker struct {
	logger  *slog.Logger
	journal *oplog.Journal
}

// NewIntegrityChecker creates a checker. A nil logger defaults to slog.Default().
func NewIntegrityChecker(logger *slog.Logger, journal *oplog.Journal) *IntegrityChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrityChecker{logger: logger, journal: journal}
}

// CheckIntegrity runs PRAGMA integrity_check through q. Returns true only
// when the engine reports a single "ok" row. Errors count as false.
func (c *IntegrityChecker) CheckIntegrity(ctx context.Context, q Querier) bool {
	err := runIntegrityCheck(ctx, q)
	c.record("connection", err)
	return err == nil
}

// CheckFile probes the store file at path without using the live
// connection: the header and size are validated, then integrity_check runs
// over a separate read-only connection.
func (c *IntegrityChecker) CheckFile(ctx context.Context, path string) bool {
	err := c.Verify(ctx, path)
	c.record(path, err)
	return err == nil
}

// Verify is CheckFile returning the reason for a failure as *IntegrityError.
func (c *IntegrityChecker) Verify(ctx context.Context, path string) error {
	ctx, span := tracer.Start(ctx, "resilience.Integrity.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	if err := verifyHeader(path); err != nil {
		return err
	}

	db, err := sql.Open("sqlite3", readOnlyDSN(path))
	if err != nil {
		return &IntegrityError{Path: path, Detail: err.Error()}
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := runIntegrityCheck(ctx, dbQuerier{db}); err != nil {
		return &IntegrityError{Path: path, Detail: err.Error()}
	}
	return nil
}

func (c *IntegrityChecker) record(target string, err error) {
	if err == nil {
		integrityChecksTotal.WithLabelValues("passed").Inc()
		c.journal.Record(oplog.ActionIntegrityCheck, oplog.OutcomeOK, zap.String("target", target))
		c.logger.Debug("integrity check passed", slog.String("target", target))
		return
	}
	integrityChecksTotal.WithLabelValues("failed").Inc()
	c.journal.Record(oplog.ActionIntegrityCheck, oplog.OutcomeFailed,
		zap.String("target", target), zap.Error(err))
	c.logger.Warn("integrity check failed",
		slog.String("target", target),
		slog.String("error", err.Error()),
	)
}

// verifyHeader rejects files that cannot be a complete SQLite database.
func verifyHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &IntegrityError{Path: path, Detail: err.Error()}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &IntegrityError{Path: path, Detail: err.Error()}
	}
	if info.Size() == 0 {
		return &IntegrityError{Path: path, Detail: "empty file"}
	}

	header := make([]byte, sqliteHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return &IntegrityError{Path: path, Detail: "short header"}
	}
	if !bytes.Equal(header[:len(sqliteMagic)], sqliteMagic) {
		return &IntegrityError{Path: path, Detail: "not a database"}
	}

	// Page size is big-endian at offset 16; 1 encodes 65536.
	pageSize := int64(binary.BigEndian.Uint16(header[16:18]))
	if pageSize == 1 {
		pageSize = 65536
	}
	if pageSize < 512 || pageSize&(pageSize-1) != 0 {
		return &IntegrityError{Path: path, Detail: fmt.Sprintf("invalid page size %d", pageSize)}
	}
	if info.Size()%pageSize != 0 {
		return &IntegrityError{
			Path:   path,
			Detail: fmt.Sprintf("size %d is not a multiple of page size %d", info.Size(), pageSize),
		}
	}

	// In-header page count at offset 28 is valid when the change counter
	// at 24 matches version-valid-for at 92.
	pageCount := int64(binary.BigEndian.Uint32(header[28:32]))
	if pageCount > 0 && bytes.Equal(header[24:28], header[92:96]) && pageCount*pageSize > info.Size() {
		return &IntegrityError{
			Path:   path,
			Detail: fmt.Sprintf("file truncated: %d pages declared, %d bytes on disk", pageCount, info.Size()),
		}
	}
	return nil
}

func readOnlyDSN(path string) string {
	return "file:" + (&url.URL{Path: path}).EscapedPath() + "?mode=ro"
}

func runIntegrityCheck(ctx context.Context, q Querier) error {
	rows, err := q.Query(ctx, "PRAGMA integrity_check")
	if err != nil {
		return err
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return err
		}
		results = append(results, line)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(results) == 1 && results[0] == "ok" {
		return nil
	}
	if len(results) == 0 {
		return fmt.Errorf("integrity_check returned no rows")
	}
	return fmt.Errorf("integrity_check: %s", strings.Join(results, "; "))
}

// dbQuerier adapts *sql.DB to Querier.
type dbQuerier struct{ db *sql.DB }

func (d dbQuerier) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}
