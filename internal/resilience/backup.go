package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/roach88/projtrack/internal/oplog"
)

// DefaultBackupRetain is the number of backups kept after each backup.
const DefaultBackupRetain = 5

// backupTimeFormat is the UTC timestamp embedded in backup filenames.
// It sorts lexically in time order.
const backupTimeFormat = "20060102T150405.000000000Z"

const backupSuffix = ".bak"

// DefaultBusyWait bounds how long TryCreateBackup waits for the quiesce lock.
const DefaultBusyWait = 2 * time.Second

const busyPollInterval = 5 * time.Millisecond

// TryLocker is a sync.Locker that can also be acquired without blocking.
type TryLocker interface {
	sync.Locker
	TryLock() bool
}

// sidecarSuffixes are SQLite files that belong to a specific main file and
// must not survive a restore.
var sidecarSuffixes = []string{"-journal", "-wal", "-shm"}

// BackupRecord describes one backup file.
type BackupRecord struct {
	SourcePath string    `json:"sourcePath"`
	BackupPath string    `json:"backupPath"`
	CreatedAt  time.Time `json:"createdAt"`
	Size       int64     `json:"size"`
}

// Stamp returns the filename timestamp of the backup.
func (r BackupRecord) Stamp() string {
	return r.CreatedAt.UTC().Format(backupTimeFormat)
}

// BackupConfig configures a BackupManager.
type BackupConfig struct {
	// SourcePath is the live store file.
	SourcePath string

	// Dir receives backup files. Created on first backup.
	Dir string

	// Retain is how many backups CreateBackup keeps. Default: 5.
	Retain int

	// Quiesce, when set, is held while the source file is copied so no
	// write is in flight. Typically Handle.Quiesce().
	Quiesce TryLocker

	// BusyWait bounds how long TryCreateBackup waits for Quiesce.
	// Default: DefaultBusyWait.
	BusyWait time.Duration

	// Verify, when set, checks the source file before it is copied. A
	// failing source is never written into the backup directory.
	Verify func(ctx context.Context, path string) error

	Now     func() time.Time
	Logger  *slog.Logger
	Journal *oplog.Journal
}

// BackupManager creates, lists, prunes and restores file-copy backups.
//
// Backup and restore are mutually exclusive. When a Quiesce lock is
// configured it is always acquired before the manager's own mutex.
type BackupManager struct {
	cfg BackupConfig

	mu   sync.Mutex
	last time.Time
}

// NewBackupManager validates cfg and applies defaults.
func NewBackupManager(cfg BackupConfig) (*BackupManager, error) {
	if cfg.SourcePath == "" {
		return nil, errors.New("backup source path must not be empty")
	}
	if cfg.Dir == "" {
		return nil, errors.New("backup dir must not be empty")
	}
	if cfg.Retain <= 0 {
		cfg.Retain = DefaultBackupRetain
	}
	if cfg.BusyWait <= 0 {
		cfg.BusyWait = DefaultBusyWait
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &BackupManager{cfg: cfg}, nil
}

// Dir returns the backup directory.
func (m *BackupManager) Dir() string {
	return m.cfg.Dir
}

// CreateBackup copies the live store into the backup directory and prunes
// old backups down to the configured retention.
func (m *BackupManager) CreateBackup(ctx context.Context) (BackupRecord, error) {
	if m.cfg.Quiesce != nil {
		m.cfg.Quiesce.Lock()
		defer m.cfg.Quiesce.Unlock()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.createLocked(ctx)
}

// TryCreateBackup behaves like CreateBackup but skips, returning false,
// when a backup or restore is already running or the store stays busy
// for longer than BusyWait.
func (m *BackupManager) TryCreateBackup(ctx context.Context) (BackupRecord, bool, error) {
	if m.cfg.Quiesce != nil {
		if !m.tryQuiesce(ctx) {
			m.skipBusy()
			return BackupRecord{}, false, nil
		}
		defer m.cfg.Quiesce.Unlock()
	}
	if !m.mu.TryLock() {
		m.skipBusy()
		return BackupRecord{}, false, nil
	}
	defer m.mu.Unlock()

	rec, err := m.createLocked(ctx)
	return rec, err == nil, err
}

// tryQuiesce polls the quiesce lock until it is acquired, BusyWait
// elapses or ctx is done.
func (m *BackupManager) tryQuiesce(ctx context.Context) bool {
	if m.cfg.Quiesce.TryLock() {
		return true
	}
	deadline := time.NewTimer(m.cfg.BusyWait)
	defer deadline.Stop()
	tick := time.NewTicker(busyPollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
			if m.cfg.Quiesce.TryLock() {
				return true
			}
		}
	}
}

func (m *BackupManager) skipBusy() {
	m.cfg.Journal.Record(oplog.ActionBackup, oplog.OutcomeSkipped, zap.String("reason", "busy"))
	m.cfg.Logger.Info("store busy, backup skipped")
}

func (m *BackupManager) createLocked(ctx context.Context) (rec BackupRecord, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "resilience.Backup.Create",
		trace.WithAttributes(attribute.String("source", m.cfg.SourcePath)),
	)
	defer span.End()

	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "backup failed")
			m.cfg.Journal.Record(oplog.ActionBackup, oplog.OutcomeFailed,
				zap.String("source", m.cfg.SourcePath), zap.Error(err))
			m.cfg.Logger.Error("backup failed", slog.String("error", err.Error()))
		}
		backupOperationsTotal.WithLabelValues("create", status).Inc()
		backupDurationHistogram.WithLabelValues("create", status).Observe(time.Since(start).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		return BackupRecord{}, &BackupError{Op: "create", Path: m.cfg.SourcePath, Err: err}
	}
	if _, err := os.Stat(m.cfg.SourcePath); err != nil {
		return BackupRecord{}, &BackupError{Op: "create", Path: m.cfg.SourcePath, Err: err}
	}
	if m.cfg.Verify != nil {
		if err := m.cfg.Verify(ctx, m.cfg.SourcePath); err != nil {
			return BackupRecord{}, &BackupError{Op: "create", Path: m.cfg.SourcePath, Err: err}
		}
	}
	if err := os.MkdirAll(m.cfg.Dir, 0o750); err != nil {
		return BackupRecord{}, &BackupError{Op: "create", Path: m.cfg.Dir, Err: err}
	}

	createdAt, err := m.nextTimestamp()
	if err != nil {
		return BackupRecord{}, &BackupError{Op: "create", Path: m.cfg.Dir, Err: err}
	}
	rec = BackupRecord{
		SourcePath: m.cfg.SourcePath,
		BackupPath: m.backupPath(createdAt),
		CreatedAt:  createdAt,
	}

	n, err := copyFileAtomic(m.cfg.SourcePath, rec.BackupPath)
	if err != nil {
		return BackupRecord{}, &BackupError{Op: "create", Path: rec.BackupPath, Err: err}
	}
	rec.Size = n

	backupSizeGauge.Set(float64(n))
	span.SetAttributes(
		attribute.String("backup", rec.BackupPath),
		attribute.Int64("size_bytes", n),
	)
	m.cfg.Journal.Record(oplog.ActionBackup, oplog.OutcomeOK,
		zap.String("backup", rec.BackupPath),
		zap.Int64("size", n),
	)
	m.cfg.Logger.Info("backup created",
		slog.String("backup", rec.BackupPath),
		slog.Int64("size", n),
	)

	if _, err := m.pruneLocked(m.cfg.Retain); err != nil {
		// The backup itself is complete; a failed prune is retried next time.
		m.cfg.Logger.Warn("prune after backup failed", slog.String("error", err.Error()))
	}
	return rec, nil
}

// nextTimestamp returns a creation time strictly after every backup this
// manager has seen, so names never collide and ordering is total.
func (m *BackupManager) nextTimestamp() (time.Time, error) {
	if m.last.IsZero() {
		existing, err := m.listLocked()
		if err != nil {
			return time.Time{}, err
		}
		if len(existing) > 0 {
			m.last = existing[0].CreatedAt
		}
	}

	t := m.cfg.Now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Nanosecond)
	}
	m.last = t
	return t, nil
}

func (m *BackupManager) backupPath(t time.Time) string {
	name := filepath.Base(m.cfg.SourcePath) + "." + t.UTC().Format(backupTimeFormat) + backupSuffix
	return filepath.Join(m.cfg.Dir, name)
}

// ListBackups returns all backups of the source file, newest first.
// A missing backup directory yields an empty list.
func (m *BackupManager) ListBackups() ([]BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked()
}

func (m *BackupManager) listLocked() ([]BackupRecord, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return []BackupRecord{}, nil
	}
	if err != nil {
		return nil, &BackupError{Op: "list", Path: m.cfg.Dir, Err: err}
	}

	prefix := filepath.Base(m.cfg.SourcePath) + "."
	records := []BackupRecord{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), backupSuffix)
		createdAt, err := time.Parse(backupTimeFormat, stamp)
		if err != nil {
			continue
		}
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		records = append(records, BackupRecord{
			SourcePath: m.cfg.SourcePath,
			BackupPath: filepath.Join(m.cfg.Dir, name),
			CreatedAt:  createdAt,
			Size:       size,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// PruneOldBackups deletes all but the retain newest backups and returns the
// deleted records.
func (m *BackupManager) PruneOldBackups(retain int) ([]BackupRecord, error) {
	if retain < 0 {
		return nil, fmt.Errorf("retain must not be negative, got %d", retain)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruneLocked(retain)
}

func (m *BackupManager) pruneLocked(retain int) ([]BackupRecord, error) {
	records, err := m.listLocked()
	if err != nil {
		return nil, err
	}
	if len(records) <= retain {
		return []BackupRecord{}, nil
	}

	deleted := []BackupRecord{}
	var errs []error
	for _, rec := range records[retain:] {
		if err := os.Remove(rec.BackupPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, &BackupError{Op: "prune", Path: rec.BackupPath, Err: err})
			continue
		}
		deleted = append(deleted, rec)
	}

	status, outcome := "ok", oplog.OutcomeOK
	if len(errs) > 0 {
		status, outcome = "error", oplog.OutcomeFailed
	}
	backupOperationsTotal.WithLabelValues("prune", status).Inc()
	m.cfg.Journal.Record(oplog.ActionPrune, outcome,
		zap.Int("retain", retain),
		zap.Int("deleted", len(deleted)),
	)
	return deleted, errors.Join(errs...)
}

// RestoreFromLatestBackup copies the newest backup over the live store.
//
// Returns false with a nil error when no backup exists. The replaced live
// file is kept next to it as <store>.pre-restore-<timestamp>, and stale
// journal sidecars are removed.
//
// The caller must hold exclusive access to the store file (the live
// connection closed and no operation in flight).
func (m *BackupManager) RestoreFromLatestBackup(ctx context.Context) (BackupRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	ctx, span := tracer.Start(ctx, "resilience.Backup.Restore")
	defer span.End()

	records, err := m.listLocked()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list backups failed")
		return BackupRecord{}, false, err
	}
	if len(records) == 0 {
		span.SetAttributes(attribute.Bool("backup_exists", false))
		m.cfg.Journal.Record(oplog.ActionRestore, oplog.OutcomeSkipped, zap.String("reason", "no backup"))
		return BackupRecord{}, false, nil
	}
	latest := records[0]
	span.SetAttributes(attribute.String("backup", latest.BackupPath))

	if err := m.restoreLocked(ctx, latest); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "restore failed")
		backupOperationsTotal.WithLabelValues("restore", "error").Inc()
		backupDurationHistogram.WithLabelValues("restore", "error").Observe(time.Since(start).Seconds())
		m.cfg.Journal.Record(oplog.ActionRestore, oplog.OutcomeFailed,
			zap.String("backup", latest.BackupPath), zap.Error(err))
		return BackupRecord{}, false, err
	}

	backupOperationsTotal.WithLabelValues("restore", "ok").Inc()
	backupDurationHistogram.WithLabelValues("restore", "ok").Observe(time.Since(start).Seconds())
	m.cfg.Journal.Record(oplog.ActionRestore, oplog.OutcomeOK, zap.String("backup", latest.BackupPath))
	m.cfg.Logger.Info("store restored from backup", slog.String("backup", latest.BackupPath))
	return latest, true, nil
}

func (m *BackupManager) restoreLocked(ctx context.Context, rec BackupRecord) error {
	if err := ctx.Err(); err != nil {
		return &BackupError{Op: "restore", Path: rec.BackupPath, Err: err}
	}
	live := m.cfg.SourcePath

	var aside string
	if _, err := os.Stat(live); err == nil {
		aside = live + ".pre-restore-" + m.cfg.Now().UTC().Format(backupTimeFormat)
		if err := os.Rename(live, aside); err != nil {
			return &BackupError{Op: "restore", Path: live, Err: err}
		}
	}

	if _, err := copyFileAtomic(rec.BackupPath, live); err != nil {
		if aside != "" {
			if rerr := os.Rename(aside, live); rerr != nil {
				m.cfg.Logger.Error("could not put live store back after failed restore",
					slog.String("aside", aside), slog.String("error", rerr.Error()))
			}
		}
		return &BackupError{Op: "restore", Path: rec.BackupPath, Err: err}
	}

	for _, suffix := range sidecarSuffixes {
		if err := os.Remove(live + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &BackupError{Op: "restore", Path: live + suffix, Err: err}
		}
	}
	return nil
}
