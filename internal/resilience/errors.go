package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/projtrack/internal/store"
)

var (
	// ErrStoreUnavailable indicates the store handle has no open connection,
	// typically because a reopen after restore failed.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUnknownOperation indicates an operation type outside the dispatch table.
	ErrUnknownOperation = errors.New("unknown operation type")

	// ErrNoBackup indicates a restore was requested but no backup exists.
	ErrNoBackup = errors.New("no backup available")
)

// ErrorClass categorizes a store failure for the executor.
type ErrorClass int

const (
	// ClassUnknown is retried like a transient failure.
	ClassUnknown ErrorClass = iota

	// ClassTransient covers lock contention and timeouts.
	ClassTransient

	// ClassPermanent covers failures a retry cannot fix: constraint
	// violations, bad parameters, missing rows, cancelled callers.
	ClassPermanent

	// ClassCorruption covers a damaged or unreadable store file.
	ClassCorruption
)

// String implements fmt.Stringer.
func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassCorruption:
		return "corruption"
	default:
		return "unknown"
	}
}

// Classify maps an error onto an ErrorClass.
//
// Typed errors are checked first, then SQLite result codes, then message
// text for drivers that only surface a string.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ClassPermanent
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	case errors.Is(err, ErrStoreUnavailable):
		return ClassCorruption
	case errors.Is(err, store.ErrUnknownEntity),
		errors.Is(err, store.ErrInvalidParams),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, ErrUnknownOperation):
		return ClassPermanent
	}

	var te *TransientStoreError
	if errors.As(err, &te) {
		return ClassTransient
	}
	var ie *IntegrityError
	if errors.As(err, &ie) {
		return ClassCorruption
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return ClassTransient
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB, sqlite3.ErrIoErr, sqlite3.ErrCantOpen:
			return ClassCorruption
		case sqlite3.ErrConstraint, sqlite3.ErrMismatch, sqlite3.ErrRange, sqlite3.ErrReadonly:
			return ClassPermanent
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "malformed"),
		strings.Contains(msg, "not a database"),
		strings.Contains(msg, "disk i/o error"),
		strings.Contains(msg, "unable to open database"):
		return ClassCorruption
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"),
		strings.Contains(msg, "busy"),
		strings.Contains(msg, "timeout"):
		return ClassTransient
	case strings.Contains(msg, "constraint"),
		strings.Contains(msg, "no such column"),
		strings.Contains(msg, "no such table"):
		return ClassPermanent
	}
	return ClassUnknown
}

// TransientStoreError marks a failure that is expected to clear on retry.
type TransientStoreError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientStoreError) Unwrap() error { return e.Err }

// IntegrityError reports a store file that failed an integrity check.
type IntegrityError struct {
	Path   string
	Detail string
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("integrity check failed: %s", e.Path)
	}
	return fmt.Sprintf("integrity check failed: %s: %s", e.Path, e.Detail)
}

// BackupError reports a failed backup, prune or restore.
type BackupError struct {
	// Op is one of "create", "restore", "prune", "list".
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *BackupError) Error() string {
	return fmt.Sprintf("backup %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackupError) Unwrap() error { return e.Err }

// DatabaseOperationError is returned when an operation could not complete.
//
// Queued reports whether the operation was recorded in the pending slot for
// later replay. Recovery is set when the failure triggered a recovery run.
type DatabaseOperationError struct {
	Operation Operation
	Queued    bool
	Attempts  int
	Cause     error

	// QueueErr is set when persisting the pending operation itself failed.
	QueueErr error

	Recovery *RecoveryResult
}

// Error implements the error interface.
func (e *DatabaseOperationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "database operation %s failed", e.Operation.Label())
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempt(s)", e.Attempts)
	}
	if e.Queued {
		b.WriteString(" (queued for retry)")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if e.QueueErr != nil {
		fmt.Fprintf(&b, "; queue: %v", e.QueueErr)
	}
	return b.String()
}

// Unwrap returns the cause and, when recovery failed, the recovery failure.
func (e *DatabaseOperationError) Unwrap() []error {
	var errs []error
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	if e.Recovery != nil {
		if rerr := e.Recovery.Err(); rerr != nil {
			errs = append(errs, rerr)
		}
	}
	return errs
}

// RecoveryFailure means the store could not be made usable automatically
// and manual intervention is required.
type RecoveryFailure struct {
	Actions []string
}

// Error implements the error interface.
func (e *RecoveryFailure) Error() string {
	return fmt.Sprintf("database recovery failed, manual intervention required (actions: %s)",
		strings.Join(e.Actions, ", "))
}

// IsTransient returns true if the error would be retried by the executor.
func IsTransient(err error) bool {
	c := Classify(err)
	return c == ClassTransient || c == ClassUnknown
}

// IsCorruption returns true if the error indicates a damaged store.
// Uses errors.As to handle wrapped errors.
func IsCorruption(err error) bool {
	return err != nil && Classify(err) == ClassCorruption
}

// IsManualIntervention returns true if err carries a RecoveryFailure.
func IsManualIntervention(err error) bool {
	var rf *RecoveryFailure
	return errors.As(err, &rf)
}

// IsQueued returns true if err is a DatabaseOperationError whose operation
// was stored for replay.
func IsQueued(err error) bool {
	var de *DatabaseOperationError
	if errors.As(err, &de) {
		return de.Queued
	}
	return false
}
