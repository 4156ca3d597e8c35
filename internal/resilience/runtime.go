package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/projtrack/internal/oplog"
)

// Options configures a Runtime.
type Options struct {
	// StorePath is the live SQLite file.
	StorePath string

	// BackupDir holds backup copies. Default: <store dir>/backups.
	BackupDir string

	// BackupRetain is the number of backups kept. Default: 5.
	BackupRetain int

	// BackupSchedule is a cron spec for periodic backups. Default: @every 1h.
	BackupSchedule string

	// PendingPath is the pending slot location: a JSON file for the file
	// backend, a directory for badger. Default: <store dir>/pending-operation.json.
	PendingPath string

	// PendingBackend is "file" (default) or "badger".
	PendingBackend string

	// Slot overrides PendingPath and PendingBackend when set.
	Slot Slot

	Retry   RetryPolicy
	Sleeper Sleeper
	Now     func() time.Time
	Opener  Opener
	Logger  *slog.Logger
	Journal *oplog.Journal
}

// Runtime owns every resilience component for one store. It replaces
// process-wide state: construct it at start-up, pass it to callers, and
// Close it at exit.
type Runtime struct {
	Handle   *Handle
	Backups  *BackupManager
	Checker  *IntegrityChecker
	Pending  *PendingQueue
	Executor *Executor
	Recovery *Recovery

	scheduler *BackupScheduler
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

// New builds the runtime. The store is not opened until Start.
func New(opts Options) (*Runtime, error) {
	if opts.StorePath == "" {
		return nil, errors.New("store path must not be empty")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retry.MaxAttempts == 0 && opts.Retry.BaseDelay == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	storeDir := filepath.Dir(opts.StorePath)
	if opts.BackupDir == "" {
		opts.BackupDir = filepath.Join(storeDir, "backups")
	}
	if opts.PendingPath == "" {
		opts.PendingPath = filepath.Join(storeDir, "pending-operation.json")
	}

	slot := opts.Slot
	if slot == nil {
		var err error
		slot, err = OpenSlot(opts.PendingBackend, opts.PendingPath, opts.Logger)
		if err != nil {
			return nil, err
		}
	}

	handle := NewHandle(opts.StorePath, opts.Opener)
	checker := NewIntegrityChecker(opts.Logger, opts.Journal)
	backups, err := NewBackupManager(BackupConfig{
		SourcePath: opts.StorePath,
		Dir:        opts.BackupDir,
		Retain:     opts.BackupRetain,
		Quiesce:    handle.Quiesce(),
		Verify:     checker.Verify,
		Now:        opts.Now,
		Logger:     opts.Logger,
		Journal:    opts.Journal,
	})
	if err != nil {
		slot.Close()
		return nil, err
	}

	pending := NewPendingQueue(slot, opts.Now, opts.Logger, opts.Journal)
	executor := NewExecutor(handle, pending, ExecutorConfig{
		Policy:  opts.Retry,
		Sleeper: opts.Sleeper,
		Logger:  opts.Logger,
		Journal: opts.Journal,
	})
	recovery := NewRecovery(handle, checker, backups, executor, opts.Logger, opts.Journal)

	return &Runtime{
		Handle:    handle,
		Backups:   backups,
		Checker:   checker,
		Pending:   pending,
		Executor:  executor,
		Recovery:  recovery,
		scheduler: NewBackupScheduler(backups, handle.IsOpen, opts.BackupSchedule, opts.Logger, opts.Journal),
		logger:    opts.Logger,
	}, nil
}

// Start opens the store.
//
// A missing store with no backups is created empty. Otherwise a recovery
// run checks the file, restores it if needed and replays any pending
// write. A failed recovery is returned as *RecoveryFailure; the runtime
// stays usable for manual restore.
func (r *Runtime) Start(ctx context.Context) (RecoveryResult, error) {
	if err := os.MkdirAll(filepath.Dir(r.Handle.Path()), 0o755); err != nil {
		return RecoveryResult{}, fmt.Errorf("create store dir: %w", err)
	}

	_, statErr := os.Stat(r.Handle.Path())
	if errors.Is(statErr, os.ErrNotExist) {
		backups, err := r.Backups.ListBackups()
		if err != nil {
			return RecoveryResult{}, err
		}
		if len(backups) == 0 {
			if err := r.Handle.Open(); err != nil {
				return RecoveryResult{}, err
			}
			r.logger.Info("created new store", slog.String("path", r.Handle.Path()))
			return RecoveryResult{Success: true, Actions: []string{}}, nil
		}
	}

	res := r.Recovery.Recover(ctx)
	return res, res.Err()
}

// RetryPendingOperation replays the pending write, if any.
func (r *Runtime) RetryPendingOperation(ctx context.Context) (ReplayResult, error) {
	return r.Executor.ReplayPending(ctx)
}

// DiscardPendingOperation drops the pending write without replaying it.
func (r *Runtime) DiscardPendingOperation() error {
	return r.Pending.Clear()
}

// RecoverDatabase runs the recovery state machine on demand.
func (r *Runtime) RecoverDatabase(ctx context.Context) RecoveryResult {
	return r.Recovery.Recover(ctx)
}

// RestoreLatest replaces the live store with the newest backup and reopens
// it. Returns false when there is no backup; the live store is untouched.
func (r *Runtime) RestoreLatest(ctx context.Context) (BackupRecord, bool, error) {
	x := r.Handle.Acquire()
	defer x.Release()

	if err := x.Detach(); err != nil {
		r.logger.Warn("closing store before restore", slog.String("error", err.Error()))
	}

	rec, ok, err := r.Backups.RestoreFromLatestBackup(ctx)
	if reopenErr := x.Reopen(); reopenErr != nil {
		return rec, ok, errors.Join(err, reopenErr)
	}
	return rec, ok, err
}

// StartScheduler begins periodic backups.
func (r *Runtime) StartScheduler(ctx context.Context) error {
	return r.scheduler.Start(ctx)
}

// Close stops the scheduler and releases the store and pending slot.
// Safe to call more than once.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	r.scheduler.Stop()
	return errors.Join(r.Handle.Close(), r.Pending.Close())
}
