package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/projtrack/internal/oplog"
)

// Recovery action names reported in RecoveryResult.Actions.
const (
	ActionIntegrityCheckPassed             = "integrity-check-passed"
	ActionIntegrityCheckFailed             = "integrity-check-failed"
	ActionRestoredBackupPrefix             = "restored-backup-"
	ActionNoBackupAvailable                = "no-backup-available"
	ActionRestoreFailed                    = "restore-failed"
	ActionIntegrityCheckFailedAfterRestore = "integrity-check-failed-after-restore"
	ActionReplayedPendingOperation         = "replayed-pending-operation"
	ActionPendingReplayFailed              = "pending-replay-failed"
	ActionReopenFailed                     = "reopen-failed"

	// ActionSkippedUnchanged reports that the previous run failed and
	// neither the live store nor the newest backup has changed since.
	ActionSkippedUnchanged = "skipped-unchanged-since-last-failure"
)

// RecoveryResult reports what a recovery run did.
type RecoveryResult struct {
	Success bool     `json:"success"`
	Actions []string `json:"actionsTaken"`

	// RestoredFrom is set when a backup was copied over the live store.
	RestoredFrom *BackupRecord `json:"restoredFrom,omitempty"`

	// Replay is set when a pending operation was replayed or attempted.
	Replay *ReplayResult `json:"replay,omitempty"`
}

// Err returns a *RecoveryFailure when the run did not succeed.
func (r RecoveryResult) Err() error {
	if r.Success {
		return nil
	}
	actions := make([]string, len(r.Actions))
	copy(actions, r.Actions)
	return &RecoveryFailure{Actions: actions}
}

// Recovery restores a usable store:
//
//	CHECK -> OK
//	CHECK -> RESTORE -> CHECK2 -> OK | FAIL
//
// then replays the pending slot when the store is usable. It never wipes or
// recreates the store; a failed run is left for manual intervention.
type Recovery struct {
	handle   *Handle
	checker  *IntegrityChecker
	backups  *BackupManager
	executor *Executor

	group   singleflight.Group
	logger  *slog.Logger
	journal *oplog.Journal

	mu        sync.Mutex
	failedKey string
}

// NewRecovery wires the orchestrator and attaches it to executor.
func NewRecovery(handle *Handle, checker *IntegrityChecker, backups *BackupManager, executor *Executor, logger *slog.Logger, journal *oplog.Journal) *Recovery {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recovery{
		handle:   handle,
		checker:  checker,
		backups:  backups,
		executor: executor,
		logger:   logger,
		journal:  journal,
	}
	if executor != nil {
		executor.recovery = r
	}
	return r
}

// Recover runs one recovery. Concurrent callers share a single run.
//
// A run that ended with a bad backup or no backup is not repeated until
// the live store file or the newest backup changes; each repeat would set
// aside another copy of the same damaged file.
func (r *Recovery) Recover(ctx context.Context) RecoveryResult {
	v, _, _ := r.group.Do("recover", func() (any, error) {
		key := r.stateKey()
		if r.unchangedSinceFailure(key) {
			r.journal.Record(oplog.ActionRecover, oplog.OutcomeSkipped,
				zap.String("reason", ActionSkippedUnchanged))
			r.logger.Warn("store unchanged since last failed recovery, manual intervention required")
			return RecoveryResult{Actions: []string{ActionSkippedUnchanged}}, nil
		}

		res := r.recover(context.WithoutCancel(ctx))

		r.mu.Lock()
		r.failedKey = ""
		if terminalFailure(res) {
			r.failedKey = r.stateKey()
		}
		r.mu.Unlock()
		return res, nil
	})
	return v.(RecoveryResult)
}

func (r *Recovery) unchangedSinceFailure(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return key != "" && key == r.failedKey
}

// terminalFailure reports whether res failed in a way that rerunning
// against the same files cannot fix.
func terminalFailure(res RecoveryResult) bool {
	if res.Success || len(res.Actions) == 0 {
		return false
	}
	switch res.Actions[len(res.Actions)-1] {
	case ActionIntegrityCheckFailedAfterRestore, ActionNoBackupAvailable:
		return true
	}
	return false
}

// stateKey identifies the live store file and the newest backup by name,
// size and modification time. Empty when either cannot be read.
func (r *Recovery) stateKey() string {
	var b strings.Builder
	if info, err := os.Stat(r.handle.Path()); err == nil {
		fmt.Fprintf(&b, "%d:%d", info.Size(), info.ModTime().UnixNano())
	} else if os.IsNotExist(err) {
		b.WriteString("missing")
	} else {
		return ""
	}

	list, err := r.backups.ListBackups()
	if err != nil {
		return ""
	}
	if len(list) == 0 {
		b.WriteString("|none")
		return b.String()
	}
	info, err := os.Stat(list[0].BackupPath)
	if err != nil {
		return ""
	}
	fmt.Fprintf(&b, "|%s:%d:%d", list[0].BackupPath, info.Size(), info.ModTime().UnixNano())
	return b.String()
}

func (r *Recovery) recover(ctx context.Context) RecoveryResult {
	ctx, span := tracer.Start(ctx, "resilience.Recovery.Recover")
	defer span.End()

	res := RecoveryResult{Actions: []string{}}
	usable := r.restoreUsableStore(ctx, &res)

	if usable {
		r.replay(ctx, &res)
	}
	res.Success = usable

	result := "success"
	outcome := oplog.OutcomeOK
	if !usable {
		result, outcome = "failure", oplog.OutcomeFailed
		span.SetStatus(codes.Error, "recovery failed")
	}
	span.SetAttributes(
		attribute.Bool("success", res.Success),
		attribute.StringSlice("actions", res.Actions),
	)
	recoveriesTotal.WithLabelValues(result).Inc()
	r.journal.Record(oplog.ActionRecover, outcome, zap.Strings("actionsTaken", res.Actions))
	if usable {
		r.logger.Info("database recovery finished", slog.Any("actions", res.Actions))
	} else {
		r.logger.Error("database recovery failed, manual intervention required",
			slog.Any("actions", res.Actions))
	}
	return res
}

// restoreUsableStore runs the check/restore state machine under exclusive
// access and reports whether the live store is open and healthy. A store
// that fails both checks stays closed so nothing writes into a damaged file.
func (r *Recovery) restoreUsableStore(ctx context.Context, res *RecoveryResult) bool {
	x := r.handle.Acquire()
	defer x.Release()

	if err := x.Detach(); err != nil {
		r.logger.Warn("closing store before recovery", slog.String("error", err.Error()))
	}

	// CHECK
	if r.checker.CheckFile(ctx, x.Path()) {
		res.Actions = append(res.Actions, ActionIntegrityCheckPassed)
		err := x.Reopen()
		if err == nil {
			return true
		}
		r.logReopen(err)
		res.Actions = append(res.Actions, ActionReopenFailed)
	} else {
		res.Actions = append(res.Actions, ActionIntegrityCheckFailed)
	}

	// RESTORE
	rec, ok, err := r.backups.RestoreFromLatestBackup(ctx)
	switch {
	case err != nil:
		r.logger.Error("restore failed", slog.String("error", err.Error()))
		res.Actions = append(res.Actions, ActionRestoreFailed)
		return false
	case !ok:
		res.Actions = append(res.Actions, ActionNoBackupAvailable)
		return false
	}
	res.Actions = append(res.Actions, ActionRestoredBackupPrefix+rec.Stamp())
	res.RestoredFrom = &rec

	// CHECK2
	if !r.checker.CheckFile(ctx, x.Path()) {
		res.Actions = append(res.Actions, ActionIntegrityCheckFailedAfterRestore)
		return false
	}
	res.Actions = append(res.Actions, ActionIntegrityCheckPassed)

	if err := x.Reopen(); err != nil {
		r.logReopen(err)
		res.Actions = append(res.Actions, ActionReopenFailed)
		return false
	}
	return true
}

// replay runs the pending operation, if any. A failed replay leaves the
// slot intact and does not make the store unusable.
func (r *Recovery) replay(ctx context.Context, res *RecoveryResult) {
	if r.executor == nil {
		return
	}
	rr, err := r.executor.ReplayPending(ctx)
	if !rr.Replayed && rr.Operation == nil && err == nil {
		return
	}
	res.Replay = &rr
	if err != nil && !rr.Replayed {
		r.logger.Warn("pending operation replay failed", slog.String("error", err.Error()))
		res.Actions = append(res.Actions, ActionPendingReplayFailed)
		return
	}
	res.Actions = append(res.Actions, ActionReplayedPendingOperation)
}

func (r *Recovery) logReopen(err error) {
	r.journal.Record(oplog.ActionReopen, oplog.OutcomeFailed, zap.Error(err))
	r.logger.Error("reopening store failed", slog.String("error", err.Error()))
}
