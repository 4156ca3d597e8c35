package resilience

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/roach88/projtrack/internal/oplog"
)

// DefaultBackupSchedule runs a backup every hour.
const DefaultBackupSchedule = "@every 1h"

// BackupScheduler triggers periodic backups. Failures are logged and the
// cycle is skipped; they never reach the caller.
type BackupScheduler struct {
	backups  *BackupManager
	ready    func() bool
	schedule string
	cron     *cron.Cron
	entryID  cron.EntryID
	logger   *slog.Logger
	journal  *oplog.Journal
}

// NewBackupScheduler creates a scheduler. An empty schedule uses
// DefaultBackupSchedule. Runs are skipped while ready reports false; a nil
// ready always runs.
func NewBackupScheduler(backups *BackupManager, ready func() bool, schedule string, logger *slog.Logger, journal *oplog.Journal) *BackupScheduler {
	if schedule == "" {
		schedule = DefaultBackupSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BackupScheduler{
		backups:  backups,
		ready:    ready,
		schedule: schedule,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:   logger,
		journal:  journal,
	}
}

// Start takes an initial backup and schedules the rest.
func (s *BackupScheduler) Start(ctx context.Context) error {
	s.logger.Info("starting backup scheduler", slog.String("schedule", s.schedule))

	id, err := s.cron.AddFunc(s.schedule, func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule backups %q: %w", s.schedule, err)
	}
	s.entryID = id

	s.RunOnce(ctx)
	s.cron.Start()
	return nil
}

// Stop stops scheduling and waits for a running backup to finish.
func (s *BackupScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("stopped backup scheduler")
}

// RunOnce performs one scheduled backup, skipping if the store is closed
// or a backup or restore is already in progress.
func (s *BackupScheduler) RunOnce(ctx context.Context) {
	if s.ready != nil && !s.ready() {
		s.journal.Record(oplog.ActionScheduledBackup, oplog.OutcomeSkipped, zap.String("reason", "store closed"))
		s.logger.Info("store closed, skipping scheduled backup")
		return
	}
	rec, ran, err := s.backups.TryCreateBackup(ctx)
	switch {
	case err != nil:
		s.journal.Record(oplog.ActionScheduledBackup, oplog.OutcomeFailed, zap.Error(err))
		s.logger.Error("scheduled backup failed", slog.String("error", err.Error()))
	case !ran:
		s.journal.Record(oplog.ActionScheduledBackup, oplog.OutcomeSkipped)
		s.logger.Info("backup already running, skipping scheduled run")
	default:
		s.journal.Record(oplog.ActionScheduledBackup, oplog.OutcomeOK, zap.String("backup", rec.BackupPath))
	}
}
