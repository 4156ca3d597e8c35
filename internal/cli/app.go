package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/projtrack/internal/config"
	"github.com/roach88/projtrack/internal/oplog"
	"github.com/roach88/projtrack/internal/project"
	"github.com/roach88/projtrack/internal/resilience"
	"github.com/roach88/projtrack/internal/tracker"
)

// storeMode says how much of the store a command needs.
type storeMode int

const (
	// storeNone leaves the store closed. Used by commands that only touch
	// files (check, backup list, restore, recover).
	storeNone storeMode = iota

	// storeOpen opens the store without an integrity check.
	storeOpen

	// storeRecover starts the runtime: integrity check, restore from backup
	// if needed and replay of the pending write.
	storeRecover
)

// app is everything a command needs, built from the configuration.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	journal *oplog.Journal
	rt      *resilience.Runtime
	lib     *project.Library
	svc     *tracker.Service

	// startup is the recovery result when the runtime was started.
	startup *resilience.RecoveryResult
}

// loadConfig loads and validates the configuration named by --config.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger configures slog from the logging settings. --verbose forces
// debug level.
func newLogger(cfg *config.Config, verbose bool, w io.Writer) *slog.Logger {
	logLevel := cfg.Logging.SlogLevel()
	if verbose {
		logLevel = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

// openApp builds the runtime and service. A failed startup recovery is not
// fatal: the store stays closed and commands report manual intervention,
// while restore and recover remain available.
func openApp(ctx context.Context, opts *RootOptions, cmd *cobra.Command, formatter *OutputFormatter, mode storeMode) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, ErrCodeConfig, err)
	}

	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	journal := oplog.Nop()
	if cfg.Logging.OplogPath != "" {
		journal, err = oplog.Open(cfg.Logging.OplogPath)
		if err != nil {
			_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
			return nil, WrapExitError(ExitCommandError, ErrCodeConfig, err)
		}
	}

	rt, err := resilience.New(resilience.Options{
		StorePath:      cfg.Database.Path,
		BackupDir:      cfg.Backup.Dir,
		BackupRetain:   cfg.Backup.Retain,
		BackupSchedule: cfg.Backup.Schedule,
		PendingPath:    cfg.Pending.Path,
		PendingBackend: cfg.Pending.Backend,
		Retry: resilience.RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			BaseDelay:      cfg.Retry.BaseDelay,
			MaxDelay:       cfg.Retry.MaxDelay,
			AttemptTimeout: cfg.Retry.AttemptTimeout,
		},
		Logger:  logger,
		Journal: journal,
	})
	if err != nil {
		journal.Close()
		return nil, formatter.Fail(err, nil)
	}

	lib := project.NewLibrary(cfg.Projects.Root, logger)
	a := &app{
		cfg:     cfg,
		logger:  logger,
		journal: journal,
		rt:      rt,
		lib:     lib,
		svc:     tracker.New(rt, lib, tracker.WithLogger(logger)),
	}

	switch mode {
	case storeOpen:
		if err := rt.Handle.Open(); err != nil {
			a.close()
			return nil, formatter.Fail(err, nil)
		}
	case storeRecover:
		res, err := rt.Start(ctx)
		a.startup = &res
		if err != nil && !resilience.IsManualIntervention(err) {
			a.close()
			return nil, formatter.Fail(err, nil)
		}
		if err != nil {
			logger.Error("store unusable after startup recovery", slog.Any("actions", res.Actions))
		}
		formatter.VerboseLog("startup recovery: %v", res.Actions)
	}

	return a, nil
}

// close releases the runtime and the operational log.
func (a *app) close() {
	if err := a.rt.Close(); err != nil {
		a.logger.Error("error closing runtime", slog.String("error", err.Error()))
	}
	if err := a.journal.Close(); err != nil {
		a.logger.Error("error closing operational log", slog.String("error", err.Error()))
	}
}

// commandContext returns the command's context, or Background when unset.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
