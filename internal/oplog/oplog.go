// Package oplog records resilience actions as JSON lines.
//
// Each entry carries a timestamp, the action taken (backup, restore,
// integrity check, retry, queue, replay, recovery) and its outcome. The log
// is the durable audit trail for operators; diagnostics go to slog.
package oplog

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Outcome is the result of an action.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
	OutcomeQueued  Outcome = "queued"
	OutcomeRetry   Outcome = "retry"
)

// Action names written to the log.
const (
	ActionBackup          = "backup"
	ActionPrune           = "prune"
	ActionRestore         = "restore"
	ActionIntegrityCheck  = "integrity-check"
	ActionExecute         = "execute"
	ActionRetry           = "retry"
	ActionQueue           = "queue-pending"
	ActionReplay          = "replay-pending"
	ActionClearPending    = "clear-pending"
	ActionRecover         = "recover"
	ActionReopen          = "reopen"
	ActionScheduledBackup = "scheduled-backup"
)

// Journal writes operational log entries.
// A nil *Journal is valid and discards everything.
type Journal struct {
	logger *zap.Logger
	closer func() error
}

// Open appends JSON lines to the file at path, creating it and its parent
// directory if needed.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create oplog dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open oplog: %w", err)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(EncoderConfig()), zapcore.AddSync(f), zapcore.DebugLevel)
	return &Journal{
		logger: zap.New(core),
		closer: f.Close,
	}, nil
}

// New wraps an existing core. Tests pass a zaptest/observer core.
func New(core zapcore.Core) *Journal {
	return &Journal{logger: zap.New(core)}
}

// Nop returns a journal that discards all entries.
func Nop() *Journal {
	return &Journal{logger: zap.NewNop()}
}

// EncoderConfig is the JSON layout of a log line: ts, level, action, outcome
// and any extra fields.
func EncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "action",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

// Record writes one entry. Failed outcomes are logged at error level,
// retries and skips at warn, everything else at info.
func (j *Journal) Record(action string, outcome Outcome, fields ...zap.Field) {
	if j == nil || j.logger == nil {
		return
	}

	fields = append(fields, zap.String("outcome", string(outcome)))
	switch outcome {
	case OutcomeFailed:
		j.logger.Error(action, fields...)
	case OutcomeRetry, OutcomeSkipped, OutcomeQueued:
		j.logger.Warn(action, fields...)
	default:
		j.logger.Info(action, fields...)
	}
}

// Close flushes and closes the underlying file, if any.
func (j *Journal) Close() error {
	if j == nil || j.logger == nil {
		return nil
	}
	_ = j.logger.Sync()
	if j.closer != nil {
		return j.closer()
	}
	return nil
}
