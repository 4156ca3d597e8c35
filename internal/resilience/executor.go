package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/roach88/projtrack/internal/oplog"
	"github.com/roach88/projtrack/internal/store"
)

// Recoverer runs database recovery. Implemented by *Recovery.
type Recoverer interface {
	Recover(ctx context.Context) RecoveryResult
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Policy  RetryPolicy
	Sleeper Sleeper
	Logger  *slog.Logger
	Journal *oplog.Journal
}

// Executor is the single entry point for store reads and writes.
//
// Transient failures are retried with exponential backoff. Writes that
// still fail are stored in the pending slot, as are writes the store
// rejects outright. Corruption triggers recovery. Requests that are wrong
// in themselves fail immediately and are never queued.
type Executor struct {
	handle   *Handle
	pending  *PendingQueue
	recovery Recoverer

	policy  RetryPolicy
	sleeper Sleeper
	logger  *slog.Logger
	journal *oplog.Journal
}

// NewExecutor creates an executor over handle. Recovery is attached by New;
// an executor without one reports corruption without recovering.
func NewExecutor(handle *Handle, pending *PendingQueue, cfg ExecutorConfig) *Executor {
	if cfg.Sleeper == nil {
		cfg.Sleeper = TimerSleeper
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		handle:  handle,
		pending: pending,
		policy:  cfg.Policy.withDefaults(),
		sleeper: cfg.Sleeper,
		logger:  cfg.Logger,
		journal: cfg.Journal,
	}
}

// Policy returns the retry policy in effect.
func (e *Executor) Policy() RetryPolicy {
	return e.policy
}

// Execute dispatches op through the operation table.
func (e *Executor) Execute(ctx context.Context, op Operation) (any, error) {
	call, err := callFor(op.Type, op.Entity, op.Params)
	if err != nil {
		return nil, &DatabaseOperationError{Operation: op, Cause: err}
	}
	return e.run(ctx, op, call, false)
}

// ExecuteFunc runs an arbitrary call under the same policy as Execute.
// If the write is queued, its replay goes through the operation table
// using op's type, entity and params.
func (e *Executor) ExecuteFunc(ctx context.Context, op Operation, call Call) (any, error) {
	if call == nil {
		return e.Execute(ctx, op)
	}
	return e.run(ctx, op, call, false)
}

// Do executes op and asserts the result type.
func Do[T any](ctx context.Context, e *Executor, op Operation) (T, error) {
	var zero T
	v, err := e.Execute(ctx, op)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s returned %T, want %T", op.Label(), v, zero)
	}
	return t, nil
}

type outcome struct {
	v   any
	err error
}

// run executes the retry loop detached from ctx cancellation. A caller that
// gives up gets ctx.Err() immediately while the loop runs to completion.
func (e *Executor) run(ctx context.Context, op Operation, call Call, replay bool) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, &DatabaseOperationError{Operation: op, Cause: err}
	}

	done := make(chan outcome, 1)
	go func() {
		v, err := e.execute(context.WithoutCancel(ctx), op, call, replay)
		done <- outcome{v: v, err: err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: caller stopped waiting: %w", op.Label(), ctx.Err())
	}
}

// execute is the retry state machine. In replay mode failures are neither
// queued nor handed to recovery: replay runs inside recovery and from the
// pending slot itself.
func (e *Executor) execute(ctx context.Context, op Operation, call Call, replay bool) (any, error) {
	opID := uuid.Must(uuid.NewV7()).String()
	ctx, span := tracer.Start(ctx, "resilience.Executor.Execute",
		trace.WithAttributes(
			attribute.String("op_id", opID),
			attribute.String("operation", op.Label()),
			attribute.String("operation_type", op.Type.String()),
			attribute.String("entity", op.Entity),
			attribute.Bool("replay", replay),
		),
	)
	defer span.End()

	logger := loggerWithTrace(ctx, e.logger).With(
		slog.String("op_id", opID),
		slog.String("operation", op.Label()),
		slog.String("operation_type", op.Type.String()),
		slog.String("entity", op.Entity),
	)
	if len(op.Context) > 0 {
		logger = logger.With(slog.Any("context", op.Context))
	}

	v, attempts, err := e.attempt(ctx, op, call, logger)
	operationAttempts.WithLabelValues(op.Type.String()).Observe(float64(attempts))
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err == nil {
		operationsTotal.WithLabelValues(op.Type.String(), "ok").Inc()
		logger.Debug("store operation succeeded", slog.Int("attempts", attempts))
		return v, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "store operation failed")

	class := Classify(err)
	doe := &DatabaseOperationError{Operation: op, Attempts: attempts, Cause: err}
	logger = logger.With(
		slog.String("class", class.String()),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)

	switch {
	case class == ClassPermanent && (replay || !op.Type.IsWrite() || isCallerError(err)):
		operationsTotal.WithLabelValues(op.Type.String(), "failed").Inc()
		logger.Info("store operation rejected")
		return nil, doe

	case class == ClassCorruption && !replay:
		return e.handleCorruption(ctx, op, call, doe, logger)

	case replay || !op.Type.IsWrite():
		operationsTotal.WithLabelValues(op.Type.String(), "failed").Inc()
		e.journal.Record(oplog.ActionExecute, oplog.OutcomeFailed,
			zap.String("operation", op.Label()),
			zap.String("opId", opID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		logger.Error("store operation failed")
		return nil, doe

	default:
		e.enqueue(op, doe, logger)
		return nil, doe
	}
}

// isCallerError reports whether err is caused by the request itself, so
// replaying it could never succeed.
func isCallerError(err error) bool {
	return errors.Is(err, store.ErrInvalidParams) ||
		errors.Is(err, store.ErrUnknownEntity) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, ErrUnknownOperation) ||
		errors.Is(err, context.Canceled)
}

// attempt runs call up to MaxAttempts times, sleeping between transient
// failures. It stops early on permanent or corruption errors.
func (e *Executor) attempt(ctx context.Context, op Operation, call Call, logger *slog.Logger) (any, int, error) {
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		v, err := e.once(ctx, call)
		if err == nil {
			return v, attempt, nil
		}
		lastErr = err

		class := Classify(err)
		if class == ClassPermanent || class == ClassCorruption {
			return nil, attempt, err
		}
		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := e.policy.Delay(attempt)
		retriesTotal.WithLabelValues(class.String()).Inc()
		e.journal.Record(oplog.ActionRetry, oplog.OutcomeRetry,
			zap.String("operation", op.Label()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		logger.Warn("store operation failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", e.policy.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := e.sleeper.Sleep(ctx, delay); err != nil {
			return nil, attempt, errors.Join(lastErr, err)
		}
	}
	return nil, e.policy.MaxAttempts, lastErr
}

// once runs a single attempt with shared access to the store.
func (e *Executor) once(ctx context.Context, call Call) (any, error) {
	if e.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.policy.AttemptTimeout)
		defer cancel()
	}

	var v any
	err := e.handle.Use(func(st Store) error {
		var err error
		v, err = call(ctx, st)
		return err
	})
	return v, err
}

// enqueue stores a failed write in the pending slot and marks doe.
func (e *Executor) enqueue(op Operation, doe *DatabaseOperationError, logger *slog.Logger) (PendingOperation, bool) {
	p, err := e.pending.Store(op.Type, op.Entity, op.Params)
	if err != nil {
		doe.QueueErr = err
		operationsTotal.WithLabelValues(op.Type.String(), "failed").Inc()
		logger.Error("store operation failed and could not be queued",
			slog.String("queue_error", err.Error()))
		return PendingOperation{}, false
	}
	doe.Queued = true
	operationsTotal.WithLabelValues(op.Type.String(), "queued").Inc()
	logger.Warn("store operation failed, queued for retry")
	return p, true
}

// handleCorruption queues a failed write, runs recovery and, when the store
// is usable again, completes the operation.
func (e *Executor) handleCorruption(ctx context.Context, op Operation, call Call, doe *DatabaseOperationError, logger *slog.Logger) (any, error) {
	var queued PendingOperation
	var isQueued bool
	if op.Type.IsWrite() {
		queued, isQueued = e.enqueue(op, doe, logger)
	}

	if e.recovery == nil {
		if !isQueued {
			operationsTotal.WithLabelValues(op.Type.String(), "failed").Inc()
		}
		logger.Error("store corrupted and no recovery configured")
		return nil, doe
	}

	logger.Warn("store corruption detected, starting recovery")
	res := e.recovery.Recover(ctx)
	doe.Recovery = &res
	if !res.Success {
		if !isQueued {
			operationsTotal.WithLabelValues(op.Type.String(), "failed").Inc()
		}
		logger.Error("recovery failed, manual intervention required",
			slog.Any("actions", res.Actions))
		return nil, doe
	}

	if isQueued {
		// Recovery replays the pending slot; if it replayed this write the
		// result is ours.
		if res.Replay != nil && res.Replay.Replayed && res.Replay.Operation != nil &&
			samePending(*res.Replay.Operation, queued) {
			logger.Info("write completed by recovery replay")
			return res.Replay.Result, nil
		}
		return nil, doe
	}

	v, err := e.once(ctx, call)
	doe.Attempts++
	if err != nil {
		doe.Cause = err
		operationsTotal.WithLabelValues(op.Type.String(), "failed").Inc()
		logger.Error("store operation failed after recovery", slog.String("error", err.Error()))
		return nil, doe
	}
	operationsTotal.WithLabelValues(op.Type.String(), "ok").Inc()
	logger.Info("store operation succeeded after recovery")
	return v, nil
}

// ReplayResult is the outcome of replaying the pending slot.
type ReplayResult struct {
	// Replayed is false when the slot was empty.
	Replayed  bool              `json:"replayed"`
	Operation *PendingOperation `json:"operation,omitempty"`
	Result    any               `json:"result,omitempty"`

	// Cleared is false when a newer operation replaced the slot during replay.
	Cleared bool `json:"cleared"`
}

// ReplayPending re-dispatches the pending operation under the retry policy.
// An empty slot is a no-op. On success the slot is cleared (unless it was
// replaced meanwhile); on failure it is left intact and the error returned.
func (e *Executor) ReplayPending(ctx context.Context) (ReplayResult, error) {
	p, err := e.pending.Get()
	if err != nil {
		return ReplayResult{}, err
	}
	if p == nil {
		return ReplayResult{}, nil
	}

	call, err := p.Call()
	if err != nil {
		pendingReplayTotal.WithLabelValues("failed").Inc()
		return ReplayResult{Operation: p}, err
	}

	v, err := e.run(ctx, p.Operation(), call, true)
	if err != nil {
		pendingReplayTotal.WithLabelValues("failed").Inc()
		e.journal.Record(oplog.ActionReplay, oplog.OutcomeFailed,
			zap.String("operationType", p.OperationType.String()),
			zap.String("entityName", p.EntityName),
			zap.Error(err),
		)
		return ReplayResult{Operation: p}, err
	}

	pendingReplayTotal.WithLabelValues("ok").Inc()
	e.journal.Record(oplog.ActionReplay, oplog.OutcomeOK,
		zap.String("operationType", p.OperationType.String()),
		zap.String("entityName", p.EntityName),
	)
	e.logger.Info("pending operation replayed",
		slog.String("operation_type", p.OperationType.String()),
		slog.String("entity", p.EntityName),
	)

	cleared, err := e.pending.ClearIf(*p)
	res := ReplayResult{Replayed: true, Operation: p, Result: v, Cleared: cleared}
	if err != nil {
		return res, fmt.Errorf("clear pending operation: %w", err)
	}
	return res, nil
}

// loggerWithTrace returns a logger with trace context attached.
func loggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
