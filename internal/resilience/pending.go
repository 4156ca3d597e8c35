package resilience

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/projtrack/internal/oplog"
	"github.com/roach88/projtrack/internal/store"
)

// PendingOperation is a failed write kept for replay.
type PendingOperation struct {
	OperationType OperationType `json:"operationType"`
	EntityName    string        `json:"entityName"`
	Parameters    store.Params  `json:"parameters"`
	RecordedAt    time.Time     `json:"recordedAt"`
}

// Call returns the dispatch-table call that replays the operation.
func (p PendingOperation) Call() (Call, error) {
	return callFor(p.OperationType, p.EntityName, p.Parameters)
}

// Operation converts the record back into an executor operation.
func (p PendingOperation) Operation() Operation {
	return Operation{
		Type:   p.OperationType,
		Entity: p.EntityName,
		Params: p.Parameters,
		Name:   "replay " + p.OperationType.String() + " " + p.EntityName,
	}
}

// Matches reports whether p records the same call as op.
func (p PendingOperation) Matches(op Operation) bool {
	if p.OperationType != op.Type || p.EntityName != op.Entity {
		return false
	}
	a, errA := json.Marshal(p.Parameters)
	b, errB := json.Marshal(op.Params)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// PendingQueue is the single-slot pending-operation store.
//
// At most one operation is held: Store overwrites any previous entry.
// Every mutation is serialized by mu and persisted before returning.
type PendingQueue struct {
	mu      sync.Mutex
	slot    Slot
	now     func() time.Time
	logger  *slog.Logger
	journal *oplog.Journal
}

// NewPendingQueue wraps slot. A nil now defaults to time.Now.
func NewPendingQueue(slot Slot, now func() time.Time, logger *slog.Logger, journal *oplog.Journal) *PendingQueue {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingQueue{slot: slot, now: now, logger: logger, journal: journal}
}

// Store replaces the slot with a new pending operation and persists it.
func (q *PendingQueue) Store(t OperationType, entity string, params store.Params) (PendingOperation, error) {
	if _, ok := dispatch[t]; !ok {
		return PendingOperation{}, fmt.Errorf("store pending: %w: %s", ErrUnknownOperation, t)
	}

	op := PendingOperation{
		OperationType: t,
		EntityName:    entity,
		Parameters:    params,
		RecordedAt:    q.now().UTC(),
	}
	data, err := json.Marshal(op)
	if err != nil {
		return PendingOperation{}, fmt.Errorf("encode pending operation: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.slot.Save(data); err != nil {
		q.journal.Record(oplog.ActionQueue, oplog.OutcomeFailed, zap.Error(err))
		return PendingOperation{}, err
	}

	pendingQueuedTotal.Inc()
	q.journal.Record(oplog.ActionQueue, oplog.OutcomeQueued,
		zap.String("operationType", t.String()),
		zap.String("entityName", entity),
	)
	q.logger.Warn("pending operation stored",
		slog.String("operation_type", t.String()),
		slog.String("entity", entity),
	)
	return op, nil
}

// Get returns the pending operation, or nil when the slot is empty.
func (q *PendingQueue) Get() (*PendingOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.getLocked()
}

func (q *PendingQueue) getLocked() (*PendingOperation, error) {
	data, err := q.slot.Load()
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var op PendingOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("decode pending operation: %w", err)
	}
	return &op, nil
}

// Clear empties the slot. Clearing an empty slot is a no-op.
func (q *PendingQueue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.slot.Delete(); err != nil {
		return err
	}
	q.journal.Record(oplog.ActionClearPending, oplog.OutcomeOK)
	return nil
}

// ClearIf empties the slot only if it still holds op. Returns false when a
// newer operation has replaced it in the meantime.
func (q *PendingQueue) ClearIf(op PendingOperation) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.getLocked()
	if err != nil {
		return false, err
	}
	if current == nil || !samePending(*current, op) {
		return false, nil
	}
	if err := q.slot.Delete(); err != nil {
		return false, err
	}
	q.journal.Record(oplog.ActionClearPending, oplog.OutcomeOK,
		zap.String("operationType", op.OperationType.String()),
		zap.String("entityName", op.EntityName),
	)
	return true, nil
}

// Close closes the underlying slot.
func (q *PendingQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.slot.Close()
}

func samePending(a, b PendingOperation) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}
