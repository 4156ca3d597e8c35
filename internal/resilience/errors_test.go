package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/projtrack/internal/store"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"locked message", errLocked, ClassTransient},
		{"busy code", sqlite3.Error{Code: sqlite3.ErrBusy}, ClassTransient},
		{"locked code wrapped", fmt.Errorf("create: %w", sqlite3.Error{Code: sqlite3.ErrLocked}), ClassTransient},
		{"typed transient", &TransientStoreError{Err: errors.New("x")}, ClassTransient},
		{"deadline", fmt.Errorf("find: %w", context.DeadlineExceeded), ClassTransient},
		{"malformed", errMalformed, ClassCorruption},
		{"not a database", errors.New("file is not a database"), ClassCorruption},
		{"corrupt code", sqlite3.Error{Code: sqlite3.ErrCorrupt}, ClassCorruption},
		{"notadb code", sqlite3.Error{Code: sqlite3.ErrNotADB}, ClassCorruption},
		{"integrity error", &IntegrityError{Path: "/x"}, ClassCorruption},
		{"store unavailable", fmt.Errorf("use: %w", ErrStoreUnavailable), ClassCorruption},
		{"constraint code", sqlite3.Error{Code: sqlite3.ErrConstraint}, ClassPermanent},
		{"constraint message", errors.New("CHECK constraint failed: status"), ClassPermanent},
		{"not found", fmt.Errorf("find: %w", store.ErrNotFound), ClassPermanent},
		{"invalid params", store.ErrInvalidParams, ClassPermanent},
		{"unknown entity", store.ErrUnknownEntity, ClassPermanent},
		{"unknown op", ErrUnknownOperation, ClassPermanent},
		{"canceled", context.Canceled, ClassPermanent},
		{"other", errors.New("something odd"), ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsTransient_IncludesUnknown(t *testing.T) {
	assert.True(t, IsTransient(errLocked))
	assert.True(t, IsTransient(errors.New("something odd")))
	assert.False(t, IsTransient(store.ErrNotFound))
	assert.False(t, IsTransient(errMalformed))
}

func TestDatabaseOperationError_UnwrapsCauseAndRecovery(t *testing.T) {
	res := RecoveryResult{Success: false, Actions: []string{ActionIntegrityCheckFailed, ActionNoBackupAvailable}}
	err := fmt.Errorf("save: %w", &DatabaseOperationError{
		Operation: createOp("a.txt"),
		Queued:    true,
		Attempts:  1,
		Cause:     errMalformed,
		Recovery:  &res,
	})

	assert.ErrorIs(t, err, errMalformed)
	assert.True(t, IsQueued(err))
	assert.True(t, IsManualIntervention(err))
	assert.True(t, IsCorruption(err))
	assert.Contains(t, err.Error(), "save-project")
	assert.Contains(t, err.Error(), "queued for retry")
}

func TestDatabaseOperationError_NoRecoveryFailureWhenRecovered(t *testing.T) {
	res := RecoveryResult{Success: true, Actions: []string{ActionIntegrityCheckPassed}}
	err := &DatabaseOperationError{Operation: createOp("a.txt"), Cause: errMalformed, Recovery: &res}

	assert.False(t, IsManualIntervention(err))
	assert.False(t, IsQueued(err))
}

func TestRecoveryFailure_Message(t *testing.T) {
	err := RecoveryResult{Actions: []string{"integrity-check-failed", "no-backup-available"}}.Err()

	assert.EqualError(t, err,
		"database recovery failed, manual intervention required (actions: integrity-check-failed, no-backup-available)")
}

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ClassTransient.String())
	assert.Equal(t, "permanent", ClassPermanent.String())
	assert.Equal(t, "corruption", ClassCorruption.String())
	assert.Equal(t, "unknown", ClassUnknown.String())
}
