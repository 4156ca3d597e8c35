package resilience

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/roach88/projtrack/internal/store"
)

// Querier runs a raw statement. Satisfied by *store.Store.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store is the capability the resilience layer drives. *store.Store
// satisfies it; tests substitute failing implementations.
type Store interface {
	Querier
	Find(ctx context.Context, entity string, p store.Params) (store.Record, error)
	FindAll(ctx context.Context, entity string, p store.Params) ([]store.Record, error)
	Create(ctx context.Context, entity string, p store.Params) (store.Record, error)
	Update(ctx context.Context, entity string, p store.Params) (int64, error)
	Destroy(ctx context.Context, entity string, p store.Params) (int64, error)
	Atomically(ctx context.Context, fn func(tx *store.Tx) error) error
	Close() error
}

// Opener opens the store file at path.
type Opener func(path string) (Store, error)

// OpenSQLite is the default Opener.
func OpenSQLite(path string) (Store, error) {
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Handle owns the single live store connection.
//
// Operations share the connection under a read lock. Backup copies and
// restores take the write lock so no operation is in flight while the file
// is read or replaced.
type Handle struct {
	path string
	open Opener

	mu sync.RWMutex
	st Store
}

// NewHandle creates a handle for the store file at path. The file is not
// opened until Open is called.
func NewHandle(path string, open Opener) *Handle {
	if open == nil {
		open = OpenSQLite
	}
	return &Handle{path: path, open: open}
}

// Path returns the live store file path.
func (h *Handle) Path() string {
	return h.path
}

// Open opens the store if it is not already open.
func (h *Handle) Open() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.openLocked()
}

func (h *Handle) openLocked() error {
	if h.st != nil {
		return nil
	}
	st, err := h.open(h.path)
	if err != nil {
		return fmt.Errorf("open store %s: %w", h.path, err)
	}
	h.st = st
	return nil
}

// IsOpen reports whether a connection is held.
func (h *Handle) IsOpen() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.st != nil
}

// Use runs fn with shared access to the open store.
// Returns ErrStoreUnavailable when no connection is held.
func (h *Handle) Use(fn func(st Store) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.st == nil {
		return ErrStoreUnavailable
	}
	return fn(h.st)
}

// Quiesce returns the lock that excludes all operations. Holding it
// guarantees no statement is running against the store file.
func (h *Handle) Quiesce() TryLocker {
	return &h.mu
}

// Acquire takes exclusive access and returns a guard for replacing the
// store file. The caller must call Release.
func (h *Handle) Acquire() *ExclusiveHandle {
	h.mu.Lock()
	return &ExclusiveHandle{h: h}
}

// Close closes the live connection.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detachLocked()
}

func (h *Handle) detachLocked() error {
	if h.st == nil {
		return nil
	}
	err := h.st.Close()
	h.st = nil
	return err
}

// ExclusiveHandle is held while the store file is checked or replaced.
type ExclusiveHandle struct {
	h        *Handle
	released bool
}

// Path returns the live store file path.
func (x *ExclusiveHandle) Path() string {
	return x.h.path
}

// Detach closes the connection so the file can be replaced.
func (x *ExclusiveHandle) Detach() error {
	return x.h.detachLocked()
}

// Reopen opens the store file again after it was detached or replaced.
func (x *ExclusiveHandle) Reopen() error {
	return x.h.openLocked()
}

// Release gives up exclusive access. Safe to call twice.
func (x *ExclusiveHandle) Release() {
	if x.released {
		return
	}
	x.released = true
	x.h.mu.Unlock()
}
