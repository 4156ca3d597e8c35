package resilience

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Slot persists the single pending-operation record outside the main store.
type Slot interface {
	// Load returns the stored bytes, or nil when the slot is empty.
	Load() ([]byte, error)

	// Save replaces the slot content durably.
	Save(data []byte) error

	// Delete empties the slot. Deleting an empty slot is not an error.
	Delete() error

	Close() error
}

// Slot backends selectable from configuration.
const (
	SlotBackendFile   = "file"
	SlotBackendBadger = "badger"
)

// OpenSlot opens the backend named by kind at path. For the file backend
// path is the JSON file; for badger it is the database directory.
func OpenSlot(kind, path string, logger *slog.Logger) (Slot, error) {
	switch kind {
	case "", SlotBackendFile:
		return NewFileSlot(path)
	case SlotBackendBadger:
		return OpenBadgerSlot(path, logger)
	default:
		return nil, fmt.Errorf("unknown pending slot backend %q", kind)
	}
}

// FileSlot stores the record as a JSON file, replaced atomically.
type FileSlot struct {
	path string
}

// NewFileSlot creates the parent directory of path if needed.
func NewFileSlot(path string) (*FileSlot, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create pending slot dir: %w", err)
	}
	return &FileSlot{path: path}, nil
}

// Path returns the slot file path.
func (s *FileSlot) Path() string { return s.path }

// Load implements Slot.
func (s *FileSlot) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending slot: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// Save implements Slot.
func (s *FileSlot) Save(data []byte) error {
	err := writeFileAtomic(s.path, 0o600, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("write pending slot: %w", err)
	}
	return nil
}

// Delete implements Slot.
func (s *FileSlot) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pending slot: %w", err)
	}
	return syncDir(filepath.Dir(s.path))
}

// Close implements Slot.
func (s *FileSlot) Close() error { return nil }

var pendingKey = []byte("pending-operation")

// BadgerSlot stores the record under a single key in a badger database
// opened with synchronous writes.
type BadgerSlot struct {
	db        *badger.DB
	closeOnce sync.Once
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadgerSlot opens (or creates) a badger database in dir.
func OpenBadgerSlot(dir string, logger *slog.Logger) (*BadgerSlot, error) {
	if dir == "" {
		return nil, errors.New("path is required for badger pending slot")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create badger directory %s: %w", dir, err)
	}

	opts := badger.DefaultOptions(dir).WithSyncWrites(true).WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger pending slot: %w", err)
	}
	return &BadgerSlot{db: db}, nil
}

// Load implements Slot.
func (s *BadgerSlot) Load() ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pendingKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read pending slot: %w", err)
	}
	return data, nil
}

// Save implements Slot.
func (s *BadgerSlot) Save(data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pendingKey, data)
	})
	if err != nil {
		return fmt.Errorf("write pending slot: %w", err)
	}
	return nil
}

// Delete implements Slot.
func (s *BadgerSlot) Delete() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(pendingKey)
	})
	if err != nil {
		return fmt.Errorf("remove pending slot: %w", err)
	}
	return nil
}

// Close implements Slot.
func (s *BadgerSlot) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}
