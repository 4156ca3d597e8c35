package store

import (
	"path/filepath"
	"testing"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestProject returns project columns with the required fields set.
func createTestProject(filename, status string) Record {
	return Record{
		"filename":      filename,
		"path":          "/projects/" + filename,
		"title":         filename,
		"status":        status,
		"last_modified": "2026-10-19T09:00:00Z",
	}
}
