package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/projtrack/internal/store"
)

func newLibrary(t *testing.T) *Library {
	t.Helper()
	lib := NewLibrary(t.TempDir(), nil)
	require.NoError(t, lib.EnsureDirs())
	return lib
}

func writeProject(t *testing.T, lib *Library, s Status, name, content string) string {
	t.Helper()
	path := filepath.Join(lib.Dir(s), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLibrary_Dirs(t *testing.T) {
	lib := NewLibrary("/projects", nil)

	assert.Equal(t, "/projects/WTM Projects", lib.Dir(StatusActive))
	assert.Equal(t, "/projects/WTM Projects Waiting", lib.Dir(StatusWaiting))
	assert.Equal(t, "/projects/WTM Projects Someday", lib.Dir(StatusSomeday))
	assert.Equal(t, "/projects/WTM Projects Archive", lib.Dir(StatusArchive))

	s, ok := lib.StatusOf("/projects/WTM Projects Someday/a.txt")
	assert.True(t, ok)
	assert.Equal(t, StatusSomeday, s)

	_, ok = lib.StatusOf("/elsewhere/a.txt")
	assert.False(t, ok)
}

func TestLibrary_FilesSkipsHiddenAndNonText(t *testing.T) {
	lib := newLibrary(t)
	writeProject(t, lib, StatusActive, "b.txt", wellFormed)
	writeProject(t, lib, StatusActive, "a.txt", wellFormed)
	writeProject(t, lib, StatusActive, ".hidden.txt", wellFormed)
	writeProject(t, lib, StatusActive, "notes.md", wellFormed)
	require.NoError(t, os.Mkdir(filepath.Join(lib.Dir(StatusActive), "sub.txt"), 0o755))

	files, err := lib.Files(StatusActive)
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", filepath.Base(files[0]))
	assert.Equal(t, "b.txt", filepath.Base(files[1]))
}

func TestLibrary_FilesMissingDir(t *testing.T) {
	lib := NewLibrary(filepath.Join(t.TempDir(), "absent"), nil)

	files, err := lib.Files(StatusArchive)

	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLibrary_Read(t *testing.T) {
	lib := newLibrary(t)
	path := writeProject(t, lib, StatusWaiting, "Kitchen_Renovation.txt", wellFormed)

	p, err := lib.Read(path, StatusWaiting)
	require.NoError(t, err)

	assert.Equal(t, "Kitchen_Renovation.txt", p.Filename)
	assert.Equal(t, path, p.Path)
	assert.Equal(t, "Kitchen Renovation", p.Title)
	assert.Equal(t, StatusWaiting, p.Status)
	assert.Equal(t, 3, p.TotalTasks)
	assert.Equal(t, 2, p.CompletedTasks)
	assert.InDelta(t, 66.67, p.CompletionPercentage, 0.01)
	assert.True(t, p.IsWellFormulated)
	assert.Empty(t, p.Issues)
	require.NotNil(t, p.Document)
	assert.Equal(t, wellFormed, p.Content)
	assert.False(t, p.LastModified.IsZero())
}

func TestLibrary_ReadFallsBackToFilenameTitle(t *testing.T) {
	lib := newLibrary(t)
	path := writeProject(t, lib, StatusActive, "Fix_the_fence.txt", "- [ ] buy posts\n")

	p, err := lib.Read(path, StatusActive)
	require.NoError(t, err)

	assert.Equal(t, "Fix the fence", p.Title)
	assert.True(t, p.NeedsImprovement)
	assert.Contains(t, p.Issues, "Missing Title section")
}

func TestLibrary_ReadRejectsNonProject(t *testing.T) {
	lib := newLibrary(t)

	_, err := lib.Read(filepath.Join(lib.Dir(StatusActive), "x.md"), StatusActive)

	assert.ErrorIs(t, err, ErrNotProjectFile)
}

func TestLibrary_Scan(t *testing.T) {
	lib := newLibrary(t)
	writeProject(t, lib, StatusActive, "a.txt", wellFormed)
	writeProject(t, lib, StatusActive, "b.txt", wellFormed)
	writeProject(t, lib, StatusArchive, "old.txt", wellFormed)

	all, err := lib.Scan(context.Background())
	require.NoError(t, err)

	assert.Len(t, all[StatusActive], 2)
	assert.Empty(t, all[StatusWaiting])
	assert.NotNil(t, all[StatusSomeday])
	require.Len(t, all[StatusArchive], 1)
	assert.Equal(t, StatusArchive, all[StatusArchive][0].Status)
}

func TestLibrary_ScanHonoursCancellation(t *testing.T) {
	lib := newLibrary(t)
	writeProject(t, lib, StatusActive, "a.txt", wellFormed)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := lib.Scan(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestLibrary_MoveToWaitingWritesInput(t *testing.T) {
	lib := newLibrary(t)
	src := writeProject(t, lib, StatusActive, "a.txt", wellFormed)

	dst, err := lib.Move(src, StatusWaiting, "Quote from contractor")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(lib.Dir(StatusWaiting), "a.txt"), dst)
	assert.NoFileExists(t, src)
	raw, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "Quote from contractor", Parse(string(raw)).WaitingInput)

	entries, err := os.ReadDir(lib.Dir(StatusWaiting))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLibrary_MoveWithoutInputKeepsContent(t *testing.T) {
	lib := newLibrary(t)
	src := writeProject(t, lib, StatusWaiting, "a.txt", wellFormed)

	dst, err := lib.Move(src, StatusArchive, "")
	require.NoError(t, err)

	raw, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, wellFormed, string(raw))
}

func TestLibrary_MoveToSameStatus(t *testing.T) {
	lib := newLibrary(t)
	src := writeProject(t, lib, StatusWaiting, "a.txt", wellFormed)

	dst, err := lib.Move(src, StatusWaiting, "updated")
	require.NoError(t, err)

	assert.Equal(t, src, dst)
	assert.FileExists(t, dst)
}

func TestLibrary_MoveErrors(t *testing.T) {
	lib := newLibrary(t)

	_, err := lib.Move(filepath.Join(lib.Dir(StatusActive), "missing.txt"), StatusArchive, "")
	assert.ErrorIs(t, err, os.ErrNotExist)

	src := writeProject(t, lib, StatusActive, "a.txt", wellFormed)
	_, err = lib.Move(src, Status("paused"), "")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.FileExists(t, src)
}

func TestProject_RecordRoundTrip(t *testing.T) {
	p := Project{
		Filename:         "a.txt",
		Path:             "/p/WTM Projects Waiting/a.txt",
		Title:            "A",
		Status:           StatusWaiting,
		LastModified:     time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
		TotalTasks:       4,
		CompletedTasks:   1,
		NeedsImprovement: true,
		Issues:           []string{"No tasks defined"},
		WaitingInput:     "answer",
	}

	rec := p.Record()
	assert.Equal(t, true, rec["is_waiting"])
	assert.Equal(t, `["No tasks defined"]`, rec["issues"])
	assert.Equal(t, "2026-10-19T09:00:00Z", rec["last_modified"])

	// Simulate SQLite types.
	row := store.Record{}
	for k, v := range rec {
		switch x := v.(type) {
		case bool:
			if x {
				row[k] = int64(1)
			} else {
				row[k] = int64(0)
			}
		case int:
			row[k] = int64(x)
		default:
			row[k] = v
		}
	}

	back, err := FromRecord(row)
	require.NoError(t, err)
	assert.Equal(t, p.Filename, back.Filename)
	assert.Equal(t, p.Status, back.Status)
	assert.Equal(t, p.LastModified, back.LastModified)
	assert.Equal(t, 4, back.TotalTasks)
	assert.Equal(t, 25.0, back.CompletionPercentage)
	assert.True(t, back.NeedsImprovement)
	assert.False(t, back.IsWellFormulated)
	assert.Equal(t, p.Issues, back.Issues)
	assert.Equal(t, "answer", back.WaitingInput)
}

func TestFromRecord_Invalid(t *testing.T) {
	_, err := FromRecord(store.Record{"status": "active"})
	assert.Error(t, err)

	_, err = FromRecord(store.Record{"filename": "a.txt", "status": "paused"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" Waiting ")
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, s)

	_, err = ParseStatus("done")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
