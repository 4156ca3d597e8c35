package resilience

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/projtrack/internal/oplog"
	"github.com/roach88/projtrack/internal/testutil"
)

func newBackupManager(t *testing.T, step time.Duration, retain int) (*BackupManager, string) {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "projects.db")
	writeValidStore(t, src, "seed.txt")

	clock := testutil.NewFakeClock(testEpoch, step)
	m, err := NewBackupManager(BackupConfig{
		SourcePath: src,
		Dir:        filepath.Join(dir, "backups"),
		Retain:     retain,
		Now:        clock.Now,
		Journal:    oplog.Nop(),
	})
	require.NoError(t, err)
	return m, src
}

func TestNewBackupManager_Validation(t *testing.T) {
	_, err := NewBackupManager(BackupConfig{Dir: "/tmp/b"})
	assert.Error(t, err)

	_, err = NewBackupManager(BackupConfig{SourcePath: "/tmp/a.db"})
	assert.Error(t, err)

	m, err := NewBackupManager(BackupConfig{SourcePath: "/tmp/a.db", Dir: "/tmp/b"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBackupRetain, m.cfg.Retain)
}

func TestCreateBackup_CopiesFileExactly(t *testing.T) {
	m, src := newBackupManager(t, time.Second, 5)

	rec, err := m.CreateBackup(context.Background())
	require.NoError(t, err)

	want, err := os.ReadFile(src)
	require.NoError(t, err)
	got, err := os.ReadFile(rec.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int64(len(want)), rec.Size)
	assert.Equal(t, src, rec.SourcePath)
	assert.Equal(t, testEpoch, rec.CreatedAt)
	assert.Equal(t, "projects.db.20261019T090000.000000000Z.bak", filepath.Base(rec.BackupPath))
	assert.Equal(t, "20261019T090000.000000000Z", rec.Stamp())
}

func TestCreateBackup_MissingSource(t *testing.T) {
	m, src := newBackupManager(t, time.Second, 5)
	require.NoError(t, os.Remove(src))

	_, err := m.CreateBackup(context.Background())

	var be *BackupError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "create", be.Op)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCreateBackup_AutoPrunesToRetention(t *testing.T) {
	m, _ := newBackupManager(t, time.Second, 5)

	var last BackupRecord
	for i := 0; i < 8; i++ {
		rec, err := m.CreateBackup(context.Background())
		require.NoError(t, err)
		last = rec
	}

	list, err := m.ListBackups()
	require.NoError(t, err)
	require.Len(t, list, 5)
	assert.Equal(t, last.BackupPath, list[0].BackupPath)
	for i := 1; i < len(list); i++ {
		assert.True(t, list[i-1].CreatedAt.After(list[i].CreatedAt), "newest first")
	}
}

func TestCreateBackup_FrozenClockStillUnique(t *testing.T) {
	m, _ := newBackupManager(t, 0, 10)

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		rec, err := m.CreateBackup(context.Background())
		require.NoError(t, err)
		assert.False(t, seen[rec.BackupPath], "duplicate backup name %s", rec.BackupPath)
		seen[rec.BackupPath] = true
	}

	list, err := m.ListBackups()
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestCreateBackup_TimestampsContinueAfterExistingBackups(t *testing.T) {
	m, src := newBackupManager(t, 0, 10)
	first, err := m.CreateBackup(context.Background())
	require.NoError(t, err)

	// A second manager with a clock behind the newest backup must not
	// produce an older or colliding name.
	clock := testutil.NewFakeClock(testEpoch.Add(-time.Hour), 0)
	m2, err := NewBackupManager(BackupConfig{SourcePath: src, Dir: m.Dir(), Now: clock.Now})
	require.NoError(t, err)
	second, err := m2.CreateBackup(context.Background())
	require.NoError(t, err)

	assert.True(t, second.CreatedAt.After(first.CreatedAt))
}

func TestListBackups_MissingDirIsEmpty(t *testing.T) {
	m, _ := newBackupManager(t, time.Second, 5)

	list, err := m.ListBackups()

	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestListBackups_IgnoresForeignFiles(t *testing.T) {
	m, _ := newBackupManager(t, time.Second, 5)
	_, err := m.CreateBackup(context.Background())
	require.NoError(t, err)

	for _, name := range []string{"notes.txt", "projects.db.garbage.bak", "other.db.20261019T090000.000000000Z.bak"} {
		require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), name), []byte("x"), 0o600))
	}

	list, err := m.ListBackups()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPruneOldBackups(t *testing.T) {
	m, _ := newBackupManager(t, time.Second, 10)
	var created []BackupRecord
	for i := 0; i < 5; i++ {
		rec, err := m.CreateBackup(context.Background())
		require.NoError(t, err)
		created = append(created, rec)
	}

	deleted, err := m.PruneOldBackups(3)
	require.NoError(t, err)
	require.Len(t, deleted, 2)
	assert.Equal(t, created[1].BackupPath, deleted[0].BackupPath)
	assert.Equal(t, created[0].BackupPath, deleted[1].BackupPath)

	list, err := m.ListBackups()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, created[4].BackupPath, list[0].BackupPath)
	assert.Equal(t, created[2].BackupPath, list[2].BackupPath)

	deleted, err = m.PruneOldBackups(3)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestPruneOldBackups_ZeroRemovesAll(t *testing.T) {
	m, _ := newBackupManager(t, time.Second, 10)
	for i := 0; i < 2; i++ {
		_, err := m.CreateBackup(context.Background())
		require.NoError(t, err)
	}

	deleted, err := m.PruneOldBackups(0)
	require.NoError(t, err)
	assert.Len(t, deleted, 2)

	_, err = m.PruneOldBackups(-1)
	assert.Error(t, err)
}

func TestTryCreateBackup_SkipsWhenBusy(t *testing.T) {
	m, _ := newBackupManager(t, time.Second, 5)

	m.mu.Lock()
	_, ran, err := m.TryCreateBackup(context.Background())
	m.mu.Unlock()

	require.NoError(t, err)
	assert.False(t, ran)

	rec, ran, err := m.TryCreateBackup(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.FileExists(t, rec.BackupPath)
}

func TestTryCreateBackup_SkipsWhileStoreHeldExclusively(t *testing.T) {
	env := newTestEnv(t)
	env.rt.Backups.cfg.BusyWait = 20 * time.Millisecond

	x := env.rt.Handle.Acquire()
	_, ran, err := env.rt.Backups.TryCreateBackup(context.Background())
	x.Release()

	require.NoError(t, err)
	assert.False(t, ran)
	list, err := env.rt.Backups.ListBackups()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTryCreateBackup_WaitsForShortExclusiveHold(t *testing.T) {
	env := newTestEnv(t)

	x := env.rt.Handle.Acquire()
	go func() {
		time.Sleep(20 * time.Millisecond)
		x.Release()
	}()
	rec, ran, err := env.rt.Backups.TryCreateBackup(context.Background())

	require.NoError(t, err)
	assert.True(t, ran)
	assert.FileExists(t, rec.BackupPath)
}

func TestCreateBackup_RejectsCorruptSource(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, "a.txt")
	good, err := env.rt.Backups.CreateBackup(context.Background())
	require.NoError(t, err)

	truncateFile(t, env.storePath(), 100)
	_, err = env.rt.Backups.CreateBackup(context.Background())

	var be *BackupError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "create", be.Op)
	var ie *IntegrityError
	assert.ErrorAs(t, err, &ie)

	list, err := env.rt.Backups.ListBackups()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, good.BackupPath, list[0].BackupPath)
}

func TestRestoreFromLatestBackup_NoBackup(t *testing.T) {
	m, src := newBackupManager(t, time.Second, 5)
	before, err := os.ReadFile(src)
	require.NoError(t, err)

	_, ok, err := m.RestoreFromLatestBackup(context.Background())

	require.NoError(t, err)
	assert.False(t, ok)
	after, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, before, after, "live store untouched")
}

func TestRestoreFromLatestBackup_ReplacesLiveFile(t *testing.T) {
	m, src := newBackupManager(t, time.Second, 5)
	good, err := os.ReadFile(src)
	require.NoError(t, err)
	rec, err := m.CreateBackup(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(src, []byte("damaged"), 0o600))
	require.NoError(t, os.WriteFile(src+"-journal", []byte("stale"), 0o600))
	require.NoError(t, os.WriteFile(src+"-wal", []byte("stale"), 0o600))

	restored, ok, err := m.RestoreFromLatestBackup(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.BackupPath, restored.BackupPath)

	got, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, good, got)
	assert.NoFileExists(t, src+"-journal")
	assert.NoFileExists(t, src+"-wal")

	entries, err := os.ReadDir(filepath.Dir(src))
	require.NoError(t, err)
	var aside []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "projects.db.pre-restore-") {
			aside = append(aside, e.Name())
		}
	}
	require.Len(t, aside, 1)
	kept, err := os.ReadFile(filepath.Join(filepath.Dir(src), aside[0]))
	require.NoError(t, err)
	assert.Equal(t, "damaged", string(kept), "replaced file is kept for inspection")
}

func TestRestoreFromLatestBackup_MissingLiveFile(t *testing.T) {
	m, src := newBackupManager(t, time.Second, 5)
	_, err := m.CreateBackup(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.Remove(src))

	_, ok, err := m.RestoreFromLatestBackup(context.Background())

	require.NoError(t, err)
	assert.True(t, ok)
	assert.FileExists(t, src)
}

func TestRestoreFromLatestBackup_UsesNewest(t *testing.T) {
	m, src := newBackupManager(t, time.Second, 5)
	_, err := m.CreateBackup(context.Background())
	require.NoError(t, err)

	writeValidStore(t, src, "second.txt")
	newest, err := m.CreateBackup(context.Background())
	require.NoError(t, err)
	want, err := os.ReadFile(newest.BackupPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(src, []byte("damaged"), 0o600))
	rec, ok, err := m.RestoreFromLatestBackup(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newest.BackupPath, rec.BackupPath)

	got, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
