package resilience

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/projtrack/internal/oplog"
	"github.com/roach88/projtrack/internal/store"
	"github.com/roach88/projtrack/internal/testutil"
)

var testEpoch = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

const testBaseDelay = 10 * time.Millisecond

type testEnv struct {
	rt      *Runtime
	dir     string
	clock   *testutil.FakeClock
	sleeper *testutil.RecordingSleeper
	logs    *observer.ObservedLogs
}

// newTestEnv builds a started runtime over a fresh store in a temp dir.
func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	env := newUnstartedEnv(t, mutate...)
	_, err := env.rt.Start(context.Background())
	require.NoError(t, err)
	return env
}

func newUnstartedEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	clock := testutil.NewFakeClock(testEpoch, time.Second)
	sleeper := &testutil.RecordingSleeper{}
	core, logs := observer.New(zapcore.DebugLevel)

	opts := Options{
		StorePath: filepath.Join(dir, "projects.db"),
		BackupDir: filepath.Join(dir, "backups"),
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   testBaseDelay,
		},
		Sleeper: sleeper,
		Now:     clock.Now,
		Journal: oplog.New(core),
	}
	for _, m := range mutate {
		m(&opts)
	}

	rt, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })

	return &testEnv{rt: rt, dir: dir, clock: clock, sleeper: sleeper, logs: logs}
}

func (e *testEnv) storePath() string {
	return e.rt.Handle.Path()
}

// createProject writes a project row through the executor.
func (e *testEnv) createProject(t *testing.T, filename string) {
	t.Helper()
	_, err := e.rt.Executor.Execute(context.Background(), createOp(filename))
	require.NoError(t, err)
}

// findProject reads a project row through the executor.
func (e *testEnv) findProject(t *testing.T, filename string) (store.Record, error) {
	t.Helper()
	return Do[store.Record](context.Background(), e.rt.Executor, Operation{
		Type:   OpFind,
		Entity: store.EntityProject,
		Params: store.Params{Key: filename},
	})
}

func createOp(filename string) Operation {
	return Operation{
		Type:   OpCreate,
		Entity: store.EntityProject,
		Params: store.Params{Data: projectData(filename)},
		Name:   "save-project",
	}
}

func projectData(filename string) store.Record {
	return store.Record{
		"filename":      filename,
		"path":          "/projects/WTM Projects/" + filename,
		"title":         filename,
		"status":        "active",
		"last_modified": "2026-10-19T09:00:00Z",
	}
}

// truncateFile simulates corruption by cutting the file to n bytes.
func truncateFile(t *testing.T, path string, n int64) {
	t.Helper()
	require.NoError(t, os.Truncate(path, n))
}

// writeValidStore creates a healthy store file at path with one project.
func writeValidStore(t *testing.T, path string, filename string) {
	t.Helper()
	s, err := store.Open(path)
	require.NoError(t, err)
	_, err = s.Create(context.Background(), store.EntityProject, store.Params{Data: projectData(filename)})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

// scriptedCall fails with errs in order, then returns result.
type scriptedCall struct {
	errs   []error
	result any
	calls  atomic.Int32
}

func (s *scriptedCall) Call(ctx context.Context, st Store) (any, error) {
	n := int(s.calls.Add(1))
	if n <= len(s.errs) {
		return nil, s.errs[n-1]
	}
	return s.result, nil
}

func (s *scriptedCall) Calls() int {
	return int(s.calls.Load())
}

var (
	errLocked    = errors.New("database is locked")
	errMalformed = errors.New("database disk image is malformed")
)

func repeat(err error, n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = err
	}
	return out
}
