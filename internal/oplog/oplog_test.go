package oplog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecord_LevelFollowsOutcome(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	j := New(core)

	j.Record(ActionBackup, OutcomeOK, zap.String("path", "/b/1.bak"))
	j.Record(ActionRetry, OutcomeRetry, zap.Int("attempt", 2))
	j.Record(ActionRestore, OutcomeFailed)

	entries := logs.All()
	require.Len(t, entries, 3)

	assert.Equal(t, ActionBackup, entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "ok", entries[0].ContextMap()["outcome"])
	assert.Equal(t, "/b/1.bak", entries[0].ContextMap()["path"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, int64(2), entries[1].ContextMap()["attempt"])

	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestRecord_NilJournalIsNoop(t *testing.T) {
	var j *Journal
	assert.NotPanics(t, func() {
		j.Record(ActionBackup, OutcomeOK)
		_ = j.Close()
	})
}

func TestOpen_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "oplog.jsonl")

	j, err := Open(path)
	require.NoError(t, err)
	j.Record(ActionIntegrityCheck, OutcomeOK)
	j.Record(ActionQueue, OutcomeQueued, zap.String("operationType", "create"))
	require.NoError(t, j.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 2)

	assert.Equal(t, ActionIntegrityCheck, lines[0]["action"])
	assert.Equal(t, "ok", lines[0]["outcome"])
	assert.Contains(t, lines[0], "ts")
	assert.Equal(t, "create", lines[1]["operationType"])
}

func TestOpen_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oplog.jsonl")

	for i := 0; i < 2; i++ {
		j, err := Open(path)
		require.NoError(t, err)
		j.Record(ActionBackup, OutcomeOK)
		require.NoError(t, j.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(data))
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}
