package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/projtrack/internal/project"
)

const kitchen = `# Kitchen Renovation

## End State
New cabinets installed and painted.

## Tasks
- [x] Pick cabinet style
- [ ] Order cabinets
- [x] Book painter
`

const deck = `# Deck

## End State
Deck stained before winter.

## Tasks
- [ ] Buy stain

## Waiting on Inputs
Quote from Sam
`

const rough = "# Rough\n## Tasks\n"

// cliEnv is a config file plus the directories it points at.
type cliEnv struct {
	dir        string
	configPath string
	root       string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := &cliEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		root:       filepath.Join(dir, "projects"),
	}

	cfg := fmt.Sprintf(`database:
  path: %s
projects:
  root: %s
  watch: false
backup:
  enabled: false
retry:
  max_attempts: 2
  base_delay: 1ms
logging:
  level: error
  oplog_path: %s
`,
		filepath.Join(dir, "data", "projects.db"),
		env.root,
		filepath.Join(dir, "logs", "operations.log"),
	)
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o644))

	lib := project.NewLibrary(env.root, nil)
	require.NoError(t, lib.EnsureDirs())
	return env
}

func (e *cliEnv) write(t *testing.T, s project.Status, name, content string) {
	t.Helper()
	dir := filepath.Join(e.root, s.DirName())
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// run executes the CLI and returns stdout with the temp dir replaced by $TMP.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetContext(context.Background())
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))

	err := cmd.Execute()
	return strings.ReplaceAll(out.String(), e.dir, "$TMP"), err
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestProjectsSyncAndList(t *testing.T) {
	env := newCLIEnv(t)
	env.write(t, project.StatusActive, "Kitchen_Renovation.txt", kitchen)
	env.write(t, project.StatusActive, "rough.txt", rough)
	env.write(t, project.StatusWaiting, "Deck.txt", deck)

	out, err := env.run(t, "projects", "sync")
	require.NoError(t, err)
	assert.Equal(t, "Synced 3 project(s), removed 0\n", out)

	out, err = env.run(t, "projects", "list")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "projects_list", []byte(out))
}

func TestProjectsMoveAndHistory(t *testing.T) {
	env := newCLIEnv(t)
	env.write(t, project.StatusWaiting, "Deck.txt", deck)

	_, err := env.run(t, "projects", "sync")
	require.NoError(t, err)

	out, err := env.run(t, "projects", "move", "Deck.txt", "active")
	require.NoError(t, err)
	assert.Equal(t, "Moved Deck.txt to active\n", out)
	assert.FileExists(t, filepath.Join(env.root, project.StatusActive.DirName(), "Deck.txt"))

	out, err = env.run(t, "projects", "history", "Deck.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "waiting -> active  tasks 0/1 -> 0/1")
}

func TestProjectsHistoryEmpty(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "projects", "history", "Nothing.txt")
	require.NoError(t, err)
	assert.Equal(t, "No history for Nothing.txt\n", out)
}

func TestProjectsMoveUnknownProject(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "projects", "move", "Ghost.txt", "active")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestProjectsValidate(t *testing.T) {
	env := newCLIEnv(t)
	env.write(t, project.StatusActive, "Kitchen_Renovation.txt", kitchen)
	env.write(t, project.StatusActive, "rough.txt", rough)

	out, err := env.run(t, "projects", "validate", "Kitchen_Renovation.txt")
	require.NoError(t, err)
	assert.Equal(t, "✓ Kitchen_Renovation.txt is well formulated\n", out)

	out, err = env.run(t, "projects", "validate", "rough.txt")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	newGoldie(t).Assert(t, "projects_validate_rough", []byte(out))
}

func TestProjectsValidateJSON(t *testing.T) {
	env := newCLIEnv(t)
	env.write(t, project.StatusActive, "rough.txt", rough)

	out, err := env.run(t, "--format", "json", "projects", "validate", "rough.txt")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	newGoldie(t).Assert(t, "projects_validate_rough_json", []byte(out))
}

func TestCheck(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "check")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, strings.HasPrefix(out, "✗ $TMP/data/projects.db: integrity check failed"), out)

	_, err = env.run(t, "projects", "sync")
	require.NoError(t, err)

	out, err = env.run(t, "check")
	require.NoError(t, err)
	assert.Equal(t, "✓ $TMP/data/projects.db: ok\n", out)
}

func TestRecover(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "recover")
	require.Error(t, err)
	assert.Equal(t, ExitManualIntervention, GetExitCode(err))
	newGoldie(t).Assert(t, "recover_no_backup", []byte(out))

	_, err = env.run(t, "projects", "sync")
	require.NoError(t, err)

	out, err = env.run(t, "recover")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "recover_healthy", []byte(out))
}

func TestBackupRestoreWithoutBackup(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "backup", "restore")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	newGoldie(t).Assert(t, "backup_restore_none", []byte(out))

	out, err = env.run(t, "backup", "list")
	require.NoError(t, err)
	assert.Equal(t, "No backups in $TMP/data/backups\n", out)
}

func TestBackupCreateListRestore(t *testing.T) {
	env := newCLIEnv(t)
	env.write(t, project.StatusActive, "Kitchen_Renovation.txt", kitchen)
	_, err := env.run(t, "projects", "sync")
	require.NoError(t, err)

	out, err := env.run(t, "backup", "create")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Created backup $TMP/data/backups/"), out)

	out, err = env.run(t, "backup", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 1)

	out, err = env.run(t, "backup", "prune", "--keep", "1")
	require.NoError(t, err)
	assert.Equal(t, "Pruned 0 backup(s), keeping 1\n", out)

	out, err = env.run(t, "backup", "restore")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Restored $TMP/data/projects.db from $TMP/data/backups/"), out)

	out, err = env.run(t, "projects", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Kitchen_Renovation.txt  Kitchen Renovation  2/3 tasks (67%)")
}

func TestPendingShowAndDiscard(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "pending", "show")
	require.NoError(t, err)
	assert.Equal(t, "No pending operation\n", out)

	out, err = env.run(t, "pending", "retry")
	require.NoError(t, err)
	assert.Equal(t, "No pending operation\n", out)

	out, err = env.run(t, "pending", "discard")
	require.NoError(t, err)
	assert.Equal(t, "Pending operation discarded\n", out)
}

func TestInvoke(t *testing.T) {
	env := newCLIEnv(t)
	env.write(t, project.StatusActive, "rough.txt", rough)

	out, err := env.run(t, "invoke", "sync-projects")
	require.NoError(t, err)
	assert.Contains(t, out, `"saved": 1`)

	out, err = env.run(t, "invoke", "frobnicate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E003]")

	out, err = env.run(t, "invoke", "get-projects", "--args", "{not json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "invalid --args JSON")
}

func TestConfigShow(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "path: $TMP/data/projects.db")
	assert.Contains(t, out, "root: $TMP/projects")
	assert.Contains(t, out, "max_attempts: 2")
}

func TestBadConfig(t *testing.T) {
	env := newCLIEnv(t)
	require.NoError(t, os.WriteFile(env.configPath, []byte("backup:\n  retain: 0\n"), 0o644))

	out, err := env.run(t, "check")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]")
	assert.Contains(t, out, "backup.retain must be at least 1")
}
