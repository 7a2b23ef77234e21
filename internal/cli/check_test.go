package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_Valid(t *testing.T) {
	db, _ := seed(t, 2)

	out, err := execute(t, "--db", db, "--format", "json", "check")
	require.NoError(t, err)

	res := decode[CheckResult](t, out).Data
	assert.Equal(t, db, res.Database)
	assert.Equal(t, map[string]int{"Customer": 3}, res.EntityTypes)
	assert.Equal(t, int64(2), res.LastEventNumber)
	assert.True(t, res.Snapshots.Enabled)
}

func TestCheck_Text(t *testing.T) {
	db, _ := seed(t, 0)

	out, err := execute(t, "--db", db, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "Customer (schema v3)")
	assert.Contains(t, out, "✓ Configuration valid")
}

func TestCheck_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chronicle.yaml")
	db := filepath.Join(dir, "from-config.db")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  path: "+db+"\nsnapshot:\n  enabled: false\n"), 0o644))

	out, err := execute(t, "--config", path, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "Database: "+db)
	assert.Contains(t, out, "Snapshots: disabled")
}

func TestCheck_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chronicle.yaml")
	require.NoError(t, os.WriteFile(path, []byte("snapshot:\n  trigger: hourly\n"), 0o644))

	out, err := execute(t, "--config", path, "--format", "json", "check")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	resp := decode[any](t, out)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "failed to load config", resp.Error.Message)
}

func TestCheck_MissingConfigFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "check")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
