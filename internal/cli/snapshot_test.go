package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/snapshot"
)

func TestSnapshot_Lifecycle(t *testing.T) {
	db, _ := seed(t, 2)

	out, err := execute(t, "--db", db, "--format", "json", "snapshot", "take")
	require.NoError(t, err)
	taken := decode[snapshot.Metadata](t, out).Data
	assert.NotEmpty(t, taken.ID)
	assert.Equal(t, int64(2), taken.EventNumber)
	assert.Equal(t, 2, taken.Documents)

	out, err = execute(t, "--db", db, "--format", "json", "snapshot", "list")
	require.NoError(t, err)
	list := decode[[]snapshot.Metadata](t, out).Data
	require.Len(t, list, 1)
	assert.Equal(t, taken.ID, list[0].ID)
	assert.Equal(t, taken.Checksum, list[0].Checksum)

	out, err = execute(t, "--db", db, "snapshot", "restore", taken.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Restored: "+taken.ID)

	out, err = execute(t, "--db", db, "snapshot", "delete", taken.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Deleted snapshot "+taken.ID)

	out, err = execute(t, "--db", db, "snapshot", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No snapshots found.")
}

func TestSnapshot_TakeAt(t *testing.T) {
	db, _ := seed(t, 3)

	out, err := execute(t, "--db", db, "--format", "json", "snapshot", "take", "--at", "1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), decode[snapshot.Metadata](t, out).Data.EventNumber)

	_, err = execute(t, "--db", db, "snapshot", "take", "--at", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSnapshot_UnknownID(t *testing.T) {
	db, _ := seed(t, 1)

	for _, sub := range []string{"restore", "delete"} {
		t.Run(sub, func(t *testing.T) {
			out, err := execute(t, "--db", db, "--format", "json", "snapshot", sub, "missing")
			require.Error(t, err)
			assert.ErrorIs(t, err, snapshot.ErrSnapshotNotFound)
			assert.Equal(t, ExitCommandError, GetExitCode(err))

			resp := decode[any](t, out)
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, "E005", resp.Error.Code)
			assert.Equal(t, "not_found", resp.Error.Class)
		})
	}
}

func TestSnapshot_RequiresID(t *testing.T) {
	db, _ := seed(t, 0)
	_, err := execute(t, "--db", db, "snapshot", "restore")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
