package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jobweave/internal/store"
)

// recordRuns rewrites each module into a fresh database and returns its
// path and the run IDs in order.
func recordRuns(t *testing.T, modules ...string) (string, []string) {
	t.Helper()
	db := filepath.Join(t.TempDir(), "history.db")
	var ids []string
	for _, m := range modules {
		out, _, _ := execute(t, "rewrite", modulePath(m), "--db", db, "--format", "json")
		var resp CLIResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		require.NotEmpty(t, resp.RunID, m)
		ids = append(ids, resp.RunID)
	}
	return db, ids
}

func TestHistoryRequiresDatabase(t *testing.T) {
	_, _, err := execute(t, "history")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--db")
}

func TestHistoryEmpty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	out, _, err := execute(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestHistoryList(t *testing.T) {
	db, ids := recordRuns(t, "static_move", "captured_write")

	out, _, err := execute(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "SEQ")
	assert.Contains(t, out, ids[0])
	assert.Contains(t, out, "discarded")

	out, _, err = execute(t, "history", "--db", db, "--limit", "1", "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Data []store.Run `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, ids[1], resp.Data[0].ID, "newest first")
	assert.Equal(t, 1, resp.Data[0].Errors)
}

func TestHistoryShow(t *testing.T) {
	db, ids := recordRuns(t, "captured_write")

	out, _, err := execute(t, "history", ids[0], "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Run "+ids[0]+" (#1)")
	assert.Contains(t, out, "output:   discarded")
	assert.Contains(t, out, "Diagnostics:")
	assert.Contains(t, out, "E201")
}

func TestHistoryShowNotFound(t *testing.T) {
	db, _ := recordRuns(t, "static_move")
	out, _, err := execute(t, "history", "no-such-run", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "not found")
}
