package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jobweave/internal/store"
)

func TestReplayDeterministic(t *testing.T) {
	db, ids := recordRuns(t, "capture_move", "captured_write")

	for _, id := range ids {
		out, _, err := execute(t, "replay", id, "--db", db)
		require.NoError(t, err, out)
		assert.Contains(t, out, "replays deterministically")
	}
}

func TestReplayJSON(t *testing.T) {
	db, ids := recordRuns(t, "static_move")

	out, _, err := execute(t, "replay", ids[0], modulePath("static_move"), "--db", db, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Status string             `json:"status"`
		Data   store.ReplayReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.InputMatch)
	assert.True(t, resp.Data.OutputMatch)
}

func TestReplayDifferentModule(t *testing.T) {
	db, ids := recordRuns(t, "static_move")

	out, _, err := execute(t, "replay", ids[0], modulePath("capture_move"), "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "diverged")
	assert.Contains(t, out, "differs from the recorded input")
}

func TestReplayRunNotFound(t *testing.T) {
	db, _ := recordRuns(t, "static_move")
	_, _, err := execute(t, "replay", "missing", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayRequiresDatabase(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "jobweave.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("pass:\n  workers: 2\n"), 0o644))

	_, _, err := execute(t, "replay", "any", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
