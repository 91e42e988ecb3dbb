package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jobweave/internal/compiler"
	"github.com/roach88/jobweave/internal/store"
)

func TestRewriteText(t *testing.T) {
	out, _, err := execute(t, "rewrite", modulePath("static_move"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Rewrote Game: 1 chain(s), 1 job(s)")
	assert.Contains(t, out, "Game.MoveSystem/OnUpdate_LambdaJob0 (per_record, Schedule, burst)")
}

func TestRewriteJSON(t *testing.T) {
	out, _, err := execute(t, "rewrite", modulePath("capture_move"), "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   RewriteSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Emitted)
	assert.Equal(t, 1, resp.Data.Chains)
	require.Len(t, resp.Data.Jobs, 1)
	assert.NotEmpty(t, resp.Data.Jobs[0].Fields)
	assert.NotEmpty(t, resp.Data.InputHash)
	assert.NotEmpty(t, resp.Data.OutputHash)
	assert.NotEqual(t, resp.Data.InputHash, resp.Data.OutputHash)
}

func TestRewriteErrorsDiscardModule(t *testing.T) {
	outFile := filepath.Join(t.TempDir(), "out.json")
	out, _, err := execute(t, "rewrite", modulePath("captured_write"), "-o", outFile)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "module discarded")
	assert.Contains(t, out, "E201")
	assert.NoFileExists(t, outFile)
}

func TestRewriteErrorsJSON(t *testing.T) {
	out, _, err := execute(t, "rewrite", modulePath("query_conflict"), "--format", "json")
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E301", resp.Error.Code)
}

func TestRewriteOutputIsIdempotent(t *testing.T) {
	outFile := filepath.Join(t.TempDir(), "Game.rewritten.json")
	out, _, err := execute(t, "rewrite", modulePath("static_move"), "-o", outFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote rewritten module to "+outFile)

	mod, err := compiler.LoadFile(outFile)
	require.NoError(t, err)
	assert.NotNil(t, mod.Lookup("Game.MoveSystem/OnUpdate_LambdaJob0"))

	out, _, err = execute(t, "rewrite", outFile)
	require.NoError(t, err)
	assert.Contains(t, out, "already rewritten")
}

func TestRewriteRecordsRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	out, _, err := execute(t, "rewrite", modulePath("static_move"), "--db", db, "--format", "json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.RunID)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	run, err := st.GetRun(t.Context(), resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, "Game", run.ModuleName)
	assert.Equal(t, modulePath("static_move"), run.Source)
	assert.True(t, run.Emitted())
	assert.Len(t, run.JobRecords, 1)
}

func TestRewriteMissingModule(t *testing.T) {
	out, _, err := execute(t, "rewrite", modulePath("nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestRewriteVerboseLogsToStderr(t *testing.T) {
	out, errOut, err := execute(t, "rewrite", modulePath("static_move"), "-v", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Loaded module Game")
	var resp CLIResponse
	assert.NoError(t, json.Unmarshal([]byte(out), &resp), "stdout stays valid JSON")
}
