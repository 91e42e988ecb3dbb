package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisasmInput(t *testing.T) {
	out, _, err := execute(t, "disasm", modulePath("static_move"))
	require.NoError(t, err)
	assert.Contains(t, out, "struct Game.Position")
	assert.Contains(t, out, "ForEach")
	assert.NotContains(t, out, "OnUpdate_LambdaJob0")
}

func TestDisasmRewrittenType(t *testing.T) {
	out, _, err := execute(t, "disasm", modulePath("static_move"), "--rewritten", "--type", "Game.MoveSystem/OnUpdate_LambdaJob0")
	require.NoError(t, err)
	assert.Contains(t, out, "Game.MoveSystem/OnUpdate_LambdaJob0")
	assert.NotContains(t, out, "Game.Velocity {")
}

func TestDisasmRewrittenDiscarded(t *testing.T) {
	_, _, err := execute(t, "disasm", modulePath("captured_write"), "--rewritten")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestDisasmUnknownType(t *testing.T) {
	out, _, err := execute(t, "disasm", modulePath("static_move"), "--type", "Game.Nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "not found")
}

func TestDisasmJSON(t *testing.T) {
	out, _, err := execute(t, "disasm", modulePath("capture_move"), "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   Disassembly `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "Game", resp.Data.Module)
	assert.Len(t, resp.Data.Hash, 64)
	assert.NotEmpty(t, resp.Data.Text)
}
