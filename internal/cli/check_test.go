package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckClean(t *testing.T) {
	out, _, err := execute(t, "check", modulePath("static_move"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Game: 1 chain(s), 1 job(s)")
}

func TestCheckPassErrors(t *testing.T) {
	out, _, err := execute(t, "check", modulePath("captured_write"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Game has errors")
	assert.Contains(t, out, "E201")
}

func TestCheckJSON(t *testing.T) {
	out, _, err := execute(t, "check", modulePath("query_conflict"), "--format", "json")
	require.Error(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   CheckResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotEmpty(t, resp.Data.Diagnostics)
	assert.Equal(t, "E301", resp.Data.Diagnostics[0].Code)
}

func TestCheckInvalidModule(t *testing.T) {
	p := filepath.Join(t.TempDir(), "invalid.json")
	require.NoError(t, os.WriteFile(p, []byte(invalidModule), 0o644))

	out, _, err := execute(t, "check", p)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "E501")
	assert.Contains(t, out, "E503")
	assert.NotContains(t, out, "chain(s)", "the pass does not run on invalid modules")
}

const recursiveModule = `{
	"name": "Game",
	"types": [{
		"name": "Game.Walker",
		"methods": [
			{"name": "Even", "return": "void", "body": [
				{"op": "ldarg", "int": 0},
				{"op": "call", "method": {"type": "Game.Walker", "name": "Odd", "return": "void", "has_this": true}},
				{"op": "ret"}
			]},
			{"name": "Odd", "return": "void", "body": [
				{"op": "ldarg", "int": 0},
				{"op": "call", "method": {"type": "Game.Walker", "name": "Even", "return": "void", "has_this": true}},
				{"op": "ret"}
			]}
		]
	}]
}`

func TestCheckReportsRecursion(t *testing.T) {
	p := filepath.Join(t.TempDir(), "recursive.json")
	require.NoError(t, os.WriteFile(p, []byte(recursiveModule), 0o644))

	out, _, err := execute(t, "check", p)
	require.NoError(t, err, "recursion is a warning")
	assert.Contains(t, out, "warning: mutually recursive methods")
}
