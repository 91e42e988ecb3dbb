package harness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverScenarios(t *testing.T) {
	paths, err := DiscoverScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.Len(t, paths, 4)
	assert.Equal(t, filepath.Join("testdata", "scenarios", "capture_move.yaml"), paths[0])

	one := filepath.Join("testdata", "scenarios", "static_move.yaml")
	paths, err = DiscoverScenarios(one)
	require.NoError(t, err)
	assert.Equal(t, []string{one}, paths)

	_, err = DiscoverScenarios(filepath.Join("testdata", "nope"))
	var nf *ScenarioNotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestRunSuite(t *testing.T) {
	result, err := RunSuite(context.Background(), filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 4, result.Passed)
	assert.True(t, result.AllPassed(), "failures: %v", result.Failures)
}

func TestRunSuite_RecordsFailures(t *testing.T) {
	dir := t.TempDir()
	module, err := filepath.Abs(filepath.Join("testdata", "modules", "static_move.cue"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_broken.yaml"), []byte("name: [\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_wrong.yaml"), []byte(
		"name: wrong\ndescription: expects two jobs\nmodule: "+module+"\nassertions: [{type: job_count, count: 2}]\n"), 0o644))

	result, err := RunSuite(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Failures, 2)
	assert.Contains(t, result.Failures[0].Error, "failed to load scenario")
	assert.Equal(t, "wrong", result.Failures[1].Scenario)
	assert.Contains(t, result.Failures[1].Error, "assertions failed")
}

func TestRunSuite_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunSuite(ctx, filepath.Join("testdata", "scenarios"))
	assert.ErrorIs(t, err, context.Canceled)
}
