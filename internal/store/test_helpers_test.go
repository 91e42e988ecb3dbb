package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/jobweave/internal/config"
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/rewrite"
	"github.com/roach88/jobweave/internal/testutil"
)

// createTestStore creates a store in a temp dir with a deterministic clock
// and sequential run IDs.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path,
		WithClock(testutil.NewDeterministicClock()),
		WithIDGenerator(testutil.NewSequentialIDGenerator("run")))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runPass rewrites mod with the default configuration.
func runPass(t *testing.T, mod *ir.Module) *rewrite.Result {
	t.Helper()
	res, err := rewrite.Run(context.Background(), mod, rewrite.Options{Config: config.Default(), Logger: quietLogger()})
	require.NoError(t, err)
	return res
}

// recordScenario runs the pass over mod and records it.
func recordScenario(t *testing.T, s *Store, mod *ir.Module) *Run {
	t.Helper()
	res := runPass(t, mod)
	run, err := s.RecordRun(context.Background(), RunInput{
		Source: mod.Name + ".cue",
		Input:  mod,
		Result: res,
		Config: config.Default(),
	})
	require.NoError(t, err)
	return run
}
