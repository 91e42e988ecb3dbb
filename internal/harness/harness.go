package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/jobweave/internal/compiler"
	"github.com/roach88/jobweave/internal/config"
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/rewrite"
	"github.com/roach88/jobweave/internal/store"
	"github.com/roach88/jobweave/internal/testutil"
)

// ErrInvalidModule wraps structural validation failures of a scenario's
// module. The pass is not run on such modules.
var ErrInvalidModule = errors.New("invalid module")

// Harness is the test execution engine.
// It runs scenarios against a fresh history store with a deterministic
// clock and run IDs.
type Harness struct {
	store  *store.Store
	logger *slog.Logger
}

// Option configures a scenario run.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger routes pass logging to l. By default it is discarded.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Load the module and validate its structure
// 2. Load the configuration (defaults when none is named)
// 3. Run the rewriting pass
// 4. Record the run and read it back from the store
// 5. Evaluate assertions against the stored run and the output module
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	mod, err := compiler.LoadFile(scenario.Module)
	if err != nil {
		return nil, fmt.Errorf("failed to load module: %w", err)
	}
	if verrs := compiler.Validate(mod); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, e := range verrs {
			errs[i] = e
		}
		return nil, fmt.Errorf("%s: %w", scenario.Module, errors.Join(append([]error{ErrInvalidModule}, errs...)...))
	}

	cfg := config.Default()
	if scenario.Config != "" {
		if cfg, err = config.Load(scenario.Config); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	st, err := store.Open(":memory:",
		store.WithClock(testutil.NewDeterministicClock()),
		store.WithIDGenerator(testutil.NewSequentialIDGenerator("run")))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{store: st, logger: o.logger}
	result, err := h.execute(ctx, scenario, mod, cfg)
	if err != nil {
		return nil, err
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// execute runs the pass and builds the result from the stored run.
func (h *Harness) execute(ctx context.Context, scenario *Scenario, mod *ir.Module, cfg config.Config) (*Result, error) {
	res, err := rewrite.Run(ctx, mod, rewrite.Options{Config: cfg, Logger: h.logger.With("scenario", scenario.Name)})
	if err != nil {
		return nil, fmt.Errorf("failed to run pass: %w", err)
	}

	recorded, err := h.store.RecordRun(ctx, store.RunInput{
		Source: scenario.Module,
		Input:  mod,
		Result: res,
		Config: cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	run, err := h.store.GetRun(ctx, recorded.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read run: %w", err)
	}

	result := NewResult()
	result.RunID = run.ID
	result.InputHash = run.InputHash
	result.OutputHash = run.OutputHash
	result.Chains = run.Chains
	result.AlreadyRewritten = run.AlreadyRewritten
	result.Module = res.Module
	if run.Diagnostics != nil {
		result.Diagnostics = run.Diagnostics
	}
	if run.JobRecords != nil {
		result.Jobs = run.JobRecords
	}
	return result, nil
}
