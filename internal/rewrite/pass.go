// Package rewrite turns lambda construction chains into job value types.
//
// Run clones the module, scans every method for chains, analyses each
// chain into a plan, and applies the plans to the clone: job types are
// added next to the system, the chain instructions are replaced by code
// that fills and schedules the job, and closures that are safe to copy
// become value types. Any error diagnostic discards the whole output.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/jobweave/internal/chain"
	"github.com/roach88/jobweave/internal/classify"
	"github.com/roach88/jobweave/internal/config"
	"github.com/roach88/jobweave/internal/diag"
	"github.com/roach88/jobweave/internal/ir"
)

// Options configures a pass.
type Options struct {
	Config config.Config
	// Logger receives progress at debug and info level. Nil uses
	// slog.Default().
	Logger *slog.Logger
}

// Result is the outcome of a pass.
type Result struct {
	// Module is the rewritten module, nil when any error was reported.
	Module      *ir.Module
	Diagnostics []diag.Diagnostic
	// Jobs describes every chain that analysed successfully, whether or
	// not the module was emitted.
	Jobs []*JobRecord
	// Chains counts chain starts, failed ones included.
	Chains int
	// AlreadyRewritten is set when the input has no chain starts but
	// carries synthesized job types.
	AlreadyRewritten bool
}

// HasErrors reports whether any error diagnostic was produced.
func (r *Result) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if d.IsError() {
			return true
		}
	}
	return false
}

type pass struct {
	mod   *ir.Module
	cfg   config.Config
	cls   *classify.Context
	log   *slog.Logger
	idiom bool

	// bodies holds the keys of lambda bodies of recognised chains.
	bodies   map[string]bool
	closures map[string]*ClosureDescriptor
}

type methodScan struct {
	chains []*chain.Chain
	errs   []error
}

type methodOutcome struct {
	plans []*plan
	diags []diag.Diagnostic
	// failed lists closure types used by chains that did not analyse.
	failed []string
}

// Run rewrites mod. The input is never modified. The returned error is
// reserved for invalid input and cancellation; problems with individual
// chains are diagnostics.
func Run(ctx context.Context, mod *ir.Module, opts Options) (*Result, error) {
	if mod == nil {
		return nil, errors.New("rewrite: nil module")
	}
	cfg := withDefaults(opts.Config)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rewrite: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	out := mod.Clone()
	p := &pass{
		mod:      out,
		cfg:      cfg,
		cls:      classify.New(out, cfg.Classification),
		log:      log.With("module", out.Name),
		idiom:    cfg.Pass.CachedDelegateIdiom(),
		bodies:   map[string]bool{},
		closures: map[string]*ClosureDescriptor{},
	}

	var methods []*ir.MethodDef
	for _, t := range out.Types {
		for _, m := range t.Methods {
			if len(m.Body) > 0 {
				methods = append(methods, m)
			}
		}
	}

	scans := make([]methodScan, len(methods))
	err := p.each(ctx, len(methods), func(i int) {
		chains, errs := chain.Scan(methods[i], chain.Options{CachedDelegateIdiom: p.idiom})
		scans[i] = methodScan{chains: chains, errs: errs}
	})
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var closureOrder []string
	for _, s := range scans {
		res.Chains += len(s.chains) + len(s.errs)
		for _, c := range s.chains {
			p.bodies[c.Lambda().Target.Key()] = true
			if _, typ, ok := c.ClosureLocal(); ok && !slices.Contains(closureOrder, typ) {
				closureOrder = append(closureOrder, typ)
			}
		}
	}
	if res.Chains == 0 {
		res.Module = out
		res.AlreadyRewritten = hasJobTypes(out)
		p.log.Info("no lambda chains", "already_rewritten", res.AlreadyRewritten)
		return res, nil
	}
	for _, typ := range closureOrder {
		p.closures[typ] = p.describeClosure(typ)
	}

	outcomes := make([]methodOutcome, len(methods))
	err = p.each(ctx, len(methods), func(i int) {
		outcomes[i] = p.analyse(methods[i], scans[i])
	})
	if err != nil {
		return nil, err
	}

	var bag diag.Bag
	failed := map[string]bool{}
	for _, o := range outcomes {
		bag.Add(o.diags...)
		for _, typ := range o.failed {
			failed[typ] = true
		}
		for _, pl := range o.plans {
			res.Jobs = append(res.Jobs, pl.job)
		}
	}

	if !bag.HasErrors() {
		if err := p.apply(outcomes, failed); err != nil {
			bag.AddError(err, nil)
		}
	}
	res.Diagnostics = dedupe(diag.Sorted(bag.Diagnostics()))
	if !res.HasErrors() {
		res.Module = out
	}
	p.log.Info("rewrite finished",
		"chains", res.Chains,
		"jobs", len(res.Jobs),
		"errors", countErrors(res.Diagnostics),
		"emitted", res.Module != nil)
	return res, nil
}

func withDefaults(cfg config.Config) config.Config {
	def := config.Default()
	if cfg.Pass.Workers == 0 {
		cfg.Pass.Workers = def.Pass.Workers
	}
	if cfg.Pass.ManagedCaptures == "" {
		cfg.Pass.ManagedCaptures = def.Pass.ManagedCaptures
	}
	if len(cfg.Classification.ComponentInterfaces) == 0 {
		cfg.Classification.ComponentInterfaces = def.Classification.ComponentInterfaces
	}
	if len(cfg.Classification.BufferInterfaces) == 0 {
		cfg.Classification.BufferInterfaces = def.Classification.BufferInterfaces
	}
	return cfg
}

// each runs fn for 0..n-1 on up to Workers goroutines.
func (p *pass) each(ctx context.Context, n int, fn func(i int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Pass.Workers)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// analyse plans every chain of one method. It only reads the module.
func (p *pass) analyse(m *ir.MethodDef, s methodScan) methodOutcome {
	var o methodOutcome
	for _, err := range s.errs {
		for _, e := range diag.Flatten(err) {
			o.diags = append(o.diags, diag.FromError(e, m))
		}
	}
	for _, c := range s.chains {
		pl, warns, err := p.planChain(c)
		for _, w := range warns {
			o.diags = append(o.diags, w.Diagnostic())
		}
		if err != nil {
			p.log.Debug("chain failed", "method", m.Name, "chain", c.Ordinal, "error", err)
			for _, e := range diag.Flatten(err) {
				o.diags = append(o.diags, diag.FromError(e, m))
			}
			if _, typ, ok := c.ClosureLocal(); ok {
				o.failed = append(o.failed, typ)
			}
			continue
		}
		p.log.Debug("chain planned", "method", m.Name, "chain", c.Ordinal, "job", pl.job.Name)
		o.plans = append(o.plans, pl)
	}
	return o
}

// apply writes every plan into the module, method by method in
// declaration order.
func (p *pass) apply(outcomes []methodOutcome, failed map[string]bool) error {
	var convert []string
	for _, o := range outcomes {
		for _, pl := range o.plans {
			cd := pl.capture.closure
			if cd == nil || !cd.Reference || !cd.EscapeSafe || failed[cd.Type] {
				continue
			}
			if !slices.Contains(convert, cd.Type) {
				convert = append(convert, cd.Type)
			}
		}
	}

	for _, o := range outcomes {
		for _, pl := range o.plans {
			c := pl.chain
			byRef := false
			if cd := pl.capture.closure; cd != nil {
				pl.job.ClosureConverted = slices.Contains(convert, cd.Type)
				byRef = pl.job.ClosureConverted || !cd.Reference
			}
			if p.mod.Lookup(pl.job.Type) != nil {
				return diag.Internalf(c.Owner, c.Start, "job type %s already exists in the module", pl.job.Type)
			}
			p.mod.Types = append(p.mod.Types, pl.assemble(byRef))

			if c.Kind.Queries() {
				sys := p.mod.Lookup(c.Owner.DeclaringType)
				if sys == nil {
					return diag.Internalf(c.Owner, c.Start, "declaring type %s not found", c.Owner.DeclaringType)
				}
				field, build, err := queryMembers(sys.Name, pl.job.Name, pl.query)
				if err != nil {
					return diag.Internalf(c.Owner, c.Start, "%v", err)
				}
				sys.Fields = append(sys.Fields, field)
				sys.AddMethod(build)
				injectHook(sys, build)
				pl.queryField = &ir.FieldRef{DeclaringType: sys.Name, Name: field.Name, FieldType: field.Type}
			}
			p.log.Info("job synthesized",
				"method", c.Owner.Name,
				"chain", c.Ordinal,
				"job", pl.job.Name,
				"kind", pl.job.Kind,
				"fields", len(pl.job.Fields))
		}
		// Later chains first, so earlier ranges keep their indices.
		for i := len(o.plans) - 1; i >= 0; i-- {
			pl := o.plans[i]
			seq, err := pl.replacement()
			if err != nil {
				return err
			}
			splice(pl.chain.Owner, pl.chain.ThisLoad, pl.chain.Terminal, seq)
		}
	}

	for _, typ := range convert {
		p.log.Debug("closure converted", "closure", typ)
		convertClosure(p.mod, typ)
	}
	return nil
}

func hasJobTypes(mod *ir.Module) bool {
	for _, t := range mod.Types {
		if IsJobName(t.Name) {
			return true
		}
	}
	return false
}

func dedupe(ds []diag.Diagnostic) []diag.Diagnostic {
	var out []diag.Diagnostic
	for _, d := range ds {
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	return out
}

func countErrors(ds []diag.Diagnostic) int {
	n := 0
	for _, d := range ds {
		if d.IsError() {
			n++
		}
	}
	return n
}
