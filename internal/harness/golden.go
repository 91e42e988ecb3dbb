package harness

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/jobweave/internal/ir"
)

// GoldenDir holds golden snapshots, relative to the test's package.
const GoldenDir = "testdata/golden"

// Snapshot renders everything a scenario run produced as stable text:
// the diagnostics, the job records and, when emitted, the disassembly of
// the rewritten module.
func Snapshot(name string, r *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# scenario %s\n", name)
	fmt.Fprintf(&b, "# chains %d, jobs %d, emitted %t\n", r.Chains, len(r.Jobs), r.Emitted())
	if r.AlreadyRewritten {
		b.WriteString("# already rewritten\n")
	}

	if len(r.Diagnostics) > 0 {
		b.WriteString("\n## diagnostics\n")
		for _, d := range r.Diagnostics {
			fmt.Fprintf(&b, "%s\n", d)
		}
	}

	if len(r.Jobs) > 0 {
		b.WriteString("\n## jobs\n")
		for _, j := range r.Jobs {
			fmt.Fprintf(&b, "%s kind=%s terminal=%s burst=%t fields=[%s]\n",
				j.Type, j.Kind, j.Terminal, j.Burst, strings.Join(j.Fields, " "))
			for _, p := range j.Providers {
				fmt.Fprintf(&b, "  %s <- %s", p.Param, p.Kind)
				if p.Element != "" {
					fmt.Fprintf(&b, " %s", p.Element)
				}
				if p.ReadOnly {
					b.WriteString(" readonly")
				}
				b.WriteString("\n")
			}
		}
	}

	if r.Module != nil {
		b.WriteString("\n## module\n")
		b.WriteString(ir.Disassemble(r.Module))
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario, fails the test on assertion failures
// and compares the snapshot against testdata/golden/{scenario.Name}.golden.
//
// A missing golden file skips the comparison unless -update is set. To
// regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	AssertGolden(t, scenario.Name, result)
	return nil
}

// AssertGolden compares an existing result's snapshot against a golden
// file without re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	if !updating() {
		if _, err := os.Stat(filepath.Join(GoldenDir, name+".golden")); os.IsNotExist(err) {
			t.Skipf("no golden file for %s; run with -update to create it", name)
		}
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(name, result))
}

// updating reports whether goldie's -update flag is set.
func updating() bool {
	f := flag.Lookup("update")
	return f != nil && f.Value.String() == "true"
}
