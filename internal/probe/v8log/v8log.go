// Package v8log implements the v8.log probe (SPEC_FULL.md §4.8): sets
// the V8 flag that makes Chrome's embedded V8 emit its --log-all trace,
// then recovers the produced log file out of the browser-side tmp dir at
// teardown. Grounded on original_source/crossbench/probes/v8/log.py.
package v8log

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/crossbench-org/crossbench-go/internal/probe"
)

// Name is the attach name of the v8.log probe.
const Name = "v8.log"

type v8LogProbe struct{ probe.Base }

// New returns the v8.log probe. It is Chrome-only: V8's --log-all flag
// is a js-flags entry Chrome's launcher understands; Safari/Firefox have
// no equivalent surface.
func New() probe.Probe {
	return &v8LogProbe{Base: probe.Base{
		ProbeName:       Name,
		Location:        probe.ResultLocationBrowser,
		CompatibleKinds: []string{"chrome"},
	}}
}

// Attach sets the top-level js-flags entry so V8 writes its verbose log
// to the browser's cwd (spec.md §4.3 "Attach... may mutate its flags").
func (p *v8LogProbe) Attach(b probe.BrowserFlags) error {
	return b.SetValue("js-flags", "--log-all", false)
}

func (p *v8LogProbe) GetScope(run probe.RunContext) probe.Scope { return &v8LogScope{} }

type v8LogScope struct{}

func (s *v8LogScope) Setup(ctx context.Context, run probe.RunContext) error { return nil }
func (s *v8LogScope) Start(ctx context.Context, run probe.RunContext) error { return nil }
func (s *v8LogScope) Stop(ctx context.Context, run probe.RunContext) error  { return nil }

// TearDown globs the browser tmp dir for the v8.log file V8 wrote there
// and copies it into the Run's out_dir, simulating the "transferred
// during teardown" contract for ResultLocationBrowser probes (spec.md
// §3, §4.3).
func (s *v8LogScope) TearDown(ctx context.Context, run probe.RunContext) (probe.Result, error) {
	tmpDir, err := run.BrowserTmpDir()
	if err != nil {
		return probe.Empty, fmt.Errorf("v8log probe: %w", err)
	}
	matches, err := filepath.Glob(filepath.Join(tmpDir, "v8.log*"))
	if err != nil {
		return probe.Empty, fmt.Errorf("v8log probe: glob: %w", err)
	}
	if len(matches) == 0 {
		return probe.Empty, nil
	}

	dst := filepath.Join(run.OutDir(), "v8.log")
	if err := copyFile(matches[0], dst); err != nil {
		return probe.Empty, fmt.Errorf("v8log probe: %w", err)
	}
	return probe.NewResult([]string{dst}, nil, nil, nil)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, fs.FileMode(0o644))
}

var _ probe.Probe = (*v8LogProbe)(nil)
