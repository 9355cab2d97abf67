// Package tracing implements the Chrome trace-event probe (SPEC_FULL.md
// §4.8): starts a CDP trace at Run start, writes the collected events to
// a JSON file when the scope stops, and reports that file at teardown.
// Grounded on
// original_source/crossbench/probes/tracing.py and the CDP calling
// convention established by internal/browser/chrome's CheckForeground.
package tracing

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/crossbench-org/crossbench-go/internal/browser"
	"github.com/crossbench-org/crossbench-go/internal/probe"
)

// Name is the attach name of the tracing probe.
const Name = "tracing"

// DefaultCategories mirrors the original's default trace category set:
// enough to reconstruct page load and script execution timing without
// the very high-volume categories.
var DefaultCategories = []string{
	"devtools.timeline",
	"v8",
	"blink.user_timing",
	"disabled-by-default-v8.cpu_profiler",
}

// runWithBrowser is the superset of probe.RunContext the tracing scope
// needs to reach the Run's Browser, satisfied structurally by *run.Run.
// Kept local to avoid a cycle onto internal/run.
type runWithBrowser interface {
	probe.RunContext
	Browser() browser.Browser
}

type tracingProbe struct {
	probe.Base
	categories []string
}

// New returns the tracing probe over the given CDP categories, or
// DefaultCategories if none are given. Chrome-only: only Chrome exposes
// browser.Tracer.
func New(categories ...string) probe.Probe {
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	return &tracingProbe{
		Base: probe.Base{
			ProbeName:       Name,
			Location:        probe.ResultLocationLocal,
			CompatibleKinds: []string{"chrome"},
		},
		categories: categories,
	}
}

func (p *tracingProbe) GetScope(run probe.RunContext) probe.Scope {
	return &tracingScope{categories: p.categories}
}

type tracingScope struct {
	categories []string
	path       string
}

func (s *tracingScope) Setup(ctx context.Context, run probe.RunContext) error { return nil }

// Start begins the CDP trace, once the browser session is live.
func (s *tracingScope) Start(ctx context.Context, run probe.RunContext) error {
	tracer, err := tracerOf(run)
	if err != nil {
		return err
	}
	s.path = filepath.Join(run.OutDir(), "trace.json")
	return tracer.StartTracing(ctx, s.categories)
}

func (s *tracingScope) Stop(ctx context.Context, run probe.RunContext) error {
	tracer, err := tracerOf(run)
	if err != nil {
		return err
	}
	return tracer.StopTracing(ctx, s.path)
}

func (s *tracingScope) TearDown(ctx context.Context, run probe.RunContext) (probe.Result, error) {
	if s.path == "" {
		return probe.Empty, nil
	}
	return probe.NewResult(nil, []string{s.path}, nil, nil)
}

func tracerOf(run probe.RunContext) (browser.Tracer, error) {
	rb, ok := run.(runWithBrowser)
	if !ok {
		return nil, fmt.Errorf("tracing probe: run does not expose a Browser")
	}
	tracer, ok := rb.Browser().(browser.Tracer)
	if !ok {
		return nil, fmt.Errorf("tracing probe: %s does not support CDP tracing", rb.Browser().Kind())
	}
	return tracer, nil
}

var _ probe.Probe = (*tracingProbe)(nil)
