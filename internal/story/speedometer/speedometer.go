// Package speedometer implements the Speedometer web-app-responsiveness
// benchmark as a story.Story (SPEC_FULL.md §4.9), grounded on
// original_source/crossbench/benchmarks/{speedometer,base}.py: navigate
// to the harness URL, wait for a page-level ready condition, drive the
// suite, extract the final score via JS.
package speedometer

import (
	"context"
	"fmt"
	"time"

	"github.com/crossbench-org/crossbench-go/internal/actions"
	"github.com/crossbench-org/crossbench-go/internal/story"
)

// Story drives one Speedometer run against a fixed or custom harness URL.
type Story struct {
	url         string
	suites      []string // empty means "run the full default suite"
	probeNames  []string
	timeoutSecs float64
}

// New constructs a Speedometer story pointed at url (the harness page),
// restricted to suites if non-empty.
func New(url string, suites ...string) *Story {
	return &Story{
		url:         url,
		suites:      suites,
		timeoutSecs: 180,
	}
}

func (s *Story) Name() string             { return "speedometer" }
func (s *Story) Duration() time.Duration  { return 3 * time.Minute }
func (s *Story) ProbeNames() []string     { return s.probeNames }

// WithProbeNames declares additional probes this story instance requires
// (spec.md §3 "a tuple of Probe classes required").
func (s *Story) WithProbeNames(names ...string) *Story {
	s.probeNames = append(s.probeNames, names...)
	return s
}

// Run matches benchmarks/base.py's RunnerStory.run pattern: navigate,
// wait for readiness, start the suite, poll for completion, extract the
// score.
func (s *Story) Run(ctx context.Context, host story.Host) error {
	if err := host.Action(ctx, "speedometer.navigate", func(ctx context.Context, a *actions.Actions) error {
		return a.NavigateTo(ctx, s.url)
	}); err != nil {
		return err
	}

	if err := host.Action(ctx, "speedometer.wait_ready", func(ctx context.Context, a *actions.Actions) error {
		return a.WaitJSCondition(ctx, "return !!window.benchmarkClient", 1, 30)
	}); err != nil {
		return err
	}

	if err := host.Action(ctx, "speedometer.start", func(ctx context.Context, a *actions.Actions) error {
		_, err := a.JS(ctx, s.startScript(), 5)
		return err
	}); err != nil {
		return err
	}

	if err := host.Action(ctx, "speedometer.wait_done", func(ctx context.Context, a *actions.Actions) error {
		return a.WaitJSCondition(ctx, "return window.benchmarkClient && window.benchmarkClient.isDone === true", 1, s.timeoutSecs)
	}); err != nil {
		return err
	}

	return host.Action(ctx, "speedometer.score", func(ctx context.Context, a *actions.Actions) error {
		_, err := a.JS(ctx, "return window.benchmarkClient.results.getScore()", 5)
		return err
	})
}

func (s *Story) startScript() string {
	if len(s.suites) == 0 {
		return "window.benchmarkClient.startBenchmark(); return true"
	}
	return fmt.Sprintf("window.benchmarkClient.startBenchmark(%q); return true", s.suites)
}

var _ story.Story = (*Story)(nil)
