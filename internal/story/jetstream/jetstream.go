// Package jetstream implements the JetStream JS-engine benchmark as a
// story.Story (SPEC_FULL.md §4.9), grounded on
// original_source/crossbench/benchmarks/jetstream.py — per spec.md §9
// DESIGN NOTES open question 2, the newer/typed variant of this
// duplicated original file is authoritative.
package jetstream

import (
	"context"
	"time"

	"github.com/crossbench-org/crossbench-go/internal/actions"
	"github.com/crossbench-org/crossbench-go/internal/story"
)

// Story drives one JetStream run against a harness URL.
type Story struct {
	url         string
	probeNames  []string
	timeoutSecs float64
}

// New constructs a JetStream story pointed at url.
func New(url string) *Story {
	return &Story{url: url, timeoutSecs: 600}
}

func (s *Story) Name() string            { return "jetstream" }
func (s *Story) Duration() time.Duration { return 10 * time.Minute }
func (s *Story) ProbeNames() []string    { return s.probeNames }

// WithProbeNames declares additional probes this story instance requires.
func (s *Story) WithProbeNames(names ...string) *Story {
	s.probeNames = append(s.probeNames, names...)
	return s
}

// Run navigates to the harness, waits for it to report readiness, starts
// the suite, polls for completion, and extracts the total score.
func (s *Story) Run(ctx context.Context, host story.Host) error {
	if err := host.Action(ctx, "jetstream.navigate", func(ctx context.Context, a *actions.Actions) error {
		return a.NavigateTo(ctx, s.url)
	}); err != nil {
		return err
	}

	if err := host.Action(ctx, "jetstream.wait_ready", func(ctx context.Context, a *actions.Actions) error {
		return a.WaitJSCondition(ctx, "return typeof JetStream !== 'undefined'", 1, 30)
	}); err != nil {
		return err
	}

	if err := host.Action(ctx, "jetstream.start", func(ctx context.Context, a *actions.Actions) error {
		_, err := a.JS(ctx, "JetStream.start(); return true", 5)
		return err
	}); err != nil {
		return err
	}

	if err := host.Action(ctx, "jetstream.wait_done", func(ctx context.Context, a *actions.Actions) error {
		return a.WaitJSCondition(ctx, "return JetStream.summaryElement !== undefined", 1, s.timeoutSecs)
	}); err != nil {
		return err
	}

	return host.Action(ctx, "jetstream.score", func(ctx context.Context, a *actions.Actions) error {
		_, err := a.JS(ctx, "return JetStream.result.score", 5)
		return err
	})
}

var _ story.Story = (*Story)(nil)
