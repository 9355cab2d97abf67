package run

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/crossbench-org/crossbench-go/internal/metrics"
)

// Reporter receives Run lifecycle notifications for a live progress view
// (SPEC_FULL.md "live TUI progress"); optional, nil by default.
type Reporter interface {
	RunStarted(group, runID string)
	RunFinished(group, runID string, failed bool)
}

// ThreadGroup executes a disjoint list of Runs strictly sequentially on
// one worker; the Runner starts N ThreadGroups concurrently according to
// the configured thread mode (spec.md §4.1, §5).
type ThreadGroup struct {
	Key      string
	Runs     []*Run
	Reporter Reporter
}

// Execute runs every Run in order, stopping early if ctx is cancelled
// between Runs (spec.md §5 "strict completion order"; a cancelled context
// is the engine's best-effort interrupt path, DESIGN.md OQ-3) or if a
// Run's Execute returns an error (its out_dir already exists or cannot be
// created). A failing Run does not stop the group — sibling Runs within the
// same ThreadGroup still execute (spec.md §7 "do not abort sibling
// Runs").
func (g *ThreadGroup) Execute(ctx context.Context, isDryRun bool) error {
	metrics.ActiveThreadGroups.Inc()
	defer metrics.ActiveThreadGroups.Dec()
	for _, r := range g.Runs {
		if err := ctx.Err(); err != nil {
			log.Warn().Str("group", g.Key).Str("run", r.ID()).Msg("thread group cancelled before run started")
			return err
		}
		if g.Reporter != nil {
			g.Reporter.RunStarted(g.Key, r.ID())
		}
		if err := r.Execute(ctx, isDryRun); err != nil {
			return err
		}
		if g.Reporter != nil {
			g.Reporter.RunFinished(g.Key, r.ID(), r.Failed())
		}
	}
	return nil
}
