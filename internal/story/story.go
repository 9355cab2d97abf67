// Package story defines the Story contract (spec.md §3): an opaque
// scripted page interaction exposing name, nominal duration, required
// probe names, and a run method invoked once per Run. Grounded
// structurally on the teacher's optional-dependency interface pattern in
// internal/solver.Solver (kept narrow, no concrete implementation
// assumed by the engine).
package story

import (
	"context"
	"time"

	"github.com/crossbench-org/crossbench-go/internal/actions"
)

// Host is the slice of a Run a Story needs to drive its interaction: the
// ability to open a named Action span. Implemented by *run.Run.
// Satisfied structurally — internal/story never imports internal/run, so
// no import cycle exists between the engine's scheduling layer and the
// (opaque, user-supplied) Story implementations.
type Host interface {
	Action(ctx context.Context, label string, fn func(context.Context, *actions.Actions) error) error
}

// Story is a scripted page interaction, opaque to the engine (spec.md
// §2, §3). Concrete implementations live in their own packages (e.g.
// internal/story/speedometer) and are supplied to the Runner by
// cmd/crossbench; the engine itself never imports a concrete Story.
type Story interface {
	// Name identifies the story, used in the output directory layout
	// (spec.md §6).
	Name() string
	// Duration is the nominal expected run time, used for progress
	// estimates; not enforced as a hard timeout.
	Duration() time.Duration
	// ProbeNames lists probes this story requires attached (spec.md §3
	// "a tuple of Probe classes required"). The Runner does not read it;
	// probes are attached only through Runner.AttachProbe.
	ProbeNames() []string
	// Run drives the interaction against host, skipped entirely in
	// dry-run mode (spec.md §4.2).
	Run(ctx context.Context, host Host) error
}
