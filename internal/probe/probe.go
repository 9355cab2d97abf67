package probe

import "context"

// RunContext is the subset of a Run a Probe needs, kept narrow so
// internal/probe has no import-cycle back onto internal/run. Implemented
// by *run.Run.
type RunContext interface {
	ID() string
	OutDir() string
	BrowserTmpDir() (string, error)
	SetExtraFlag(name, value string, hasValue bool) error
	SetExtraJSFlag(name string, override bool) error
}

// MergeContext is the subset of a RunGroup a merge hook needs: its output
// directory, the set of children's per-probe results at the level below,
// and the group's own aggregated ProbeResultDict as filled in by the
// probes that have already merged at this level (spec.md §4.1 "merge
// cascade").
type MergeContext interface {
	Path() string
	ChildResults(probeName string) []Result
	Results() *Dict
}

// Scope is the per-Run, stateful activation of a Probe (spec.md §3, §4.3).
// The four hooks are each called exactly once per Run in setup order,
// start, stop, tear_down; tear_down is always invoked in reverse setup
// order regardless of earlier failures.
type Scope interface {
	// Setup may modify run.extra_flags/extra_js_flags before browser
	// start, or prepare remote paths.
	Setup(ctx context.Context, run RunContext) error
	// Start is invoked on scope entry, after browser.setup and before
	// Story.run.
	Start(ctx context.Context, run RunContext) error
	// Stop is invoked on scope exit, before teardown.
	Stop(ctx context.Context, run RunContext) error
	// TearDown always runs and returns the produced artifacts.
	TearDown(ctx context.Context, run RunContext) (Result, error)
}

// Probe is a named measurement unit attachable to compatible Browsers
// (spec.md §3). A single Probe instance services every compatible
// Browser in a Runner.
type Probe interface {
	// Name is unique within a Runner.
	Name() string
	// ProducesData defaults to true; probes that only observe (e.g. the
	// results-summary probe) return false.
	ProducesData() bool
	// IsGeneralPurpose reports whether a user may select this probe
	// generically (vs. a benchmark-specific probe).
	IsGeneralPurpose() bool
	// ResultLocation reports where the scope writes artifacts.
	ResultLocation() ResultLocation
	// IsCompatible reports whether this probe can attach to a browser of
	// the given kind (e.g. "chrome", "safari", "firefox").
	IsCompatible(browserKind string) bool
	// Attach marks the probe bound to a browser and may mutate its
	// flags; attach is a one-way operation (spec.md §4.3).
	Attach(browser BrowserFlags) error
	// GetScope produces one Scope per Run.
	GetScope(run RunContext) Scope

	// MergeRepetitions consumes each Run's artifact for this probe and
	// writes a merged file into the RepetitionsRunGroup's directory
	// (spec.md §4.3).
	MergeRepetitions(ctx context.Context, group MergeContext) (Result, error)
	// MergeStories consumes each RepetitionsRunGroup's merged artifact.
	MergeStories(ctx context.Context, group MergeContext) (Result, error)
	// MergeBrowsers consumes each StoriesRunGroup's merged artifact.
	MergeBrowsers(ctx context.Context, group MergeContext) (Result, error)
}

// BrowserFlags is the narrow mutation surface Attach needs on a Browser,
// avoiding an import cycle onto internal/browser.
type BrowserFlags interface {
	Kind() string
	SetFlag(name string, override bool) error
	SetValue(name, value string, override bool) error
}

// Base provides no-op defaults for the optional parts of the Probe
// interface (merge hooks default to an empty Result, ProducesData
// defaults to true), so concrete probes only implement what they need —
// spec.md §4.3 "Default implementations return an empty result; concrete
// probes override as needed." This is composition, not a base class with
// a vtable (spec.md §9): embed Base by value and override individual
// methods.
type Base struct {
	ProbeName       string
	GeneralPurpose  bool
	Location        ResultLocation
	CompatibleKinds []string
}

func (b Base) Name() string                  { return b.ProbeName }
func (b Base) ProducesData() bool             { return true }
func (b Base) IsGeneralPurpose() bool         { return b.GeneralPurpose }
func (b Base) ResultLocation() ResultLocation { return b.Location }

func (b Base) IsCompatible(kind string) bool {
	if len(b.CompatibleKinds) == 0 {
		return true
	}
	for _, k := range b.CompatibleKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (b Base) Attach(browser BrowserFlags) error { return nil }

func (b Base) MergeRepetitions(ctx context.Context, group MergeContext) (Result, error) {
	return Empty, nil
}
func (b Base) MergeStories(ctx context.Context, group MergeContext) (Result, error) {
	return Empty, nil
}
func (b Base) MergeBrowsers(ctx context.Context, group MergeContext) (Result, error) {
	return Empty, nil
}
