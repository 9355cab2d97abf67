// Package run implements the Run lifecycle state machine and ThreadGroup
// (spec.md §4.2, §5), grounded on the teacher's session.Session
// (atomic state fields, lock-ordering discipline) and main.go's
// ordered-shutdown shape.
package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crossbench-org/crossbench-go/internal/actions"
	"github.com/crossbench-org/crossbench-go/internal/annotator"
	"github.com/crossbench-org/crossbench-go/internal/browser"
	"github.com/crossbench-org/crossbench-go/internal/exception"
	"github.com/crossbench-org/crossbench-go/internal/flags"
	"github.com/crossbench-org/crossbench-go/internal/metrics"
	"github.com/crossbench-org/crossbench-go/internal/platform"
	"github.com/crossbench-org/crossbench-go/internal/probe"
	"github.com/crossbench-org/crossbench-go/internal/story"
	"github.com/crossbench-org/crossbench-go/internal/timing"
)

// State is one of the four monotonically-advancing Run states (spec.md
// §4.2).
type State int

const (
	StateInitial State = iota
	StatePrepare
	StateRun
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StatePrepare:
		return "prepare"
	case StateRun:
		return "run"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Config carries the per-Run timing parameters sourced from
// internal/config (spec.md §4.2 cooldown wait, thermal poll bounds).
type Config struct {
	CooldownWait   time.Duration
	ThermalPollMin time.Duration
	ThermalPollMax time.Duration
}

type attachedScope struct {
	name  string
	probe probe.Probe
	scope probe.Scope
}

// Run is one (browser, story, repetition) triple (spec.md §3).
type Run struct {
	id         string
	index      int
	repetition int
	browser    browser.Browser
	story      story.Story
	outDir     string

	probes []probe.Probe
	pform  platform.Platform
	timing timing.Timing
	cfg    Config

	mu            sync.Mutex
	state         State
	extraFlags    *flags.Flags
	extraJSFlags  *flags.JSFlags
	scopes        []attachedScope
	browserTmpDir string
	tmpDirCreated bool

	ann       *annotator.Annotator
	durations *Durations
	results   *probe.Dict
}

// New constructs a Run. index is the sequential position assigned by the
// Runner across the full cartesian Run list (spec.md §4.1); probes is the
// Runner's attach-ordered probe list, which includes the built-in
// meta-probes (spec.md §4.4) ahead of user probes.
func New(index, repetition int, br browser.Browser, st story.Story, outDir string, probes []probe.Probe, pform platform.Platform, t timing.Timing, cfg Config) *Run {
	return &Run{
		id:         fmt.Sprintf("%s/%s/%d", br.UniqueName(), st.Name(), repetition),
		index:      index,
		repetition: repetition,
		browser:    br,
		story:      st,
		outDir:     outDir,
		probes:     probes,
		pform:      pform,
		timing:     t,
		cfg:        cfg,
		state:      StateInitial,
		extraFlags: flags.New(),
		extraJSFlags: flags.NewJSFlags(),
		ann:        annotator.New(),
		durations:  NewDurations(),
		results:    probe.NewDict(),
	}
}

// --- identity / accessors ---

func (r *Run) ID() string          { return r.id }
func (r *Run) Index() int          { return r.index }
func (r *Run) Repetition() int     { return r.repetition }
func (r *Run) OutDir() string      { return r.outDir }
func (r *Run) Browser() browser.Browser { return r.browser }
func (r *Run) Platform() platform.Platform { return r.pform }
func (r *Run) Story() story.Story  { return r.story }
func (r *Run) State() State        { r.mu.Lock(); defer r.mu.Unlock(); return r.state }
func (r *Run) StoryName() string   { return r.story.Name() }
func (r *Run) BrowserName() string { return r.browser.UniqueName() }
func (r *Run) LogFilePath() string { return filepath.Join(r.outDir, "browser.log") }

// Failed reports whether anything was captured in this Run's annotator.
func (r *Run) Failed() bool { return !r.ann.Empty() }

// Annotator exposes the Run's error annotator for the Runner's top-level
// reporting (spec.md §7).
func (r *Run) Annotator() *annotator.Annotator { return r.ann }

// DurationsSnapshot returns the duration ledger's label → seconds map,
// read by the durations meta-probe.
func (r *Run) DurationsSnapshot() map[string]float64 { return r.durations.Snapshot() }

// ErrorMessages renders the captured errors as strings, for the
// results-summary probe's "errors" array (spec.md §4.4, §6).
func (r *Run) ErrorMessages() []string {
	captured := r.ann.CapturedErrors()
	out := make([]string, len(captured))
	for i, c := range captured {
		out[i] = c.String()
	}
	return out
}

// ProbeResults exposes the Run's ProbeResultDict, read by the
// results-summary probe.
func (r *Run) ProbeResults() *probe.Dict { return r.results }

// --- probe.RunContext / browser.RunHandle implementations ---

func (r *Run) ExtraFlags() *flags.Flags       { return r.extraFlags }
func (r *Run) ExtraJSFlags() *flags.JSFlags   { return r.extraJSFlags }

func (r *Run) SetExtraFlag(name, value string, hasValue bool) error {
	return r.extraFlags.Set(name, value, hasValue, false)
}

func (r *Run) SetExtraJSFlag(name string, override bool) error {
	return r.extraJSFlags.SetJSFlag(name, override)
}

// BrowserTmpDir lazily creates the browser-side tmp dir on first use
// (spec.md §3 "a lazily-created browser-side tmp dir").
func (r *Run) BrowserTmpDir() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browserTmpDir != "" {
		return r.browserTmpDir, nil
	}
	dir, err := os.MkdirTemp("", "crossbench-run-*")
	if err != nil {
		return "", fmt.Errorf("run %s: creating browser tmp dir: %w", r.id, err)
	}
	r.browserTmpDir = dir
	r.tmpDirCreated = true
	return dir, nil
}

// Action opens a named Action span against this Run's browser session,
// satisfying story.Host (spec.md §4.6).
func (r *Run) Action(ctx context.Context, label string, fn func(context.Context, *actions.Actions) error) error {
	return actions.Run(ctx, r.ann, r.durations, r.timing, r.browser, label, fn)
}

// --- state machine ---

func (r *Run) advance(next State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if next != r.state+1 {
		return fmt.Errorf("%w: run %s cannot go from %s to %s", exception.ErrIllegalStateTransition, r.id, r.state, next)
	}
	r.state = next
	return nil
}

// Execute runs the full per-Run lifecycle (spec.md §4.2). It returns an
// error only when the Run's out_dir already exists or cannot be created;
// every other failure, including an illegal state transition, is
// captured in the Run's own annotator and surfaced via Failed()/
// ErrorMessages(), so sibling Runs are unaffected (spec.md §7).
func (r *Run) Execute(ctx context.Context, isDryRun bool) error {
	start := time.Now()
	if err := r.createOutDir(); err != nil {
		return err
	}

	setupErr := r.setupPhase(ctx, isDryRun)
	if setupErr != nil {
		// Any setup failure (cooldown, duplicate probe names, browser.Setup
		// after ForceQuit) is recorded on the Run rather than returned; the
		// Run never reaches RUN, but it has entered PREPARE, so it still
		// tears down.
		r.ann.Record("setup", setupErr)
		_ = r.teardownPhase(ctx, true)
		metrics.RecordRun(r.BrowserName(), r.StoryName(), "failed", time.Since(start))
		return nil
	}

	runErr := r.runPhase(ctx, isDryRun)
	if runErr != nil {
		r.ann.Record("run", runErr)
	}

	if err := r.teardownPhase(ctx, false); err != nil {
		r.ann.Record("teardown", err)
	}

	status := "ok"
	if r.Failed() {
		status = "failed"
	}
	metrics.RecordRun(r.BrowserName(), r.StoryName(), status, time.Since(start))
	return nil
}

func (r *Run) createOutDir() error {
	if _, err := os.Stat(r.outDir); err == nil {
		return fmt.Errorf("run %s: %w: %s", r.id, exception.ErrOutDirExists, r.outDir)
	}
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return fmt.Errorf("run %s: creating out_dir: %w", r.id, err)
	}
	return nil
}

// setupPhase drives INITIAL -> PREPARE (spec.md §4.2 step 2). In dry-run
// mode the browser is not set up.
func (r *Run) setupPhase(ctx context.Context, isDryRun bool) error {
	if err := r.advance(StatePrepare); err != nil {
		return err
	}

	if err := r.cooldown(ctx); err != nil {
		return err
	}

	if err := r.buildScopes(); err != nil {
		return err
	}

	for _, sc := range r.scopes {
		scope := sc.scope
		name := sc.name
		_ = r.ann.Capture(fmt.Sprintf("probe setup %s", name), func() error {
			return scope.Setup(ctx, r)
		})
	}

	if isDryRun {
		return nil
	}
	if err := r.browser.Setup(ctx, r); err != nil {
		_ = r.browser.ForceQuit(ctx)
		metrics.RecordBrowserLaunch(r.browser.Kind(), "failed")
		return fmt.Errorf("run %s: browser setup failed: %w", r.id, err)
	}
	metrics.RecordBrowserLaunch(r.browser.Kind(), "ok")
	return nil
}

// cooldown enforces the configured wait, then polls thermal state with
// exponential backoff until it is not throttling (spec.md §4.2 step 2).
func (r *Run) cooldown(ctx context.Context) error {
	if r.cfg.CooldownWait > 0 {
		if err := r.pform.Sleep(ctx, r.cfg.CooldownWait); err != nil {
			return err
		}
	}

	state, err := r.pform.Thermal(ctx)
	if err != nil || !state.Throttling {
		return nil
	}

	min := r.cfg.ThermalPollMin.Seconds()
	max := r.cfg.ThermalPollMax.Seconds()
	if max <= 0 {
		max = 60
	}
	if min <= 0 {
		min = 1
	}
	return timing.Backoff(ctx, r.timing, min, max, func(ctx context.Context) (bool, error) {
		s, err := r.pform.Thermal(ctx)
		if err != nil {
			return true, nil // best-effort: stop polling on query failure
		}
		return !s.Throttling, nil
	})
}

// buildScopes instantiates one ProbeScope per attached probe, checking
// for duplicate names and seeding the ProbeResultDict with an empty
// result for every data-producing probe (spec.md §4.2 step 2).
func (r *Run) buildScopes() error {
	seen := map[string]bool{}
	for _, p := range r.probes {
		name := p.Name()
		if seen[name] {
			return fmt.Errorf("run %s: %w: %q", r.id, exception.ErrDuplicateProbe, name)
		}
		seen[name] = true
		r.scopes = append(r.scopes, attachedScope{name: name, probe: p, scope: p.GetScope(r)})
		if p.ProducesData() {
			r.results.Set(name, probe.Empty)
		}
	}
	return nil
}

// runPhase drives PREPARE -> RUN (spec.md §4.2 step 3).
func (r *Run) runPhase(ctx context.Context, isDryRun bool) error {
	if err := r.advance(StateRun); err != nil {
		return err
	}

	for _, sc := range r.scopes {
		scope := sc.scope
		name := sc.name
		_ = r.ann.Capture(fmt.Sprintf("probe start %s", name), func() error {
			return scope.Start(ctx, r)
		})
	}

	if !isDryRun {
		if err := r.story.Run(ctx, r); err != nil {
			if ctx.Err() != nil || err == context.DeadlineExceeded {
				r.ann.Record("story.run timeout", fmt.Errorf("%w: %v", exception.ErrRunTimeout, err))
			} else {
				r.ann.Record("story.run", err)
			}
		}

		if !r.browser.IsHeadless() {
			fg, err := r.browser.CheckForeground(ctx)
			if err == nil && !fg {
				r.ann.Record("foreground-check", exception.ErrBrowserBackgrounded)
			}
		}
	}

	for _, sc := range r.scopes {
		scope := sc.scope
		name := sc.name
		_ = r.ann.Capture(fmt.Sprintf("probe stop %s", name), func() error {
			return scope.Stop(ctx, r)
		})
	}
	return nil
}

// teardownPhase drives RUN -> DONE (or PREPARE -> DONE, when setup failed
// partway). forced indicates quit errors should be swallowed, matching
// the force_quit-was-already-called path (spec.md §4.2 step 4).
func (r *Run) teardownPhase(ctx context.Context, forced bool) error {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	if state == StateRun {
		if err := r.advance(StateDone); err != nil {
			return err
		}
	} else {
		r.mu.Lock()
		r.state = StateDone
		r.mu.Unlock()
	}

	if r.browser.IsRunning() {
		if err := r.browser.Quit(ctx); err != nil && !forced {
			r.ann.Record("browser quit", fmt.Errorf("%w: %v", exception.ErrBrowserCrashed, err))
		}
	} else {
		log.Debug().Str("run", r.id).Msg("browser already not running at teardown")
	}

	for i := len(r.scopes) - 1; i >= 0; i-- {
		sc := r.scopes[i]
		result, err := sc.scope.TearDown(ctx, r)
		if err != nil {
			r.ann.Record(fmt.Sprintf("probe teardown %s", sc.name), err)
			continue
		}
		if result.IsEmpty() {
			log.Warn().Str("run", r.id).Str("probe", sc.name).Msg("probe produced no data")
		}
		r.results.Set(sc.name, result)
	}

	r.mu.Lock()
	tmp := r.browserTmpDir
	created := r.tmpDirCreated
	r.mu.Unlock()
	if created && tmp != "" {
		if err := os.RemoveAll(tmp); err != nil {
			log.Warn().Err(err).Str("dir", tmp).Msg("failed to remove browser tmp dir")
		}
	}
	return nil
}

var _ probe.RunContext = (*Run)(nil)
var _ browser.RunHandle = (*Run)(nil)
