// Package runner implements the top-level Runner orchestrator (spec.md
// §4.1): attach browsers/stories/probes, build the cartesian Run list,
// execute it through ThreadGroups, merge, and report. Grounded on
// original_source/crossbench/runner.py's Runner class and the teacher's
// cmd/flaresolverr/main.go wiring/shutdown order.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/crossbench-org/crossbench-go/internal/annotator"
	"github.com/crossbench-org/crossbench-go/internal/browser"
	"github.com/crossbench-org/crossbench-go/internal/config"
	"github.com/crossbench-org/crossbench-go/internal/exception"
	"github.com/crossbench-org/crossbench-go/internal/hostenv"
	"github.com/crossbench-org/crossbench-go/internal/platform"
	"github.com/crossbench-org/crossbench-go/internal/probe"
	"github.com/crossbench-org/crossbench-go/internal/probe/meta"
	"github.com/crossbench-org/crossbench-go/internal/run"
	"github.com/crossbench-org/crossbench-go/internal/rungroup"
	"github.com/crossbench-org/crossbench-go/internal/story"
	"github.com/crossbench-org/crossbench-go/internal/timing"

	"github.com/rs/zerolog/log"
)

// Runner is the single top-level orchestrator for one benchmark
// invocation (spec.md §2 "the Runner is the sole object users interact
// with for the common path").
type Runner struct {
	browsers []browser.Browser
	stories  []story.Story
	probes   []probe.Probe // attach order; built-ins first

	pform    platform.Platform
	cfg      *config.Config
	hostEnv  hostenv.Config
	timing   timing.Timing
	reporter run.Reporter

	ann    *annotator.Annotator
	result Result
}

// Result is everything Runner.Run produces, for cmd/crossbench's
// reporting and exit-code decision (spec.md §6, §7).
type Result struct {
	Runs           []*run.Run
	Repetitions    []*rungroup.RepetitionsRunGroup
	Stories        []*rungroup.StoriesRunGroup
	Browsers       *rungroup.BrowsersRunGroup
	FirstFailedRun *run.Run
}

// New constructs a Runner with the three built-in meta-probes already
// attached ahead of any user probe (spec.md §4.4). results-summary is
// attached first (and so tears down last, after durations and log have
// produced their artifacts) so its results.json can see them rather than
// their seeded-empty placeholders.
func New(pform platform.Platform, cfg *config.Config) *Runner {
	return &Runner{
		pform: pform,
		cfg:   cfg,
		timing: timing.Default(),
		ann:    annotator.New(),
		probes: []probe.Probe{
			meta.NewResultsSummaryProbe(),
			meta.NewDurationsProbe(),
			meta.NewLogProbe(),
		},
	}
}

// SetHostEnvironment installs the HostEnvironment precondition record
// checked before any Run starts (spec.md §4.5).
func (r *Runner) SetHostEnvironment(cfg hostenv.Config) { r.hostEnv = cfg }

// SetTiming overrides the Timing unit, used by tests to compress real
// polling delays (spec.md §9).
func (r *Runner) SetTiming(t timing.Timing) { r.timing = t }

// SetReporter installs a live-progress sink notified as each Run starts
// and finishes (SPEC_FULL.md live TUI progress); nil by default.
func (r *Runner) SetReporter(rep run.Reporter) { r.reporter = rep }

// Annotator exposes the Runner's own top-level error sink (spec.md §7).
func (r *Runner) Annotator() *annotator.Annotator { return r.ann }

// AddBrowser registers a Browser; its unique_name must be distinct
// across all Browsers in this Runner (spec.md §3 invariant 7), and every
// already-attached compatible probe is attached to it immediately.
func (r *Runner) AddBrowser(b browser.Browser) error {
	for _, existing := range r.browsers {
		if existing.UniqueName() == b.UniqueName() {
			return exception.NewConfigurationError("browser",
				fmt.Sprintf("duplicate browser unique_name %q", b.UniqueName()), exception.ErrDuplicateBrowserName)
		}
	}
	for _, p := range r.probes {
		if p.IsCompatible(b.Kind()) {
			if err := p.Attach(b); err != nil {
				return exception.NewConfigurationError("probe",
					fmt.Sprintf("attaching probe %q to browser %q: %v", p.Name(), b.UniqueName(), err), err)
			}
		}
	}
	r.browsers = append(r.browsers, b)
	return nil
}

// AddStory registers a Story to run against every attached browser.
func (r *Runner) AddStory(s story.Story) error {
	r.stories = append(r.stories, s)
	return nil
}

// AttachProbe attaches a user probe after every built-in, in call order
// (spec.md §4.3 "attach is a one-way operation"). The attach step
// immediately binds it to every compatible browser already present and
// skips incompatible ones. Probes named by a Story's ProbeNames are not
// attached or checked here; only probes passed to AttachProbe are used.
func (r *Runner) AttachProbe(p probe.Probe) error {
	for _, existing := range r.probes {
		if existing.Name() == p.Name() {
			return exception.NewConfigurationError("probe",
				fmt.Sprintf("duplicate probe name %q", p.Name()), exception.ErrDuplicateProbe)
		}
	}
	for _, b := range r.browsers {
		if p.IsCompatible(b.Kind()) {
			if err := p.Attach(b); err != nil {
				return exception.NewConfigurationError("probe",
					fmt.Sprintf("attaching probe %q to browser %q: %v", p.Name(), b.UniqueName(), err), err)
			}
		}
	}
	r.probes = append(r.probes, p)
	return nil
}

// AttachedProbes returns every attached probe (built-ins first) in
// attach order (DESIGN.md OQ-4).
func (r *Runner) AttachedProbes() []probe.Probe {
	out := make([]probe.Probe, len(r.probes))
	copy(out, r.probes)
	return out
}

func (r *Runner) userProbeCount() int {
	n := 0
	for _, p := range r.probes {
		if p.IsGeneralPurpose() || !isBuiltin(p.Name()) {
			n++
		}
	}
	return n
}

func isBuiltin(name string) bool {
	return name == meta.LogProbeName || name == meta.DurationsProbeName || name == meta.ResultsSummaryProbeName
}

// Run executes the full pipeline (spec.md §4.1): validate the host
// environment, build the cartesian Run list, partition it into
// ThreadGroups, execute, merge bottom-up, and assemble Result. Returns a
// *exception.RunnerException if any Run or merge failed, a configuration
// or HostEnvironment error if the pipeline is rejected before any Run
// starts (spec.md scenario S5), and nil on success. cmd/crossbench exits
// with code 2 when the run was interrupted, 3 for any other error, and 0
// on nil (spec.md §6).
func (r *Runner) Run(ctx context.Context, isDryRun bool) error {
	if err := r.validateConfiguration(); err != nil {
		return err
	}

	outDir := r.cfg.OutDir
	if err := createOutDir(outDir); err != nil {
		return err
	}

	if err := r.validateHostEnvironment(ctx, outDir); err != nil {
		return err
	}

	release, err := r.pform.InhibitSleep(ctx, "crossbench benchmark run")
	if err != nil {
		log.Warn().Err(err).Msg("failed to inhibit sleep, continuing without it")
	}
	if release != nil {
		defer release()
	}

	if err := writeSystemDetails(ctx, r.pform, outDir); err != nil {
		log.Warn().Err(err).Msg("failed to write system_details.json")
	}

	for _, b := range r.browsers {
		if err := b.SetupBinary(ctx, r.pform); err != nil {
			return exception.NewConfigurationError("browser",
				fmt.Sprintf("setting up binary for %q: %v", b.UniqueName(), err), err)
		}
	}

	runs := r.buildRuns(outDir)
	r.result.Runs = runs

	groups := partitionThreadGroups(runs, r.cfg.ThreadMode)
	if r.reporter != nil {
		for _, g := range groups {
			g.Reporter = r.reporter
		}
	}
	if err := executeGroups(ctx, groups, isDryRun); err != nil {
		return err
	}

	repGroups := rungroup.BuildRepetitionsGroups(runs)
	storyGroups := rungroup.BuildStoriesGroups(repGroups)
	browsersGroup := rungroup.BuildBrowsersGroup(storyGroups)
	rungroup.Merge(ctx, reversed(r.probes), repGroups, storyGroups, browsersGroup)

	r.result.Repetitions = repGroups
	r.result.Stories = storyGroups
	r.result.Browsers = browsersGroup

	return r.assertSuccess(runs, repGroups, storyGroups, browsersGroup)
}

// Result returns the outcome of the most recent Run call.
func (r *Runner) Result() Result { return r.result }

func (r *Runner) validateConfiguration() error {
	if len(r.browsers) == 0 {
		return exception.NewConfigurationError("browsers", "no browsers attached", nil)
	}
	if len(r.stories) == 0 {
		return exception.NewConfigurationError("stories", "no stories attached", nil)
	}
	return nil
}

func createOutDir(outDir string) error {
	if err := ensureDir(outDir); err != nil {
		return exception.NewConfigurationError("out_dir",
			fmt.Sprintf("creating output directory %q: %v", outDir, err), err)
	}
	return nil
}

func (r *Runner) validateHostEnvironment(ctx context.Context, outDir string) error {
	hostBrowsers := make([]hostenv.Browser, len(r.browsers))
	for i, b := range r.browsers {
		hostBrowsers[i] = b
	}
	var batteryProbes []hostenv.BatteryOnlyProbe
	for _, p := range r.probes {
		if bp, ok := p.(hostenv.BatteryOnlyProbe); ok {
			batteryProbes = append(batteryProbes, bp)
		}
	}
	return hostenv.Validate(ctx, r.hostEnv, r.cfg.EnvValidationMode, r.pform, hostBrowsers, batteryProbes, r.userProbeCount(), outDir)
}

// buildRuns constructs the full cartesian (browser, story, repetition)
// list with sequential indices (spec.md §4.1, invariant 1).
func (r *Runner) buildRuns(outDir string) []*run.Run {
	var runs []*run.Run
	index := 0
	runCfg := run.Config{
		CooldownWait:   r.cfg.CooldownWait,
		ThermalPollMin: r.cfg.ThermalPollMin,
		ThermalPollMax: r.cfg.ThermalPollMax,
	}
	for _, b := range r.browsers {
		for _, s := range r.stories {
			for rep := 0; rep < r.cfg.Repetitions; rep++ {
				runDir := filepath.Join(outDir, b.UniqueName(), s.Name(), strconv.Itoa(rep))
				runs = append(runs, run.New(index, rep, b, s, runDir, r.probes, r.pform, r.timing, runCfg))
				index++
			}
		}
	}
	return runs
}

func reversed(probes []probe.Probe) []rungroup.Probe {
	out := make([]rungroup.Probe, len(probes))
	for i, p := range probes {
		out[len(probes)-1-i] = p
	}
	return out
}

// assertSuccess collapses every Run's and RunGroup's annotator into the
// Runner's own, then reports a RunnerException if anything failed
// (spec.md §4.1 step 4 "Report").
func (r *Runner) assertSuccess(runs []*run.Run, repGroups []*rungroup.RepetitionsRunGroup, storyGroups []*rungroup.StoriesRunGroup, browsersGroup *rungroup.BrowsersRunGroup) error {
	failed := 0
	for _, rn := range runs {
		if rn.Failed() {
			failed++
			if r.result.FirstFailedRun == nil {
				r.result.FirstFailedRun = rn
			}
			for _, c := range rn.Annotator().CapturedErrors() {
				r.ann.Record(fmt.Sprintf("run %s: %s", rn.ID(), c.String()), c.Err)
			}
		}
	}
	for _, g := range repGroups {
		for _, c := range g.Annotator().CapturedErrors() {
			r.ann.Record(fmt.Sprintf("merge_repetitions %s: %s", g.Path(), c.String()), c.Err)
		}
	}
	for _, g := range storyGroups {
		for _, c := range g.Annotator().CapturedErrors() {
			r.ann.Record(fmt.Sprintf("merge_stories %s: %s", g.Path(), c.String()), c.Err)
		}
	}
	for _, c := range browsersGroup.Annotator().CapturedErrors() {
		r.ann.Record(fmt.Sprintf("merge_browsers %s: %s", browsersGroup.Path(), c.String()), c.Err)
	}

	if r.ann.Empty() {
		return nil
	}
	if r.result.FirstFailedRun != nil {
		log.Error().
			Str("run", r.result.FirstFailedRun.ID()).
			Str("out_dir", r.result.FirstFailedRun.OutDir()).
			Msg("first failed run; inspect *.log files under its out_dir")
	}
	return &exception.RunnerException{
		FailedRuns: failed,
		TotalRuns:  len(runs),
		Message:    fmt.Sprintf("%d/%d runs failed", failed, len(runs)),
		Err:        r.ann.AssertSuccess("runner"),
	}
}

// partitionThreadGroups splits runs into ThreadGroups per the configured
// mode (spec.md §4.1, §5). "none" puts every Run into a single group,
// preserving strict completion order and zero cross-run interference.
func partitionThreadGroups(runs []*run.Run, mode config.ThreadMode) []*run.ThreadGroup {
	switch mode {
	case config.ThreadModeBrowser:
		return groupBy(runs, func(r *run.Run) string { return r.BrowserName() })
	case config.ThreadModeRun:
		groups := make([]*run.ThreadGroup, len(runs))
		for i, r := range runs {
			groups[i] = &run.ThreadGroup{Key: r.ID(), Runs: []*run.Run{r}}
		}
		return groups
	case config.ThreadModePlatform:
		return []*run.ThreadGroup{{Key: "platform", Runs: runs}}
	default:
		return []*run.ThreadGroup{{Key: "none", Runs: runs}}
	}
}

func groupBy(runs []*run.Run, key func(*run.Run) string) []*run.ThreadGroup {
	index := map[string]*run.ThreadGroup{}
	var order []string
	for _, r := range runs {
		k := key(r)
		g, ok := index[k]
		if !ok {
			g = &run.ThreadGroup{Key: k}
			index[k] = g
			order = append(order, k)
		}
		g.Runs = append(g.Runs, r)
	}
	out := make([]*run.ThreadGroup, len(order))
	for i, k := range order {
		out[i] = index[k]
	}
	return out
}

// executeGroups runs every ThreadGroup concurrently, bounded to the
// number of groups (each group is itself strictly sequential, spec.md
// §5). A ThreadGroup fails to execute only on an out_dir collision or
// when ctx is cancelled before one of its Runs starts; that is not an
// ordinary Run failure, so it propagates.
func executeGroups(ctx context.Context, groups []*run.ThreadGroup, isDryRun bool) error {
	eg, gctx := errgroup.WithContext(ctx)
	for _, g := range groups {
		g := g
		eg.Go(func() error { return g.Execute(gctx, isDryRun) })
	}
	return eg.Wait()
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// writeSystemDetails queries the platform for a JSON-serializable blob and
// writes it to system_details.json at the root of outDir (spec.md §6).
func writeSystemDetails(ctx context.Context, pform platform.Platform, outDir string) error {
	details, err := pform.SystemDetails(ctx)
	if err != nil {
		return fmt.Errorf("querying system details: %w", err)
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshaling system details: %w", err)
	}
	path := filepath.Join(outDir, "system_details.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
