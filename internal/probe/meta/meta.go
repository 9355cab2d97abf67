// Package meta implements the three built-in meta-probes the Runner
// always attaches ahead of any user probe (spec.md §4.4): a log probe, a
// durations probe, and a results-summary probe. Grounded on
// original_source/crossbench/probes/runner.py's RunRunnerLogProbe,
// RunDurationsProbe, and RunResultsSummaryProbe.
package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/crossbench-org/crossbench-go/internal/probe"
)

// richRun is the superset of probe.RunContext the meta probes need to
// read back Run-level state; satisfied structurally by *run.Run. Kept
// local (rather than imported from internal/run) to avoid a cycle.
type richRun interface {
	probe.RunContext
	StoryName() string
	BrowserName() string
	DurationsSnapshot() map[string]float64
	ErrorMessages() []string
	ProbeResults() *probe.Dict
}

func asRichRun(run probe.RunContext) (richRun, bool) {
	rr, ok := run.(richRun)
	return rr, ok
}

// --- log probe ---

// LogProbeName is the attach name of the built-in log probe.
const LogProbeName = "log"

type logProbe struct{ probe.Base }

// NewLogProbe returns the built-in log probe: a file-bound zerolog sink
// opened at setup and closed at tear_down (spec.md §4.4).
func NewLogProbe() probe.Probe {
	return &logProbe{Base: probe.Base{ProbeName: LogProbeName, Location: probe.ResultLocationLocal}}
}

func (p *logProbe) GetScope(run probe.RunContext) probe.Scope { return &logScope{} }

type logScope struct {
	path string
	file *os.File
}

func (s *logScope) Setup(ctx context.Context, run probe.RunContext) error {
	s.path = filepath.Join(run.OutDir(), "run.log")
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("log probe: opening %s: %w", s.path, err)
	}
	s.file = f
	logger := zerolog.New(f).With().Timestamp().Logger()
	logger.Info().Str("run", run.ID()).Msg("run setup")
	return nil
}

func (s *logScope) Start(ctx context.Context, run probe.RunContext) error {
	if s.file != nil {
		logger := zerolog.New(s.file).With().Timestamp().Logger()
		logger.Info().Msg("run start")
	}
	return nil
}

func (s *logScope) Stop(ctx context.Context, run probe.RunContext) error {
	if s.file != nil {
		logger := zerolog.New(s.file).With().Timestamp().Logger()
		logger.Info().Msg("run stop")
	}
	return nil
}

func (s *logScope) TearDown(ctx context.Context, run probe.RunContext) (probe.Result, error) {
	if s.file == nil {
		return probe.Empty, nil
	}
	logger := zerolog.New(s.file).With().Timestamp().Logger()
	logger.Info().Msg("run teardown")
	if err := s.file.Close(); err != nil {
		return probe.Empty, fmt.Errorf("log probe: closing %s: %w", s.path, err)
	}
	return probe.NewResult([]string{s.path}, nil, nil, nil)
}

// --- durations probe ---

// DurationsProbeName is the attach name of the built-in durations probe.
const DurationsProbeName = "durations"

type durationsProbe struct{ probe.Base }

// NewDurationsProbe returns the built-in durations probe: its stop is a
// no-op, all work happens in tear_down (spec.md §4.4).
func NewDurationsProbe() probe.Probe {
	return &durationsProbe{Base: probe.Base{ProbeName: DurationsProbeName, Location: probe.ResultLocationLocal}}
}

func (p *durationsProbe) GetScope(run probe.RunContext) probe.Scope { return &durationsScope{} }

type durationsScope struct{}

func (s *durationsScope) Setup(ctx context.Context, run probe.RunContext) error { return nil }
func (s *durationsScope) Start(ctx context.Context, run probe.RunContext) error { return nil }
func (s *durationsScope) Stop(ctx context.Context, run probe.RunContext) error  { return nil }

func (s *durationsScope) TearDown(ctx context.Context, run probe.RunContext) (probe.Result, error) {
	rr, ok := asRichRun(run)
	if !ok {
		return probe.Empty, nil
	}
	path := filepath.Join(run.OutDir(), "durations.json")
	data, err := json.Marshal(rr.DurationsSnapshot())
	if err != nil {
		return probe.Empty, fmt.Errorf("durations probe: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return probe.Empty, fmt.Errorf("durations probe: writing %s: %w", path, err)
	}
	return probe.NewResult(nil, []string{path}, nil, nil)
}

// --- results-summary probe ---

// ResultsSummaryProbeName is the attach name of the built-in
// results-summary probe.
const ResultsSummaryProbeName = "results-summary"

type runSummary struct {
	Name      string              `json:"name"`
	Cwd       string              `json:"cwd"`
	Story     string              `json:"story"`
	Browser   string              `json:"browser"`
	Durations map[string]float64  `json:"durations"`
	Probes    *probe.Dict         `json:"probes"`
	Errors    []string            `json:"errors"`
}

type repetitionsSummary struct {
	Cwd         string       `json:"cwd"`
	Story       string       `json:"story"`
	Browser     string       `json:"browser"`
	Repetitions []runSummary `json:"repetitions"`
	Probes      *probe.Dict  `json:"probes"`
	Errors      []string     `json:"errors"`
}

type storiesSummary struct {
	Cwd     string                        `json:"cwd"`
	Browser string                        `json:"browser"`
	Stories map[string]repetitionsSummary `json:"stories"`
	Probes  *probe.Dict                   `json:"probes"`
	Errors  []string                      `json:"errors"`
}

type browsersSummary struct {
	Cwd      string                    `json:"cwd"`
	Browsers map[string]storiesSummary `json:"browsers"`
	Probes   *probe.Dict               `json:"probes"`
	Errors   []string                  `json:"errors"`
}

type resultsSummaryProbe struct{ probe.Base }

// NewResultsSummaryProbe returns the built-in results-summary probe.
// Because it is attached last among the built-ins but all meta probes
// are attached before user probes, its merge hooks still run after every
// user probe's merge (reverse attach order, spec.md §4.4, §5).
func NewResultsSummaryProbe() probe.Probe {
	return &resultsSummaryProbe{Base: probe.Base{
		ProbeName:      ResultsSummaryProbeName,
		GeneralPurpose: false,
		Location:       probe.ResultLocationLocal,
	}}
}

func (p *resultsSummaryProbe) ProducesData() bool { return false }

func (p *resultsSummaryProbe) GetScope(run probe.RunContext) probe.Scope {
	return &resultsSummaryScope{}
}

type resultsSummaryScope struct{}

func (s *resultsSummaryScope) Setup(ctx context.Context, run probe.RunContext) error { return nil }
func (s *resultsSummaryScope) Start(ctx context.Context, run probe.RunContext) error { return nil }
func (s *resultsSummaryScope) Stop(ctx context.Context, run probe.RunContext) error  { return nil }

func (s *resultsSummaryScope) TearDown(ctx context.Context, run probe.RunContext) (probe.Result, error) {
	rr, ok := asRichRun(run)
	if !ok {
		return probe.Empty, nil
	}
	summary := runSummary{
		Name:      run.ID(),
		Cwd:       run.OutDir(),
		Story:     rr.StoryName(),
		Browser:   rr.BrowserName(),
		Durations: rr.DurationsSnapshot(),
		Probes:    rr.ProbeResults(),
		Errors:    rr.ErrorMessages(),
	}
	path := filepath.Join(run.OutDir(), "results.json")
	if err := writeJSON(path, summary); err != nil {
		return probe.Empty, err
	}
	return probe.NewResult(nil, []string{path}, nil, nil)
}

// MergeRepetitions reads each Run's results.json, strips the per-run log
// probe's file path (not meaningful once aggregated), and writes a
// repetitions-level summary (spec.md §4.4).
func (p *resultsSummaryProbe) MergeRepetitions(ctx context.Context, group probe.MergeContext) (probe.Result, error) {
	var reps []runSummary
	var errs []string
	for _, r := range group.ChildResults(ResultsSummaryProbeName) {
		path, ok := r.JSON()
		if !ok {
			continue
		}
		var s runSummary
		if err := readJSON(path, &s); err != nil {
			return probe.Empty, fmt.Errorf("results-summary probe: merge_repetitions: %w", err)
		}
		s.Probes = stripLog(s.Probes)
		reps = append(reps, s)
		errs = append(errs, s.Errors...)
	}
	var story, browser string
	if len(reps) > 0 {
		story, browser = reps[0].Story, reps[0].Browser
	}
	out := repetitionsSummary{Cwd: group.Path(), Story: story, Browser: browser, Repetitions: reps, Probes: group.Results(), Errors: errs}
	path := filepath.Join(group.Path(), "results.json")
	if err := writeJSON(path, out); err != nil {
		return probe.Empty, err
	}
	return probe.NewResult(nil, []string{path}, nil, nil)
}

// MergeStories reads each RepetitionsRunGroup's merged summary and writes
// a per-browser summary keyed by story name (spec.md §4.4).
func (p *resultsSummaryProbe) MergeStories(ctx context.Context, group probe.MergeContext) (probe.Result, error) {
	stories := map[string]repetitionsSummary{}
	var errs []string
	var browser string
	for _, r := range group.ChildResults(ResultsSummaryProbeName) {
		path, ok := r.JSON()
		if !ok {
			continue
		}
		var s repetitionsSummary
		if err := readJSON(path, &s); err != nil {
			return probe.Empty, fmt.Errorf("results-summary probe: merge_stories: %w", err)
		}
		stories[s.Story] = s
		errs = append(errs, s.Errors...)
		browser = s.Browser
	}
	out := storiesSummary{Cwd: group.Path(), Browser: browser, Stories: stories, Probes: group.Results(), Errors: errs}
	path := filepath.Join(group.Path(), "results.json")
	if err := writeJSON(path, out); err != nil {
		return probe.Empty, err
	}
	return probe.NewResult(nil, []string{path}, nil, nil)
}

// MergeBrowsers reads each StoriesRunGroup's merged summary and writes
// the root results.json keyed by browser unique name (spec.md §6 "results
// .json (browsers-level summary)").
func (p *resultsSummaryProbe) MergeBrowsers(ctx context.Context, group probe.MergeContext) (probe.Result, error) {
	browsers := map[string]storiesSummary{}
	var errs []string
	for _, r := range group.ChildResults(ResultsSummaryProbeName) {
		path, ok := r.JSON()
		if !ok {
			continue
		}
		var s storiesSummary
		if err := readJSON(path, &s); err != nil {
			return probe.Empty, fmt.Errorf("results-summary probe: merge_browsers: %w", err)
		}
		browsers[s.Browser] = s
		errs = append(errs, s.Errors...)
	}
	out := browsersSummary{Cwd: group.Path(), Browsers: browsers, Probes: group.Results(), Errors: errs}
	path := filepath.Join(group.Path(), "results.json")
	if err := writeJSON(path, out); err != nil {
		return probe.Empty, err
	}
	return probe.NewResult(nil, []string{path}, nil, nil)
}

func stripLog(d *probe.Dict) *probe.Dict {
	if d == nil {
		return d
	}
	out := probe.NewDict()
	for _, name := range d.Names() {
		if name == LogProbeName {
			continue
		}
		if r, ok := d.Get(name); ok {
			out.Set(name, r)
		}
	}
	return out
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("results-summary probe: marshaling %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("results-summary probe: writing %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return json.Unmarshal(data, v)
}

var (
	_ probe.Probe = (*logProbe)(nil)
	_ probe.Probe = (*durationsProbe)(nil)
	_ probe.Probe = (*resultsSummaryProbe)(nil)
)
