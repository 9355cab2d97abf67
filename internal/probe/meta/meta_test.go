package meta

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crossbench-org/crossbench-go/internal/probe"
)

type fakeRun struct {
	id      string
	outDir  string
	story   string
	browser string
}

func (r *fakeRun) ID() string                                        { return r.id }
func (r *fakeRun) OutDir() string                                    { return r.outDir }
func (r *fakeRun) BrowserTmpDir() (string, error)                    { return "", nil }
func (r *fakeRun) SetExtraFlag(name, value string, hasValue bool) error { return nil }
func (r *fakeRun) SetExtraJSFlag(name string, hasValue bool) error   { return nil }
func (r *fakeRun) StoryName() string                                 { return r.story }
func (r *fakeRun) BrowserName() string                               { return r.browser }
func (r *fakeRun) DurationsSnapshot() map[string]float64             { return map[string]float64{"navigate": 1.5} }
func (r *fakeRun) ErrorMessages() []string                           { return nil }
func (r *fakeRun) ProbeResults() *probe.Dict {
	d := probe.NewDict()
	d.Set(LogProbeName, probe.Empty)
	d.Set("score", probe.Empty)
	return d
}

func newFakeRun(t *testing.T, story, browser string) *fakeRun {
	t.Helper()
	return &fakeRun{id: browser + "/" + story + "/0", outDir: t.TempDir(), story: story, browser: browser}
}

func TestLogProbeScopeLifecycle(t *testing.T) {
	run := newFakeRun(t, "speedometer", "chrome")
	scope := NewLogProbe().GetScope(run)

	if err := scope.Setup(context.Background(), run); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := scope.Start(context.Background(), run); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := scope.Stop(context.Background(), run); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	result, err := scope.TearDown(context.Background(), run)
	if err != nil {
		t.Fatalf("TearDown: %v", err)
	}
	path, ok := result.File()
	if !ok {
		t.Fatal("expected exactly one generic file in the result")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "run setup") || !strings.Contains(string(data), "run teardown") {
		t.Errorf("expected setup/teardown markers in log, got: %s", data)
	}
}

func TestDurationsProbeTearDownWritesJSON(t *testing.T) {
	run := newFakeRun(t, "speedometer", "chrome")
	scope := NewDurationsProbe().GetScope(run)
	result, err := scope.TearDown(context.Background(), run)
	if err != nil {
		t.Fatalf("TearDown: %v", err)
	}
	path, ok := result.JSON()
	if !ok {
		t.Fatal("expected exactly one json file in the result")
	}
	var got map[string]float64
	data, _ := os.ReadFile(path)
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["navigate"] != 1.5 {
		t.Errorf("expected navigate=1.5, got %v", got)
	}
}

func TestResultsSummaryProbeTearDownWritesExpectedShape(t *testing.T) {
	run := newFakeRun(t, "speedometer", "chrome")
	scope := NewResultsSummaryProbe().GetScope(run)
	result, err := scope.TearDown(context.Background(), run)
	if err != nil {
		t.Fatalf("TearDown: %v", err)
	}
	path, _ := result.JSON()
	var s runSummary
	data, _ := os.ReadFile(path)
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Story != "speedometer" || s.Browser != "chrome" {
		t.Errorf("unexpected story/browser in summary: %+v", s)
	}
	if s.Durations["navigate"] != 1.5 {
		t.Errorf("expected durations to be embedded, got %v", s.Durations)
	}
}

type fakeMergeContext struct {
	path    string
	results []probe.Result
	dict    *probe.Dict
}

func (m *fakeMergeContext) Path() string { return m.path }
func (m *fakeMergeContext) ChildResults(name string) []probe.Result {
	if name != ResultsSummaryProbeName {
		return nil
	}
	return m.results
}
func (m *fakeMergeContext) Results() *probe.Dict {
	if m.dict == nil {
		m.dict = probe.NewDict()
	}
	return m.dict
}

func writeRunSummaryFixture(t *testing.T, dir string, s runSummary) probe.Result {
	t.Helper()
	path := filepath.Join(dir, "results.json")
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := probe.NewResult(nil, []string{path}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestMergeRepetitionsStripsLogAndAggregates(t *testing.T) {
	p := NewResultsSummaryProbe().(*resultsSummaryProbe)
	groupDir := t.TempDir()

	repDirs := []string{t.TempDir(), t.TempDir()}
	var results []probe.Result
	for i, dir := range repDirs {
		probesDict := probe.NewDict()
		probesDict.Set(LogProbeName, probe.Empty)
		probesDict.Set("score", probe.Empty)
		results = append(results, writeRunSummaryFixture(t, dir, runSummary{
			Name: "chrome/speedometer/" + string(rune('0'+i)), Cwd: dir,
			Story: "speedometer", Browser: "chrome",
			Durations: map[string]float64{"navigate": 1},
			Probes:    probesDict,
			Errors:    nil,
		}))
	}

	group := &fakeMergeContext{path: groupDir, results: results}
	result, err := p.MergeRepetitions(context.Background(), group)
	if err != nil {
		t.Fatalf("MergeRepetitions: %v", err)
	}
	path, _ := result.JSON()
	var out repetitionsSummary
	data, _ := os.ReadFile(path)
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Repetitions) != 2 {
		t.Fatalf("expected 2 repetitions, got %d", len(out.Repetitions))
	}
	for _, rep := range out.Repetitions {
		if rep.Probes != nil {
			if _, ok := rep.Probes.Get(LogProbeName); ok {
				t.Error("expected the log probe's entry to be stripped from the aggregated summary")
			}
		}
	}
	if out.Story != "speedometer" || out.Browser != "chrome" {
		t.Errorf("unexpected story/browser in aggregated summary: %+v", out)
	}
}
