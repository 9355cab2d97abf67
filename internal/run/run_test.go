package run

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crossbench-org/crossbench-go/internal/browser"
	"github.com/crossbench-org/crossbench-go/internal/platform"
	"github.com/crossbench-org/crossbench-go/internal/probe"
	"github.com/crossbench-org/crossbench-go/internal/story"
	"github.com/crossbench-org/crossbench-go/internal/timing"
)

// --- fakes ---

type fakeBrowser struct {
	uniqueName string
	headless   bool
	running    bool
	setupErr   error
	quitErr    error
	forceQuit  bool
}

func (b *fakeBrowser) Kind() string  { return "fake" }
func (b *fakeBrowser) Label() string { return "fake-label" }
func (b *fakeBrowser) Path() string  { return "/bin/fake" }
func (b *fakeBrowser) Version() string { return "1.0" }
func (b *fakeBrowser) UniqueName() string { return b.uniqueName }
func (b *fakeBrowser) IsHeadless() bool   { return b.headless }
func (b *fakeBrowser) PID() int           { return 1234 }
func (b *fakeBrowser) IsRunning() bool    { return b.running }
func (b *fakeBrowser) SetFlag(name string, override bool) error        { return nil }
func (b *fakeBrowser) SetValue(name, value string, override bool) error { return nil }
func (b *fakeBrowser) SetupBinary(ctx context.Context, pform platform.Platform) error { return nil }
func (b *fakeBrowser) Setup(ctx context.Context, rh browser.RunHandle) error {
	if b.setupErr != nil {
		return b.setupErr
	}
	b.running = true
	return nil
}
func (b *fakeBrowser) Start(ctx context.Context) error { return nil }
func (b *fakeBrowser) JS(ctx context.Context, script string, args ...any) (any, error) {
	return true, nil
}
func (b *fakeBrowser) Navigate(ctx context.Context, url string) error { return nil }
func (b *fakeBrowser) Quit(ctx context.Context) error {
	b.running = false
	return b.quitErr
}
func (b *fakeBrowser) ForceQuit(ctx context.Context) error {
	b.forceQuit = true
	b.running = false
	return nil
}
func (b *fakeBrowser) CheckForeground(ctx context.Context) (bool, error) { return true, nil }

type fakeStory struct {
	name    string
	runErr  error
	ran     bool
}

func (s *fakeStory) Name() string             { return s.name }
func (s *fakeStory) Duration() time.Duration  { return time.Second }
func (s *fakeStory) ProbeNames() []string     { return nil }
func (s *fakeStory) Run(ctx context.Context, host story.Host) error {
	s.ran = true
	return s.runErr
}

type fakeScope struct {
	setupErr    error
	tearDownErr error
	setupCalled bool
	tornDown    bool
}

func (s *fakeScope) Setup(ctx context.Context, run probe.RunContext) error {
	s.setupCalled = true
	return s.setupErr
}
func (s *fakeScope) Start(ctx context.Context, run probe.RunContext) error { return nil }
func (s *fakeScope) Stop(ctx context.Context, run probe.RunContext) error { return nil }
func (s *fakeScope) TearDown(ctx context.Context, run probe.RunContext) (probe.Result, error) {
	s.tornDown = true
	if s.tearDownErr != nil {
		return probe.Empty, s.tearDownErr
	}
	return probe.Empty, nil
}

type fakeProbe struct {
	name  string
	scope *fakeScope
}

func (p *fakeProbe) Name() string                  { return p.name }
func (p *fakeProbe) ProducesData() bool            { return true }
func (p *fakeProbe) IsGeneralPurpose() bool        { return true }
func (p *fakeProbe) ResultLocation() probe.ResultLocation { return probe.ResultLocationLocal }
func (p *fakeProbe) IsCompatible(kind string) bool  { return true }
func (p *fakeProbe) Attach(b probe.BrowserFlags) error { return nil }
func (p *fakeProbe) GetScope(run probe.RunContext) probe.Scope { return p.scope }
func (p *fakeProbe) MergeRepetitions(ctx context.Context, g probe.MergeContext) (probe.Result, error) {
	return probe.Empty, nil
}
func (p *fakeProbe) MergeStories(ctx context.Context, g probe.MergeContext) (probe.Result, error) {
	return probe.Empty, nil
}
func (p *fakeProbe) MergeBrowsers(ctx context.Context, g probe.MergeContext) (probe.Result, error) {
	return probe.Empty, nil
}

func testPlatform() platform.Platform { return platform.NewHost() }

func newTestRun(t *testing.T, br *fakeBrowser, st *fakeStory, probes []probe.Probe) *Run {
	t.Helper()
	outDir := filepath.Join(t.TempDir(), "rundir")
	return New(0, 0, br, st, outDir, probes, testPlatform(), timing.Scaled(0.001), Config{})
}

func TestExecuteHappyPath(t *testing.T) {
	br := &fakeBrowser{uniqueName: "fake-1"}
	st := &fakeStory{name: "story-1"}
	scope := &fakeScope{}
	p := &fakeProbe{name: "probe-1", scope: scope}

	r := newTestRun(t, br, st, []probe.Probe{p})
	if err := r.Execute(context.Background(), false); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if r.Failed() {
		t.Errorf("expected successful run, got errors: %v", r.ErrorMessages())
	}
	if !st.ran {
		t.Error("expected story.Run to be invoked")
	}
	if !scope.setupCalled || !scope.tornDown {
		t.Error("expected probe scope setup and teardown both invoked")
	}
	if r.State() != StateDone {
		t.Errorf("expected final state done, got %v", r.State())
	}
	if _, err := os.Stat(r.OutDir()); err != nil {
		t.Errorf("expected out_dir to exist: %v", err)
	}
}

func TestExecuteStoryFailureIsCapturedNotFatal(t *testing.T) {
	br := &fakeBrowser{uniqueName: "fake-1"}
	st := &fakeStory{name: "story-1", runErr: errors.New("story blew up")}
	scope := &fakeScope{}
	p := &fakeProbe{name: "probe-1", scope: scope}

	r := newTestRun(t, br, st, []probe.Probe{p})
	if err := r.Execute(context.Background(), false); err != nil {
		t.Fatalf("Execute should not propagate a story failure: %v", err)
	}
	if !r.Failed() {
		t.Error("expected the run to be marked failed")
	}
	if !scope.tornDown {
		t.Error("expected teardown to still run after a story failure")
	}
}

func TestExecuteProbeSetupFailureStillTearsDown(t *testing.T) {
	br := &fakeBrowser{uniqueName: "fake-1"}
	st := &fakeStory{name: "story-1"}
	scope := &fakeScope{setupErr: errors.New("probe setup failed")}
	p := &fakeProbe{name: "probe-1", scope: scope}

	r := newTestRun(t, br, st, []probe.Probe{p})
	if err := r.Execute(context.Background(), false); err != nil {
		t.Fatalf("Execute should not propagate a probe setup failure: %v", err)
	}
	if !scope.tornDown {
		t.Error("expected tear_down to still be invoked after setup failure (spec.md S4)")
	}
	if !r.Failed() {
		t.Error("expected the run to be marked failed")
	}
}

func TestExecuteBrowserSetupFailurePropagatesForceQuit(t *testing.T) {
	br := &fakeBrowser{uniqueName: "fake-1", setupErr: errors.New("launch failed")}
	st := &fakeStory{name: "story-1"}

	r := newTestRun(t, br, st, nil)
	if err := r.Execute(context.Background(), false); err != nil {
		t.Fatalf("Execute wraps browser setup failures into the annotator: %v", err)
	}
	if !br.forceQuit {
		t.Error("expected ForceQuit to be called after browser.Setup failure")
	}
	if !r.Failed() {
		t.Error("expected the run to be marked failed")
	}
	if st.ran {
		t.Error("story.Run must not be invoked when browser setup failed")
	}
}

func TestExecuteDryRunSkipsStoryAndBrowser(t *testing.T) {
	br := &fakeBrowser{uniqueName: "fake-1"}
	st := &fakeStory{name: "story-1"}

	r := newTestRun(t, br, st, nil)
	if err := r.Execute(context.Background(), true); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if st.ran {
		t.Error("dry-run must not invoke story.Run")
	}
	if r.Failed() {
		t.Errorf("expected dry-run to succeed, got: %v", r.ErrorMessages())
	}
}

func TestDuplicateProbeNameFails(t *testing.T) {
	br := &fakeBrowser{uniqueName: "fake-1"}
	st := &fakeStory{name: "story-1"}
	p1 := &fakeProbe{name: "dup", scope: &fakeScope{}}
	p2 := &fakeProbe{name: "dup", scope: &fakeScope{}}

	r := newTestRun(t, br, st, []probe.Probe{p1, p2})
	if err := r.Execute(context.Background(), false); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !r.Failed() {
		t.Error("expected duplicate probe name to be captured as a failure")
	}
}
