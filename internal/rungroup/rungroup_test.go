package rungroup

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/crossbench-org/crossbench-go/internal/browser"
	"github.com/crossbench-org/crossbench-go/internal/platform"
	"github.com/crossbench-org/crossbench-go/internal/probe"
	"github.com/crossbench-org/crossbench-go/internal/run"
	"github.com/crossbench-org/crossbench-go/internal/story"
	"github.com/crossbench-org/crossbench-go/internal/timing"
)

type fakeBrowser struct{ name string }

func (b *fakeBrowser) Kind() string                                      { return "fake" }
func (b *fakeBrowser) Label() string                                     { return b.name }
func (b *fakeBrowser) Path() string                                      { return "/bin/fake" }
func (b *fakeBrowser) Version() string                                   { return "1.0" }
func (b *fakeBrowser) UniqueName() string                                { return b.name }
func (b *fakeBrowser) IsHeadless() bool                                  { return true }
func (b *fakeBrowser) PID() int                                          { return 1 }
func (b *fakeBrowser) IsRunning() bool                                   { return false }
func (b *fakeBrowser) SetFlag(name string, override bool) error          { return nil }
func (b *fakeBrowser) SetValue(name, value string, override bool) error  { return nil }
func (b *fakeBrowser) SetupBinary(ctx context.Context, pform platform.Platform) error { return nil }
func (b *fakeBrowser) Setup(ctx context.Context, rh browser.RunHandle) error { return nil }
func (b *fakeBrowser) Start(ctx context.Context) error                   { return nil }
func (b *fakeBrowser) JS(ctx context.Context, script string, args ...any) (any, error) {
	return nil, nil
}
func (b *fakeBrowser) Navigate(ctx context.Context, url string) error    { return nil }
func (b *fakeBrowser) Quit(ctx context.Context) error                   { return nil }
func (b *fakeBrowser) ForceQuit(ctx context.Context) error              { return nil }
func (b *fakeBrowser) CheckForeground(ctx context.Context) (bool, error) { return true, nil }

type fakeStory struct{ name string }

func (s *fakeStory) Name() string                                   { return s.name }
func (s *fakeStory) Duration() time.Duration                        { return 0 }
func (s *fakeStory) ProbeNames() []string                           { return nil }
func (s *fakeStory) Run(ctx context.Context, host story.Host) error { return nil }

type countingProbe struct {
	name          string
	repCalls      int
	storyCalls    int
	browserCalls  int
	failBrowsers  bool
}

func (p *countingProbe) Name() string { return p.name }
func (p *countingProbe) MergeRepetitions(ctx context.Context, g probe.MergeContext) (probe.Result, error) {
	p.repCalls++
	return probe.Empty, nil
}
func (p *countingProbe) MergeStories(ctx context.Context, g probe.MergeContext) (probe.Result, error) {
	p.storyCalls++
	return probe.Empty, nil
}
func (p *countingProbe) MergeBrowsers(ctx context.Context, g probe.MergeContext) (probe.Result, error) {
	p.browserCalls++
	if p.failBrowsers {
		return probe.Empty, errors.New("merge_browsers exploded")
	}
	return probe.Empty, nil
}

func newRun(t *testing.T, root, browserName, storyName string, rep int) *run.Run {
	t.Helper()
	outDir := filepath.Join(root, browserName, storyName, strconv.Itoa(rep))
	br := &fakeBrowser{name: browserName}
	st := &fakeStory{name: storyName}
	return run.New(0, rep, br, st, outDir, nil, platform.NewHost(), timing.Scaled(0.001), run.Config{})
}

func TestBuildGroupsPartitionsByStoryThenBrowser(t *testing.T) {
	root := t.TempDir()
	runs := []*run.Run{
		newRun(t, root, "chrome", "speedometer", 0),
		newRun(t, root, "chrome", "speedometer", 1),
		newRun(t, root, "chrome", "jetstream", 0),
		newRun(t, root, "firefox", "speedometer", 0),
	}

	repGroups := BuildRepetitionsGroups(runs)
	if len(repGroups) != 3 {
		t.Fatalf("expected 3 repetitions groups, got %d", len(repGroups))
	}
	for _, g := range repGroups {
		if g.BrowserName == "chrome" && g.StoryName == "speedometer" {
			if len(g.Runs) != 2 {
				t.Errorf("expected 2 runs in chrome/speedometer group, got %d", len(g.Runs))
			}
		}
	}

	storyGroups := BuildStoriesGroups(repGroups)
	if len(storyGroups) != 2 {
		t.Fatalf("expected 2 stories groups (one per browser), got %d", len(storyGroups))
	}

	browsersGroup := BuildBrowsersGroup(storyGroups)
	if len(browsersGroup.Children) != 2 {
		t.Fatalf("expected browsers group to hold both stories groups, got %d", len(browsersGroup.Children))
	}
}

func TestMergeRunsEachLevelPerProbeInReverseOrder(t *testing.T) {
	root := t.TempDir()
	runs := []*run.Run{
		newRun(t, root, "chrome", "speedometer", 0),
		newRun(t, root, "chrome", "speedometer", 1),
	}
	repGroups := BuildRepetitionsGroups(runs)
	storyGroups := BuildStoriesGroups(repGroups)
	browsersGroup := BuildBrowsersGroup(storyGroups)

	p1 := &countingProbe{name: "p1"}
	p2 := &countingProbe{name: "p2"}
	// Reverse attach order: if p1 then p2 were attached, reverse is [p2, p1].
	reverseOrder := []Probe{p2, p1}

	Merge(context.Background(), reverseOrder, repGroups, storyGroups, browsersGroup)

	if p1.repCalls != 1 || p2.repCalls != 1 {
		t.Errorf("expected each probe merged once per repetitions group, got p1=%d p2=%d", p1.repCalls, p2.repCalls)
	}
	if p1.storyCalls != 1 || p2.storyCalls != 1 {
		t.Errorf("expected each probe merged once per stories group, got p1=%d p2=%d", p1.storyCalls, p2.storyCalls)
	}
	if p1.browserCalls != 1 || p2.browserCalls != 1 {
		t.Errorf("expected each probe merged once at the browsers group, got p1=%d p2=%d", p1.browserCalls, p2.browserCalls)
	}
	if _, ok := repGroups[0].Results().Get("p1"); !ok {
		t.Error("expected p1's merged result stored on the repetitions group")
	}
}

func TestMergeFailureIsCapturedPerGroupNotFatal(t *testing.T) {
	root := t.TempDir()
	runs := []*run.Run{newRun(t, root, "chrome", "speedometer", 0)}
	repGroups := BuildRepetitionsGroups(runs)
	storyGroups := BuildStoriesGroups(repGroups)
	browsersGroup := BuildBrowsersGroup(storyGroups)

	ok := &countingProbe{name: "ok"}
	bad := &countingProbe{name: "bad", failBrowsers: true}

	Merge(context.Background(), []Probe{ok, bad}, repGroups, storyGroups, browsersGroup)

	if browsersGroup.Annotator().Empty() {
		t.Error("expected the browsers group annotator to capture the merge_browsers failure")
	}
	if _, ok := browsersGroup.Results().Get("ok"); !ok {
		t.Error("expected the unrelated probe's merge to still succeed and be stored")
	}
}
