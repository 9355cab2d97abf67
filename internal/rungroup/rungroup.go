// Package rungroup implements the three-level aggregation tree (spec.md
// §3, §4.1): RepetitionsRunGroup → StoriesRunGroup → BrowsersRunGroup,
// grounded on original_source/crossbench/runner.py's RunGroup class
// family.
package rungroup

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crossbench-org/crossbench-go/internal/annotator"
	"github.com/crossbench-org/crossbench-go/internal/metrics"
	"github.com/crossbench-org/crossbench-go/internal/probe"
	"github.com/crossbench-org/crossbench-go/internal/run"
)

// RepetitionsRunGroup aggregates all Runs sharing (browser, story)
// (spec.md §3).
type RepetitionsRunGroup struct {
	BrowserName string
	StoryName   string
	path        string
	Runs        []*run.Run
	ann         *annotator.Annotator
	results     *probe.Dict
}

func (g *RepetitionsRunGroup) Path() string                    { return g.path }
func (g *RepetitionsRunGroup) Annotator() *annotator.Annotator { return g.ann }
func (g *RepetitionsRunGroup) Results() *probe.Dict            { return g.results }

// ChildResults returns each child Run's per-probe Result, satisfying
// probe.MergeContext.
func (g *RepetitionsRunGroup) ChildResults(name string) []probe.Result {
	out := make([]probe.Result, 0, len(g.Runs))
	for _, r := range g.Runs {
		if res, ok := r.ProbeResults().Get(name); ok {
			out = append(out, res)
		}
	}
	return out
}

// StoriesRunGroup aggregates all RepetitionsRunGroups sharing a browser
// (spec.md §3).
type StoriesRunGroup struct {
	BrowserName string
	path        string
	Children    []*RepetitionsRunGroup
	ann         *annotator.Annotator
	results     *probe.Dict
}

func (g *StoriesRunGroup) Path() string                    { return g.path }
func (g *StoriesRunGroup) Annotator() *annotator.Annotator { return g.ann }
func (g *StoriesRunGroup) Results() *probe.Dict            { return g.results }

func (g *StoriesRunGroup) ChildResults(name string) []probe.Result {
	out := make([]probe.Result, 0, len(g.Children))
	for _, c := range g.Children {
		if res, ok := c.results.Get(name); ok {
			out = append(out, res)
		}
	}
	return out
}

// BrowsersRunGroup is the single terminal aggregation node (spec.md §3).
type BrowsersRunGroup struct {
	path     string
	Children []*StoriesRunGroup
	ann      *annotator.Annotator
	results  *probe.Dict
}

func (g *BrowsersRunGroup) Path() string                    { return g.path }
func (g *BrowsersRunGroup) Annotator() *annotator.Annotator { return g.ann }
func (g *BrowsersRunGroup) Results() *probe.Dict            { return g.results }

func (g *BrowsersRunGroup) ChildResults(name string) []probe.Result {
	out := make([]probe.Result, 0, len(g.Children))
	for _, c := range g.Children {
		if res, ok := c.results.Get(name); ok {
			out = append(out, res)
		}
	}
	return out
}

// BuildRepetitionsGroups partitions runs by (browser, story), preserving
// first-seen order (spec.md §3, §4.1 "key: (story, browser)").
func BuildRepetitionsGroups(runs []*run.Run) []*RepetitionsRunGroup {
	index := map[string]*RepetitionsRunGroup{}
	var order []string
	for _, r := range runs {
		key := r.BrowserName() + "\x00" + r.StoryName()
		g, ok := index[key]
		if !ok {
			g = &RepetitionsRunGroup{
				BrowserName: r.BrowserName(),
				StoryName:   r.StoryName(),
				path:        filepath.Dir(r.OutDir()),
				ann:         annotator.New(),
				results:     probe.NewDict(),
			}
			index[key] = g
			order = append(order, key)
		}
		g.Runs = append(g.Runs, r)
	}
	out := make([]*RepetitionsRunGroup, len(order))
	for i, key := range order {
		out[i] = index[key]
	}
	return out
}

// BuildStoriesGroups partitions RepetitionsRunGroups by browser (spec.md
// §4.1 "key: browser").
func BuildStoriesGroups(repGroups []*RepetitionsRunGroup) []*StoriesRunGroup {
	index := map[string]*StoriesRunGroup{}
	var order []string
	for _, rg := range repGroups {
		key := rg.BrowserName
		g, ok := index[key]
		if !ok {
			g = &StoriesRunGroup{
				BrowserName: rg.BrowserName,
				path:        filepath.Dir(rg.Path()),
				ann:         annotator.New(),
				results:     probe.NewDict(),
			}
			index[key] = g
			order = append(order, key)
		}
		g.Children = append(g.Children, rg)
	}
	out := make([]*StoriesRunGroup, len(order))
	for i, key := range order {
		out[i] = index[key]
	}
	return out
}

// BuildBrowsersGroup returns the single terminal node over every
// StoriesRunGroup.
func BuildBrowsersGroup(storyGroups []*StoriesRunGroup) *BrowsersRunGroup {
	g := &BrowsersRunGroup{ann: annotator.New(), results: probe.NewDict()}
	if len(storyGroups) > 0 {
		g.path = filepath.Dir(storyGroups[0].Path())
	}
	g.Children = storyGroups
	return g
}

// mergeConcurrency bounds how many RunGroups at one level are merged at
// once; merges are I/O-bound (reading each Run's artifact files) so some
// parallelism across independent groups is worth the bound (spec.md §5).
const mergeConcurrency = 8

// Merge runs the merge cascade bottom-up (spec.md §4.1 step 3): for each
// level, every group at that level merges concurrently (bounded by
// mergeConcurrency, via errgroup — sibling groups share no state), and
// within one group probesReverseOrder (the Runner's attached probes in
// reverse attach order, DESIGN.md OQ-4) run in order, storing results
// into the group's ProbeResultDict. A failing probe's merge is captured
// on that group's own annotator and does not abort the remaining probes'
// merges, nor the other groups' (spec.md §7).
func Merge(ctx context.Context, probesReverseOrder []Probe, repGroups []*RepetitionsRunGroup, storyGroups []*StoriesRunGroup, browsersGroup *BrowsersRunGroup) {
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(mergeConcurrency)
	for _, g := range repGroups {
		g := g
		eg.Go(func() error {
			for _, p := range probesReverseOrder {
				start := time.Now()
				result, err := p.MergeRepetitions(gctx, g)
				metrics.RecordMerge("repetitions", p.Name(), time.Since(start), err)
				if err != nil {
					g.ann.Record(fmt.Sprintf("merge_repetitions %s", p.Name()), err)
					continue
				}
				g.results.Set(p.Name(), result)
			}
			return nil
		})
	}
	_ = eg.Wait()

	eg, gctx = errgroup.WithContext(ctx)
	eg.SetLimit(mergeConcurrency)
	for _, g := range storyGroups {
		g := g
		eg.Go(func() error {
			for _, p := range probesReverseOrder {
				start := time.Now()
				result, err := p.MergeStories(gctx, g)
				metrics.RecordMerge("stories", p.Name(), time.Since(start), err)
				if err != nil {
					g.ann.Record(fmt.Sprintf("merge_stories %s", p.Name()), err)
					continue
				}
				g.results.Set(p.Name(), result)
			}
			return nil
		})
	}
	_ = eg.Wait()

	for _, p := range probesReverseOrder {
		start := time.Now()
		result, err := p.MergeBrowsers(ctx, browsersGroup)
		metrics.RecordMerge("browsers", p.Name(), time.Since(start), err)
		if err != nil {
			browsersGroup.ann.Record(fmt.Sprintf("merge_browsers %s", p.Name()), err)
			continue
		}
		browsersGroup.results.Set(p.Name(), result)
	}
}

// Probe is the narrow merge-hook surface Merge needs: every probe.Probe
// satisfies it. Callers (internal/runner) convert their attach-ordered
// []probe.Probe into a reversed []rungroup.Probe before calling Merge.
type Probe interface {
	Name() string
	MergeRepetitions(ctx context.Context, group probe.MergeContext) (probe.Result, error)
	MergeStories(ctx context.Context, group probe.MergeContext) (probe.Result, error)
	MergeBrowsers(ctx context.Context, group probe.MergeContext) (probe.Result, error)
}

var (
	_ probe.MergeContext = (*RepetitionsRunGroup)(nil)
	_ probe.MergeContext = (*StoriesRunGroup)(nil)
	_ probe.MergeContext = (*BrowsersRunGroup)(nil)
)
