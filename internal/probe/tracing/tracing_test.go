package tracing

import (
	"context"
	"os"
	"testing"
	"time"

	xbrowser "github.com/crossbench-org/crossbench-go/internal/browser"
	"github.com/crossbench-org/crossbench-go/internal/platform"
	"github.com/crossbench-org/crossbench-go/internal/probe"
)

type fakeRun struct {
	outDir string
	br     xbrowser.Browser
}

func (r *fakeRun) ID() string                                           { return "chrome/speedometer/0" }
func (r *fakeRun) OutDir() string                                       { return r.outDir }
func (r *fakeRun) BrowserTmpDir() (string, error)                       { return "", nil }
func (r *fakeRun) SetExtraFlag(name, value string, hasValue bool) error { return nil }
func (r *fakeRun) SetExtraJSFlag(name string, hasValue bool) error      { return nil }
func (r *fakeRun) Browser() xbrowser.Browser                           { return r.br }

// fakeTracingBrowser implements both browser.Browser and browser.Tracer.
type fakeTracingBrowser struct {
	startedCategories []string
	stoppedPath       string
}

func (b *fakeTracingBrowser) Kind() string                                     { return "chrome" }
func (b *fakeTracingBrowser) Label() string                                    { return "fake" }
func (b *fakeTracingBrowser) Path() string                                     { return "/bin/fake" }
func (b *fakeTracingBrowser) Version() string                                  { return "1.0" }
func (b *fakeTracingBrowser) UniqueName() string                               { return "chrome-fake" }
func (b *fakeTracingBrowser) IsHeadless() bool                                 { return true }
func (b *fakeTracingBrowser) PID() int                                         { return 1 }
func (b *fakeTracingBrowser) IsRunning() bool                                  { return true }
func (b *fakeTracingBrowser) SetFlag(name string, override bool) error         { return nil }
func (b *fakeTracingBrowser) SetValue(name, value string, override bool) error { return nil }
func (b *fakeTracingBrowser) SetupBinary(ctx context.Context, pform platform.Platform) error { return nil }
func (b *fakeTracingBrowser) Setup(ctx context.Context, rh xbrowser.RunHandle) error { return nil }
func (b *fakeTracingBrowser) Start(ctx context.Context) error                  { return nil }
func (b *fakeTracingBrowser) JS(ctx context.Context, script string, args ...any) (any, error) {
	return nil, nil
}
func (b *fakeTracingBrowser) Navigate(ctx context.Context, url string) error     { return nil }
func (b *fakeTracingBrowser) Quit(ctx context.Context) error                    { return nil }
func (b *fakeTracingBrowser) ForceQuit(ctx context.Context) error                { return nil }
func (b *fakeTracingBrowser) CheckForeground(ctx context.Context) (bool, error) { return true, nil }

func (b *fakeTracingBrowser) StartTracing(ctx context.Context, categories []string) error {
	b.startedCategories = categories
	return nil
}
func (b *fakeTracingBrowser) StopTracing(ctx context.Context, outPath string) error {
	b.stoppedPath = outPath
	return os.WriteFile(outPath, []byte("[]"), 0o644)
}

func TestScopeStartStopWritesTraceFile(t *testing.T) {
	br := &fakeTracingBrowser{}
	run := &fakeRun{outDir: t.TempDir(), br: br}

	scope := New().GetScope(run)
	if err := scope.Start(context.Background(), run); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(br.startedCategories) == 0 {
		t.Error("expected StartTracing to be called with the default categories")
	}
	time.Sleep(time.Millisecond)
	if err := scope.Stop(context.Background(), run); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if br.stoppedPath == "" {
		t.Fatal("expected StopTracing to be called")
	}

	result, err := scope.TearDown(context.Background(), run)
	if err != nil {
		t.Fatalf("TearDown: %v", err)
	}
	path, ok := result.JSON()
	if !ok {
		t.Fatal("expected exactly one json file in the result")
	}
	if path != br.stoppedPath {
		t.Errorf("expected result path %q to match StopTracing's outPath %q", path, br.stoppedPath)
	}
}

func TestStartFailsWhenBrowserIsNotATracer(t *testing.T) {
	run := &fakeRun{outDir: t.TempDir(), br: &plainBrowser{}}
	scope := New().GetScope(run)
	if err := scope.Start(context.Background(), run); err == nil {
		t.Fatal("expected an error when the browser does not implement browser.Tracer")
	}
}

// plainBrowser implements browser.Browser only, with no tracing support,
// to exercise the tracing probe's "not a Tracer" error path.
type plainBrowser struct{}

func (b *plainBrowser) Kind() string                                     { return "safari" }
func (b *plainBrowser) Label() string                                    { return "fake" }
func (b *plainBrowser) Path() string                                     { return "/bin/fake" }
func (b *plainBrowser) Version() string                                  { return "1.0" }
func (b *plainBrowser) UniqueName() string                               { return "safari-fake" }
func (b *plainBrowser) IsHeadless() bool                                 { return true }
func (b *plainBrowser) PID() int                                         { return 1 }
func (b *plainBrowser) IsRunning() bool                                  { return true }
func (b *plainBrowser) SetFlag(name string, override bool) error         { return nil }
func (b *plainBrowser) SetValue(name, value string, override bool) error { return nil }
func (b *plainBrowser) SetupBinary(ctx context.Context, pform platform.Platform) error { return nil }
func (b *plainBrowser) Setup(ctx context.Context, rh xbrowser.RunHandle) error { return nil }
func (b *plainBrowser) Start(ctx context.Context) error                  { return nil }
func (b *plainBrowser) JS(ctx context.Context, script string, args ...any) (any, error) {
	return nil, nil
}
func (b *plainBrowser) Navigate(ctx context.Context, url string) error     { return nil }
func (b *plainBrowser) Quit(ctx context.Context) error                    { return nil }
func (b *plainBrowser) ForceQuit(ctx context.Context) error                { return nil }
func (b *plainBrowser) CheckForeground(ctx context.Context) (bool, error) { return true, nil }

var _ probe.RunContext = (*fakeRun)(nil)
var _ xbrowser.Browser = (*plainBrowser)(nil)
