// Package browser implements the Browser state machine (spec.md §2, §3):
// identity (type, label, path, version), Flags, cache dir, log-file path,
// is-running flag, and the setup/start/js/navigate/quit/force_quit
// operation set. Grounded on the teacher's
// internal/browser/pool.go launch/health-check/quit lifecycle.
package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/crossbench-org/crossbench-go/internal/flags"
	"github.com/crossbench-org/crossbench-go/internal/platform"
)

// ErrUnsupportedOperation is returned by a Browser variant for an
// operation its underlying automation protocol genuinely cannot perform
// (spec.md §1 out-of-scope list: WebDriver/AppleScript adapters), rather
// than faking support.
var ErrUnsupportedOperation = errors.New("browser: operation not supported by this variant")

// RunHandle is the narrow slice of a Run a Browser needs during setup
// (extra flags, js flags, browser-side tmp dir), avoiding an import cycle
// onto internal/run.
type RunHandle interface {
	ExtraFlags() *flags.Flags
	ExtraJSFlags() *flags.JSFlags
	BrowserTmpDir() (string, error)
	LogFilePath() string
}

// Browser is the state machine wrapping one binary + flag set (spec.md
// §2). One instance is constructed per (binary path, flag combination)
// and its unique_name must be distinct across all Browsers in one Runner
// (spec.md §3, invariant 7).
type Browser interface {
	// Kind identifies the browser family: "chrome", "safari", "firefox".
	Kind() string
	// Label is the user-facing variant name (e.g. "chrome-stable").
	Label() string
	// Path is the resolved binary path.
	Path() string
	// Version is populated after SetupBinary.
	Version() string
	// UniqueName is derived from (type, label) and must be unique across
	// all Browsers in a Runner.
	UniqueName() string
	// IsHeadless reports the configured headless mode.
	IsHeadless() bool
	// PID is set after Start; zero before.
	PID() int
	// IsRunning reports whether the browser process is currently alive.
	IsRunning() bool

	// SetFlag / SetValue mutate the browser's Flags (spec.md §3); used by
	// Probe.Attach and Run's extra-flags injection. Satisfies
	// probe.BrowserFlags.
	SetFlag(name string, override bool) error
	SetValue(name, value string, override bool) error

	// SetupBinary resolves the binary (download/locate) and populates
	// Version, shelling out via pform (spec.md §4.5 installed_binaries
	// uses the same Platform.Sh/Which contract); called once per Browser
	// before any Run starts (spec.md §4.1).
	SetupBinary(ctx context.Context, pform platform.Platform) error

	// Setup prepares the browser for one Run: merges extra flags, opens
	// the per-run log file, and launches the process but does not yet
	// navigate anywhere.
	Setup(ctx context.Context, run RunHandle) error
	// Start makes the browser session live (invoked on ProbeScope
	// entry, after Setup, before Story.run per spec.md §4.2).
	Start(ctx context.Context) error
	// JS evaluates script in the active page/tab and returns its result.
	JS(ctx context.Context, script string, args ...any) (any, error)
	// Navigate loads url in the active page/tab.
	Navigate(ctx context.Context, url string) error
	// Quit requests a graceful shutdown.
	Quit(ctx context.Context) error
	// ForceQuit kills the browser process unconditionally; used when
	// Setup fails partway or a forced shutdown was requested (spec.md
	// §4.2).
	ForceQuit(ctx context.Context) error

	// CheckForeground reports whether the browser's window/process is in
	// the foreground, used by Run's post-Story.run assertion unless
	// headless (spec.md §4.2).
	CheckForeground(ctx context.Context) (bool, error)
}

// Tracer is the optional CDP tracing capability a Browser variant may
// expose (SPEC_FULL.md §4.8 tracing probe); only the Chrome variant
// implements it today. Kept as a separate, narrow interface rather than
// added to Browser itself, since Safari/Firefox have no CDP session to
// trace.
type Tracer interface {
	StartTracing(ctx context.Context, categories []string) error
	// StopTracing ends the trace and writes the collected events as JSON
	// to outPath.
	StopTracing(ctx context.Context, outPath string) error
}

// Identity is the embeddable (type, label, path) triple every concrete
// Browser shares; UniqueName derives from its type and label.
type Identity struct {
	KindName string
	LabelName string
	BinPath   string
}

func (id Identity) Kind() string  { return id.KindName }
func (id Identity) Label() string { return id.LabelName }
func (id Identity) Path() string  { return id.BinPath }

// UniqueName derives a stable identifier "type-label" from (type, label);
// the binary path is not part of it (spec.md §3).
func (id Identity) UniqueName() string {
	return fmt.Sprintf("%s-%s", id.KindName, id.LabelName)
}
