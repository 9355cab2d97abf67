// Package chrome implements the concrete Chrome/Chromium Browser variant
// (SPEC_FULL.md §4.7) by driving the binary over CDP via go-rod, the
// teacher's own mechanism in internal/browser/pool.go.
package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	rodflags "github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	xbrowser "github.com/crossbench-org/crossbench-go/internal/browser"
	"github.com/crossbench-org/crossbench-go/internal/flags"
	"github.com/crossbench-org/crossbench-go/internal/platform"
)

// Chrome drives one Chrome/Chromium binary + flag combination over CDP.
type Chrome struct {
	xbrowser.Identity

	flags   flags.ChromeFlags
	headless bool

	mu      sync.Mutex
	version string
	launch  *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page
	logFile *os.File
	pid     atomic.Int32
	running atomic.Bool

	traceMu     sync.Mutex
	traceEvents []json.RawMessage
}

// New constructs a Chrome variant for the binary at path, labeled label,
// in the requested headless mode.
func New(label, path string, headless bool) *Chrome {
	return &Chrome{
		Identity: xbrowser.Identity{KindName: "chrome", LabelName: label, BinPath: path},
		flags:    *flags.NewChromeFlags(),
		headless: headless,
	}
}

func (c *Chrome) IsHeadless() bool { return c.headless }
func (c *Chrome) Version() string  { c.mu.Lock(); defer c.mu.Unlock(); return c.version }
func (c *Chrome) PID() int         { return int(c.pid.Load()) }
func (c *Chrome) IsRunning() bool  { return c.running.Load() }

func (c *Chrome) SetFlag(name string, override bool) error {
	return c.flags.SetFlag(name, override)
}

func (c *Chrome) SetValue(name, value string, override bool) error {
	return c.flags.SetValue(name, value, override)
}

// SetupBinary resolves the binary path and records its reported version by
// shelling out to `<path> --version` via the Platform capability bag
// (spec.md §4.5 installed_binaries uses the same Platform.Sh contract).
// Grounded on the teacher's createLauncher pre-flight: no browser is
// launched here, only validated.
func (c *Chrome) SetupBinary(ctx context.Context, pform platform.Platform) error {
	if c.Path() == "" {
		return fmt.Errorf("chrome: no binary path configured for %s", c.Label())
	}
	out, err := pform.Sh(ctx, c.Path(), "--version")
	if err != nil {
		return fmt.Errorf("chrome: querying version of %s: %w", c.Path(), err)
	}
	c.mu.Lock()
	c.version = strings.TrimSpace(out)
	c.mu.Unlock()
	return nil
}

// buildLauncher constructs the *launcher.Launcher the way the teacher's
// createLauncher does: explicit headless toggle, sandbox flags for
// container environments, then every Flags entry applied verbatim.
func (c *Chrome) buildLauncher() *launcher.Launcher {
	l := launcher.New()
	if c.Path() != "" {
		l = l.Bin(c.Path())
	}
	if c.headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}
	l = l.Set("no-sandbox").Set("disable-setuid-sandbox").Set("disable-dev-shm-usage")

	for _, name := range c.flags.Names() {
		value, hasValue, _ := c.flags.Get(name)
		if hasValue {
			l = l.Set(rodflags.Flag(name), value)
		} else {
			l = l.Set(rodflags.Flag(name))
		}
	}
	if len(c.flags.JS.Names()) > 0 {
		l = l.Set("js-flags", c.flags.JS.String())
	}
	return l
}

// Setup merges the Run's extra flags, attaches the per-run browser.log
// (spec.md §4.2 step 2 "must not preexist"), and launches the Chrome
// process (spec.md §4.2 setup phase).
func (c *Chrome) Setup(ctx context.Context, run xbrowser.RunHandle) error {
	for _, name := range run.ExtraFlags().Names() {
		value, hasValue, _ := run.ExtraFlags().Get(name)
		if err := c.flags.Set(name, value, hasValue, true); err != nil {
			return fmt.Errorf("chrome setup: merging extra flag %q: %w", name, err)
		}
	}
	for _, name := range run.ExtraJSFlags().Names() {
		if err := c.flags.JS.SetJSFlag(name, true); err != nil {
			return fmt.Errorf("chrome setup: merging extra js-flag %q: %w", name, err)
		}
	}

	c.mu.Lock()
	c.launch = c.buildLauncher()
	c.mu.Unlock()

	logFile, err := os.OpenFile(run.LogFilePath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("chrome: browser log %s must not preexist: %w", run.LogFilePath(), err)
	}

	c.launch = c.launch.Logger(logFile)

	u, err := c.launch.Launch()
	if err != nil {
		logFile.Close()
		return fmt.Errorf("chrome: launch failed: %w", err)
	}

	b := rod.New().ControlURL(u).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("chrome: CDP connect failed: %w", err)
	}

	c.mu.Lock()
	c.browser = b
	c.logFile = logFile
	c.mu.Unlock()
	c.running.Store(true)

	if pid := c.launch.PID(); pid > 0 {
		c.pid.Store(int32(pid))
	}
	log.Info().Str("browser", c.UniqueName()).Int("pid", c.PID()).Msg("chrome launched")
	return nil
}

// Start opens a stealth-patched page, making the session live for
// Story.run (spec.md §4.2 run phase).
func (c *Chrome) Start(ctx context.Context) error {
	c.mu.Lock()
	b := c.browser
	c.mu.Unlock()
	if b == nil {
		return fmt.Errorf("chrome: Start called before Setup")
	}
	page, err := stealth.Page(b)
	if err != nil {
		return fmt.Errorf("chrome: stealth page creation failed: %w", err)
	}
	c.mu.Lock()
	c.page = page
	c.mu.Unlock()
	return nil
}

// JS evaluates script in the active page and unwraps the CDP result via
// ysmood/gson (spec.md §4.6 Actions.js).
func (c *Chrome) JS(ctx context.Context, script string, args ...any) (any, error) {
	c.mu.Lock()
	page := c.page
	c.mu.Unlock()
	if page == nil {
		return nil, fmt.Errorf("chrome: JS called before Start")
	}
	result, err := page.Context(ctx).Eval(script, args...)
	if err != nil {
		return nil, fmt.Errorf("chrome: eval failed: %w", err)
	}
	// result.Value is a gson.JSON; reparse through gson directly rather
	// than trusting rod's default decode, so numeric results round-trip
	// the way the original source's eval() expects (floats, not only
	// int64).
	parsed := gson.New(result.Value.Val())
	var v any
	if err := parsed.Unmarshal(&v); err != nil {
		return nil, fmt.Errorf("chrome: unmarshalling eval result: %w", err)
	}
	return v, nil
}

// Navigate loads url in the active page, rejecting malformed or
// non-HTTP(S) URLs before they ever reach CDP (spec.md §4.6 navigate_to).
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := xbrowser.ValidateNavigateURL(url); err != nil {
		return err
	}
	c.mu.Lock()
	page := c.page
	c.mu.Unlock()
	if page == nil {
		return fmt.Errorf("chrome: Navigate called before Start")
	}
	return page.Context(ctx).Navigate(url)
}

// Quit requests graceful shutdown.
func (c *Chrome) Quit(ctx context.Context) error {
	c.mu.Lock()
	b := c.browser
	logFile := c.logFile
	c.logFile = nil
	c.mu.Unlock()
	if logFile != nil {
		logFile.Close()
	}
	if b == nil || !c.running.Load() {
		return nil
	}
	c.running.Store(false)
	if err := b.Close(); err != nil {
		return fmt.Errorf("chrome: quit failed: %w", err)
	}
	return nil
}

// ForceQuit kills the process unconditionally (spec.md §4.2: called when
// Setup fails partway, or a forced shutdown was requested; quit errors
// are swallowed by the caller in that path).
func (c *Chrome) ForceQuit(ctx context.Context) error {
	c.mu.Lock()
	l := c.launch
	logFile := c.logFile
	c.logFile = nil
	c.mu.Unlock()
	c.running.Store(false)
	if l != nil {
		l.Kill()
	}
	if logFile != nil {
		logFile.Close()
	}
	return nil
}

// CheckForeground reports whether the browser's page target is in the
// foreground, read from the "attached" field of CDP's
// Target.getTargetInfo. Headless sessions skip
// this assertion entirely at the Run layer (spec.md §4.2).
func (c *Chrome) CheckForeground(ctx context.Context) (bool, error) {
	c.mu.Lock()
	page := c.page
	c.mu.Unlock()
	if page == nil {
		return false, fmt.Errorf("chrome: CheckForeground called before Start")
	}
	info, err := proto.TargetGetTargetInfo{TargetID: page.TargetID}.Call(page)
	if err != nil {
		return false, fmt.Errorf("chrome: target info failed: %w", err)
	}
	return info.TargetInfo.Attached, nil
}

// StartTracing begins a CDP trace over the given categories (spec.md
// §4.8 tracing probe), grounded on the teacher's CDP-call pattern in
// CheckForeground. Events are buffered in memory until StopTracing.
func (c *Chrome) StartTracing(ctx context.Context, categories []string) error {
	c.mu.Lock()
	b := c.browser
	c.mu.Unlock()
	if b == nil {
		return fmt.Errorf("chrome: StartTracing called before Setup")
	}
	c.traceMu.Lock()
	c.traceEvents = nil
	c.traceMu.Unlock()
	go b.Context(ctx).EachEvent(func(e *proto.TracingDataCollected) bool {
		raw, err := json.Marshal(e)
		if err == nil {
			c.traceMu.Lock()
			c.traceEvents = append(c.traceEvents, raw)
			c.traceMu.Unlock()
		}
		return false
	})()

	return proto.TracingStart{
		TransferMode: proto.TracingStartTransferModeReportEvents,
		Categories:   strings.Join(categories, ","),
	}.Call(b)
}

// StopTracing ends the CDP trace and writes the buffered events as a
// JSON array to outPath.
func (c *Chrome) StopTracing(ctx context.Context, outPath string) error {
	c.mu.Lock()
	b := c.browser
	c.mu.Unlock()
	if b == nil {
		return fmt.Errorf("chrome: StopTracing called before Setup")
	}
	if err := (proto.TracingEnd{}).Call(b); err != nil {
		return fmt.Errorf("chrome: tracing end failed: %w", err)
	}

	c.traceMu.Lock()
	events := c.traceEvents
	c.traceEvents = nil
	c.traceMu.Unlock()

	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("chrome: marshaling trace events: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("chrome: writing trace file %s: %w", outPath, err)
	}
	return nil
}

var _ xbrowser.Browser = (*Chrome)(nil)
var _ xbrowser.Tracer = (*Chrome)(nil)
