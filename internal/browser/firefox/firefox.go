// Package firefox implements a thin Firefox Browser variant (SPEC_FULL.md
// §4.7): external-process launch/quit only. Driving Firefox requires the
// Marionette/WebDriver protocol, out of scope alongside Safari's AppleScript
// surface (spec.md §1), so this variant does not fake CDP-style driving.
package firefox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	xbrowser "github.com/crossbench-org/crossbench-go/internal/browser"
	"github.com/crossbench-org/crossbench-go/internal/flags"
	"github.com/crossbench-org/crossbench-go/internal/platform"
)

// Firefox wraps an external firefox binary launch.
type Firefox struct {
	xbrowser.Identity

	flags flags.Flags

	mu      sync.Mutex
	version string
	cmd     *exec.Cmd
	pid     atomic.Int32
	running atomic.Bool
}

// New constructs a Firefox variant for the binary at path.
func New(label, path string) *Firefox {
	return &Firefox{
		Identity: xbrowser.Identity{KindName: "firefox", LabelName: label, BinPath: path},
		flags:    *flags.New(),
	}
}

func (f *Firefox) IsHeadless() bool { return f.flags.Has("headless") }
func (f *Firefox) Version() string  { f.mu.Lock(); defer f.mu.Unlock(); return f.version }
func (f *Firefox) PID() int         { return int(f.pid.Load()) }
func (f *Firefox) IsRunning() bool  { return f.running.Load() }

func (f *Firefox) SetFlag(name string, override bool) error {
	return f.flags.SetFlag(name, override)
}

func (f *Firefox) SetValue(name, value string, override bool) error {
	return f.flags.SetValue(name, value, override)
}

func (f *Firefox) SetupBinary(ctx context.Context, pform platform.Platform) error {
	if f.Path() == "" {
		return fmt.Errorf("firefox: no binary path configured for %s", f.Label())
	}
	out, err := pform.Sh(ctx, f.Path(), "--version")
	if err != nil {
		return fmt.Errorf("firefox: querying version of %s: %w", f.Path(), err)
	}
	f.mu.Lock()
	f.version = strings.TrimSpace(out)
	f.mu.Unlock()
	return nil
}

// Setup launches the firefox process with the configured flags as
// arguments (including -headless when set); no Marionette session is
// established.
func (f *Firefox) Setup(ctx context.Context, run xbrowser.RunHandle) error {
	args := f.flags.Args()
	if f.IsHeadless() {
		args = append([]string{"-headless"}, args...)
	}
	cmd := exec.CommandContext(ctx, f.Path(), args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("firefox: launch failed: %w", err)
	}
	f.mu.Lock()
	f.cmd = cmd
	f.mu.Unlock()
	f.pid.Store(int32(cmd.Process.Pid))
	f.running.Store(true)
	log.Info().Str("browser", f.UniqueName()).Int("pid", f.PID()).Msg("firefox launched")
	return nil
}

func (f *Firefox) Start(ctx context.Context) error { return nil }

func (f *Firefox) JS(ctx context.Context, script string, args ...any) (any, error) {
	return nil, fmt.Errorf("firefox: JS: %w", xbrowser.ErrUnsupportedOperation)
}

func (f *Firefox) Navigate(ctx context.Context, url string) error {
	return fmt.Errorf("firefox: Navigate: %w", xbrowser.ErrUnsupportedOperation)
}

func (f *Firefox) Quit(ctx context.Context) error {
	f.mu.Lock()
	cmd := f.cmd
	f.mu.Unlock()
	if cmd == nil || !f.running.Load() {
		return nil
	}
	f.running.Store(false)
	if cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(os.Interrupt) // best-effort; ForceQuit kills outright.
	return nil
}

func (f *Firefox) ForceQuit(ctx context.Context) error {
	f.mu.Lock()
	cmd := f.cmd
	f.mu.Unlock()
	f.running.Store(false)
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	return nil
}

func (f *Firefox) CheckForeground(ctx context.Context) (bool, error) {
	return false, fmt.Errorf("firefox: CheckForeground: %w", xbrowser.ErrUnsupportedOperation)
}

var _ xbrowser.Browser = (*Firefox)(nil)
