// Package safari implements a thin Safari Browser variant (SPEC_FULL.md
// §4.7): external-process launch/quit only. Safari's automation surface
// is AppleScript/WebDriver (`safaridriver`), both explicitly out of scope
// (spec.md §1), so this variant does not fake CDP-style driving.
package safari

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

// Safari wraps an external `open -a Safari` (or direct binary) launch.
type Safari struct {
	xbrowser.Identity

	flags flags.Flags

	mu      sync.Mutex
	version string
	cmd     *exec.Cmd
	pid     atomic.Int32
	running atomic.Bool
}

// New constructs a Safari variant for the binary at path.
func New(label, path string) *Safari {
	return &Safari{
		Identity: xbrowser.Identity{KindName: "safari", LabelName: label, BinPath: path},
		flags:    *flags.New(),
	}
}

func (s *Safari) IsHeadless() bool { return false } // Safari has no headless mode.
func (s *Safari) Version() string  { s.mu.Lock(); defer s.mu.Unlock(); return s.version }
func (s *Safari) PID() int         { return int(s.pid.Load()) }
func (s *Safari) IsRunning() bool  { return s.running.Load() }

func (s *Safari) SetFlag(name string, override bool) error {
	return s.flags.SetFlag(name, override)
}

func (s *Safari) SetValue(name, value string, override bool) error {
	return s.flags.SetValue(name, value, override)
}

func (s *Safari) SetupBinary(ctx context.Context, pform platform.Platform) error {
	if s.Path() == "" {
		return fmt.Errorf("safari: no binary path configured for %s", s.Label())
	}
	out, err := pform.Sh(ctx, s.Path(), "--version")
	if err != nil {
		return fmt.Errorf("safari: querying version of %s: %w", s.Path(), err)
	}
	s.mu.Lock()
	s.version = strings.TrimSpace(out)
	s.mu.Unlock()
	return nil
}

// Setup launches the Safari process with the configured flags as
// arguments; no CDP or WebDriver session is established.
func (s *Safari) Setup(ctx context.Context, run xbrowser.RunHandle) error {
	args := s.flags.Args()
	cmd := exec.CommandContext(ctx, s.Path(), args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("safari: launch failed: %w", err)
	}
	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
	s.pid.Store(int32(cmd.Process.Pid))
	s.running.Store(true)
	log.Info().Str("browser", s.UniqueName()).Int("pid", s.PID()).Msg("safari launched")
	return nil
}

func (s *Safari) Start(ctx context.Context) error { return nil }

func (s *Safari) JS(ctx context.Context, script string, args ...any) (any, error) {
	return nil, fmt.Errorf("safari: JS: %w", xbrowser.ErrUnsupportedOperation)
}

func (s *Safari) Navigate(ctx context.Context, url string) error {
	return fmt.Errorf("safari: Navigate: %w", xbrowser.ErrUnsupportedOperation)
}

func (s *Safari) Quit(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || !s.running.Load() {
		return nil
	}
	s.running.Store(false)
	if cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(os.Interrupt) // best-effort; ForceQuit kills outright.
	return nil
}

func (s *Safari) ForceQuit(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	s.running.Store(false)
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	return nil
}

func (s *Safari) CheckForeground(ctx context.Context) (bool, error) {
	return false, fmt.Errorf("safari: CheckForeground: %w", xbrowser.ErrUnsupportedOperation)
}

var _ xbrowser.Browser = (*Safari)(nil)
