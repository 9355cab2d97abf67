package platform

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Host is the default Platform implementation: real subprocess exec, real
// filesystem stat calls, OS-specific thermal/power probing on a
// best-effort basis. Grounded on original_source/crossbench/platform/
// {linux,macos,win}.py for which concrete commands to shell out to.
type Host struct {
	inhibitMu    sync.Mutex
	inhibitCount int
	inhibitCmd   *exec.Cmd
}

// NewHost returns the Platform for the currently running OS.
func NewHost() *Host {
	return &Host{}
}

func (h *Host) Name() string {
	switch runtime.GOOS {
	case "darwin":
		return "macos"
	case "windows":
		return "windows"
	default:
		return "linux"
	}
}

func (h *Host) Sh(ctx context.Context, cmd string, args ...string) (string, error) {
	c := exec.CommandContext(ctx, cmd, args...)
	out, err := c.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("sh %s: %w", cmd, err)
	}
	return string(out), nil
}

func (h *Host) Spawn(ctx context.Context, cmd string, args ...string) (*exec.Cmd, error) {
	c := exec.CommandContext(ctx, cmd, args...)
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", cmd, err)
	}
	return c, nil
}

func (h *Host) Which(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("binary %q not found: %w", name, err)
	}
	return path, nil
}

func (h *Host) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (h *Host) Processes(ctx context.Context) ([]ProcessInfo, error) {
	out, err := h.Sh(ctx, "ps", "-eo", "pid,comm")
	if err != nil {
		return nil, err
	}
	var procs []ProcessInfo
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		pid, perr := strconv.Atoi(fields[0])
		if perr != nil {
			continue
		}
		procs = append(procs, ProcessInfo{PID: pid, Name: strings.Join(fields[1:], " "), Foreground: true})
	}
	return procs, nil
}

func (h *Host) Thermal(ctx context.Context) (ThermalState, error) {
	switch h.Name() {
	case "macos":
		out, err := h.Sh(ctx, "pmset", "-g", "therm")
		if err != nil {
			return ThermalState{}, nil // best-effort: absence is not fatal
		}
		throttling := strings.Contains(out, "CPU_Speed_Limit") && !strings.Contains(out, "= 100")
		return ThermalState{Throttling: throttling, RelativeCPUSpeed: 1.0}, nil
	case "linux":
		out, err := h.Sh(ctx, "sh", "-c", "cat /sys/class/thermal/thermal_zone*/temp 2>/dev/null")
		if err != nil || strings.TrimSpace(out) == "" {
			return ThermalState{RelativeCPUSpeed: 1.0}, nil
		}
		maxMilliC := 0
		for _, line := range strings.Fields(out) {
			if v, perr := strconv.Atoi(strings.TrimSpace(line)); perr == nil && v > maxMilliC {
				maxMilliC = v
			}
		}
		// crude: treat above 90C as throttling
		return ThermalState{Throttling: maxMilliC >= 90000, RelativeCPUSpeed: 1.0}, nil
	default:
		return ThermalState{RelativeCPUSpeed: 1.0}, nil
	}
}

// CPUUsagePercent approximates system-wide CPU utilization from the 1-minute
// load average relative to core count, the same best-effort shell-out style
// as Thermal/Power: exact per-sample accounting would need two /proc/stat
// reads separated by a delay, which would itself stall the cooldown poll
// that calls into HostEnvironment validation.
func (h *Host) CPUUsagePercent(ctx context.Context) (float64, error) {
	var loadAvg float64
	switch h.Name() {
	case "linux":
		out, err := h.Sh(ctx, "sh", "-c", "cat /proc/loadavg")
		if err != nil {
			return 0, nil
		}
		fields := strings.Fields(out)
		if len(fields) == 0 {
			return 0, nil
		}
		loadAvg, _ = strconv.ParseFloat(fields[0], 64)
	case "macos":
		out, err := h.Sh(ctx, "sysctl", "-n", "vm.loadavg")
		if err != nil {
			return 0, nil
		}
		fields := strings.Fields(strings.Trim(out, "{} \n"))
		if len(fields) == 0 {
			return 0, nil
		}
		loadAvg, _ = strconv.ParseFloat(fields[0], 64)
	default:
		return 0, nil
	}

	cores := float64(runtime.NumCPU())
	if cores <= 0 {
		cores = 1
	}
	percent := (loadAvg / cores) * 100
	if percent > 100 {
		percent = 100
	}
	return percent, nil
}

func (h *Host) Power(ctx context.Context) (PowerState, error) {
	switch h.Name() {
	case "macos":
		out, err := h.Sh(ctx, "pmset", "-g", "batt")
		if err != nil {
			return PowerState{}, nil
		}
		return PowerState{OnBattery: strings.Contains(out, "Battery Power")}, nil
	case "linux":
		out, err := h.Sh(ctx, "sh", "-c", "cat /sys/class/power_supply/AC*/online 2>/dev/null")
		if err != nil || strings.TrimSpace(out) == "" {
			return PowerState{}, nil
		}
		return PowerState{OnBattery: strings.TrimSpace(out) == "0"}, nil
	default:
		return PowerState{}, nil
	}
}

// InhibitSleep shells out to the platform's sleep-inhibition tool
// (caffeinate on macOS, systemd-inhibit on Linux) for the lifetime of the
// returned release. Best-effort: if no such tool exists, returns a no-op
// release and logs a warning rather than failing the Run (spec.md §5: the
// inhibitor is held for the whole Run() call, but its absence must not
// abort the pipeline).
func (h *Host) InhibitSleep(ctx context.Context, reason string) (func(), error) {
	h.inhibitMu.Lock()
	defer h.inhibitMu.Unlock()

	h.inhibitCount++
	if h.inhibitCmd != nil {
		count := h.inhibitCount
		return func() { h.releaseInhibit(count) }, nil
	}

	var cmd *exec.Cmd
	switch h.Name() {
	case "macos":
		cmd = exec.Command("caffeinate", "-dims")
	case "linux":
		cmd = exec.Command("systemd-inhibit", "--why="+reason, "--mode=block", "sleep", "infinity")
	default:
		log.Warn().Str("platform", h.Name()).Msg("no sleep inhibitor available on this platform")
		count := h.inhibitCount
		return func() { h.releaseInhibit(count) }, nil
	}

	if err := cmd.Start(); err != nil {
		log.Warn().Err(err).Msg("failed to start sleep inhibitor, continuing without one")
		count := h.inhibitCount
		return func() { h.releaseInhibit(count) }, nil
	}
	h.inhibitCmd = cmd
	count := h.inhibitCount
	return func() { h.releaseInhibit(count) }, nil
}

func (h *Host) releaseInhibit(count int) {
	h.inhibitMu.Lock()
	defer h.inhibitMu.Unlock()
	if count != h.inhibitCount {
		return
	}
	h.inhibitCount--
	if h.inhibitCount <= 0 && h.inhibitCmd != nil {
		_ = h.inhibitCmd.Process.Kill()
		_ = h.inhibitCmd.Wait()
		h.inhibitCmd = nil
	}
}

func (h *Host) SystemDetails(ctx context.Context) (map[string]any, error) {
	details := map[string]any{
		"platform": h.Name(),
		"os":       runtime.GOOS,
		"arch":     runtime.GOARCH,
	}
	switch h.Name() {
	case "linux":
		if out, err := h.Sh(ctx, "lscpu"); err == nil {
			details["lscpu"] = out
		}
	case "macos":
		if out, err := h.Sh(ctx, "sysctl", "hw"); err == nil {
			details["sysctl_hw"] = out
		}
	}
	return details, nil
}
