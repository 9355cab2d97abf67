// Package platform defines the host capability bag the engine depends on
// (spec.md §2, §9 "Dynamic dispatch on Platform"): process spawn/await,
// process table inspection, sleep, filesystem operations, path search, and
// thermal/power queries. Concrete implementations are selected once at
// startup by OS, never branched on inside the engine.
package platform

import (
	"context"
	"os/exec"
	"time"
)

// ProcessInfo is a thin process-table row, enough to check foreground
// status and resource usage without importing OS-specific libraries into
// the engine.
type ProcessInfo struct {
	PID       int
	Name      string
	Foreground bool
}

// ThermalState reports whether the host is currently throttling due to
// heat, used by Run's cool-down poll (spec.md §4.2).
type ThermalState struct {
	Throttling bool
	// RelativeCPUSpeed is the platform-reported current CPU frequency as a
	// fraction of nominal (1.0 == full speed), used by
	// cpu_min_relative_speed (spec.md §4.5).
	RelativeCPUSpeed float64
}

// PowerState reports AC/battery status, used by power_use_battery
// (spec.md §4.5).
type PowerState struct {
	OnBattery bool
}

// DiskStat reports free space on the filesystem backing a path, used by
// disk_min_free_bytes (spec.md §4.5).
type DiskStat struct {
	FreeBytes uint64
}

// Platform is the capability bag. Every method may be called concurrently
// by multiple Runs; implementations must be safe for that (spec.md §5: the
// host platform is shared).
type Platform interface {
	// Name identifies the platform for system_details.json, e.g. "linux",
	// "macos", "windows".
	Name() string

	// Sh runs a shell command to completion and returns combined output.
	// A suspension point (spec.md §5).
	Sh(ctx context.Context, cmd string, args ...string) (string, error)

	// Spawn starts a long-running subprocess and returns a handle without
	// waiting for completion.
	Spawn(ctx context.Context, cmd string, args ...string) (*exec.Cmd, error)

	// Which resolves a binary name to a path the way $PATH search would,
	// returning an error if not found (spec.md §4.5 installed_binaries).
	Which(name string) (string, error)

	// Sleep blocks for d or until ctx is cancelled (spec.md §5 suspension
	// point).
	Sleep(ctx context.Context, d time.Duration) error

	// Processes lists the current process table, used to check whether a
	// browser is backgrounded (spec.md §4.2).
	Processes(ctx context.Context) ([]ProcessInfo, error)

	// Thermal queries current thermal/throttling state.
	Thermal(ctx context.Context) (ThermalState, error)

	// Power queries current AC/battery state.
	Power(ctx context.Context) (PowerState, error)

	// CPUUsagePercent reports current system-wide CPU utilization as a
	// percentage (0-100), used by cpu_max_usage_percent (spec.md §4.5).
	CPUUsagePercent(ctx context.Context) (float64, error)

	// Disk queries free space for the filesystem backing path.
	Disk(path string) (DiskStat, error)

	// InhibitSleep prevents the host from suspending for the duration of
	// the returned release function's lifetime; release is idempotent.
	// Held by the Runner for the whole Run() call (spec.md §5).
	InhibitSleep(ctx context.Context, reason string) (release func(), err error)

	// SystemDetails returns a platform-specific JSON-serializable blob
	// for system_details.json (spec.md §6), e.g. lscpu/sysctl output.
	SystemDetails(ctx context.Context) (map[string]any, error)
}
