// Package hostenv implements the HostEnvironment pre-flight validator
// (spec.md §4.5): a sparse configuration record checked against the
// platform, attached browsers, and attached probes before any Run starts.
// Grounded on the teacher's internal/config.Config Validate()
// bounds-clamping-with-warnings pattern, generalized from "clamp and warn"
// to "clamp, warn, or fail" per the validation-mode policy.
package hostenv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/crossbench-org/crossbench-go/internal/config"
	"github.com/crossbench-org/crossbench-go/internal/exception"
	"github.com/crossbench-org/crossbench-go/internal/platform"
)

// Headless selects the required browser headless mode (spec.md §4.5
// "browser_is_headless true/false/ignore").
type Headless int

const (
	HeadlessIgnore Headless = iota
	HeadlessRequired
	HeadlessForbidden
)

// Config is a sparse HostEnvironment record: unset fields (nil pointers,
// zero-length slices) impose no constraint. Every field is an explicit,
// enumerated setting per spec.md §9 "Configuration objects... never a
// free-form map".
type Config struct {
	PowerUseBattery    *bool
	BrowserHeadless    Headless
	CPUMinRelativeSpeed *float64
	CPUMaxUsagePercent  *float64
	RequireProbes       *bool
	DiskMinFreeBytes     *uint64
	InstalledBinaries    []string
}

// Browser is the narrow surface Validate needs from an attached browser.
type Browser interface {
	UniqueName() string
	IsHeadless() bool
}

// BatteryOnlyProbe is an optional capability a Probe may implement to
// declare a hard conflict with power_use_battery=false (spec.md §4.5
// "forbid with probes declaring BATTERY_ONLY").
type BatteryOnlyProbe interface {
	BatteryOnly() bool
}

// Merge combines two sparse configs: bool fields must agree or not both be
// set (spec.md §8 invariant 8 "conflict on disagreeing bools"); numeric
// bounds take the stricter of the two (max of min-bounds, min of
// max-bounds).
func Merge(a, b Config) (Config, error) {
	out := Config{}

	merged, err := mergeBool(a.PowerUseBattery, b.PowerUseBattery, "power_use_battery")
	if err != nil {
		return Config{}, err
	}
	out.PowerUseBattery = merged

	out.BrowserHeadless, err = mergeHeadless(a.BrowserHeadless, b.BrowserHeadless)
	if err != nil {
		return Config{}, err
	}

	out.CPUMinRelativeSpeed = mergeMin(a.CPUMinRelativeSpeed, b.CPUMinRelativeSpeed)
	out.CPUMaxUsagePercent = mergeMax(a.CPUMaxUsagePercent, b.CPUMaxUsagePercent)

	merged2, err := mergeBool(a.RequireProbes, b.RequireProbes, "require_probes")
	if err != nil {
		return Config{}, err
	}
	out.RequireProbes = merged2

	out.DiskMinFreeBytes = mergeMinU64(a.DiskMinFreeBytes, b.DiskMinFreeBytes)

	out.InstalledBinaries = dedupeStrings(append(append([]string(nil), a.InstalledBinaries...), b.InstalledBinaries...))
	return out, nil
}

func mergeBool(a, b *bool, field string) (*bool, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	if *a != *b {
		return nil, fmt.Errorf("hostenv: conflicting values for %q: %v vs %v", field, *a, *b)
	}
	return a, nil
}

func mergeHeadless(a, b Headless) (Headless, error) {
	if a == HeadlessIgnore {
		return b, nil
	}
	if b == HeadlessIgnore {
		return a, nil
	}
	if a != b {
		return HeadlessIgnore, fmt.Errorf("hostenv: conflicting browser_is_headless requirement")
	}
	return a, nil
}

func mergeMin(a, b *float64) *float64 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	v := *a
	if *b > v {
		v = *b
	}
	return &v
}

func mergeMax(a, b *float64) *float64 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	v := *a
	if *b < v {
		v = *b
	}
	return &v
}

func mergeMinU64(a, b *uint64) *uint64 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	v := *a
	if *b > v {
		v = *b
	}
	return &v
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Validate checks cfg against the current platform state, attached
// browsers, and attached probes, routing any failed precondition through
// mode (spec.md §4.5).
func Validate(ctx context.Context, cfg Config, mode config.ValidationMode, pform platform.Platform, browsers []Browser, probes []BatteryOnlyProbe, userProbeCount int, outDir string) error {
	var failures []string

	if cfg.PowerUseBattery != nil {
		power, err := pform.Power(ctx)
		if err == nil {
			if power.OnBattery != *cfg.PowerUseBattery {
				failures = append(failures, fmt.Sprintf("power_use_battery=%v required, platform reports on_battery=%v", *cfg.PowerUseBattery, power.OnBattery))
			}
		}
		if !*cfg.PowerUseBattery {
			for _, p := range probes {
				if p != nil && p.BatteryOnly() {
					failures = append(failures, "power_use_battery=false conflicts with an attached BATTERY_ONLY probe")
					break
				}
			}
		}
	}

	if cfg.BrowserHeadless != HeadlessIgnore {
		hasDisplay := os.Getenv("DISPLAY") != "" || pform.Name() != "linux"
		for _, b := range browsers {
			want := cfg.BrowserHeadless == HeadlessRequired
			if b.IsHeadless() != want {
				if want && !hasDisplay {
					continue // headless required and no display present: tolerate
				}
				failures = append(failures, fmt.Sprintf("browser %q headless=%v does not match required %v", b.UniqueName(), b.IsHeadless(), want))
			}
		}
	}

	if cfg.CPUMinRelativeSpeed != nil {
		thermal, err := pform.Thermal(ctx)
		if err == nil && thermal.RelativeCPUSpeed < *cfg.CPUMinRelativeSpeed {
			failures = append(failures, fmt.Sprintf("cpu_min_relative_speed=%v not met, platform reports %v", *cfg.CPUMinRelativeSpeed, thermal.RelativeCPUSpeed))
		}
	}

	if cfg.CPUMaxUsagePercent != nil {
		usage, err := pform.CPUUsagePercent(ctx)
		if err == nil && usage > *cfg.CPUMaxUsagePercent {
			failures = append(failures, fmt.Sprintf("cpu_max_usage_percent=%v exceeded, platform reports %v", *cfg.CPUMaxUsagePercent, usage))
		}
	}

	if cfg.RequireProbes != nil && *cfg.RequireProbes && userProbeCount == 0 {
		failures = append(failures, "require_probes=true but the Runner has no user-attached probes")
	}

	if cfg.DiskMinFreeBytes != nil {
		disk, err := pform.Disk(outDir)
		if err == nil && disk.FreeBytes < *cfg.DiskMinFreeBytes {
			failures = append(failures, fmt.Sprintf("disk_min_free_bytes=%d not met, %d free at %q", *cfg.DiskMinFreeBytes, disk.FreeBytes, outDir))
		}
	}

	if len(cfg.InstalledBinaries) > 0 {
		var missing []string
		for _, name := range cfg.InstalledBinaries {
			if _, err := pform.Which(name); err != nil {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			failures = append(failures, fmt.Sprintf("installed_binaries missing: %v", missing))
		}
	}

	if siblings, err := countSiblings(outDir); err == nil {
		if siblings >= 100 {
			failures = append(failures, fmt.Sprintf("output directory has %d sibling runs (>=100), consider cleanup", siblings))
		} else if siblings >= 30 {
			log.Warn().Int("siblings", siblings).Str("out_dir", outDir).Msg("many prior run directories present")
		}
	}

	return handle(failures, mode)
}

func countSiblings(outDir string) (int, error) {
	parent := filepath.Dir(outDir)
	entries, err := os.ReadDir(parent)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func handle(failures []string, mode config.ValidationMode) error {
	if len(failures) == 0 {
		return nil
	}
	switch mode {
	case config.ValidationSkip:
		return nil
	case config.ValidationWarn:
		for _, f := range failures {
			log.Warn().Str("check", f).Msg("host environment precondition not met")
		}
		return nil
	case config.ValidationPrompt:
		// Non-interactive batch context: a real terminal prompt belongs to
		// cmd/crossbench (out of scope per spec.md §1); here prompt mode
		// degrades to throw, since an un-answered prompt must not silently
		// proceed.
		fallthrough
	case config.ValidationThrow:
		fallthrough
	default:
		return exception.NewEnvironmentError("host_environment", fmt.Sprintf("%d host environment precondition(s) failed: %v", len(failures), failures))
	}
}
