// Package powersampler implements the power-sampler probe (SPEC_FULL.md
// §4.8): polls the host's power/thermal state at a fixed interval for
// the duration of a Run and writes a CSV timeseries. Declares
// BATTERY_ONLY so HostEnvironment rejects power_use_battery=false runs
// that request it (spec.md §4.5), grounded on
// original_source/crossbench/probes/power.py.
package powersampler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/crossbench-org/crossbench-go/internal/platform"
	"github.com/crossbench-org/crossbench-go/internal/probe"
)

// Name is the attach name of the power-sampler probe.
const Name = "powersampler"

// DefaultInterval matches the original's 1 Hz sampling default.
const DefaultInterval = time.Second

// runWithPlatform is the superset of probe.RunContext the sampler scope
// needs to reach the Run's Platform. Kept local to avoid a cycle onto
// internal/run.
type runWithPlatform interface {
	probe.RunContext
	Platform() platform.Platform
}

type powerSamplerProbe struct {
	probe.Base
	interval time.Duration
}

// New returns the power-sampler probe sampling at interval (or
// DefaultInterval if zero).
func New(interval time.Duration) probe.Probe {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &powerSamplerProbe{
		Base:     probe.Base{ProbeName: Name, Location: probe.ResultLocationLocal},
		interval: interval,
	}
}

// BatteryOnly marks this probe as requiring power_use_battery to be
// unconstrained or true (spec.md §4.5), satisfying hostenv.BatteryOnlyProbe.
func (p *powerSamplerProbe) BatteryOnly() bool { return true }

func (p *powerSamplerProbe) GetScope(run probe.RunContext) probe.Scope {
	return &samplerScope{interval: p.interval}
}

type sample struct {
	elapsed          time.Duration
	onBattery        bool
	relativeCPUSpeed float64
}

type samplerScope struct {
	interval time.Duration

	mu      sync.Mutex
	samples []sample

	cancel context.CancelFunc
	done   chan struct{}
	path   string
}

func (s *samplerScope) Setup(ctx context.Context, run probe.RunContext) error { return nil }

// Start launches the background sampling goroutine. It exits on Stop or
// context cancellation; sampling errors are skipped rather than fatal,
// since a single failed poll should not abort the Run.
func (s *samplerScope) Start(ctx context.Context, run probe.RunContext) error {
	rp, ok := run.(runWithPlatform)
	if !ok {
		return fmt.Errorf("powersampler probe: run does not expose a Platform")
	}
	sampleCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		start := time.Now()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-sampleCtx.Done():
				return
			case <-ticker.C:
				s.poll(sampleCtx, rp.Platform(), time.Since(start))
			}
		}
	}()
	return nil
}

func (s *samplerScope) poll(ctx context.Context, pform platform.Platform, elapsed time.Duration) {
	power, err := pform.Power(ctx)
	if err != nil {
		return
	}
	thermal, err := pform.Thermal(ctx)
	if err != nil {
		thermal = platform.ThermalState{RelativeCPUSpeed: 1.0}
	}
	s.mu.Lock()
	s.samples = append(s.samples, sample{elapsed: elapsed, onBattery: power.OnBattery, relativeCPUSpeed: thermal.RelativeCPUSpeed})
	s.mu.Unlock()
}

func (s *samplerScope) Stop(ctx context.Context, run probe.RunContext) error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

func (s *samplerScope) TearDown(ctx context.Context, run probe.RunContext) (probe.Result, error) {
	s.mu.Lock()
	samples := s.samples
	s.mu.Unlock()
	if len(samples) == 0 {
		return probe.Empty, nil
	}

	path := filepath.Join(run.OutDir(), "power.csv")
	f, err := os.Create(path)
	if err != nil {
		return probe.Empty, fmt.Errorf("powersampler probe: creating %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString("elapsed_ms,on_battery,relative_cpu_speed\n"); err != nil {
		return probe.Empty, fmt.Errorf("powersampler probe: writing header: %w", err)
	}
	for _, smp := range samples {
		line := strconv.FormatInt(smp.elapsed.Milliseconds(), 10) + "," +
			strconv.FormatBool(smp.onBattery) + "," +
			strconv.FormatFloat(smp.relativeCPUSpeed, 'f', -1, 64) + "\n"
		if _, err := f.WriteString(line); err != nil {
			return probe.Empty, fmt.Errorf("powersampler probe: writing row: %w", err)
		}
	}
	s.path = path
	return probe.NewResult(nil, nil, []string{path}, nil)
}

var (
	_ probe.Probe = (*powerSamplerProbe)(nil)
)
