package powersampler

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/crossbench-org/crossbench-go/internal/platform"
	"github.com/crossbench-org/crossbench-go/internal/probe"
)

type fakeRun struct {
	outDir string
	pform  platform.Platform
}

func (r *fakeRun) ID() string                                           { return "chrome/speedometer/0" }
func (r *fakeRun) OutDir() string                                       { return r.outDir }
func (r *fakeRun) BrowserTmpDir() (string, error)                       { return "", nil }
func (r *fakeRun) SetExtraFlag(name, value string, hasValue bool) error { return nil }
func (r *fakeRun) SetExtraJSFlag(name string, hasValue bool) error      { return nil }
func (r *fakeRun) Platform() platform.Platform                         { return r.pform }

type fakePlatform struct{ onBattery bool }

func (f *fakePlatform) Name() string { return "fake" }
func (f *fakePlatform) Sh(ctx context.Context, cmd string, args ...string) (string, error) {
	return "", nil
}
func (f *fakePlatform) Spawn(ctx context.Context, cmd string, args ...string) (*exec.Cmd, error) {
	return nil, nil
}
func (f *fakePlatform) Which(name string) (string, error) { return "", nil }
func (f *fakePlatform) Sleep(ctx context.Context, d time.Duration) error { return nil }
func (f *fakePlatform) Processes(ctx context.Context) ([]platform.ProcessInfo, error) {
	return nil, nil
}
func (f *fakePlatform) Thermal(ctx context.Context) (platform.ThermalState, error) {
	return platform.ThermalState{RelativeCPUSpeed: 0.8}, nil
}
func (f *fakePlatform) Power(ctx context.Context) (platform.PowerState, error) {
	return platform.PowerState{OnBattery: f.onBattery}, nil
}
func (f *fakePlatform) Disk(path string) (platform.DiskStat, error) { return platform.DiskStat{}, nil }
func (f *fakePlatform) CPUUsagePercent(ctx context.Context) (float64, error) { return 0, nil }
func (f *fakePlatform) InhibitSleep(ctx context.Context, reason string) (func(), error) {
	return func() {}, nil
}
func (f *fakePlatform) SystemDetails(ctx context.Context) (map[string]any, error) {
	return nil, nil
}

func TestBatteryOnlyIsDeclared(t *testing.T) {
	p := New(10 * time.Millisecond)
	bop, ok := p.(interface{ BatteryOnly() bool })
	if !ok || !bop.BatteryOnly() {
		t.Fatal("expected the power sampler to declare BatteryOnly() == true")
	}
}

func TestScopeSamplesAndWritesCSV(t *testing.T) {
	run := &fakeRun{outDir: t.TempDir(), pform: &fakePlatform{onBattery: true}}
	scope := New(5 * time.Millisecond).GetScope(run)

	if err := scope.Setup(context.Background(), run); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := scope.Start(context.Background(), run); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := scope.Stop(context.Background(), run); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	result, err := scope.TearDown(context.Background(), run)
	if err != nil {
		t.Fatalf("TearDown: %v", err)
	}
	csvs := result.CSVFiles()
	if len(csvs) != 1 {
		t.Fatalf("expected exactly one csv file, got %v", csvs)
	}
	data, err := os.ReadFile(csvs[0])
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if !strings.Contains(string(data), "elapsed_ms,on_battery,relative_cpu_speed") {
		t.Errorf("expected a header row, got: %s", data)
	}
	if !strings.Contains(string(data), "true") {
		t.Errorf("expected at least one on_battery=true sample, got: %s", data)
	}
}

var _ probe.RunContext = (*fakeRun)(nil)
