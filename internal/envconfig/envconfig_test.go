package envconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crossbench-org/crossbench-go/internal/hostenv"
)

func writeYAML(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "env.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesSparseFields(t *testing.T) {
	path := writeYAML(t, t.TempDir(), `
power_use_battery: false
browser_is_headless: required
require_probes: true
installed_binaries:
  - chrome
  - firefox
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PowerUseBattery == nil || *cfg.PowerUseBattery != false {
		t.Errorf("expected power_use_battery=false, got %v", cfg.PowerUseBattery)
	}
	if cfg.BrowserHeadless != hostenv.HeadlessRequired {
		t.Errorf("expected HeadlessRequired, got %v", cfg.BrowserHeadless)
	}
	if cfg.RequireProbes == nil || !*cfg.RequireProbes {
		t.Error("expected require_probes=true")
	}
	if len(cfg.InstalledBinaries) != 2 {
		t.Errorf("expected 2 installed binaries, got %v", cfg.InstalledBinaries)
	}
}

func TestLoadOmittedFieldsStayUnset(t *testing.T) {
	path := writeYAML(t, t.TempDir(), `require_probes: true`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PowerUseBattery != nil {
		t.Error("expected power_use_battery to remain unset")
	}
	if cfg.BrowserHeadless != hostenv.HeadlessIgnore {
		t.Error("expected browser_is_headless to default to Ignore")
	}
}

func TestManagerReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, `require_probes: true`)

	m, err := NewManager(path, false)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if !*m.Get().RequireProbes {
		t.Fatal("expected initial require_probes=true")
	}

	if err := os.WriteFile(path, []byte(`require_probes: false`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if *m.Get().RequireProbes {
		t.Fatal("expected require_probes=false after reload")
	}
}

func TestManagerWatcherPicksUpFileWrites(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, `require_probes: true`)

	m, err := NewManager(path, true)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if err := os.WriteFile(path, []byte(`require_probes: false`), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !*m.Get().RequireProbes {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected the watcher to pick up the file change within the deadline")
}
