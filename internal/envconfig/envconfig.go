// Package envconfig loads a HostEnvironment record (spec.md §4.5) from a
// YAML file, with an optional hot-reload watcher (spec.md §6). Grounded
// on the teacher's internal/selectors/manager.go: atomic.Value-based
// lock-free reads and a debounced fsnotify.Watcher goroutine.
package envconfig

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/crossbench-org/crossbench-go/internal/hostenv"
)

// document is the on-disk YAML shape; nil fields leave the
// corresponding hostenv.Config field unset (spec.md §4.5 "sparse
// record").
type document struct {
	PowerUseBattery     *bool    `yaml:"power_use_battery"`
	BrowserHeadless     string   `yaml:"browser_is_headless"` // "required", "forbidden", "" (ignore)
	CPUMinRelativeSpeed *float64 `yaml:"cpu_min_relative_speed"`
	CPUMaxUsagePercent  *float64 `yaml:"cpu_max_usage_percent"`
	RequireProbes       *bool    `yaml:"require_probes"`
	DiskMinFreeBytes    *uint64  `yaml:"disk_min_free_bytes"`
	InstalledBinaries   []string `yaml:"installed_binaries"`
}

func (d document) toConfig() hostenv.Config {
	cfg := hostenv.Config{
		PowerUseBattery:     d.PowerUseBattery,
		CPUMinRelativeSpeed: d.CPUMinRelativeSpeed,
		CPUMaxUsagePercent:  d.CPUMaxUsagePercent,
		RequireProbes:       d.RequireProbes,
		DiskMinFreeBytes:    d.DiskMinFreeBytes,
		InstalledBinaries:   d.InstalledBinaries,
	}
	switch d.BrowserHeadless {
	case "required":
		cfg.BrowserHeadless = hostenv.HeadlessRequired
	case "forbidden":
		cfg.BrowserHeadless = hostenv.HeadlessForbidden
	default:
		cfg.BrowserHeadless = hostenv.HeadlessIgnore
	}
	return cfg
}

func parse(data []byte) (hostenv.Config, error) {
	var d document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return hostenv.Config{}, fmt.Errorf("envconfig: invalid YAML: %w", err)
	}
	return d.toConfig(), nil
}

// Load reads and parses path once, with no watcher.
func Load(path string) (hostenv.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return hostenv.Config{}, fmt.Errorf("envconfig: reading %s: %w", path, err)
	}
	return parse(data)
}

// Manager serves a hot-reloadable HostEnvironment config, read lock-free
// via atomic.Value (spec.md §6).
type Manager struct {
	path    string
	current atomic.Value // hostenv.Config

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// NewManager loads path once and, if watch is true, starts a debounced
// fsnotify watcher that reloads on write/create events (spec.md §6,
// opt-in via CROSSBENCH_WATCH_ENV). On parse failure the previous config remains
// in effect; NewManager itself fails only if the initial load fails.
func NewManager(path string, watch bool) (*Manager, error) {
	m := &Manager{path: path, stopCh: make(chan struct{})}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m.current.Store(cfg)

	if watch {
		if err := m.startWatcher(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to start env-config watcher, hot-reload disabled")
		} else {
			log.Info().Str("path", path).Msg("hot-reload enabled for env-config file")
		}
	}
	return m, nil
}

// Get returns the current hostenv.Config, lock-free.
func (m *Manager) Get() hostenv.Config {
	return m.current.Load().(hostenv.Config)
}

// Reload re-reads and re-parses the file, swapping the current config on
// success. On failure the previous config is kept (graceful degradation).
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		return err
	}
	m.current.Store(cfg)
	log.Info().Str("path", m.path).Msg("env-config hot-reloaded")
	return nil
}

// Close stops the watcher goroutine. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("envconfig: creating watcher: %w", err)
	}
	if err := watcher.Add(m.path); err != nil {
		watcher.Close()
		return fmt.Errorf("envconfig: watching %s: %w", m.path, err)
	}
	m.watcher = watcher
	m.wg.Add(1)
	go m.watchFile()
	return nil
}

// watchFile debounces rapid successive write events into a single reload
// (spec.md §6, same shape as the teacher's selectors.Manager.watchFile).
func (m *Manager) watchFile() {
	defer m.wg.Done()

	const debounceDelay = 100 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, func() {
				if err := m.Reload(); err != nil {
					log.Warn().Err(err).Str("path", m.path).Msg("env-config hot-reload failed, keeping previous config")
				}
			})
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("env-config watcher error")
		case <-m.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
