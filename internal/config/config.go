// Package config provides the engine's ambient configuration: output
// directory, thread mode, repetition count, per-browser timeouts,
// HostEnvironment validation mode, and the opt-in progress/metrics
// surfaces (SPEC_FULL.md AMBIENT STACK). Loaded from environment
// variables with the teacher's getEnvString/getEnvInt/getEnvBool/
// getEnvDuration helpers and defaults, validated via Validate() doing
// bounds-clamping with log.Warn calls.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Upper/lower bounds enforced by Validate, preventing a misconfigured run
// from silently doing something absurd (zero repetitions, a negative
// timeout) rather than failing loudly later inside the Runner.
const (
	maxRepetitions     = 1000
	maxBrowserTimeout  = 30 * time.Minute
	minBrowserTimeout  = time.Second
	maxShutdownGrace   = 5 * time.Minute
	maxCooldownWait    = 5 * time.Minute
	maxThermalPollTime = 10 * time.Minute
)

// ThreadMode selects how the Runner partitions Runs into ThreadGroups
// (spec.md §4.1). "none" is the measurement-safe default; "run" and
// "browser" trade interference for throughput.
type ThreadMode string

const (
	ThreadModeNone     ThreadMode = "none"
	ThreadModeRun      ThreadMode = "run"
	ThreadModePlatform ThreadMode = "platform"
	ThreadModeBrowser  ThreadMode = "browser"
)

// ValidationMode selects how HostEnvironment handles a failed precondition
// (spec.md §4.5).
type ValidationMode string

const (
	ValidationThrow  ValidationMode = "throw"
	ValidationPrompt ValidationMode = "prompt"
	ValidationWarn   ValidationMode = "warn"
	ValidationSkip   ValidationMode = "skip"
)

// ProgressMode selects the live-view surface during Runner.Run (SPEC_FULL
// DOMAIN STACK): "log" emits structured log lines (CI/piped-output safe,
// the default), "tui" drives the bubbletea progress view.
type ProgressMode string

const (
	ProgressLog ProgressMode = "log"
	ProgressTUI ProgressMode = "tui"
)

// Config holds all engine configuration, loaded from environment
// variables at startup (AMBIENT STACK: "Configuration").
type Config struct {
	// Output layout (spec.md §6).
	OutDir string
	DryRun bool

	// Scheduling (spec.md §4.1, §5).
	Repetitions int
	ThreadMode  ThreadMode

	// Per-Run timeouts (spec.md §4.2).
	BrowserSetupTimeout time.Duration
	RunTimeout          time.Duration

	// Thermal/cooldown polling (spec.md §4.2).
	CooldownWait     time.Duration
	ThermalPollMin   time.Duration
	ThermalPollMax   time.Duration

	// HostEnvironment validation (spec.md §4.5).
	EnvValidationMode ValidationMode
	EnvConfigPath     string
	WatchEnvConfig    bool

	// Graceful shutdown (spec.md §9 OQ-1; DESIGN.md OQ-3).
	ShutdownGrace time.Duration

	// Logging (AMBIENT STACK).
	LogLevel  string
	LogFormat string // "console" or "json"

	// Live progress view (DOMAIN STACK: bubbletea/lipgloss).
	Progress ProgressMode

	// Optional Prometheus metrics endpoint (DOMAIN STACK:
	// prometheus/client_golang); empty disables it, since the engine is a
	// batch CLI, not a long-lived service.
	MetricsAddr string
}

// Load reads configuration from environment variables, falling back to
// defaults tuned for a single local benchmark invocation.
func Load() *Config {
	return &Config{
		OutDir: getEnvString("CROSSBENCH_OUT_DIR", "./results"),
		DryRun: getEnvBool("CROSSBENCH_DRY_RUN", false),

		Repetitions: getEnvInt("CROSSBENCH_REPETITIONS", 1),
		ThreadMode:  ThreadMode(getEnvString("CROSSBENCH_THREAD_MODE", string(ThreadModeNone))),

		BrowserSetupTimeout: getEnvDuration("CROSSBENCH_BROWSER_SETUP_TIMEOUT", 60*time.Second),
		RunTimeout:          getEnvDuration("CROSSBENCH_RUN_TIMEOUT", 10*time.Minute),

		CooldownWait:   getEnvDuration("CROSSBENCH_COOLDOWN_WAIT", 2*time.Second),
		ThermalPollMin: getEnvDuration("CROSSBENCH_THERMAL_POLL_MIN", 1*time.Second),
		ThermalPollMax: getEnvDuration("CROSSBENCH_THERMAL_POLL_MAX", 60*time.Second),

		EnvValidationMode: ValidationMode(getEnvString("CROSSBENCH_ENV_MODE", string(ValidationThrow))),
		EnvConfigPath:     getEnvString("CROSSBENCH_ENV_CONFIG", ""),
		WatchEnvConfig:    getEnvBool("CROSSBENCH_WATCH_ENV", false),

		ShutdownGrace: getEnvDuration("CROSSBENCH_SHUTDOWN_GRACE", 5*time.Second),

		LogLevel:  getEnvString("CROSSBENCH_LOG_LEVEL", "info"),
		LogFormat: getEnvString("CROSSBENCH_LOG_FORMAT", "console"),

		Progress: ProgressMode(getEnvString("CROSSBENCH_PROGRESS", string(ProgressLog))),

		MetricsAddr: getEnvString("CROSSBENCH_METRICS_ADDR", ""),
	}
}

// Validate checks configuration values and logs warnings for invalid
// values, correcting them to sensible defaults in place.
func (c *Config) Validate() {
	if c.OutDir == "" {
		log.Warn().Msg("CROSSBENCH_OUT_DIR empty, using default ./results")
		c.OutDir = "./results"
	}

	if c.Repetitions < 1 {
		log.Warn().Int("repetitions", c.Repetitions).Msg("invalid repetitions, using 1")
		c.Repetitions = 1
	} else if c.Repetitions > maxRepetitions {
		log.Warn().
			Int("repetitions", c.Repetitions).
			Int("max", maxRepetitions).
			Msg("repetitions too high, capping to maximum")
		c.Repetitions = maxRepetitions
	}

	switch c.ThreadMode {
	case ThreadModeNone, ThreadModeRun, ThreadModePlatform, ThreadModeBrowser:
	default:
		log.Warn().Str("mode", string(c.ThreadMode)).Msg("unknown thread mode, using 'none'")
		c.ThreadMode = ThreadModeNone
	}
	if c.ThreadMode != ThreadModeNone {
		log.Warn().
			Str("mode", string(c.ThreadMode)).
			Msg("thread mode introduces high cross-run interference; not recommended for measurement")
	}

	if c.BrowserSetupTimeout < minBrowserTimeout {
		log.Warn().Dur("timeout", c.BrowserSetupTimeout).Msg("browser setup timeout too short, using 1s")
		c.BrowserSetupTimeout = minBrowserTimeout
	} else if c.BrowserSetupTimeout > maxBrowserTimeout {
		log.Warn().
			Dur("timeout", c.BrowserSetupTimeout).
			Dur("max", maxBrowserTimeout).
			Msg("browser setup timeout too long, capping to maximum")
		c.BrowserSetupTimeout = maxBrowserTimeout
	}
	if c.RunTimeout < minBrowserTimeout {
		log.Warn().Dur("timeout", c.RunTimeout).Msg("run timeout too short, using 10s")
		c.RunTimeout = 10 * time.Second
	}

	if c.CooldownWait < 0 {
		log.Warn().Dur("wait", c.CooldownWait).Msg("negative cooldown wait, using 0")
		c.CooldownWait = 0
	} else if c.CooldownWait > maxCooldownWait {
		log.Warn().Dur("wait", c.CooldownWait).Msg("cooldown wait too long, capping to maximum")
		c.CooldownWait = maxCooldownWait
	}
	if c.ThermalPollMax > maxThermalPollTime {
		log.Warn().Dur("max", c.ThermalPollMax).Msg("thermal poll max too long, capping to maximum")
		c.ThermalPollMax = maxThermalPollTime
	}
	if c.ThermalPollMin <= 0 {
		c.ThermalPollMin = time.Second
	}
	if c.ThermalPollMax < c.ThermalPollMin {
		log.Warn().
			Dur("min", c.ThermalPollMin).
			Dur("max", c.ThermalPollMax).
			Msg("thermal poll max below min, raising max to min")
		c.ThermalPollMax = c.ThermalPollMin
	}

	switch c.EnvValidationMode {
	case ValidationThrow, ValidationPrompt, ValidationWarn, ValidationSkip:
	default:
		log.Warn().Str("mode", string(c.EnvValidationMode)).Msg("unknown env validation mode, using 'throw'")
		c.EnvValidationMode = ValidationThrow
	}
	if c.WatchEnvConfig && c.EnvConfigPath == "" {
		log.Warn().Msg("CROSSBENCH_WATCH_ENV enabled but CROSSBENCH_ENV_CONFIG not set, disabling watch")
		c.WatchEnvConfig = false
	}
	if c.EnvConfigPath != "" {
		if strings.Contains(c.EnvConfigPath, "..") {
			log.Error().Str("path", c.EnvConfigPath).Msg("CROSSBENCH_ENV_CONFIG contains path traversal sequence, ignoring")
			c.EnvConfigPath = ""
			c.WatchEnvConfig = false
		} else if _, err := os.Stat(c.EnvConfigPath); err != nil {
			log.Warn().Str("path", c.EnvConfigPath).Msg("CROSSBENCH_ENV_CONFIG does not exist")
		}
	}

	if c.ShutdownGrace <= 0 {
		log.Warn().Dur("grace", c.ShutdownGrace).Msg("invalid shutdown grace, using 5s")
		c.ShutdownGrace = 5 * time.Second
	} else if c.ShutdownGrace > maxShutdownGrace {
		log.Warn().Dur("grace", c.ShutdownGrace).Msg("shutdown grace too long, capping to maximum")
		c.ShutdownGrace = maxShutdownGrace
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("invalid log level, using 'info'")
		c.LogLevel = "info"
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		log.Warn().Str("format", c.LogFormat).Msg("invalid log format, using 'console'")
		c.LogFormat = "console"
	}

	switch c.Progress {
	case ProgressLog, ProgressTUI:
	default:
		log.Warn().Str("progress", string(c.Progress)).Msg("unknown progress mode, using 'log'")
		c.Progress = ProgressLog
	}
}

// Helper functions for environment variable parsing.

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
	}
	return defaultValue
}
