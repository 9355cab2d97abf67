// Package main provides the crossbench CLI entry point: load
// configuration, validate the host environment, attach browsers/stories/
// probes, run the benchmark, and report results. Grounded on the
// teacher's cmd/flaresolverr/main.go wiring and graceful-shutdown order.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crossbench-org/crossbench-go/internal/browser"
	"github.com/crossbench-org/crossbench-go/internal/browser/chrome"
	"github.com/crossbench-org/crossbench-go/internal/browser/firefox"
	"github.com/crossbench-org/crossbench-go/internal/browser/safari"
	"github.com/crossbench-org/crossbench-go/internal/config"
	"github.com/crossbench-org/crossbench-go/internal/envconfig"
	"github.com/crossbench-org/crossbench-go/internal/hostenv"
	"github.com/crossbench-org/crossbench-go/internal/logging"
	"github.com/crossbench-org/crossbench-go/internal/metrics"
	"github.com/crossbench-org/crossbench-go/internal/platform"
	"github.com/crossbench-org/crossbench-go/internal/probe"
	"github.com/crossbench-org/crossbench-go/internal/probe/powersampler"
	"github.com/crossbench-org/crossbench-go/internal/probe/tracing"
	"github.com/crossbench-org/crossbench-go/internal/probe/v8log"
	"github.com/crossbench-org/crossbench-go/internal/progress"
	"github.com/crossbench-org/crossbench-go/internal/run"
	"github.com/crossbench-org/crossbench-go/internal/runner"
	"github.com/crossbench-org/crossbench-go/internal/story"
	"github.com/crossbench-org/crossbench-go/internal/story/jetstream"
	"github.com/crossbench-org/crossbench-go/internal/story/speedometer"
	"github.com/crossbench-org/crossbench-go/pkg/version"
)

// browserSpecs collects repeated -browser flags: "kind:label:path[:headless]".
type browserSpecs []string

func (b *browserSpecs) String() string { return strings.Join(*b, ",") }
func (b *browserSpecs) Set(v string) error {
	*b = append(*b, v)
	return nil
}

// storySpecs collects repeated -story flags: "kind:url[:suite1,suite2]".
type storySpecs []string

func (s *storySpecs) String() string { return strings.Join(*s, ",") }
func (s *storySpecs) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	var browsers browserSpecs
	var stories storySpecs
	flag.Var(&browsers, "browser", "browser spec kind:label:path[:headless], repeatable")
	flag.Var(&stories, "story", "story spec kind:url[:suite1,suite2,...], repeatable")
	probeList := flag.String("probes", "", "comma-separated extra probes: v8log,tracing,powersampler")
	flag.Parse()

	if *showVersion {
		fmt.Printf("crossbench %s\n", version.Full())
		return
	}

	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	cfg.Validate()

	printBanner()

	pform := platform.NewHost()
	r := runner.New(pform, cfg)

	if err := attachBrowsers(r, browsers); err != nil {
		log.Fatal().Err(err).Msg("failed to attach browsers")
	}
	if err := attachStories(r, stories); err != nil {
		log.Fatal().Err(err).Msg("failed to attach stories")
	}
	if err := attachProbes(r, *probeList); err != nil {
		log.Fatal().Err(err).Msg("failed to attach probes")
	}

	var envMgr *envconfig.Manager
	if cfg.EnvConfigPath != "" {
		m, err := envconfig.NewManager(cfg.EnvConfigPath, cfg.WatchEnvConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load env config")
		}
		envMgr = m
		r.SetHostEnvironment(m.Get())
	} else {
		r.SetHostEnvironment(hostenv.Config{})
	}

	var metricsServer *http.Server
	metricsStop := make(chan struct{})
	if cfg.MetricsAddr != "" {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		go metrics.StartMemoryCollector(5*time.Second, metricsStop)
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	var tui *progress.TUI
	switch cfg.Progress {
	case config.ProgressTUI:
		tui = progress.NewTUI()
		r.SetReporter(tui)
		go func() {
			if err := tui.Start(); err != nil {
				log.Error().Err(err).Msg("progress TUI exited with error")
			}
		}()
	default:
		r.SetReporter(progress.LogReporter{})
	}

	ctx, cancel := context.WithCancel(context.Background())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		signal.Stop(quit)
		log.Info().Msg("shutdown requested, cancelling in-flight runs")
		cancel()
	}()

	log.Info().
		Int("browsers", len(browsers)).
		Int("stories", len(stories)).
		Str("out_dir", cfg.OutDir).
		Msg("crossbench starting")

	runErr := r.Run(ctx, cfg.DryRun)
	interrupted := ctx.Err() != nil

	if tui != nil {
		tui.Stop()
	}
	if envMgr != nil {
		if err := envMgr.Close(); err != nil {
			log.Error().Err(err).Msg("env config manager close error")
		}
	}
	if metricsServer != nil {
		close(metricsStop)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown error")
		}
		shutdownCancel()
	}
	cancel()

	if runErr != nil {
		log.Error().Err(runErr).Msg("run failed")
		if interrupted {
			os.Exit(2)
		}
		os.Exit(3)
	}

	result := r.Result()
	if result.FirstFailedRun != nil {
		log.Warn().Str("run", result.FirstFailedRun.ID()).Msg("one or more runs reported errors")
		os.Exit(3)
	}

	log.Info().Msg("crossbench finished")
}

func attachBrowsers(r *runner.Runner, specs browserSpecs) error {
	if len(specs) == 0 {
		return fmt.Errorf("at least one -browser is required")
	}
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) < 3 {
			return fmt.Errorf("invalid -browser spec %q, want kind:label:path[:headless]", spec)
		}
		kind, label, path := parts[0], parts[1], parts[2]
		headless := len(parts) > 3 && parts[3] == "headless"

		var b browser.Browser
		switch kind {
		case "chrome":
			b = chrome.New(label, path, headless)
		case "firefox":
			b = firefox.New(label, path)
		case "safari":
			b = safari.New(label, path)
		default:
			return fmt.Errorf("unknown browser kind %q", kind)
		}
		if err := r.AddBrowser(b); err != nil {
			return err
		}
	}
	return nil
}

func attachStories(r *runner.Runner, specs storySpecs) error {
	if len(specs) == 0 {
		return fmt.Errorf("at least one -story is required")
	}
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) < 2 {
			return fmt.Errorf("invalid -story spec %q, want kind:url[:suites]", spec)
		}
		kind, url := parts[0], parts[1]

		var s story.Story
		switch kind {
		case "speedometer":
			var suites []string
			if len(parts) == 3 && parts[2] != "" {
				suites = strings.Split(parts[2], ",")
			}
			s = speedometer.New(url, suites...)
		case "jetstream":
			s = jetstream.New(url)
		default:
			return fmt.Errorf("unknown story kind %q", kind)
		}
		if err := r.AddStory(s); err != nil {
			return err
		}
	}
	return nil
}

func attachProbes(r *runner.Runner, list string) error {
	if list == "" {
		return nil
	}
	for _, name := range strings.Split(list, ",") {
		var p probe.Probe
		switch strings.TrimSpace(name) {
		case "v8log":
			p = v8log.New()
		case "tracing":
			p = tracing.New()
		case "powersampler":
			p = powersampler.New(powersampler.DefaultInterval)
		case "":
			continue
		default:
			return fmt.Errorf("unknown probe %q", name)
		}
		if err := r.AttachProbe(p); err != nil {
			return err
		}
	}
	return nil
}

func printBanner() {
	banner := `
  ___ ____   ___  ____ ____  ____  _____ _   _  ____ _   _
 / __|  _ \ / _ \/ ___/ ___|| __ )| ____| \ | |/ ___| | | |
| |  | |_) | | | \___ \___ \|  _ \|  _| |  \| | |   | |_| |
| |__|  _ <| |_| |___) |__) | |_) | |___| |\  | |___|  _  |
 \___|_| \_\\___/|____/____/|____/|_____|_| \_|\____|_| |_|

cross-browser benchmark runner
`
	fmt.Println(banner)
	log.Info().Str("version", version.Full()).Str("go", version.GoVersion()).Msg("starting crossbench")
}
