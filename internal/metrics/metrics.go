// Package metrics provides Prometheus counters and histograms for
// Runner.Run (SPEC_FULL.md DOMAIN STACK), adapted from the teacher's
// internal/metrics/metrics.go. Exposed only if Config.MetricsAddr is set;
// optional, since spec.md frames the engine as a batch CLI, not a
// long-lived service.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunsTotal counts Runs by (browser, story, status).
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossbench_runs_total",
			Help: "Total number of Runs executed, by browser, story and status",
		},
		[]string{"browser", "story", "status"},
	)

	// RunDuration tracks per-Run wall-clock duration by (browser, story).
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crossbench_run_duration_seconds",
			Help:    "Run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~1024s
		},
		[]string{"browser", "story"},
	)

	// MergeDuration tracks merge-cascade duration per RunGroup level and
	// probe (spec.md §4.1 step 3).
	MergeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crossbench_merge_duration_seconds",
			Help:    "RunGroup merge duration in seconds, by level and probe",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"level", "probe"},
	)

	// MergeErrorsTotal counts merge failures by level and probe (spec.md
	// §7 "merge errors... do not abort sibling probes' merges").
	MergeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossbench_merge_errors_total",
			Help: "Total merge failures, by RunGroup level and probe",
		},
		[]string{"level", "probe"},
	)

	// ActiveThreadGroups shows the number of currently-running
	// ThreadGroups (spec.md §5).
	ActiveThreadGroups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crossbench_active_thread_groups",
			Help: "Number of currently executing ThreadGroups",
		},
	)

	// BrowsersLaunched counts Browser.Setup calls, labelled by browser kind
	// and status ("ok" or "failed").
	BrowsersLaunched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossbench_browsers_launched_total",
			Help: "Total browser launches, by browser kind and status",
		},
		[]string{"kind", "status"},
	)

	// MemoryUsageBytes shows current process memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crossbench_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crossbench_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crossbench_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		RunsTotal,
		RunDuration,
		MergeDuration,
		MergeErrorsTotal,
		ActiveThreadGroups,
		BrowsersLaunched,
		MemoryUsageBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector starts a goroutine that periodically updates
// process-level metrics until stopCh is closed.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsageBytes.Set(float64(m.Alloc))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordRun records the outcome of one completed Run.
func RecordRun(browser, story, status string, duration time.Duration) {
	RunsTotal.WithLabelValues(browser, story, status).Inc()
	RunDuration.WithLabelValues(browser, story).Observe(duration.Seconds())
}

// RecordMerge records the outcome of one probe's merge at one RunGroup
// level.
func RecordMerge(level, probe string, duration time.Duration, err error) {
	MergeDuration.WithLabelValues(level, probe).Observe(duration.Seconds())
	if err != nil {
		MergeErrorsTotal.WithLabelValues(level, probe).Inc()
	}
}

// RecordBrowserLaunch records a Browser.Setup outcome.
func RecordBrowserLaunch(kind, status string) {
	BrowsersLaunched.WithLabelValues(kind, status).Inc()
}
