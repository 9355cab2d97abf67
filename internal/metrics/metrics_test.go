package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler(t *testing.T) {
	handler := Handler()
	if handler == nil {
		t.Fatal("Handler() returned nil")
	}

	RecordRun("chrome-stable", "speedometer", "ok", 1*time.Second)
	RecordMerge("repetitions", "durations", 10*time.Millisecond, nil)
	RecordBrowserLaunch("chrome", "ok")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	expectedMetrics := []string{
		"crossbench_runs_total",
		"crossbench_run_duration_seconds",
		"crossbench_merge_duration_seconds",
		"crossbench_active_thread_groups",
		"crossbench_browsers_launched_total",
	}
	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("expected metric %q not found in output", metric)
		}
	}
}

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo("1.0.0", "go1.24")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "crossbench_build_info") {
		t.Error("expected crossbench_build_info metric")
	}
	if !strings.Contains(body, `version="1.0.0"`) {
		t.Error("expected version label in build_info")
	}
	if !strings.Contains(body, `go_version="go1.24"`) {
		t.Error("expected go_version label in build_info")
	}
}

func TestRecordRun(t *testing.T) {
	RecordRun("chrome-stable", "jetstream", "ok", 2*time.Second)
	RecordRun("chrome-stable", "jetstream", "error", 500*time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "crossbench_runs_total") {
		t.Error("expected crossbench_runs_total metric")
	}
	if !strings.Contains(body, "crossbench_run_duration_seconds") {
		t.Error("expected crossbench_run_duration_seconds metric")
	}
}

func TestRecordMergeError(t *testing.T) {
	RecordMerge("stories", "tracing", time.Millisecond, errors.New("merge failed"))

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "crossbench_merge_errors_total") {
		t.Error("expected crossbench_merge_errors_total metric")
	}
}

func TestRecordBrowserLaunch(t *testing.T) {
	RecordBrowserLaunch("safari", "ok")
	RecordBrowserLaunch("firefox", "error")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), "crossbench_browsers_launched_total") {
		t.Error("expected crossbench_browsers_launched_total metric")
	}
}

func TestStartMemoryCollector(t *testing.T) {
	stopCh := make(chan struct{})

	go StartMemoryCollector(50*time.Millisecond, stopCh)
	time.Sleep(150 * time.Millisecond)
	close(stopCh)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "crossbench_memory_usage_bytes") {
		t.Error("expected crossbench_memory_usage_bytes metric")
	}
	if !strings.Contains(body, "crossbench_goroutines") {
		t.Error("expected crossbench_goroutines metric")
	}
}
