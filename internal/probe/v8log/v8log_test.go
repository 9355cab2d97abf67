package v8log

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/crossbench-org/crossbench-go/internal/probe"
)

type fakeRun struct {
	outDir string
	tmpDir string
}

func (r *fakeRun) ID() string                                           { return "chrome/speedometer/0" }
func (r *fakeRun) OutDir() string                                       { return r.outDir }
func (r *fakeRun) BrowserTmpDir() (string, error)                       { return r.tmpDir, nil }
func (r *fakeRun) SetExtraFlag(name, value string, hasValue bool) error { return nil }
func (r *fakeRun) SetExtraJSFlag(name string, hasValue bool) error      { return nil }

type fakeBrowserFlags struct{ set map[string]string }

func (b *fakeBrowserFlags) Kind() string { return "chrome" }
func (b *fakeBrowserFlags) SetFlag(name string, override bool) error { return nil }
func (b *fakeBrowserFlags) SetValue(name, value string, override bool) error {
	if b.set == nil {
		b.set = map[string]string{}
	}
	b.set[name] = value
	return nil
}

func TestAttachSetsLogAllJSFlag(t *testing.T) {
	p := New()
	bf := &fakeBrowserFlags{}
	if err := p.Attach(bf); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if bf.set["js-flags"] != "--log-all" {
		t.Errorf("expected js-flags=--log-all, got %q", bf.set["js-flags"])
	}
}

func TestTearDownRecoversLogFileFromBrowserTmpDir(t *testing.T) {
	run := &fakeRun{outDir: t.TempDir(), tmpDir: t.TempDir()}
	if err := os.WriteFile(filepath.Join(run.tmpDir, "v8.log.12345"), []byte("v8 log data"), 0o644); err != nil {
		t.Fatal(err)
	}

	scope := New().GetScope(run)
	result, err := scope.TearDown(context.Background(), run)
	if err != nil {
		t.Fatalf("TearDown: %v", err)
	}
	path, ok := result.File()
	if !ok {
		t.Fatal("expected exactly one generic file in the result")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading recovered log: %v", err)
	}
	if string(data) != "v8 log data" {
		t.Errorf("unexpected recovered log contents: %q", data)
	}
}

func TestTearDownIsEmptyWhenNoLogFileWritten(t *testing.T) {
	run := &fakeRun{outDir: t.TempDir(), tmpDir: t.TempDir()}
	scope := New().GetScope(run)
	result, err := scope.TearDown(context.Background(), run)
	if err != nil {
		t.Fatalf("TearDown: %v", err)
	}
	if !result.IsEmpty() {
		t.Error("expected an empty result when V8 wrote no log file")
	}
}

func TestIsCompatibleOnlyWithChrome(t *testing.T) {
	p := New()
	if !p.IsCompatible("chrome") {
		t.Error("expected chrome to be compatible")
	}
	if p.IsCompatible("safari") {
		t.Error("expected safari to be incompatible")
	}
}

var _ probe.RunContext = (*fakeRun)(nil)
