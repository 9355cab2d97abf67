package exception

import (
	"errors"
	"testing"
)

func TestConfigurationErrorUnwrapsToSentinel(t *testing.T) {
	err := NewConfigurationError("browser", "duplicate browser unique_name \"chrome\"", ErrDuplicateBrowserName)
	if !errors.Is(err, ErrDuplicateBrowserName) {
		t.Error("expected errors.Is to find the wrapped sentinel")
	}
	if err.Error() != "duplicate browser unique_name \"chrome\"" {
		t.Errorf("unexpected Error(): %q", err.Error())
	}
}

func TestEnvironmentErrorWrapsRejectedSentinel(t *testing.T) {
	err := NewEnvironmentError("power_use_battery", "battery power forbidden")
	if !errors.Is(err, ErrEnvironmentRejected) {
		t.Error("expected errors.Is to find ErrEnvironmentRejected")
	}
}

func TestRunErrorCarriesPhaseAndID(t *testing.T) {
	cause := errors.New("browser crashed")
	err := NewRunError("run-1", "setup", "setup failed", cause)
	if err.RunID != "run-1" || err.Phase != "setup" {
		t.Errorf("unexpected fields: %+v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to unwrap to the cause")
	}
}

func TestMergeErrorCarriesLevelAndProbe(t *testing.T) {
	cause := errors.New("merge failed")
	err := NewMergeError("/out/repA", "tracing", "repetitions", "merge failed", cause)
	if err.Level != "repetitions" || err.Probe != "tracing" {
		t.Errorf("unexpected fields: %+v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to unwrap to the cause")
	}
}

func TestResourceErrorUnwrapsToCause(t *testing.T) {
	err := NewResourceError("chrome", "subprocess exited non-zero", ErrSubprocessFailed)
	if !errors.Is(err, ErrSubprocessFailed) {
		t.Error("expected errors.Is to find ErrSubprocessFailed")
	}
}
