// Package annotator implements the error-annotation stack used throughout
// the engine: a stack of contextual labels plus a list of captured errors,
// collapsible at aggregation points into one composite exception.
package annotator

import (
	"fmt"
	"strings"
	"sync"
)

// Captured pairs an error with the label stack active when it was
// captured.
type Captured struct {
	Labels []string
	Err    error
}

func (c Captured) String() string {
	if len(c.Labels) == 0 {
		return c.Err.Error()
	}
	return fmt.Sprintf("%s: %v", strings.Join(c.Labels, " > "), c.Err)
}

// Annotator is a single-owner error sink: one Run, one RunGroup, or the
// Runner's own top-level annotator. Not safe for use by more than one
// goroutine without external synchronization beyond what Lock/Unlock
// provide here; spec.md's concurrency model keeps exactly one owner per
// annotator at a time.
type Annotator struct {
	mu       sync.Mutex
	stack    []string
	captured []Captured
	// Throw, when set, makes Capture re-panic-free but propagate
	// immediately instead of only recording — used by the test harness
	// (spec.md §7 "the Runner's top-level annotator has a throw flag").
	Throw bool
}

// New returns an empty Annotator.
func New() *Annotator {
	return &Annotator{}
}

// Info extends the label stack for the duration of fn without capturing
// any error it returns.
func (a *Annotator) Info(label string, fn func() error) error {
	a.push(label)
	defer a.pop()
	return fn()
}

// Capture wraps fn: on error, appends (current label stack, error) to the
// captured list and returns nil unless Throw is set, in which case the
// error propagates to the caller immediately.
func (a *Annotator) Capture(label string, fn func() error) error {
	a.push(label)
	defer a.pop()

	err := fn()
	if err == nil {
		return nil
	}

	a.mu.Lock()
	labels := append([]string(nil), a.stack...)
	a.captured = append(a.captured, Captured{Labels: labels, Err: err})
	throw := a.Throw
	a.mu.Unlock()

	if throw {
		return err
	}
	return nil
}

// Record appends err directly without invoking a function, used where the
// caller already has both the error and the point of failure in hand
// (e.g. teardown loops that must keep iterating after a failure).
func (a *Annotator) Record(label string, err error) {
	if err == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	labels := append(append([]string(nil), a.stack...), label)
	a.captured = append(a.captured, Captured{Labels: labels, Err: err})
}

// Empty reports whether anything has been captured.
func (a *Annotator) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.captured) == 0
}

// CapturedErrors returns a snapshot of everything captured so far.
func (a *Annotator) CapturedErrors() []Captured {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Captured, len(a.captured))
	copy(out, a.captured)
	return out
}

// CompositeError collapses every captured error into one composite error
// value, or nil if nothing was captured.
type CompositeError struct {
	Message string
	Errors  []Captured
}

func (e *CompositeError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, c := range e.Errors {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%s (%d error(s)): %s", e.Message, len(e.Errors), strings.Join(parts, "; "))
}

// AssertSuccess collapses all captured errors into a *CompositeError, or
// returns nil if the annotator is empty. Used at aggregation points (Run
// completion, RunGroup merge completion, Runner.Run completion).
func (a *Annotator) AssertSuccess(msg string) error {
	errs := a.CapturedErrors()
	if len(errs) == 0 {
		return nil
	}
	return &CompositeError{Message: msg, Errors: errs}
}

func (a *Annotator) push(label string) {
	a.mu.Lock()
	a.stack = append(a.stack, label)
	a.mu.Unlock()
}

func (a *Annotator) pop() {
	a.mu.Lock()
	if len(a.stack) > 0 {
		a.stack = a.stack[:len(a.stack)-1]
	}
	a.mu.Unlock()
}
