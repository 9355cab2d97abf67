// Package actions implements the Action scope (spec.md §4.6): a named,
// timed, error-annotated span of work inside a Story.run, wrapping the
// active Browser's js/navigate operations and a wait_js_condition poll.
// Grounded on original_source/crossbench/runner.py's
// Actions(helper.TimeScope).
package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crossbench-org/crossbench-go/internal/annotator"
	"github.com/crossbench-org/crossbench-go/internal/security"
	"github.com/crossbench-org/crossbench-go/internal/timing"
)

// Browser is the narrow surface Actions needs from the active browser
// session, avoiding an import cycle onto internal/browser.
type Browser interface {
	JS(ctx context.Context, script string, args ...any) (any, error)
	Navigate(ctx context.Context, url string) error
}

// DurationRecorder receives the committed duration of one Action on exit.
// Implemented by *run.Run (spec.md §3 "a Durations ledger").
type DurationRecorder interface {
	Record(label string, d time.Duration)
}

// Actions is the per-span handle passed to a Story's callback. Not safe
// for concurrent use — one Action span runs at a time within a Story.run,
// matching spec.md's "opaque, single-threaded" Story execution.
type Actions struct {
	browser Browser
	timing  timing.Timing
	label   string
}

// Run opens a named Action span: pushes an error-annotation label, starts
// a duration timer, emits a progress message, invokes fn, then commits the
// duration and unwinds the annotation regardless of outcome (spec.md
// §4.6 "Entering... Exiting").
func Run(ctx context.Context, ann *annotator.Annotator, durations DurationRecorder, t timing.Timing, browser Browser, label string, fn func(context.Context, *Actions) error) error {
	a := &Actions{browser: browser, timing: t, label: label}
	log.Debug().Str("action", label).Msg("action started")
	start := time.Now()

	err := ann.Capture(label, func() error {
		return fn(ctx, a)
	})

	elapsed := time.Since(start)
	if durations != nil {
		durations.Record(label, elapsed)
	}
	log.Debug().Str("action", label).Dur("elapsed", elapsed).Msg("action finished")
	return err
}

// JS runs code in the active browser, formatting the suspension timeout
// via the shared Timing unit (spec.md §4.6).
func (a *Actions) JS(ctx context.Context, code string, timeoutUnits float64, args ...any) (any, error) {
	if timeoutUnits > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timing.Duration(timeoutUnits))
		defer cancel()
	}
	result, err := a.browser.JS(ctx, code, args...)
	if err != nil {
		return nil, fmt.Errorf("actions %q: js failed: %w", a.label, err)
	}
	return result, nil
}

// WaitJSCondition polls code (which must `return` a value) with
// exponential backoff inside [min, max] seconds, succeeding on a truthy
// return and failing on timeout or a non-boolean return (spec.md §4.6).
func (a *Actions) WaitJSCondition(ctx context.Context, code string, min, max float64) error {
	return timing.Backoff(ctx, a.timing, min, max, func(ctx context.Context) (bool, error) {
		result, err := a.browser.JS(ctx, code)
		if err != nil {
			return false, fmt.Errorf("actions %q: wait_js_condition eval failed: %w", a.label, err)
		}
		truth, ok := result.(bool)
		if !ok {
			return false, fmt.Errorf("actions %q: wait_js_condition returned non-boolean %T", a.label, result)
		}
		return truth, nil
	})
}

// NavigateTo loads url in the active browser. The URL is story-supplied,
// external input (spec.md §1), so it is redacted before it ever reaches a
// log line.
func (a *Actions) NavigateTo(ctx context.Context, url string) error {
	log.Debug().Str("action", a.label).Str("url", security.RedactURL(url)).Msg("navigating")
	if err := a.browser.Navigate(ctx, url); err != nil {
		return fmt.Errorf("actions %q: navigate_to failed: %w", a.label, err)
	}
	return nil
}

// Wait blocks for seconds, scaled via the shared Timing unit.
func (a *Actions) Wait(ctx context.Context, seconds float64) error {
	return timing.Sleep(ctx, a.timing, seconds)
}
