// Package timing provides the Timing unit shared by the engine's polling
// loops and duration bookkeeping. Tests can compress real durations by
// constructing a Timing with a Scale below 1.
package timing

import (
	"context"
	"math/rand"
	"time"
)

// Timing scales and bounds every sleep the engine performs, so a test
// harness can run exponential-backoff polling loops in milliseconds instead
// of real seconds without touching the algorithms themselves.
type Timing struct {
	// Scale multiplies every requested duration. 1.0 is real time.
	Scale float64
	// Unit is the nominal unit durations are expressed in (seconds, per
	// spec.md's "format timeout via the Runner's Timing unit").
	Unit time.Duration
}

// Default returns the real-time Timing unit: one second per unit, no
// scaling.
func Default() Timing {
	return Timing{Scale: 1.0, Unit: time.Second}
}

// Scaled returns a Timing that compresses real durations by scale (e.g.
// 0.01 makes a 60s bound resolve in 600ms), for use in tests.
func Scaled(scale float64) Timing {
	return Timing{Scale: scale, Unit: time.Second}
}

// Duration converts a count of Timing.Unit into a wall-clock Duration.
func (t Timing) Duration(units float64) time.Duration {
	scale := t.Scale
	if scale <= 0 {
		scale = 1.0
	}
	unit := t.Unit
	if unit <= 0 {
		unit = time.Second
	}
	return time.Duration(units * scale * float64(unit))
}

// Sleep blocks for d (passed through Duration) or until ctx is cancelled,
// whichever comes first. Uses time.NewTimer rather than time.After so the
// timer is always stopped and does not leak until GC.
func Sleep(ctx context.Context, t Timing, units float64) error {
	d := t.Duration(units)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff implements the exponential-backoff poll used by
// wait_js_condition and thermal cooldown: call poll repeatedly with
// growing delays bounded to [min, max] units until it returns true, an
// error, or the overall deadline (max units from the start) elapses.
//
// factor controls growth between attempts; 1.6 matches the teacher's
// humanize.Timing jitter curve.
func Backoff(ctx context.Context, t Timing, min, max float64, poll func(context.Context) (bool, error)) error {
	if min <= 0 {
		min = 0.1
	}
	if max < min {
		max = min
	}
	deadline := time.Now().Add(t.Duration(max))
	delay := min
	const factor = 1.6

	for {
		ok, err := poll(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return context.DeadlineExceeded
		}
		jittered := delay * (0.85 + 0.3*rand.Float64())
		if sleepErr := Sleep(ctx, t, jittered); sleepErr != nil {
			return sleepErr
		}
		delay *= factor
		if delay > max {
			delay = max
		}
	}
}
