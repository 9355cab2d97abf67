package run

import (
	"encoding/json"
	"sync"
	"time"
)

// Durations is the per-Run duration ledger (spec.md §3): a label →
// elapsed-seconds mapping, populated by Action spans and read back by the
// durations meta-probe (spec.md §4.4).
type Durations struct {
	mu     sync.Mutex
	order  []string
	values map[string]time.Duration
}

// NewDurations returns an empty ledger.
func NewDurations() *Durations {
	return &Durations{values: map[string]time.Duration{}}
}

// Record stores (or overwrites) the duration for label. Satisfies
// actions.DurationRecorder.
func (d *Durations) Record(label string, elapsed time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.values[label]; !ok {
		d.order = append(d.order, label)
	}
	d.values[label] = elapsed
}

// Snapshot returns label → seconds as a map; the recording order is not
// kept.
func (d *Durations) Snapshot() map[string]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]float64, len(d.values))
	for _, label := range d.order {
		out[label] = d.values[label].Seconds()
	}
	return out
}

// MarshalJSON renders {label: seconds, ...} per spec.md §6.
func (d *Durations) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Snapshot())
}
