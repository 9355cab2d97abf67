// Package probe implements the Probe / ProbeScope / ProbeResult /
// ProbeResultDict contract (spec.md §3, §4.3), grounded on
// original_source/crossbench/probes/results.py.
package probe

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ResultLocation indicates where a ProbeScope writes its artifacts:
// directly into the Run's local out_dir, or into the browser-side tmp
// dir, transferred during teardown (spec.md §3, §4.3).
type ResultLocation int

const (
	ResultLocationLocal ResultLocation = iota
	ResultLocationBrowser
)

// Result holds the four disjoint lists of artifacts a ProbeScope
// produces: generic files, JSON files, CSV files, and URLs. Immutable
// after construction except for Merge, which returns a new value
// (spec.md §3 "ProbeResults are value-like").
type Result struct {
	files []string
	json  []string
	csv   []string
	urls  []string
}

// Empty is the zero Result.
var Empty = Result{}

// NewResult validates and constructs a Result. Every listed .json/.csv
// path must appear only in its typed list, and every listed file must
// exist on disk at construction time (spec.md §3 invariants).
func NewResult(files, jsonFiles, csvFiles, urls []string) (Result, error) {
	r := Result{
		files: append([]string(nil), files...),
		json:  append([]string(nil), jsonFiles...),
		csv:   append([]string(nil), csvFiles...),
		urls:  append([]string(nil), urls...),
	}
	if err := r.validate(); err != nil {
		return Result{}, err
	}
	return r, nil
}

func (r Result) validate() error {
	for _, f := range r.files {
		if strings.HasSuffix(f, ".json") {
			return fmt.Errorf("probe result: %q has .json suffix but is in the generic files list", f)
		}
		if strings.HasSuffix(f, ".csv") {
			return fmt.Errorf("probe result: %q has .csv suffix but is in the generic files list", f)
		}
		if err := mustExist(f); err != nil {
			return err
		}
	}
	for _, f := range r.json {
		if !strings.HasSuffix(f, ".json") {
			return fmt.Errorf("probe result: %q is in the json list but lacks .json suffix", f)
		}
		if err := mustExist(f); err != nil {
			return err
		}
	}
	for _, f := range r.csv {
		if !strings.HasSuffix(f, ".csv") {
			return fmt.Errorf("probe result: %q is in the csv list but lacks .csv suffix", f)
		}
		if err := mustExist(f); err != nil {
			return err
		}
	}
	return nil
}

func mustExist(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("probe result: listed file %q does not exist: %w", path, err)
	}
	return nil
}

// IsEmpty reports whether all four lists are empty.
func (r Result) IsEmpty() bool {
	return len(r.files) == 0 && len(r.json) == 0 && len(r.csv) == 0 && len(r.urls) == 0
}

// Merge concatenates all four lists and returns a new Result.
func (r Result) Merge(other Result) Result {
	return Result{
		files: append(append([]string(nil), r.files...), other.files...),
		json:  append(append([]string(nil), r.json...), other.json...),
		csv:   append(append([]string(nil), r.csv...), other.csv...),
		urls:  append(append([]string(nil), r.urls...), other.urls...),
	}
}

// Files returns the generic file list.
func (r Result) Files() []string { return append([]string(nil), r.files...) }

// JSONFiles returns the .json file list.
func (r Result) JSONFiles() []string { return append([]string(nil), r.json...) }

// CSVFiles returns the .csv file list.
func (r Result) CSVFiles() []string { return append([]string(nil), r.csv...) }

// URLs returns the url list.
func (r Result) URLs() []string { return append([]string(nil), r.urls...) }

// File returns the single generic file, if exactly one is present
// (spec.md §3 "singular vs plural accessors").
func (r Result) File() (string, bool) {
	if len(r.files) == 1 {
		return r.files[0], true
	}
	return "", false
}

// JSON returns the single json file, if exactly one is present.
func (r Result) JSON() (string, bool) {
	if len(r.json) == 1 {
		return r.json[0], true
	}
	return "", false
}

// MarshalJSON renders {file:[...], json:[...], csv:[...], url:[...]}
// matching spec.md §6's per-probe shape, or null if empty.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.IsEmpty() {
		return []byte("null"), nil
	}
	return json.Marshal(struct {
		File []string `json:"file"`
		JSON []string `json:"json"`
		CSV  []string `json:"csv"`
		URL  []string `json:"url"`
	}{
		File: nonNil(r.files),
		JSON: nonNil(r.json),
		CSV:  nonNil(r.csv),
		URL:  nonNil(r.urls),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Dict maps probe name to Result, owned by a Run or a RunGroup (spec.md
// §3). Keyed by probe name, not the probe object, matching
// ProbeResultDict.__setitem__ in the original source.
type Dict struct {
	order []string
	items map[string]Result
}

// NewDict returns an empty Dict.
func NewDict() *Dict {
	return &Dict{items: map[string]Result{}}
}

// Set stores result under name, appending name to iteration order on
// first use.
func (d *Dict) Set(name string, r Result) {
	if d.items == nil {
		d.items = map[string]Result{}
	}
	if _, ok := d.items[name]; !ok {
		d.order = append(d.order, name)
	}
	d.items[name] = r
}

// Get returns the result stored under name.
func (d *Dict) Get(name string) (Result, bool) {
	r, ok := d.items[name]
	return r, ok
}

// Names returns probe names in insertion order.
func (d *Dict) Names() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// MarshalJSON renders {probe_name: Result, ...}.
func (d *Dict) MarshalJSON() ([]byte, error) {
	out := map[string]Result{}
	for _, name := range d.order {
		out[name] = d.items[name]
	}
	return json.Marshal(out)
}
