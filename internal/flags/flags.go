// Package flags implements the Flags data model (spec.md §3): an ordered,
// deduplicated mapping from --name to an optional value, with set-once
// semantics.
package flags

import (
	"fmt"
	"strings"
)

// entry is one flag's state: a value is present iff hasValue is true,
// distinguishing "--foo" (boolean-style, no value) from "--foo=" (empty
// string value).
type entry struct {
	name     string
	value    string
	hasValue bool
}

// Flags is an ordered, deduplicated --name[=value] set. The zero value is
// ready to use.
type Flags struct {
	order []string
	index map[string]int
	items []entry
}

// New returns an empty Flags set.
func New() *Flags {
	return &Flags{index: map[string]int{}}
}

// Set assigns name=value (or name alone if hasValue is false). Setting an
// already-present flag to the same value is a no-op. Setting it to a
// different value fails unless override is true (spec.md §3 "Flag
// idempotence").
func (f *Flags) Set(name, value string, hasValue, override bool) error {
	if f.index == nil {
		f.index = map[string]int{}
	}
	if idx, ok := f.index[name]; ok {
		existing := f.items[idx]
		if existing.hasValue == hasValue && existing.value == value {
			return nil // idempotent no-op
		}
		if !override {
			return fmt.Errorf("flags: %q already set to %q, override required to change", name, existing.value)
		}
		f.items[idx] = entry{name: name, value: value, hasValue: hasValue}
		return nil
	}
	f.index[name] = len(f.items)
	f.items = append(f.items, entry{name: name, value: value, hasValue: hasValue})
	f.order = append(f.order, name)
	return nil
}

// SetFlag sets a bare boolean-style flag ("--foo", no value).
func (f *Flags) SetFlag(name string, override bool) error {
	return f.Set(name, "", false, override)
}

// SetValue sets name=value.
func (f *Flags) SetValue(name, value string, override bool) error {
	return f.Set(name, value, true, override)
}

// Get returns the value for name and whether it was found and whether it
// carries a value.
func (f *Flags) Get(name string) (value string, hasValue, found bool) {
	idx, ok := f.index[name]
	if !ok {
		return "", false, false
	}
	e := f.items[idx]
	return e.value, e.hasValue, true
}

// Has reports whether name is set at all.
func (f *Flags) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Names returns flag names in set order.
func (f *Flags) Names() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Args renders the flags as a CLI argument list, in set order.
func (f *Flags) Args() []string {
	args := make([]string, 0, len(f.items))
	for _, name := range f.order {
		e := f.items[f.index[name]]
		if e.hasValue {
			args = append(args, fmt.Sprintf("--%s=%s", e.name, e.value))
		} else {
			args = append(args, fmt.Sprintf("--%s", e.name))
		}
	}
	return args
}

// Copy returns an independent copy.
func (f *Flags) Copy() *Flags {
	cp := New()
	for _, name := range f.order {
		e := f.items[f.index[name]]
		_ = cp.Set(e.name, e.value, e.hasValue, true)
	}
	return cp
}

// negatedPair reports whether name looks like a --no-X negation of base.
func negatedPair(name string) (base string, negated bool) {
	if strings.HasPrefix(name, "no-") {
		return strings.TrimPrefix(name, "no-"), true
	}
	return name, false
}

// JSFlags is the Chrome-specific subtype (spec.md §3) recognizing a
// nested --js-flags string and forbidding simultaneous --foo/--no-foo
// pairs within it.
type JSFlags struct {
	Flags
}

// NewJSFlags returns an empty JSFlags set.
func NewJSFlags() *JSFlags {
	return &JSFlags{Flags: *New()}
}

// SetJSFlag sets a V8 flag, rejecting a simultaneous --foo/--no-foo
// conflict (spec.md §3).
func (j *JSFlags) SetJSFlag(name string, override bool) error {
	base, negated := negatedPair(name)
	other := "no-" + base
	if negated {
		other = base
	}
	if j.Has(other) {
		return fmt.Errorf("js-flags: cannot set %q, conflicting flag %q already set", name, other)
	}
	return j.SetFlag(name, override)
}

// String renders the V8 --js-flags value: a comma-joined list of
// --foo/--foo=value entries (without the leading "--").
func (j *JSFlags) String() string {
	parts := make([]string, 0, len(j.order))
	for _, name := range j.order {
		e := j.items[j.index[name]]
		if e.hasValue {
			parts = append(parts, fmt.Sprintf("%s=%s", e.name, e.value))
		} else {
			parts = append(parts, e.name)
		}
	}
	return strings.Join(parts, ",")
}

// ChromeFlags wraps Flags with the nested --js-flags subtype (spec.md
// §3).
type ChromeFlags struct {
	Flags
	JS *JSFlags
}

// NewChromeFlags returns an empty ChromeFlags set.
func NewChromeFlags() *ChromeFlags {
	return &ChromeFlags{Flags: *New(), JS: NewJSFlags()}
}

// Args renders both the top-level flags and, if any JS flags were set, a
// trailing --js-flags entry.
func (c *ChromeFlags) Args() []string {
	args := c.Flags.Args()
	if len(c.JS.order) > 0 {
		args = append(args, fmt.Sprintf("--js-flags=%s", c.JS.String()))
	}
	return args
}
