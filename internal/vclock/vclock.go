// Package vclock implements per-device vector clocks used to detect
// concurrent edits of the same secret on independent devices.
package vclock

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Ordering is the result of comparing two clocks.
type Ordering int

const (
	Equal      Ordering = iota
	Before              // a < b: b dominates
	After               // a > b: a dominates
	Concurrent          // neither dominates
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "concurrent"
	}
}

// Clock maps a device id to its logical counter. A missing entry is zero.
// Clocks are values: every method returns a new map and never mutates the
// receiver.
type Clock map[string]uint64

// Increment returns a copy of c with device's counter advanced by one.
func (c Clock) Increment(device string) Clock {
	out := c.Copy()
	out[device]++
	return out
}

// Copy returns an independent copy of c; a nil clock copies to an empty one.
func (c Clock) Copy() Clock {
	out := make(Clock, len(c)+1)
	maps.Copy(out, c)
	return out
}

// Merge returns the pointwise maximum of c and other.
func (c Clock) Merge(other Clock) Clock {
	out := c.Copy()
	for d, n := range other {
		if n > out[d] {
			out[d] = n
		}
	}
	return out
}

// Compare orders a against b using the dominance rule: a dominates b when
// every entry of a is >= the matching entry of b and at least one is >.
func Compare(a, b Clock) Ordering {
	aGreater, bGreater := false, false
	for d, n := range a {
		m := b[d]
		if n > m {
			aGreater = true
		} else if n < m {
			bGreater = true
		}
	}
	for d, m := range b {
		if _, ok := a[d]; !ok && m > 0 {
			bGreater = true
		}
	}
	switch {
	case aGreater && bGreater:
		return Concurrent
	case aGreater:
		return After
	case bGreater:
		return Before
	default:
		return Equal
	}
}

// Dominates reports whether c strictly dominates other.
func (c Clock) Dominates(other Clock) bool { return Compare(c, other) == After }

// Descends reports whether c is equal to or dominates other.
func (c Clock) Descends(other Clock) bool {
	o := Compare(c, other)
	return o == After || o == Equal
}

// String renders the clock deterministically, e.g. "{a:2 b:1}".
func (c Clock) String() string {
	keys := slices.Sorted(maps.Keys(c))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, c[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// Encode returns the canonical JSON form (encoding/json sorts map keys).
func (c Clock) Encode() ([]byte, error) {
	if c == nil {
		c = Clock{}
	}
	return json.Marshal(map[string]uint64(c))
}

// Decode parses the output of Encode. Empty input yields an empty clock.
func Decode(b []byte) (Clock, error) {
	c := Clock{}
	if len(b) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode vector clock: %w", err)
	}
	return c, nil
}
