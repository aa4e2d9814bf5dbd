// Package geoid normalizes geographic unit identifiers.
//
// Census tract GEOIDs are fixed-width 11-digit strings. Source files routinely
// store them as integers, which drops the leading zero of every state code
// below 10, so every key that takes part in a join goes through Pad or
// Normalize first.
package geoid

import (
	"sort"
	"strings"
)

// Width is the canonical GEOID length.
const Width = 11

// Pad left-pads s with zeros to Width characters. Strings already at or over
// Width are returned unchanged, so Pad is idempotent.
func Pad(s string) string {
	if len(s) >= Width {
		return s
	}
	return strings.Repeat("0", Width-len(s)) + s
}

// Normalize keeps only the digits of s and pads the result. Values with no
// digits at all (including "nan", "None" and "<NA>" markers) become "".
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(Width)
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return Pad(b.String())
}

// Set is an allow-set of padded GEOIDs.
type Set map[string]struct{}

// NewSet builds a set from ids, padding each one.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add pads id and inserts it. Empty ids are ignored.
func (s Set) Add(id string) {
	if id == "" {
		return
	}
	s[Pad(id)] = struct{}{}
}

// Contains reports whether the already padded id is in the set.
func (s Set) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of ids in the set.
func (s Set) Len() int { return len(s) }

// Sorted returns the ids in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
