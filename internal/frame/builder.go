package frame

import (
	"strconv"
	"strings"
)

// nullMarkers are cell texts read as missing regardless of column kind.
var nullMarkers = map[string]struct{}{
	"":     {},
	"NA":   {},
	"N/A":  {},
	"NaN":  {},
	"nan":  {},
	"null": {},
	"NULL": {},
	"None": {},
	"<NA>": {},
	"#N/A": {},
	".":    {},
}

// IsNullText reports whether a text cell denotes a missing value.
func IsNullText(s string) bool {
	_, ok := nullMarkers[strings.TrimSpace(s)]
	return ok
}

// Builder accumulates text rows and types them on Build.
type Builder struct {
	names []string
	cells [][]string
}

// NewBuilder creates a builder for the named columns.
func NewBuilder(names []string) *Builder {
	return &Builder{names: names, cells: make([][]string, len(names))}
}

// Append adds one row. Short rows are padded with missing values.
func (b *Builder) Append(row []string) {
	for i := range b.names {
		v := ""
		if i < len(row) {
			v = row[i]
		}
		b.cells[i] = append(b.cells[i], v)
	}
}

// Len returns the number of rows appended so far.
func (b *Builder) Len() int {
	if len(b.cells) == 0 {
		return 0
	}
	return len(b.cells[0])
}

// Reset drops accumulated rows and keeps the column names.
func (b *Builder) Reset() {
	for i := range b.cells {
		b.cells[i] = nil
	}
}

// Build types every column and returns the frame. Columns named in hints
// take the hinted kind; the rest are inferred as Int64, then Float64, then
// String.
func (b *Builder) Build(hints map[string]Kind) (*Frame, error) {
	cols := make([]*Column, len(b.names))
	for i, name := range b.names {
		raw := b.cells[i]
		null := make([]bool, len(raw))
		anyNull := false
		for j, v := range raw {
			if IsNullText(v) {
				null[j] = true
				anyNull = true
			}
		}
		if !anyNull {
			null = nil
		}
		text := NewString(name, raw, null)

		kind, ok := hints[name]
		if !ok {
			kind = InferKind(raw)
		}
		cols[i] = text.Convert(kind)
	}
	return New(cols...)
}

// InferKind picks the narrowest kind able to hold every non-missing value.
func InferKind(values []string) Kind {
	kind := Int64
	seen := false
	for _, v := range values {
		if IsNullText(v) {
			continue
		}
		seen = true
		v = strings.TrimSpace(v)
		if kind == Int64 {
			if _, err := strconv.ParseInt(v, 10, 64); err == nil {
				continue
			}
			kind = Float64
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return String
		}
	}
	if !seen {
		return Float64
	}
	return kind
}
