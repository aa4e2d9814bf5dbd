// Package frame provides the in-memory columnar table shared by the readers,
// the joiner and the writers.
package frame

import (
	"fmt"
	"sort"
)

// Frame is an ordered set of equal-length, uniquely named columns.
// Operations never mutate their receiver.
type Frame struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// New builds a frame from cols. Column names must be unique and all columns
// must have the same length.
func New(cols ...*Column) (*Frame, error) {
	f := &Frame{cols: make([]*Column, 0, len(cols)), index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if _, dup := f.index[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		if i == 0 {
			f.rows = c.Len()
		} else if c.Len() != f.rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", c.Name, c.Len(), f.rows)
		}
		f.index[c.Name] = len(f.cols)
		f.cols = append(f.cols, c)
	}
	return f, nil
}

// NumRows returns the row count.
func (f *Frame) NumRows() int { return f.rows }

// NumCols returns the column count.
func (f *Frame) NumCols() int { return len(f.cols) }

// Names returns the column names in order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

// Columns returns the columns in order. The slice must not be modified.
func (f *Frame) Columns() []*Column { return f.cols }

// Column looks up a column by name.
func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.cols[i], true
}

// Has reports whether every name is a column of f.
func (f *Frame) Has(names ...string) bool {
	for _, name := range names {
		if _, ok := f.index[name]; !ok {
			return false
		}
	}
	return true
}

// Missing returns the names that are not columns of f, in input order.
func (f *Frame) Missing(names ...string) []string {
	var missing []string
	for _, name := range names {
		if _, ok := f.index[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Select returns a frame holding only the named columns in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	cols := make([]*Column, 0, len(names))
	for _, name := range names {
		c, ok := f.Column(name)
		if !ok {
			return nil, fmt.Errorf("column %q not found", name)
		}
		cols = append(cols, c)
	}
	out, err := New(cols...)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		out.rows = f.rows
	}
	return out, nil
}

// Drop returns f without the named columns. Unknown names are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	drop := make(map[string]struct{}, len(names))
	for _, name := range names {
		drop[name] = struct{}{}
	}
	cols := make([]*Column, 0, len(f.cols))
	for _, c := range f.cols {
		if _, ok := drop[c.Name]; !ok {
			cols = append(cols, c)
		}
	}
	out, _ := New(cols...)
	if len(cols) == 0 {
		out.rows = f.rows
	}
	return out
}

// Rename applies an old-to-new name mapping. Names absent from f are ignored.
func (f *Frame) Rename(mapping map[string]string) (*Frame, error) {
	cols := make([]*Column, len(f.cols))
	for i, c := range f.cols {
		if to, ok := mapping[c.Name]; ok && to != c.Name {
			cols[i] = c.WithName(to)
			continue
		}
		cols[i] = c
	}
	return New(cols...)
}

// WithColumn returns f with c appended, or replacing the column of the same
// name in place.
func (f *Frame) WithColumn(c *Column) (*Frame, error) {
	if len(f.cols) > 0 && c.Len() != f.rows {
		return nil, fmt.Errorf("column %q has %d rows, expected %d", c.Name, c.Len(), f.rows)
	}
	cols := make([]*Column, len(f.cols), len(f.cols)+1)
	copy(cols, f.cols)
	if i, ok := f.index[c.Name]; ok {
		cols[i] = c
	} else {
		cols = append(cols, c)
	}
	return New(cols...)
}

// Take gathers rows by index. A negative index yields a row of missing
// values.
func (f *Frame) Take(idx []int) *Frame {
	cols := make([]*Column, len(f.cols))
	for i, c := range f.cols {
		cols[i] = c.Take(idx)
	}
	out, _ := New(cols...)
	out.rows = len(idx)
	return out
}

// Filter keeps the rows where keep is true.
func (f *Frame) Filter(keep []bool) *Frame {
	idx := make([]int, 0, len(keep))
	for i, k := range keep {
		if k {
			idx = append(idx, i)
		}
	}
	return f.Take(idx)
}

// MemoryBytes estimates the heap footprint of all columns.
func (f *Frame) MemoryBytes() int64 {
	var n int64
	for _, c := range f.cols {
		n += c.MemoryBytes()
	}
	return n
}

// ConcatRows stacks frames vertically. The first non-empty frame fixes the
// column order; every other frame must carry the same column names. Kinds
// that differ between frames are promoted.
func ConcatRows(frames ...*Frame) (*Frame, error) {
	var parts []*Frame
	for _, fr := range frames {
		if fr != nil && fr.NumCols() > 0 {
			parts = append(parts, fr)
		}
	}
	if len(parts) == 0 {
		return New()
	}
	if len(parts) == 1 {
		return parts[0], nil
	}

	head := parts[0]
	names := head.Names()
	total := 0
	for _, p := range parts {
		if p.NumCols() != len(names) || !p.Has(names...) {
			return nil, fmt.Errorf("cannot concatenate frames with columns %v and %v", names, p.Names())
		}
		total += p.NumRows()
	}

	cols := make([]*Column, len(names))
	for i, name := range names {
		kind := head.cols[i].Kind
		for _, p := range parts[1:] {
			c, _ := p.Column(name)
			kind = promote(kind, c.Kind)
		}
		out := Empty(name, kind, total)
		var null []bool
		offset := 0
		for _, p := range parts {
			c, _ := p.Column(name)
			c = c.Convert(kind)
			if c.Null != nil {
				if null == nil {
					null = make([]bool, total)
				}
				copy(null[offset:], c.Null)
			}
			switch kind {
			case String:
				out.Str = append(out.Str, c.Str...)
			case Int64, Date:
				out.Int = append(out.Int, c.Int...)
			default:
				out.Float = append(out.Float, c.Float...)
			}
			offset += c.Len()
		}
		out.Null = null
		cols[i] = out
	}
	return New(cols...)
}

// ConcatColumns joins frames side by side. All frames must have the same
// row count and no column name may repeat.
func ConcatColumns(frames ...*Frame) (*Frame, error) {
	var cols []*Column
	rows := -1
	for _, fr := range frames {
		if fr == nil {
			continue
		}
		if rows >= 0 && fr.NumRows() != rows {
			return nil, fmt.Errorf("cannot concatenate columns: %d rows vs %d rows", fr.NumRows(), rows)
		}
		rows = fr.NumRows()
		cols = append(cols, fr.cols...)
	}
	return New(cols...)
}

// Melt reshapes a wide frame to long form. idCol is kept; every other
// column becomes one block of rows with its name in varName and its values
// in valueName. Blocks follow column order and rows keep their order within
// each block. Value columns are promoted to a common kind.
func Melt(f *Frame, idCol, varName, valueName string) (*Frame, error) {
	id, ok := f.Column(idCol)
	if !ok {
		return nil, fmt.Errorf("column %q not found", idCol)
	}
	var values []*Column
	for _, c := range f.cols {
		if c.Name != idCol {
			values = append(values, c)
		}
	}
	if len(values) == 0 {
		return New(
			Empty(idCol, id.Kind, 0),
			Empty(varName, String, 0),
			Empty(valueName, Float64, 0),
		)
	}

	kind := values[0].Kind
	for _, c := range values[1:] {
		kind = promote(kind, c.Kind)
	}

	n := f.rows
	total := n * len(values)
	idx := make([]int, 0, total)
	vars := make([]string, 0, total)
	for _, c := range values {
		for i := 0; i < n; i++ {
			idx = append(idx, i)
			vars = append(vars, c.Name)
		}
	}

	valueParts := make([]*Frame, len(values))
	for i, c := range values {
		part, err := New(c.Convert(kind).WithName(valueName))
		if err != nil {
			return nil, err
		}
		valueParts[i] = part
	}
	stacked, err := ConcatRows(valueParts...)
	if err != nil {
		return nil, err
	}
	valueCol, _ := stacked.Column(valueName)

	return New(id.Take(idx), NewString(varName, vars, nil), valueCol)
}

// SortedNames returns the column names in lexical order.
func (f *Frame) SortedNames() []string {
	names := f.Names()
	sort.Strings(names)
	return names
}
