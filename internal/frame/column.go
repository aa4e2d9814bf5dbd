package frame

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the storage type of a column.
type Kind uint8

const (
	String Kind = iota
	Int64
	Float64
	Float32
	Date
)

var kindNames = map[Kind]string{
	String:  "string",
	Int64:   "int64",
	Float64: "float64",
	Float32: "float32",
	Date:    "date",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Numeric reports whether values of k are held in Int or Float.
func (k Kind) Numeric() bool {
	return k == Int64 || k == Float64 || k == Float32
}

// ParseKind resolves a kind name such as "float32".
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return String, fmt.Errorf("unknown column kind %q", s)
}

// Column is one named, typed vector. Exactly one of Str, Int or Float backs
// the values depending on Kind: Int holds Int64 and Date (days since
// 1970-01-01), Float holds Float64 and Float32. Null is nil when the column
// has no missing values.
type Column struct {
	Name  string
	Kind  Kind
	Str   []string
	Int   []int64
	Float []float64
	Null  []bool
}

// NewString creates a string column.
func NewString(name string, vals []string, null []bool) *Column {
	return &Column{Name: name, Kind: String, Str: vals, Null: null}
}

// NewInt64 creates an integer column.
func NewInt64(name string, vals []int64, null []bool) *Column {
	return &Column{Name: name, Kind: Int64, Int: vals, Null: null}
}

// NewFloat creates a Float64 or Float32 column.
func NewFloat(name string, kind Kind, vals []float64, null []bool) *Column {
	if kind != Float32 {
		kind = Float64
	}
	return &Column{Name: name, Kind: kind, Float: vals, Null: null}
}

// NewDate creates a date column from day numbers.
func NewDate(name string, days []int64, null []bool) *Column {
	return &Column{Name: name, Kind: Date, Int: days, Null: null}
}

// Empty creates a zero-length column with room for capacity values.
func Empty(name string, kind Kind, capacity int) *Column {
	c := &Column{Name: name, Kind: kind}
	switch kind {
	case String:
		c.Str = make([]string, 0, capacity)
	case Int64, Date:
		c.Int = make([]int64, 0, capacity)
	default:
		c.Float = make([]float64, 0, capacity)
	}
	return c
}

// Len returns the number of values.
func (c *Column) Len() int {
	switch c.Kind {
	case String:
		return len(c.Str)
	case Int64, Date:
		return len(c.Int)
	default:
		return len(c.Float)
	}
}

// IsNull reports whether row i is missing.
func (c *Column) IsNull(i int) bool {
	return c.Null != nil && c.Null[i]
}

// NullCount returns the number of missing values.
func (c *Column) NullCount() int {
	n := 0
	for _, null := range c.Null {
		if null {
			n++
		}
	}
	return n
}

// Format renders row i as text. Missing values render as "".
func (c *Column) Format(i int) string {
	if c.IsNull(i) {
		return ""
	}
	switch c.Kind {
	case String:
		return c.Str[i]
	case Int64:
		return strconv.FormatInt(c.Int[i], 10)
	case Date:
		return FormatDay(c.Int[i])
	case Float32:
		return strconv.FormatFloat(c.Float[i], 'f', -1, 32)
	default:
		return strconv.FormatFloat(c.Float[i], 'f', -1, 64)
	}
}

// Strings renders every row with Format.
func (c *Column) Strings() []string {
	out := make([]string, c.Len())
	for i := range out {
		out[i] = c.Format(i)
	}
	return out
}

// WithName returns a shallow copy of c under a new name.
func (c *Column) WithName(name string) *Column {
	cp := *c
	cp.Name = name
	return &cp
}

// Take gathers the rows at idx into a new column. A negative index yields a
// missing value.
func (c *Column) Take(idx []int) *Column {
	out := Empty(c.Name, c.Kind, len(idx))
	var null []bool
	for j, i := range idx {
		if i < 0 || c.IsNull(i) {
			if null == nil {
				null = make([]bool, len(idx))
			}
			null[j] = true
			out.appendZero()
			continue
		}
		out.appendValue(c, i)
	}
	out.Null = null
	return out
}

// Filter keeps the rows where keep is true.
func (c *Column) Filter(keep []bool) *Column {
	idx := make([]int, 0, len(keep))
	for i, k := range keep {
		if k {
			idx = append(idx, i)
		}
	}
	return c.Take(idx)
}

// Convert returns c coerced to kind. Values that cannot be represented in
// the target kind become missing.
func (c *Column) Convert(kind Kind) *Column {
	if c.Kind == kind || (c.Kind.Numeric() && kind.Numeric() && kind != Int64 && c.Kind != Int64) {
		if c.Kind == kind {
			return c
		}
		out := c.WithName(c.Name)
		out.Kind = kind
		if kind == Float32 {
			out.Float = make([]float64, len(c.Float))
			for i, v := range c.Float {
				out.Float[i] = float64(float32(v))
			}
		}
		return out
	}

	n := c.Len()
	out := Empty(c.Name, kind, n)
	null := make([]bool, n)
	anyNull := false
	for i := 0; i < n; i++ {
		if c.IsNull(i) {
			null[i] = true
			anyNull = true
			out.appendZero()
			continue
		}
		if !out.appendConverted(c, i) {
			null[i] = true
			anyNull = true
			out.appendZero()
		}
	}
	if anyNull {
		out.Null = null
	}
	return out
}

// MemoryBytes estimates the heap footprint of the column.
func (c *Column) MemoryBytes() int64 {
	var n int64
	switch c.Kind {
	case String:
		n = int64(len(c.Str)) * 16
		for _, s := range c.Str {
			n += int64(len(s))
		}
	case Int64, Date:
		n = int64(len(c.Int)) * 8
	default:
		n = int64(len(c.Float)) * 8
	}
	return n + int64(len(c.Null))
}

func (c *Column) appendZero() {
	switch c.Kind {
	case String:
		c.Str = append(c.Str, "")
	case Int64, Date:
		c.Int = append(c.Int, 0)
	default:
		c.Float = append(c.Float, 0)
	}
}

// appendValue copies row i of src, which must share c's storage kind.
func (c *Column) appendValue(src *Column, i int) {
	switch c.Kind {
	case String:
		c.Str = append(c.Str, src.Str[i])
	case Int64, Date:
		c.Int = append(c.Int, src.Int[i])
	default:
		c.Float = append(c.Float, src.Float[i])
	}
}

func (c *Column) appendConverted(src *Column, i int) bool {
	switch c.Kind {
	case String:
		c.Str = append(c.Str, src.Format(i))
		return true
	case Date:
		switch src.Kind {
		case String:
			day, ok := ParseDate(src.Str[i])
			if !ok {
				return false
			}
			c.Int = append(c.Int, day)
			return true
		case Int64:
			c.Int = append(c.Int, src.Int[i])
			return true
		}
		return false
	case Int64:
		switch src.Kind {
		case String:
			v, err := strconv.ParseInt(strings.TrimSpace(src.Str[i]), 10, 64)
			if err != nil {
				return false
			}
			c.Int = append(c.Int, v)
			return true
		case Float64, Float32:
			v := src.Float[i]
			if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
				return false
			}
			c.Int = append(c.Int, int64(v))
			return true
		case Date:
			c.Int = append(c.Int, src.Int[i])
			return true
		}
		return false
	default:
		var v float64
		switch src.Kind {
		case String:
			f, err := strconv.ParseFloat(strings.TrimSpace(src.Str[i]), 64)
			if err != nil {
				return false
			}
			v = f
		case Int64, Date:
			v = float64(src.Int[i])
		default:
			v = src.Float[i]
		}
		if math.IsNaN(v) {
			return false
		}
		if c.Kind == Float32 {
			v = float64(float32(v))
		}
		c.Float = append(c.Float, v)
		return true
	}
}

// promote returns the narrowest kind able to hold values of both a and b.
func promote(a, b Kind) Kind {
	switch {
	case a == b:
		return a
	case a.Numeric() && b.Numeric():
		if a == Float32 && b == Float32 {
			return Float32
		}
		return Float64
	default:
		return String
	}
}
