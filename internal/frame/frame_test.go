package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFrame(t *testing.T, cols ...*Column) *Frame {
	t.Helper()
	f, err := New(cols...)
	require.NoError(t, err)
	return f
}

func TestNewRejectsDuplicatesAndRagged(t *testing.T) {
	_, err := New(NewString("a", []string{"x"}, nil), NewString("a", []string{"y"}, nil))
	assert.Error(t, err)

	_, err = New(NewString("a", []string{"x"}, nil), NewInt64("b", []int64{1, 2}, nil))
	assert.Error(t, err)
}

func TestSelectDropRename(t *testing.T) {
	f := mustFrame(t,
		NewString("id", []string{"a", "b"}, nil),
		NewFloat("tmmx", Float64, []float64{1, 2}, nil),
		NewInt64("n", []int64{3, 4}, nil),
	)

	sel, err := f.Select("n", "id")
	require.NoError(t, err)
	assert.Equal(t, []string{"n", "id"}, sel.Names())

	_, err = f.Select("missing")
	assert.Error(t, err)

	dropped := f.Drop("tmmx", "nope")
	assert.Equal(t, []string{"id", "n"}, dropped.Names())
	assert.Equal(t, 2, dropped.NumRows())

	renamed, err := f.Rename(map[string]string{"tmmx": "Tmax"})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "Tmax", "n"}, renamed.Names())
	assert.True(t, f.Has("tmmx"), "receiver must not change")

	_, err = f.Rename(map[string]string{"tmmx": "id"})
	assert.Error(t, err)

	assert.Equal(t, []string{"x"}, f.Missing("id", "x"))
}

func TestTakeWithMissingIndex(t *testing.T) {
	c := NewFloat("v", Float64, []float64{1.5, 2.5}, nil)
	got := c.Take([]int{1, -1, 0})
	assert.Equal(t, 3, got.Len())
	assert.Equal(t, []string{"2.5", "", "1.5"}, got.Strings())
	assert.True(t, got.IsNull(1))
}

func TestFilter(t *testing.T) {
	f := mustFrame(t, NewString("g", []string{"a", "b", "c"}, nil))
	got := f.Filter([]bool{true, false, true})
	col, _ := got.Column("g")
	assert.Equal(t, []string{"a", "c"}, col.Str)
}

func TestConcatRowsPromotesKinds(t *testing.T) {
	a := mustFrame(t, NewInt64("v", []int64{1}, nil), NewString("g", []string{"x"}, nil))
	b := mustFrame(t, NewString("g", []string{"y"}, nil), NewFloat("v", Float64, []float64{2.5}, []bool{false}))

	got, err := ConcatRows(a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"v", "g"}, got.Names())
	v, _ := got.Column("v")
	assert.Equal(t, Float64, v.Kind)
	assert.Equal(t, []float64{1, 2.5}, v.Float)

	_, err = ConcatRows(a, mustFrame(t, NewInt64("other", []int64{1}, nil)))
	assert.Error(t, err)
}

func TestConcatRowsCarriesNulls(t *testing.T) {
	a := mustFrame(t, NewFloat("v", Float32, []float64{1}, nil))
	b := mustFrame(t, NewFloat("v", Float32, []float64{0, 3}, []bool{true, false}))
	got, err := ConcatRows(a, b)
	require.NoError(t, err)
	v, _ := got.Column("v")
	assert.Equal(t, Float32, v.Kind)
	assert.Equal(t, []bool{false, true, false}, v.Null)
}

func TestConcatColumns(t *testing.T) {
	a := mustFrame(t, NewString("a", []string{"1", "2"}, nil))
	b := mustFrame(t, NewString("b", []string{"3", "4"}, nil))

	got, err := ConcatColumns(a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Names())

	_, err = ConcatColumns(a, a)
	assert.Error(t, err, "duplicate names")

	_, err = ConcatColumns(a, mustFrame(t, NewString("c", []string{"5"}, nil)))
	assert.Error(t, err, "row mismatch")
}

func TestMelt(t *testing.T) {
	d1 := DayOf(time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC))
	wide := mustFrame(t,
		NewDate("Date", []int64{d1, d1 + 1}, nil),
		NewFloat("001", Float64, []float64{1, 2}, nil),
		NewFloat("002", Float64, []float64{3, 4}, nil),
	)

	long, err := Melt(wide, "Date", "GEOID10", "tmmx")
	require.NoError(t, err)
	require.Equal(t, 4, long.NumRows())
	assert.Equal(t, []string{"Date", "GEOID10", "tmmx"}, long.Names())

	dates, _ := long.Column("Date")
	geoids, _ := long.Column("GEOID10")
	vals, _ := long.Column("tmmx")
	assert.Equal(t, []int64{d1, d1 + 1, d1, d1 + 1}, dates.Int)
	assert.Equal(t, []string{"001", "001", "002", "002"}, geoids.Str)
	assert.Equal(t, []float64{1, 2, 3, 4}, vals.Float)
}

func TestFormatIntegralFloat(t *testing.T) {
	c := NewFloat("GEOID10", Float64, []float64{1001020100, 2.25}, nil)
	assert.Equal(t, []string{"1001020100", "2.25"}, c.Strings())
}

func TestBuilderInference(t *testing.T) {
	b := NewBuilder([]string{"id", "x", "name", "when", "empty"})
	b.Append([]string{"1", "1.5", "a", "2010-01-02", ""})
	b.Append([]string{"2", "NA", "b", "bad", ""})
	b.Append([]string{"3", "2"})

	f, err := b.Build(map[string]Kind{"when": Date})
	require.NoError(t, err)

	id, _ := f.Column("id")
	assert.Equal(t, Int64, id.Kind)
	x, _ := f.Column("x")
	assert.Equal(t, Float64, x.Kind)
	assert.True(t, x.IsNull(1))
	name, _ := f.Column("name")
	assert.Equal(t, String, name.Kind)
	assert.True(t, name.IsNull(2))
	when, _ := f.Column("when")
	assert.Equal(t, Date, when.Kind)
	assert.Equal(t, "2010-01-02", when.Format(0))
	assert.True(t, when.IsNull(1))
	empty, _ := f.Column("empty")
	assert.Equal(t, 3, empty.NullCount())
}

func TestParseDate(t *testing.T) {
	want := DayOf(time.Date(2012, 7, 4, 0, 0, 0, 0, time.UTC))
	for _, in := range []string{"2012-07-04", "2012-07-04 13:00:00", "07/04/2012", "20120704", "04jul2012"} {
		got, ok := ParseDate(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseDate("not a date")
	assert.False(t, ok)
	assert.Equal(t, "2012-07-04", FormatDay(want))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Float32")
	require.NoError(t, err)
	assert.Equal(t, Float32, k)
	_, err = ParseKind("complex")
	assert.Error(t, err)
}

func TestParseDatesColumn(t *testing.T) {
	numeric := ParseDates(NewInt64("d", []int64{20160101, 7}, nil))
	assert.Equal(t, Date, numeric.Kind)
	assert.Equal(t, "2016-01-01", FormatDay(numeric.Int[0]))
	assert.True(t, numeric.IsNull(1))

	text := ParseDates(NewString("d", []string{"2016-02-29", "garbage"}, nil))
	assert.Equal(t, "2016-02-29", FormatDay(text.Int[0]))
	assert.True(t, text.IsNull(1))
}
