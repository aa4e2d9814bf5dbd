package tabio

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"stitch/internal/frame"
)

// frameFromRecord converts one Arrow record batch.
func frameFromRecord(rec arrow.Record) (*frame.Frame, error) {
	schema := rec.Schema()
	cols := make([]*frame.Column, rec.NumCols())
	for i := range cols {
		c, err := columnFromArrow(schema.Field(i).Name, []arrow.Array{rec.Column(i)})
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return frame.New(cols...)
}

// frameFromTable converts a whole Arrow table.
func frameFromTable(tbl arrow.Table) (*frame.Frame, error) {
	schema := tbl.Schema()
	cols := make([]*frame.Column, tbl.NumCols())
	for i := range cols {
		c, err := columnFromArrow(schema.Field(i).Name, tbl.Column(i).Data().Chunks())
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return frame.New(cols...)
}

// kindOf maps an Arrow type to the frame kind holding its values.
func kindOf(dt arrow.DataType) (frame.Kind, error) {
	switch dt.ID() {
	case arrow.STRING, arrow.LARGE_STRING, arrow.BINARY, arrow.LARGE_BINARY:
		return frame.String, nil
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64, arrow.BOOL:
		return frame.Int64, nil
	case arrow.FLOAT32:
		return frame.Float32, nil
	case arrow.FLOAT64, arrow.NULL:
		return frame.Float64, nil
	case arrow.DATE32, arrow.DATE64, arrow.TIMESTAMP:
		return frame.Date, nil
	case arrow.DICTIONARY:
		return kindOf(dt.(*arrow.DictionaryType).ValueType)
	}
	return frame.String, fmt.Errorf("unsupported arrow type %s", dt)
}

// columnFromArrow flattens the chunks of one Arrow column.
func columnFromArrow(name string, chunks []arrow.Array) (*frame.Column, error) {
	if len(chunks) == 0 {
		return frame.Empty(name, frame.Float64, 0), nil
	}
	kind, err := kindOf(chunks[0].DataType())
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", name, err)
	}
	total := 0
	for _, arr := range chunks {
		total += arr.Len()
	}
	out := frame.Empty(name, kind, total)
	var null []bool
	offset := 0
	for _, arr := range chunks {
		if arr.NullN() > 0 {
			if null == nil {
				null = make([]bool, total)
			}
			for i := 0; i < arr.Len(); i++ {
				null[offset+i] = arr.IsNull(i)
			}
		}
		if err := appendArrow(out, arr); err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		offset += arr.Len()
	}
	out.Null = null
	return out, nil
}

// appendArrow appends every value of arr to c. Null slots receive a zero
// value; the caller records the null mask.
func appendArrow(c *frame.Column, arr arrow.Array) error {
	n := arr.Len()
	switch a := arr.(type) {
	case *array.String:
		for i := 0; i < n; i++ {
			c.Str = append(c.Str, a.Value(i))
		}
	case *array.LargeString:
		for i := 0; i < n; i++ {
			c.Str = append(c.Str, a.Value(i))
		}
	case *array.Binary:
		for i := 0; i < n; i++ {
			c.Str = append(c.Str, string(a.Value(i)))
		}
	case *array.Int64:
		c.Int = append(c.Int, a.Int64Values()...)
	case *array.Int32:
		for _, v := range a.Int32Values() {
			c.Int = append(c.Int, int64(v))
		}
	case *array.Int16:
		for _, v := range a.Int16Values() {
			c.Int = append(c.Int, int64(v))
		}
	case *array.Int8:
		for _, v := range a.Int8Values() {
			c.Int = append(c.Int, int64(v))
		}
	case *array.Uint64:
		for _, v := range a.Uint64Values() {
			c.Int = append(c.Int, int64(v))
		}
	case *array.Uint32:
		for _, v := range a.Uint32Values() {
			c.Int = append(c.Int, int64(v))
		}
	case *array.Uint16:
		for _, v := range a.Uint16Values() {
			c.Int = append(c.Int, int64(v))
		}
	case *array.Uint8:
		for _, v := range a.Uint8Values() {
			c.Int = append(c.Int, int64(v))
		}
	case *array.Boolean:
		for i := 0; i < n; i++ {
			var v int64
			if a.Value(i) {
				v = 1
			}
			c.Int = append(c.Int, v)
		}
	case *array.Float64:
		c.Float = append(c.Float, a.Float64Values()...)
	case *array.Float32:
		for _, v := range a.Float32Values() {
			c.Float = append(c.Float, float64(v))
		}
	case *array.Null:
		for i := 0; i < n; i++ {
			c.Float = append(c.Float, 0)
		}
	case *array.Date32:
		for _, v := range a.Date32Values() {
			c.Int = append(c.Int, int64(v))
		}
	case *array.Date64:
		for _, v := range a.Date64Values() {
			c.Int = append(c.Int, frame.DayOf(v.ToTime()))
		}
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		for _, v := range a.TimestampValues() {
			c.Int = append(c.Int, frame.DayOf(v.ToTime(unit)))
		}
	case *array.Dictionary:
		dict, err := columnFromArrow(c.Name, []arrow.Array{a.Dictionary()})
		if err != nil {
			return err
		}
		idx := make([]int, n)
		for i := range idx {
			if a.IsNull(i) {
				idx[i] = -1
				continue
			}
			idx[i] = a.GetValueIndex(i)
		}
		taken := dict.Take(idx).Convert(c.Kind)
		switch c.Kind {
		case frame.String:
			c.Str = append(c.Str, taken.Str...)
		case frame.Int64, frame.Date:
			c.Int = append(c.Int, taken.Int...)
		default:
			c.Float = append(c.Float, taken.Float...)
		}
	default:
		return fmt.Errorf("unsupported arrow array %T", arr)
	}
	return nil
}

// arrowType maps a frame kind to the Arrow type it is written as.
func arrowType(k frame.Kind) arrow.DataType {
	switch k {
	case frame.Int64:
		return arrow.PrimitiveTypes.Int64
	case frame.Float64:
		return arrow.PrimitiveTypes.Float64
	case frame.Float32:
		return arrow.PrimitiveTypes.Float32
	case frame.Date:
		return arrow.FixedWidthTypes.Date32
	default:
		return arrow.BinaryTypes.String
	}
}

// schemaOf builds the Arrow schema of f.
func schemaOf(f *frame.Frame) *arrow.Schema {
	fields := make([]arrow.Field, f.NumCols())
	for i, c := range f.Columns() {
		fields[i] = arrow.Field{Name: c.Name, Type: arrowType(c.Kind), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// recordFromFrame builds one Arrow record holding all of f. The caller
// releases it.
func recordFromFrame(f *frame.Frame, mem memory.Allocator) arrow.Record {
	schema := schemaOf(f)
	arrays := make([]arrow.Array, f.NumCols())
	for i, c := range f.Columns() {
		arrays[i] = arrowArray(c, mem)
	}
	rec := array.NewRecord(schema, arrays, int64(f.NumRows()))
	for _, arr := range arrays {
		arr.Release()
	}
	return rec
}

func arrowArray(c *frame.Column, mem memory.Allocator) arrow.Array {
	n := c.Len()
	switch c.Kind {
	case frame.Int64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.Reserve(n)
		for i := 0; i < n; i++ {
			if c.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(c.Int[i])
		}
		return b.NewArray()
	case frame.Float64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.Reserve(n)
		for i := 0; i < n; i++ {
			if c.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(c.Float[i])
		}
		return b.NewArray()
	case frame.Float32:
		b := array.NewFloat32Builder(mem)
		defer b.Release()
		b.Reserve(n)
		for i := 0; i < n; i++ {
			if c.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(float32(c.Float[i]))
		}
		return b.NewArray()
	case frame.Date:
		b := array.NewDate32Builder(mem)
		defer b.Release()
		b.Reserve(n)
		for i := 0; i < n; i++ {
			if c.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(arrow.Date32(c.Int[i]))
		}
		return b.NewArray()
	default:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.Reserve(n)
		for i := 0; i < n; i++ {
			if c.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(c.Str[i])
		}
		return b.NewArray()
	}
}

// arrowTypes translates kind hints for the Arrow CSV reader.
func arrowTypes(types map[string]frame.Kind) map[string]arrow.DataType {
	if len(types) == 0 {
		return nil
	}
	out := make(map[string]arrow.DataType, len(types))
	for name, k := range types {
		// Dates stay text for the reader and are parsed by the frame layer,
		// which accepts more layouts.
		if k == frame.Date {
			out[name] = arrow.BinaryTypes.String
			continue
		}
		out[name] = arrowType(k)
	}
	return out
}
