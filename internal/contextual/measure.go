// Package contextual loads yearly environmental measure files keyed by
// (date, GEOID) and caches them per year.
package contextual

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	apperrors "stitch/internal/errors"
	"stitch/internal/frame"
	"stitch/internal/geoid"
	"stitch/internal/tabio"
)

// Measures maps a measure key, as it appears in file names, to the data
// column it carries.
var Measures = map[string]string{
	"tmmx":       "Tmax",
	"rmin":       "Rmin",
	"pm25":       "pm25",
	"ozone":      "o3",
	"heat_index": "HeatIndex",
}

// Shape is the layout of a contextual file.
type Shape int

const (
	// ShapeLong has one row per (date, GEOID) with value columns.
	ShapeLong Shape = iota
	// ShapeWide has one row per date and one column per GEOID.
	ShapeWide
)

func (s Shape) String() string {
	if s == ShapeWide {
		return "wide"
	}
	return "long"
}

// ParseShape resolves "long" or "wide".
func ParseShape(s string) (Shape, error) {
	switch strings.ToLower(s) {
	case "", "long":
		return ShapeLong, nil
	case "wide":
		return ShapeWide, nil
	}
	return ShapeLong, apperrors.NewConfigError(fmt.Sprintf("unknown file shape %q", s), nil)
}

const (
	DefaultDateColumn  = "Date"
	DefaultGeoIDColumn = "GEOID10"
)

// ResolveColumns returns the data columns to load. Explicit columns win;
// otherwise the measure key is looked up in Measures.
func ResolveColumns(measure string, dataColumns []string) ([]string, error) {
	if len(dataColumns) > 0 {
		return dataColumns, nil
	}
	if measure == "" {
		return nil, apperrors.NewConfigError("either data columns or a measure type must be provided", nil)
	}
	col, ok := Measures[measure]
	if !ok {
		return nil, apperrors.NewConfigError(
			fmt.Sprintf("unknown measure type %q and no data column given", measure), nil).
			WithContext("known", knownMeasures())
	}
	return []string{col}, nil
}

func knownMeasures() []string {
	keys := make([]string, 0, len(Measures))
	for k := range Measures {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Options configures one MeasureFile.
type Options struct {
	DataColumns []string
	Measure     string
	DateColumn  string
	GeoIDColumn string
	// ReadType is frame.Float32 or frame.Float64.
	ReadType frame.Kind
	Shape    Shape
	// Rename maps source column names to the names used downstream.
	Rename map[string]string
	// GeoIDFilter drops rows whose padded GEOID is not in the set. Nil keeps
	// every row.
	GeoIDFilter geoid.Set
	ChunkRows   int
	Engines     []tabio.Engine
	Logger      *slog.Logger
}

func (o *Options) defaults() {
	if o.DateColumn == "" {
		o.DateColumn = DefaultDateColumn
	}
	if o.GeoIDColumn == "" {
		o.GeoIDColumn = DefaultGeoIDColumn
	}
	if o.ReadType != frame.Float64 {
		o.ReadType = frame.Float32
	}
	if o.ChunkRows <= 0 {
		o.ChunkRows = tabio.DefaultChunkRows
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// MeasureFile is one year of one measure in long form with columns
// [date, geoid, data...]. It is immutable once Open returns.
type MeasureFile struct {
	path     string
	format   tabio.Format
	opts     Options
	dataCols []string
	columns  []string
	data     *frame.Frame
}

// Open validates the header of path and loads it. Loading reshapes wide
// files, parses dates, pads GEOIDs, applies the GEOID filter and checks
// that (date, geoid) is unique.
func Open(ctx context.Context, path string, opts Options) (*MeasureFile, error) {
	opts.defaults()
	dataCols, err := ResolveColumns(opts.Measure, opts.DataColumns)
	if err != nil {
		return nil, err
	}
	if opts.Shape == ShapeWide && len(dataCols) != 1 {
		return nil, apperrors.NewConfigError("wide files carry exactly one measure", nil).
			WithContext("data_columns", dataCols)
	}
	format, err := tabio.DetectFormat(path)
	if err != nil {
		return nil, err
	}

	header, err := tabio.ReadHeader(ctx, path)
	if err != nil {
		return nil, err
	}
	m := &MeasureFile{
		path:     path,
		format:   format,
		opts:     opts,
		dataCols: dataCols,
		columns:  renameAll(header, opts.Rename),
	}
	if missing := m.missingColumns(); len(missing) > 0 {
		mc := &apperrors.MissingColumnError{}
		mc.Add(path, missing, m.columns)
		return nil, mc
	}

	if err := m.load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// requiredColumns returns the post-rename columns the header must carry.
func requiredColumns(shape Shape, dateCol, geoidCol string, dataCols []string) []string {
	if shape == ShapeWide {
		return []string{dateCol}
	}
	return append([]string{dateCol, geoidCol}, dataCols...)
}

func (m *MeasureFile) missingColumns() []string {
	have := make(map[string]struct{}, len(m.columns))
	for _, c := range m.columns {
		have[c] = struct{}{}
	}
	var missing []string
	for _, c := range requiredColumns(m.opts.Shape, m.opts.DateColumn, m.opts.GeoIDColumn, m.dataCols) {
		if _, ok := have[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

func renameAll(names []string, rename map[string]string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		if to, ok := rename[n]; ok {
			out[i] = to
		} else {
			out[i] = n
		}
	}
	return out
}

// sourceName maps a downstream column name back to its name in the file.
func sourceName(name string, rename map[string]string) string {
	for from, to := range rename {
		if to == name {
			return from
		}
	}
	return name
}

func (m *MeasureFile) load(ctx context.Context) error {
	o := m.opts
	log := o.Logger.With(slog.String("component", "measure_file"), slog.String("path", m.path))

	ro := tabio.ReadOptions{
		Engines:   o.Engines,
		ChunkRows: o.ChunkRows,
		Logger:    log,
		Types:     map[string]frame.Kind{},
	}
	if o.Shape == ShapeLong {
		required := requiredColumns(ShapeLong, o.DateColumn, o.GeoIDColumn, m.dataCols)
		ro.Columns = make([]string, len(required))
		for i, c := range required {
			ro.Columns[i] = sourceName(c, o.Rename)
		}
		ro.Types[sourceName(o.GeoIDColumn, o.Rename)] = frame.String
		for _, c := range m.dataCols {
			ro.Types[sourceName(c, o.Rename)] = o.ReadType
		}
	} else {
		ro.Types[sourceName(o.DateColumn, o.Rename)] = frame.String
	}

	var (
		data *frame.Frame
		err  error
	)
	if m.format == tabio.FormatCSV && o.Shape == ShapeLong && o.GeoIDFilter != nil {
		var stats tabio.Stats
		data, stats, err = tabio.StreamWithStats(ctx, m.path, ro, func(chunk *frame.Frame) (*frame.Frame, error) {
			chunk, err := chunk.Rename(o.Rename)
			if err != nil {
				return nil, err
			}
			if chunk, err = m.padGeoIDs(chunk); err != nil {
				return nil, err
			}
			return m.filter(chunk), nil
		})
		if err != nil {
			return err
		}
		if data.NumCols() == 0 {
			if data, err = m.emptyFrame(); err != nil {
				return err
			}
		}
		if data, err = m.parseDates(data); err != nil {
			return err
		}
		log.Info("Filtered contextual rows",
			slog.Int("rows", data.NumRows()),
			slog.Int("source_rows", stats.SourceRows),
			slog.String("engine", string(stats.Engine)),
			slog.Int("geoids", o.GeoIDFilter.Len()))
	} else {
		data, err = tabio.Read(ctx, m.path, ro)
		if err != nil {
			return err
		}
		if data, err = data.Rename(o.Rename); err != nil {
			return err
		}
		if data.NumCols() == 0 {
			if data, err = m.emptyFrame(); err != nil {
				return err
			}
		} else if o.Shape == ShapeWide {
			if data, err = frame.Melt(data, o.DateColumn, o.GeoIDColumn, m.dataCols[0]); err != nil {
				return err
			}
			if c, _ := data.Column(m.dataCols[0]); c.Kind != o.ReadType {
				if data, err = data.WithColumn(c.Convert(o.ReadType)); err != nil {
					return err
				}
			}
		}
		if data, err = m.parseDates(data); err != nil {
			return err
		}
		if data, err = m.padGeoIDs(data); err != nil {
			return err
		}
		before := data.NumRows()
		data = m.filter(data)
		if o.GeoIDFilter != nil {
			log.Info("Filtered contextual rows",
				slog.Int("rows", data.NumRows()),
				slog.Int("source_rows", before),
				slog.Int("geoids", o.GeoIDFilter.Len()))
		}
	}

	cols := append([]string{o.DateColumn, o.GeoIDColumn}, m.dataCols...)
	if data, err = data.Select(cols...); err != nil {
		return err
	}
	if err := checkUnique(m.path, data, o.DateColumn, o.GeoIDColumn); err != nil {
		return err
	}
	m.data = data
	log.Debug("Loaded contextual file", slog.Int("rows", data.NumRows()))
	return nil
}

func (m *MeasureFile) emptyFrame() (*frame.Frame, error) {
	cols := []*frame.Column{
		frame.Empty(m.opts.DateColumn, frame.Date, 0),
		frame.Empty(m.opts.GeoIDColumn, frame.String, 0),
	}
	for _, c := range m.dataCols {
		cols = append(cols, frame.Empty(c, m.opts.ReadType, 0))
	}
	return frame.New(cols...)
}

func (m *MeasureFile) padGeoIDs(f *frame.Frame) (*frame.Frame, error) {
	c, ok := f.Column(m.opts.GeoIDColumn)
	if !ok {
		return nil, fmt.Errorf("column %q not found", m.opts.GeoIDColumn)
	}
	return f.WithColumn(geoid.PadColumn(c))
}

// parseDates converts the date column, turning unparseable values into
// missing dates.
func (m *MeasureFile) parseDates(f *frame.Frame) (*frame.Frame, error) {
	c, ok := f.Column(m.opts.DateColumn)
	if !ok {
		return nil, fmt.Errorf("column %q not found", m.opts.DateColumn)
	}
	return f.WithColumn(frame.ParseDates(c))
}

func (m *MeasureFile) filter(f *frame.Frame) *frame.Frame {
	if m.opts.GeoIDFilter == nil {
		return f
	}
	c, _ := f.Column(m.opts.GeoIDColumn)
	keep := make([]bool, f.NumRows())
	for i := range keep {
		keep[i] = !c.IsNull(i) && m.opts.GeoIDFilter.Contains(c.Str[i])
	}
	return f.Filter(keep)
}

type dateGeoID struct {
	nullDate bool
	day      int64
	geoid    string
}

// checkUnique fails when a (date, geoid) pair occurs on more than one row.
func checkUnique(path string, f *frame.Frame, dateCol, geoidCol string) error {
	dates, _ := f.Column(dateCol)
	ids, _ := f.Column(geoidCol)

	counts := make(map[dateGeoID]int, f.NumRows())
	var order []dateGeoID
	for i := 0; i < f.NumRows(); i++ {
		k := dateGeoID{nullDate: dates.IsNull(i), geoid: ids.Format(i)}
		if !k.nullDate {
			k.day = dates.Int[i]
		}
		counts[k]++
		if counts[k] == 2 {
			order = append(order, k)
		}
	}
	if len(order) == 0 {
		return nil
	}

	e := &apperrors.DuplicateKeyError{Path: path, Pairs: len(order)}
	for _, k := range order {
		e.Rows += counts[k]
	}
	for _, k := range order {
		if len(e.Examples) == apperrors.MaxDuplicateExamples {
			break
		}
		date := ""
		if !k.nullDate {
			date = frame.FormatDay(k.day)
		}
		e.Examples = append(e.Examples, apperrors.KeyPair{Date: date, GeoID: k.geoid})
	}
	return e
}

// Path returns the source file.
func (m *MeasureFile) Path() string { return m.path }

// Format returns the source format.
func (m *MeasureFile) Format() tabio.Format { return m.format }

// Frame returns the loaded long-form table. It must not be modified.
func (m *MeasureFile) Frame() *frame.Frame { return m.data }

// DataColumns returns the measure columns.
func (m *MeasureFile) DataColumns() []string { return m.dataCols }

// DateColumn returns the date column name.
func (m *MeasureFile) DateColumn() string { return m.opts.DateColumn }

// GeoIDColumn returns the GEOID column name.
func (m *MeasureFile) GeoIDColumn() string { return m.opts.GeoIDColumn }

// Columns returns the header after renaming.
func (m *MeasureFile) Columns() []string { return m.columns }

// Len returns the number of loaded rows.
func (m *MeasureFile) Len() int { return m.data.NumRows() }

func (m *MeasureFile) String() string {
	return fmt.Sprintf("MeasureFile(%s, cols=%v, shape=%s, rows=%d)", m.path, m.dataCols, m.opts.Shape, m.Len())
}
