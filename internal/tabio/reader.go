package tabio

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	apperrors "stitch/internal/errors"
	"stitch/internal/frame"
)

// Engine names a CSV parsing implementation.
type Engine string

const (
	// EngineArrow parses with the Arrow columnar CSV reader.
	EngineArrow Engine = "arrow"
	// EngineStandard parses row by row with encoding/csv.
	EngineStandard Engine = "standard"
)

// DefaultEngines is the engine order used when ReadOptions.Engines is empty.
var DefaultEngines = []Engine{EngineArrow, EngineStandard}

// DefaultChunkRows bounds the rows handed to a ChunkFunc at once.
const DefaultChunkRows = 1_000_000

// ParseEngine resolves an engine name.
func ParseEngine(name string) (Engine, error) {
	switch Engine(strings.ToLower(name)) {
	case EngineArrow:
		return EngineArrow, nil
	case EngineStandard:
		return EngineStandard, nil
	}
	return "", apperrors.NewConfigError(fmt.Sprintf("unknown csv engine %q", name), nil)
}

// ReadOptions controls a read.
type ReadOptions struct {
	// Columns restricts the read to these columns, in this order. Empty
	// reads every column.
	Columns []string
	// Types forces the kind of the named columns.
	Types map[string]frame.Kind
	// Engines is tried in order for CSV sources; the first success wins.
	Engines []Engine
	// ChunkRows is the number of rows per chunk for Stream.
	ChunkRows int
	// Logger receives engine fallback notices at debug level.
	Logger *slog.Logger
}

func (o ReadOptions) engines() []Engine {
	if len(o.Engines) == 0 {
		return DefaultEngines
	}
	return o.Engines
}

func (o ReadOptions) chunkRows() int {
	if o.ChunkRows <= 0 {
		return DefaultChunkRows
	}
	return o.ChunkRows
}

func (o ReadOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// ChunkFunc transforms one chunk of rows. Returning a frame with no rows
// drops the chunk.
type ChunkFunc func(chunk *frame.Frame) (*frame.Frame, error)

// Read loads path fully.
func Read(ctx context.Context, path string, opts ReadOptions) (*frame.Frame, error) {
	return Stream(ctx, path, opts, nil)
}

// Stream reads path in chunks of opts.ChunkRows, passes each chunk through
// fn and concatenates what fn returns. A nil fn keeps every chunk. Only the
// transformed chunks are held in memory, so a filtering fn bounds peak
// memory by the filtered volume.
func Stream(ctx context.Context, path string, opts ReadOptions, fn ChunkFunc) (*frame.Frame, error) {
	out, _, err := StreamWithStats(ctx, path, opts, fn)
	return out, err
}

// Stats describes a finished read.
type Stats struct {
	// Engine is the CSV engine that succeeded; empty for other formats.
	Engine Engine
	// SourceRows counts the rows handed to the chunk func by the
	// successful attempt, before any filtering.
	SourceRows int
}

// StreamWithStats is Stream that also reports how many rows were read.
// Rows decoded by a CSV engine that later failed are not counted, but fn
// has already seen them; fn must not keep state that a retry would
// double.
func StreamWithStats(ctx context.Context, path string, opts ReadOptions, fn ChunkFunc) (*frame.Frame, Stats, error) {
	var stats Stats
	format, err := DetectFormat(path)
	if err != nil {
		return nil, stats, err
	}
	if fn == nil {
		fn = func(chunk *frame.Frame) (*frame.Frame, error) { return chunk, nil }
	}

	var out *frame.Frame
	switch format {
	case FormatCSV:
		out, err = streamCSV(ctx, path, opts, fn, &stats)
	case FormatParquet:
		out, err = streamParquet(ctx, path, opts, counting(fn, &stats))
	case FormatFeather:
		out, err = streamFeather(ctx, path, opts, counting(fn, &stats))
	case FormatStata:
		out, err = streamStata(ctx, path, opts, counting(fn, &stats))
	case FormatExcel:
		out, err = streamExcel(ctx, path, opts, counting(fn, &stats))
	default:
		err = apperrors.NewConfigError("no reader for "+format.String(), nil)
	}
	if err != nil {
		return nil, Stats{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return out, stats, nil
}

func counting(fn ChunkFunc, stats *Stats) ChunkFunc {
	return func(chunk *frame.Frame) (*frame.Frame, error) {
		stats.SourceRows += chunk.NumRows()
		return fn(chunk)
	}
}

// streamCSV tries each engine in order. Every attempt starts from an empty
// accumulator and a zero row count so a failed engine never leaves partial
// chunks behind.
func streamCSV(ctx context.Context, path string, opts ReadOptions, fn ChunkFunc, stats *Stats) (*frame.Frame, error) {
	var lastErr error
	for _, engine := range opts.engines() {
		var (
			out *frame.Frame
			err error
		)
		*stats = Stats{Engine: engine}
		attempt := counting(fn, stats)
		switch engine {
		case EngineArrow:
			out, err = streamCSVArrow(ctx, path, opts, attempt)
		case EngineStandard:
			out, err = streamCSVStandard(ctx, path, opts, attempt)
		default:
			err = fmt.Errorf("unknown csv engine %q", engine)
		}
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		opts.logger().Debug("csv engine failed, trying next",
			slog.String("engine", string(engine)),
			slog.String("path", path),
			slog.String("error", err.Error()))
		lastErr = err
	}
	*stats = Stats{}
	return nil, lastErr
}

// accumulator collects transformed chunks.
type accumulator struct {
	fn    ChunkFunc
	parts []*frame.Frame
	// empty keeps the schema of the first chunk so a fully filtered read
	// still returns the expected columns.
	empty *frame.Frame
}

func newAccumulator(fn ChunkFunc) *accumulator {
	return &accumulator{fn: fn}
}

func (a *accumulator) add(chunk *frame.Frame) error {
	out, err := a.fn(chunk)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if out.NumRows() == 0 {
		if a.empty == nil {
			a.empty = out
		}
		return nil
	}
	a.parts = append(a.parts, out)
	return nil
}

func (a *accumulator) result() (*frame.Frame, error) {
	if len(a.parts) == 0 {
		if a.empty != nil {
			return a.empty, nil
		}
		return frame.New()
	}
	return frame.ConcatRows(a.parts...)
}

// applyTypes converts hinted columns.
func applyTypes(f *frame.Frame, types map[string]frame.Kind) (*frame.Frame, error) {
	if len(types) == 0 {
		return f, nil
	}
	out := f
	for name, kind := range types {
		c, ok := out.Column(name)
		if !ok || c.Kind == kind {
			continue
		}
		var err error
		out, err = out.WithColumn(c.Convert(kind))
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// selectColumns restricts f to cols when cols is non-empty.
func selectColumns(f *frame.Frame, cols []string) (*frame.Frame, error) {
	if len(cols) == 0 {
		return f, nil
	}
	if missing := f.Missing(cols...); len(missing) > 0 {
		return nil, fmt.Errorf("columns %v not found, available %v", missing, f.Names())
	}
	return f.Select(cols...)
}

// ReadHeader returns the column names of path without reading row data
// where the format allows it.
func ReadHeader(ctx context.Context, path string) ([]string, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	var names []string
	switch format {
	case FormatCSV:
		names, err = csvHeader(path)
	case FormatParquet:
		names, err = parquetHeader(path)
	case FormatFeather:
		names, err = featherHeader(path)
	case FormatStata:
		names, err = stataHeader(path)
	case FormatExcel:
		names, err = excelHeader(path)
	default:
		err = apperrors.NewConfigError("no reader for "+format.String(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", filepath.Base(path), err)
	}
	return names, nil
}
