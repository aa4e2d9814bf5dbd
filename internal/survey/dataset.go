// Package survey loads the subject table that contextual measures are
// linked to, and optional residential histories that move a subject's
// GEOID over time.
package survey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "stitch/internal/errors"
	"stitch/internal/frame"
	"stitch/internal/geoid"
	"stitch/internal/tabio"
)

// GeoIDResolver returns the GEOID a subject lived in on a given day.
// ok is false when the resolver has no information for that subject and
// day; callers then fall back to the survey GEOID.
type GeoIDResolver interface {
	GeoIDAt(id string, day int64) (geoid string, ok bool)
}

// Options names the survey columns.
type Options struct {
	IDColumn    string `validate:"required"`
	DateColumn  string `validate:"required"`
	GeoIDColumn string `validate:"required"`

	// Engines orders the CSV parsers; empty means tabio.DefaultEngines.
	Engines []tabio.Engine
	Logger  *slog.Logger
}

// Dataset is the survey table with its date column parsed and its GEOID
// column padded. Row order is the order of the source file and is never
// changed.
type Dataset struct {
	frame       *frame.Frame
	idColumn    string
	dateColumn  string
	geoidColumn string
	history     GeoIDResolver
}

// NewDataset wraps an in-memory frame. The date column is parsed and the
// GEOID column padded; every other column is kept as is.
func NewDataset(f *frame.Frame, opts Options) (*Dataset, error) {
	if missing := f.Missing(opts.IDColumn, opts.DateColumn, opts.GeoIDColumn); len(missing) > 0 {
		mc := &apperrors.MissingColumnError{}
		mc.Add("survey", missing, f.Names())
		return nil, mc
	}
	dates, _ := f.Column(opts.DateColumn)
	f, err := f.WithColumn(frame.ParseDates(dates))
	if err != nil {
		return nil, err
	}
	ids, _ := f.Column(opts.GeoIDColumn)
	if f, err = f.WithColumn(geoid.PadColumn(ids)); err != nil {
		return nil, err
	}
	return &Dataset{
		frame:       f,
		idColumn:    opts.IDColumn,
		dateColumn:  opts.DateColumn,
		geoidColumn: opts.GeoIDColumn,
	}, nil
}

// Load reads the survey file at path.
func Load(ctx context.Context, path string, opts Options) (*Dataset, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "survey"))

	f, err := tabio.Read(ctx, path, tabio.ReadOptions{
		Types:   map[string]frame.Kind{opts.GeoIDColumn: frame.String},
		Engines: opts.Engines,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load survey: %w", err)
	}
	d, err := NewDataset(f, opts)
	if err != nil {
		var mc *apperrors.MissingColumnError
		if errors.As(err, &mc) {
			mc.Files[0].Path = path
		}
		return nil, err
	}

	dates, _ := d.frame.Column(d.dateColumn)
	logger.Info("Loaded survey data",
		slog.String("path", path),
		slog.Int("rows", f.NumRows()),
		slog.Int("columns", f.NumCols()),
		slog.Int("missing_dates", dates.NullCount()))
	return d, nil
}

// WithHistory returns a copy of d that resolves lagged GEOIDs through h.
func (d *Dataset) WithHistory(h GeoIDResolver) *Dataset {
	out := *d
	out.history = h
	return &out
}

// Frame returns the survey table. It must not be modified.
func (d *Dataset) Frame() *frame.Frame { return d.frame }

// IDColumn returns the subject id column.
func (d *Dataset) IDColumn() string { return d.idColumn }

// DateColumn returns the interview date column.
func (d *Dataset) DateColumn() string { return d.dateColumn }

// GeoIDColumn returns the subject GEOID column.
func (d *Dataset) GeoIDColumn() string { return d.geoidColumn }

// History returns the residential history, or nil.
func (d *Dataset) History() GeoIDResolver { return d.history }

// Len returns the number of subjects.
func (d *Dataset) Len() int { return d.frame.NumRows() }

// DateRange returns the earliest and latest interview day. ok is false
// when every date is missing.
func (d *Dataset) DateRange() (min, max int64, ok bool) {
	dates, _ := d.frame.Column(d.dateColumn)
	for i := 0; i < dates.Len(); i++ {
		if dates.IsNull(i) {
			continue
		}
		day := dates.Int[i]
		if !ok || day < min {
			min = day
		}
		if !ok || day > max {
			max = day
		}
		ok = true
	}
	return min, max, ok
}
