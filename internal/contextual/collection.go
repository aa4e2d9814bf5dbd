package contextual

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	apperrors "stitch/internal/errors"
	"stitch/internal/files"
	"stitch/internal/frame"
	"stitch/internal/geoid"
	"stitch/internal/tabio"
)

// CollectionOptions configures a Collection. Fields shared with Options
// apply to every year.
type CollectionOptions struct {
	Measure     string
	DataColumns []string
	// Extension restricts discovery to one extension. Empty uses
	// tabio.DefaultExtensions.
	Extension   string
	DateColumn  string
	GeoIDColumn string
	ReadType    frame.Kind
	Shape       Shape
	// Renames maps a year to the rename map applied to that year's file.
	Renames   map[int]map[string]string
	ChunkRows int
	Engines   []tabio.Engine
	// PreloadConcurrency bounds how many years Preload reads at once.
	PreloadConcurrency int
	Logger             *slog.Logger
}

// Collection maps years to contextual files and caches each year once it
// is loaded.
//
// The GEOID filter is applied when a year is loaded. Changing it with
// SetGeoIDFilter affects years loaded afterwards only; years already in
// the cache keep the rows they were loaded with. Evict a year to reload it
// under the current filter.
type Collection struct {
	dir      string
	opts     CollectionOptions
	dataCols []string
	paths    map[int]string
	logger   *slog.Logger

	mu     sync.Mutex
	cache  map[int]*MeasureFile
	filter geoid.Set
}

// NewCollection discovers the yearly files under dir and validates that
// every one of them carries the target columns.
func NewCollection(ctx context.Context, dir string, opts CollectionOptions) (*Collection, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DateColumn == "" {
		opts.DateColumn = DefaultDateColumn
	}
	if opts.GeoIDColumn == "" {
		opts.GeoIDColumn = DefaultGeoIDColumn
	}
	if opts.PreloadConcurrency <= 0 {
		opts.PreloadConcurrency = 1
	}
	if !files.DirExists(dir) {
		return nil, apperrors.NewNotFoundError("contextual directory " + dir)
	}
	if opts.Measure == "" && len(opts.DataColumns) == 0 {
		return nil, apperrors.NewConfigError("either a measure type or data columns must be provided", nil)
	}
	dataCols, err := ResolveColumns(opts.Measure, opts.DataColumns)
	if err != nil {
		return nil, err
	}

	exts := tabio.DefaultExtensions
	if opts.Extension != "" {
		exts = []string{opts.Extension}
	}
	found, err := files.NewDiscovery("").FindByExtensions(dir, exts)
	if err != nil {
		return nil, apperrors.NewStorageError("list contextual directory", err)
	}
	found = files.FilterByName(found, opts.Measure)
	if len(found) == 0 {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("contextual files for %q in %s", opts.Measure, dir)).
			WithContext("extensions", exts)
	}
	byYear, err := files.ByYear(found)
	if err != nil {
		return nil, err
	}

	c := &Collection{
		dir:      dir,
		opts:     opts,
		dataCols: dataCols,
		paths:    make(map[int]string, len(byYear)),
		cache:    make(map[int]*MeasureFile),
		logger:   opts.Logger.With(slog.String("component", "collection")),
	}
	for year, fi := range byYear {
		c.paths[year] = fi.Path
	}
	if err := c.validateHeaders(ctx); err != nil {
		return nil, err
	}

	years := c.Years()
	c.logger.Info("Contextual collection ready",
		slog.String("dir", dir),
		slog.Int("files", len(years)),
		slog.Int("first_year", years[0]),
		slog.Int("last_year", years[len(years)-1]))
	return c, nil
}

// validateHeaders checks every file before any row data is read and
// reports all offenders in one error.
func (c *Collection) validateHeaders(ctx context.Context) error {
	missing := &apperrors.MissingColumnError{}
	for _, year := range c.Years() {
		path := c.paths[year]
		header, err := tabio.ReadHeader(ctx, path)
		if err != nil {
			return err
		}
		cols := renameAll(header, c.opts.Renames[year])
		have := make(map[string]struct{}, len(cols))
		for _, name := range cols {
			have[name] = struct{}{}
		}
		var absent []string
		for _, name := range requiredColumns(c.opts.Shape, c.opts.DateColumn, c.opts.GeoIDColumn, c.dataCols) {
			if _, ok := have[name]; !ok {
				absent = append(absent, name)
			}
		}
		if len(absent) > 0 {
			missing.Add(path, absent, cols)
		}
	}
	if !missing.Empty() {
		return missing
	}
	return nil
}

// Years returns the available years in ascending order.
func (c *Collection) Years() []int {
	years := make([]int, 0, len(c.paths))
	for y := range c.paths {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Path returns the file backing year.
func (c *Collection) Path(year int) (string, bool) {
	p, ok := c.paths[year]
	return p, ok
}

// Dir returns the directory the collection was built from.
func (c *Collection) Dir() string { return c.dir }

// DataColumns returns the measure columns every year carries.
func (c *Collection) DataColumns() []string { return c.dataCols }

// DateColumn returns the contextual date column.
func (c *Collection) DateColumn() string { return c.opts.DateColumn }

// GeoIDColumn returns the contextual GEOID column.
func (c *Collection) GeoIDColumn() string { return c.opts.GeoIDColumn }

// SetGeoIDFilter sets the allow-set used by later loads. A nil set keeps
// every row.
func (c *Collection) SetGeoIDFilter(ids geoid.Set) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = ids
}

// GeoIDFilter returns the current allow-set.
func (c *Collection) GeoIDFilter() geoid.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// Cached reports whether year is loaded.
func (c *Collection) Cached(year int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cache[year]
	return ok
}

// Evict drops year from the cache.
func (c *Collection) Evict(year int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, year)
}

// Get returns the file for year, loading it on first use.
func (c *Collection) Get(ctx context.Context, year int) (*MeasureFile, error) {
	path, ok := c.paths[year]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("contextual file for year %d", year)).
			WithContext("available", c.Years())
	}

	c.mu.Lock()
	if m, ok := c.cache[year]; ok {
		c.mu.Unlock()
		return m, nil
	}
	filter := c.filter
	c.mu.Unlock()

	m, err := Open(ctx, path, Options{
		DataColumns: c.dataCols,
		DateColumn:  c.opts.DateColumn,
		GeoIDColumn: c.opts.GeoIDColumn,
		ReadType:    c.opts.ReadType,
		Shape:       c.opts.Shape,
		Rename:      c.opts.Renames[year],
		GeoIDFilter: filter,
		ChunkRows:   c.opts.ChunkRows,
		Engines:     c.opts.Engines,
		Logger:      c.opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.cache[year]; ok {
		return cached, nil
	}
	c.cache[year] = m
	c.logger.Info("Loaded contextual year",
		slog.Int("year", year),
		slog.Int("rows", m.Len()))
	return m, nil
}

// Preload loads every year in years and returns once all are cached.
// Years without a file are skipped.
func (c *Collection) Preload(ctx context.Context, years []int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.PreloadConcurrency)
	var skipped []string
	for _, year := range years {
		if _, ok := c.paths[year]; !ok {
			skipped = append(skipped, fmt.Sprint(year))
			continue
		}
		year := year
		g.Go(func() error {
			_, err := c.Get(ctx, year)
			return err
		})
	}
	if len(skipped) > 0 {
		c.logger.Warn("No contextual file for years", slog.String("years", strings.Join(skipped, ",")))
	}
	return g.Wait()
}

// Frames returns the cached frames for years in ascending year order.
// Years that are not cached are left out.
func (c *Collection) Frames(years []int) []*frame.Frame {
	sorted := append([]int(nil), years...)
	sort.Ints(sorted)
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*frame.Frame, 0, len(sorted))
	for _, y := range sorted {
		if m, ok := c.cache[y]; ok {
			out = append(out, m.Frame())
		}
	}
	return out
}
