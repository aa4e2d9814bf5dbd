package linkage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "stitch/internal/errors"
	"stitch/internal/files"
	"stitch/internal/frame"
	"stitch/internal/geoid"
	"stitch/internal/survey"
	"stitch/internal/tabio"
)

// ContextSource is the yearly contextual data a batch joins against.
// *contextual.Collection implements it.
type ContextSource interface {
	Years() []int
	SetGeoIDFilter(ids geoid.Set)
	Preload(ctx context.Context, years []int) error
	Frames(years []int) []*frame.Frame
	DateColumn() string
	GeoIDColumn() string
	DataColumns() []string
}

// Progress receives one call per finished lag. *progress.Tracker
// implements it.
type Progress interface {
	Increment(message string)
	Fail(message string)
}

// BatchRequest describes one lag batch.
type BatchRequest struct {
	Survey  *survey.Dataset
	Context ContextSource
	Lags    []int
	// TempDir receives one file per non-empty lag.
	TempDir string
	// Prefix starts every lag file name.
	Prefix string
	// GeoIDColumn overrides the survey GEOID column used for keys.
	GeoIDColumn    string
	IncludeLagDate bool
	// Format of the lag files; parquet when unset.
	Format   tabio.Format
	Parallel bool
	// MaxWorkers fixes the pool size. Zero sizes it from memory when a
	// probe is configured.
	MaxWorkers int
}

// BatchResult summarizes a batch.
type BatchResult struct {
	Requested int
	Files     []string
	Skipped   []int
	Failed    []int
	Years     []int
	Workers   int
	Duration  time.Duration
}

// Describe returns a one-line summary of a batch for logs and CLI output.
func (r *BatchResult) Describe() string {
	return fmt.Sprintf("%d of %d lags written, %d skipped, %d failed in %s",
		len(r.Files), r.Requested, len(r.Skipped), len(r.Failed), r.Duration.Round(1e6))
}

// Orchestrator runs lag batches.
type Orchestrator struct {
	Preparer KeyPreparer
	Joiner   Joiner
	Probe    MemoryProbe
	Metrics  *Metrics
	Progress Progress
	Logger   *slog.Logger
}

// NewOrchestrator returns an orchestrator with the default key preparer and
// hash joiner.
func NewOrchestrator(logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Preparer: DefaultKeyPreparer{},
		Joiner:   HashJoiner{},
		Logger:   logger.With(slog.String("component", "orchestrator")),
	}
}

// Run computes the lag keys once, loads the contextual years and GEOIDs
// they need, joins every lag and writes one file per lag with at least one
// match. A lag that fails is logged and counted; it never stops the batch.
func (o *Orchestrator) Run(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	start := time.Now()
	if req.Format == tabio.FormatUnknown {
		req.Format = tabio.FormatParquet
	}
	if !req.Format.Writable() {
		return nil, apperrors.NewConfigError("lag files cannot be written as "+req.Format.String(), nil)
	}
	if len(req.Lags) == 0 {
		return nil, apperrors.NewConfigError("no lags requested", nil)
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}

	ctx, span := o.Metrics.StartSpan(ctx, "linkage.batch",
		attribute.Int("lags", len(req.Lags)),
		attribute.Bool("parallel", req.Parallel))
	var runErr error
	defer func() { EndSpan(span, start, runErr) }()

	plan, err := o.Preparer.Prepare(ctx, req.Survey, req.Lags, req.GeoIDColumn)
	if err != nil {
		runErr = err
		return nil, fmt.Errorf("prepare lag keys: %w", err)
	}
	ids := UniqueGeoIDs(plan)
	log.Info("Prepared lag keys",
		slog.Int("lags", len(req.Lags)),
		slog.Int("subjects", plan.Frame.NumRows()),
		slog.Int("geoids", ids.Len()))

	table, years, err := o.loadContext(ctx, req, ids, log)
	if err != nil {
		runErr = err
		return nil, err
	}

	temp := files.NewManager(req.TempDir, log)
	if err := temp.EnsureDirectory(); err != nil {
		runErr = err
		return nil, apperrors.NewStorageError("create temp directory", err)
	}

	workers := 1
	if req.Parallel {
		shared := plan.Frame.MemoryBytes() + table.MemoryBytes()
		probe := o.Probe
		if req.MaxWorkers > 0 {
			probe = nil
		}
		workers = WorkerCount(req.MaxWorkers, probe, shared, log)
	}
	o.Metrics.RecordContext(ctx, table.Len(), workers)

	joinLag := func(ctx context.Context, lag int) (string, error) {
		return o.joinLag(ctx, req, plan, table, temp, lag)
	}
	onDone := func(r LagResult) {
		o.Metrics.RecordLag(ctx, r)
		if o.Progress == nil {
			return
		}
		if r.Err != nil {
			o.Progress.Fail(fmt.Sprintf("lag %d failed", r.Lag))
		} else {
			o.Progress.Increment(fmt.Sprintf("lag %d", r.Lag))
		}
	}

	var results []LagResult
	if req.Parallel {
		log.Info("Processing lags in parallel",
			slog.Int("lags", len(req.Lags)),
			slog.Int("workers", workers))
		results = NewScheduler(workers, log).Run(ctx, req.Lags, joinLag, onDone)
	} else {
		for _, lag := range req.Lags {
			if ctx.Err() != nil {
				break
			}
			r := runLag(ctx, lag, joinLag, log)
			onDone(r)
			results = append(results, r)
		}
	}

	res := &BatchResult{
		Requested: len(req.Lags),
		Years:     years,
		Workers:   workers,
	}
	for _, r := range results {
		switch {
		case r.Err != nil:
			res.Failed = append(res.Failed, r.Lag)
		case r.Skipped:
			res.Skipped = append(res.Skipped, r.Lag)
		default:
			res.Files = append(res.Files, r.Path)
		}
	}
	res.Duration = time.Since(start)

	log.Info("Lag batch complete",
		slog.Int("files", len(res.Files)),
		slog.Int("requested", res.Requested),
		slog.Int("skipped", len(res.Skipped)),
		slog.Int("failed", len(res.Failed)),
		slog.String("duration", res.Duration.Round(time.Millisecond).String()))

	if err := ctx.Err(); err != nil {
		runErr = err
		return res, err
	}
	return res, nil
}

// loadContext narrows the source to the GEOIDs and years the plan needs,
// preloads them and builds the shared table.
func (o *Orchestrator) loadContext(ctx context.Context, req BatchRequest, ids geoid.Set, log *slog.Logger) (*ContextTable, []int, error) {
	src := req.Context
	maxLag := 0
	for _, lag := range req.Lags {
		if lag > maxLag {
			maxLag = lag
		}
	}

	var years []int
	if lo, hi, ok := req.Survey.DateRange(); ok {
		available := make(map[int]bool)
		for _, y := range src.Years() {
			available[y] = true
		}
		for _, y := range RequiredYears(lo, hi, maxLag) {
			if available[y] {
				years = append(years, y)
			}
		}
	}
	if len(years) == 0 {
		log.Warn("No contextual years overlap the survey dates",
			slog.Any("available", src.Years()))
	} else {
		log.Info("Loading contextual years", slog.Any("years", years))
	}

	src.SetGeoIDFilter(ids)
	if err := src.Preload(ctx, years); err != nil {
		return nil, nil, fmt.Errorf("preload contextual years: %w", err)
	}
	table, err := NewContextTable(src.Frames(years), src.DateColumn(), src.GeoIDColumn(), src.DataColumns())
	if err != nil {
		return nil, nil, err
	}
	log.Info("Contextual table ready",
		slog.Int("rows", table.Len()),
		slog.Int64("bytes", table.MemoryBytes()))
	return table, years, nil
}

// joinLag joins one lag and writes it. An empty path means the lag had no
// matches and nothing was written.
func (o *Orchestrator) joinLag(ctx context.Context, req BatchRequest, plan *LagPlan, table *ContextTable, temp *files.Manager, lag int) (string, error) {
	out, err := o.Joiner.Join(ctx, plan, lag, table, req.IncludeLagDate)
	if err != nil {
		return "", err
	}
	if out.NumCols() <= 1 {
		return "", nil
	}
	if c, ok := out.Column(LagColumn(table.DataColumns()[0], lag)); ok {
		o.Metrics.RecordMatches(ctx, c.Len()-c.NullCount())
	}
	for _, c := range out.Columns() {
		if c.Name == plan.GeoIDColumn || IsLagGeoIDColumn(c.Name, plan.GeoIDColumn) {
			if out, err = out.WithColumn(geoid.NormalizeColumn(c)); err != nil {
				return "", err
			}
		}
	}
	path := temp.Path(TempFileName(req.Prefix, lag, req.Format))
	if err := tabio.WriteFormat(out, path, req.Format); err != nil {
		return "", err
	}
	return path, nil
}
