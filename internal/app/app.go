package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stitch/internal/config"
	"stitch/internal/contextual"
	"stitch/internal/files"
	"stitch/internal/frame"
	"stitch/internal/infrastructure"
	"stitch/internal/linkage"
	"stitch/internal/progress"
	"stitch/internal/survey"
	"stitch/internal/tabio"
	statushttp "stitch/internal/transport/http"
)

const (
	AppName = "stitch"

	// systemSampleInterval is how often host and runtime gauges refresh
	// during a run.
	systemSampleInterval = 15 * time.Second
)

// Application holds a validated configuration and the telemetry providers
// of one process. A single Application may run several linkages in turn.
type Application struct {
	Config        *config.Config
	Paths         *config.Paths
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Board         *progress.Board
}

// Summary reports a finished run.
type Summary struct {
	RunID      string
	Batch      *linkage.BatchResult
	OutputPath string
	Rows       int
	Columns    int
	Duration   time.Duration
}

// New validates cfg, checks that every input exists and initializes
// telemetry. The logger is not created here; callers pass the one they
// initialized so flags can pick its level.
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	paths, err := config.GetPaths(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get paths: %w", err)
	}
	if err := paths.ValidateInputs(); err != nil {
		return nil, err
	}

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	return &Application{
		Config:        cfg,
		Paths:         paths,
		Logger:        infrastructure.WithComponent(logger, "app"),
		OTelProviders: otelProviders,
		Board:         progress.NewBoard(),
	}, nil
}

// Run links the survey to every configured lag and writes the merged
// table to the output path. Cancelling ctx stops dispatching lags; the
// lags already written are left in the temp directory.
func (a *Application) Run(ctx context.Context) (*Summary, error) {
	ctx, runID := infrastructure.EnsureRunID(ctx)
	if a.OTelProviders != nil && a.OTelProviders.Tracer != nil {
		var span trace.Span
		ctx, span = a.OTelProviders.Tracer.Start(ctx, "stitch.run",
			trace.WithAttributes(attribute.String("run_id", runID)))
		defer span.End()
	}
	summary, err := a.run(ctx, runID)
	if err != nil {
		infrastructure.RecordError(ctx, err)
	}
	return summary, err
}

func (a *Application) run(ctx context.Context, runID string) (*Summary, error) {
	start := time.Now()
	link := a.Config.Link
	log := a.Logger
	if traceID := infrastructure.TraceIDFromContext(ctx); traceID != "" {
		log = log.With(slog.String("trace_id", traceID))
	}

	log.InfoContext(ctx, "Linkage starting",
		slog.String("version", infrastructure.ServiceVersion),
		slog.Int("lags", link.NLags),
		slog.Bool("parallel", link.Parallel))
	a.Paths.LogPathResolution(log)
	if err := a.Paths.EnsureDirectories(); err != nil {
		return nil, err
	}

	stopBackground, err := a.startBackground(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer stopBackground()

	loadTracker := progress.NewTracker("load", 3, progress.DefaultLogInterval, log)
	a.Board.Publish(runID, loadTracker)

	ds, err := a.loadSurvey(ctx)
	if err != nil {
		return nil, err
	}
	loadTracker.Increment("survey loaded")
	if ds, err = a.attachHistory(ctx, ds); err != nil {
		return nil, err
	}
	loadTracker.Increment("history resolved")
	coll, err := a.openCollection(ctx)
	if err != nil {
		return nil, err
	}
	loadTracker.Increment("contextual files validated")

	tempFormat, err := tabio.ParseFormat(link.TempFormat)
	if err != nil {
		return nil, err
	}

	lags := link.Lags()
	joinTracker := progress.NewTracker("join", len(lags), progress.DefaultLogInterval, log)
	a.Board.Publish(runID, joinTracker)

	orch := linkage.NewOrchestrator(a.Logger)
	orch.Progress = joinTracker
	if link.AutoMemory {
		orch.Probe = infrastructure.SystemMemory{}
	}
	if a.Config.Telemetry.Metrics {
		m, err := linkage.NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to create linkage metrics: %w", err)
		}
		orch.Metrics = m
	}

	batch, err := orch.Run(ctx, linkage.BatchRequest{
		Survey:         ds,
		Context:        coll,
		Lags:           lags,
		TempDir:        a.Paths.TempDir,
		Prefix:         link.MeasureType,
		IncludeLagDate: link.IncludeLagDate,
		Format:         tempFormat,
		Parallel:       link.Parallel,
		MaxWorkers:     link.MaxWorkers,
	})
	if err != nil {
		if batch != nil {
			log.WarnContext(ctx, "Linkage interrupted", slog.String("result", batch.Describe()))
		}
		return nil, err
	}
	log.InfoContext(ctx, "Lag batch finished", slog.String("result", batch.Describe()))

	finalTracker := progress.NewTracker("finalize", 2, progress.DefaultLogInterval, log)
	a.Board.Publish(runID, finalTracker)

	merged, err := linkage.Finalize(ctx, linkage.FinalizeRequest{
		Survey: ds,
		Files:  batch.Files,
		Prefix: link.MeasureType,
		Logger: a.Logger,
	})
	if err != nil {
		finalTracker.Fail("merge failed")
		return nil, err
	}
	finalTracker.Increment("lag files merged")

	if err := tabio.Write(merged, a.Paths.OutputPath); err != nil {
		finalTracker.Fail("write failed")
		return nil, fmt.Errorf("write linked output: %w", err)
	}
	finalTracker.Increment("output written")

	if !link.KeepTemp {
		a.removeTempFiles(ctx, log, link.MeasureType)
	}

	summary := &Summary{
		RunID:      runID,
		Batch:      batch,
		OutputPath: a.Paths.OutputPath,
		Rows:       merged.NumRows(),
		Columns:    merged.NumCols(),
		Duration:   time.Since(start),
	}
	log.InfoContext(ctx, "Linkage complete",
		slog.String("output", summary.OutputPath),
		slog.Int("rows", summary.Rows),
		slog.Int("columns", summary.Columns),
		slog.Duration("duration", summary.Duration))
	return summary, nil
}

// startBackground starts the status server and the system metrics
// collector. The returned func stops both and waits for them.
func (a *Application) startBackground(ctx context.Context, runID string) (func(), error) {
	bgCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	if a.Config.Server.Addr != "" {
		srv, err := statushttp.Listen(a.Config.Server, statushttp.Dependencies{
			RunID:      runID,
			Progress:   a.Board,
			Prometheus: a.OTelProviders.PrometheusHTTP,
			Logger:     a.Logger,
		})
		if err != nil {
			cancel()
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(bgCtx); err != nil {
				infrastructure.WithError(a.Logger, err).Error("Status server failed")
			}
		}()
	}

	var collector *infrastructure.SystemMetricsCollector
	if a.OTelProviders.MeterProvider != nil {
		c, err := infrastructure.NewSystemMetricsCollector(
			a.OTelProviders.MeterOrGlobal(), systemSampleInterval, a.Logger)
		if err != nil {
			infrastructure.WithError(a.Logger, err).Warn("System metrics disabled")
		} else {
			collector = c
			wg.Add(1)
			go func() {
				defer wg.Done()
				collector.Start(bgCtx)
			}()
		}
	}

	return func() {
		if collector != nil {
			s := collector.GetCurrentStats(ctx)
			a.Logger.InfoContext(ctx, "Run resources",
				slog.Int64("heap_mb", s.HeapBytes>>20),
				slog.Int64("system_mb", s.SystemBytes>>20),
				slog.Int64("goroutines", s.GoRoutines),
				slog.String("uptime", s.Uptime))
		}
		cancel()
		wg.Wait()
	}, nil
}

// removeTempFiles deletes this run's lag files, then the temp directory
// once nothing else is left in it.
func (a *Application) removeTempFiles(ctx context.Context, log *slog.Logger, prefix string) {
	temp := files.NewManager(a.Paths.TempDir, log)
	if _, err := temp.RemoveFiles(linkage.TempFilePrefix(prefix)); err != nil {
		infrastructure.WithError(log, err).WarnContext(ctx, "Failed to remove temp lag files",
			slog.String("dir", a.Paths.TempDir))
		return
	}
	left, err := temp.ListFiles("")
	if err != nil || len(left) > 0 {
		log.DebugContext(ctx, "Temp directory kept", slog.String("dir", a.Paths.TempDir), slog.Int("files", len(left)))
		return
	}
	if err := os.Remove(a.Paths.TempDir); err != nil && !os.IsNotExist(err) {
		infrastructure.WithError(log, err).WarnContext(ctx, "Failed to remove temp directory",
			slog.String("dir", a.Paths.TempDir))
	}
}

func (a *Application) loadSurvey(ctx context.Context) (*survey.Dataset, error) {
	link := a.Config.Link
	engines, err := link.Engines()
	if err != nil {
		return nil, err
	}
	return survey.Load(ctx, a.Paths.SurveyPath, survey.Options{
		IDColumn:    link.IDColumn,
		DateColumn:  link.DateColumn,
		GeoIDColumn: link.GeoIDColumn,
		Engines:     engines,
		Logger:      a.Logger,
	})
}

func (a *Application) attachHistory(ctx context.Context, ds *survey.Dataset) (*survey.Dataset, error) {
	if a.Paths.HistoryPath == "" {
		return ds, nil
	}
	h := a.Config.History
	hist, err := survey.LoadResidentialHistory(ctx, a.Paths.HistoryPath, survey.HistoryOptions{
		IDColumn:         h.IDColumn,
		MoveColumn:       h.MoveColumn,
		MoveYearColumn:   h.MoveYearColumn,
		MoveMonthColumn:  h.MoveMonthColumn,
		MovedMark:        h.MovedMark,
		GeoIDColumn:      h.GeoIDColumn,
		SurveyYearColumn: h.SurveyYearColumn,
		FirstTractMark:   h.FirstTractMark,
		Logger:           a.Logger,
	})
	if err != nil {
		return nil, err
	}
	return ds.WithHistory(hist), nil
}

func (a *Application) openCollection(ctx context.Context) (*contextual.Collection, error) {
	return OpenCollection(ctx, a.Config.Link, a.Paths, a.Logger)
}

// OpenCollection builds the contextual collection described by link.
func OpenCollection(ctx context.Context, link config.LinkConfig, paths *config.Paths, logger *slog.Logger) (*contextual.Collection, error) {
	shape, err := contextual.ParseShape(link.Shape)
	if err != nil {
		return nil, err
	}
	readType, err := frame.ParseKind(link.ReadType)
	if err != nil {
		return nil, err
	}
	renames, err := config.LoadRenames(paths.RenameFile)
	if err != nil {
		return nil, err
	}
	engines, err := link.Engines()
	if err != nil {
		return nil, err
	}
	return contextual.NewCollection(ctx, paths.ContextDir, contextual.CollectionOptions{
		Measure:            link.MeasureType,
		DataColumns:        link.DataColumns,
		Extension:          link.FileExtension,
		DateColumn:         link.ContextDateColumn,
		GeoIDColumn:        link.ContextGeoIDColumn,
		ReadType:           readType,
		Shape:              shape,
		Renames:            renames,
		ChunkRows:          link.ChunkRows,
		Engines:            engines,
		PreloadConcurrency: link.PreloadConcurrency,
		Logger:             logger,
	})
}

// Close flushes and shuts down telemetry.
func (a *Application) Close(ctx context.Context) error {
	if a.OTelProviders == nil {
		return nil
	}
	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down OpenTelemetry: %w", err)
	}
	return nil
}
