package linkage

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	apperrors "stitch/internal/errors"
)

const (
	// WorkerMemoryBytes is the memory budget assumed per join worker.
	WorkerMemoryBytes = 2 << 30
	// MemorySafetyFraction is the share of available memory workers may use.
	MemorySafetyFraction = 0.7
)

// MemoryProbe reports the memory currently available to the process.
type MemoryProbe interface {
	AvailableBytes() (uint64, error)
}

// DefaultWorkers is the pool size used when nothing better is known.
func DefaultWorkers() int {
	n := runtime.NumCPU() + 4
	if n > 32 {
		n = 32
	}
	return n
}

// WorkerCount picks the pool size. An explicit count wins. Otherwise, with
// a probe, workers get WorkerMemoryBytes each out of 70% of available
// memory minus the data every worker shares, clamped to [1, NumCPU].
// Without a probe, or when the probe fails, DefaultWorkers is used.
func WorkerCount(explicit int, probe MemoryProbe, sharedBytes int64, logger *slog.Logger) int {
	if explicit > 0 {
		return explicit
	}
	if probe == nil {
		return DefaultWorkers()
	}
	if logger == nil {
		logger = slog.Default()
	}
	avail, err := probe.AvailableBytes()
	if err != nil {
		logger.Warn("Memory probe failed, using default worker count",
			slog.String("error", err.Error()),
			slog.Int("workers", DefaultWorkers()))
		return DefaultWorkers()
	}
	usable := float64(avail)*MemorySafetyFraction - float64(sharedBytes)
	if usable <= WorkerMemoryBytes {
		logger.Warn("Limited memory available, using one worker",
			slog.Float64("available_gb", float64(avail)/(1<<30)),
			slog.Float64("shared_gb", float64(sharedBytes)/(1<<30)))
		return 1
	}
	byMemory := int(usable / WorkerMemoryBytes)
	byCPU := runtime.NumCPU()
	workers := byMemory
	if byCPU < workers {
		workers = byCPU
	}
	if workers < 1 {
		workers = 1
	}
	logger.Info("Memory-aware worker count",
		slog.Float64("available_gb", float64(avail)/(1<<30)),
		slog.Float64("shared_gb", float64(sharedBytes)/(1<<30)),
		slog.Float64("usable_gb", usable/(1<<30)),
		slog.Int("workers_by_memory", byMemory),
		slog.Int("workers_by_cpu", byCPU),
		slog.Int("workers", workers))
	return workers
}

// LagResult is the outcome of one lag.
type LagResult struct {
	Lag      int
	Path     string
	Skipped  bool
	Err      error
	Duration time.Duration
}

// LagFunc processes one lag. It must only read shared state.
type LagFunc func(ctx context.Context, lag int) (path string, err error)

// Scheduler runs LagFuncs on a fixed pool of goroutines fed from a
// channel. A failing or panicking lag is recorded and never stops the
// others.
type Scheduler struct {
	workers int
	logger  *slog.Logger
}

// NewScheduler creates a scheduler with the given pool size; values below
// one mean one.
func NewScheduler(workers int, logger *slog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		workers: workers,
		logger:  logger.With(slog.String("component", "scheduler")),
	}
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int { return s.workers }

// Run processes every lag and returns the results ordered by lag. Once ctx
// is cancelled no new lag is started; lags already running finish.
// onDone, when non-nil, is called for each lag in completion order from the
// goroutine that called Run, so it needs no locking of its own.
func (s *Scheduler) Run(ctx context.Context, lags []int, fn LagFunc, onDone func(LagResult)) []LagResult {
	jobs := make(chan int, s.workers*2)
	results := make(chan LagResult, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go s.worker(ctx, i, jobs, results, fn, &wg)
	}

	go func() {
		defer close(jobs)
		for _, lag := range lags {
			select {
			case <-ctx.Done():
				return
			case jobs <- lag:
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]LagResult, 0, len(lags))
	for r := range results {
		if onDone != nil {
			onDone(r)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lag < out[j].Lag })
	return out
}

func (s *Scheduler) worker(ctx context.Context, id int, jobs <-chan int, results chan<- LagResult, fn LagFunc, wg *sync.WaitGroup) {
	defer wg.Done()
	logger := s.logger.With(slog.Int("worker_id", id))
	logger.Debug("worker started")
	for lag := range jobs {
		if ctx.Err() != nil {
			continue
		}
		results <- runLag(ctx, lag, fn, logger)
	}
	logger.Debug("worker stopped")
}

// runLag calls fn and converts errors and panics into a LagJoinError.
func runLag(ctx context.Context, lag int, fn LagFunc, logger *slog.Logger) (res LagResult) {
	start := time.Now()
	res.Lag = lag
	defer func() {
		if r := recover(); r != nil {
			res.Err = apperrors.NewLagJoinError(lag, fmt.Errorf("panic: %v", r))
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			logger.Error("Lag failed",
				slog.Int("lag", lag),
				slog.String("error", res.Err.Error()))
		}
	}()
	path, err := fn(ctx, lag)
	if err != nil {
		res.Err = apperrors.NewLagJoinError(lag, err)
		return res
	}
	res.Path = path
	res.Skipped = path == ""
	return res
}
