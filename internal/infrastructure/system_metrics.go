package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// SystemMetrics records process and host memory while a run is active.
type SystemMetrics struct {
	goRoutines      metric.Int64Gauge
	heapBytes       metric.Int64Gauge
	systemBytes     metric.Int64Gauge
	hostAvailable   metric.Int64Gauge
	hostUsedPercent metric.Float64Gauge
	uptime          metric.Float64Gauge
}

// NewSystemMetrics creates the gauges on meter.
func NewSystemMetrics(meter metric.Meter) (*SystemMetrics, error) {
	sm := &SystemMetrics{}
	var err error
	if sm.goRoutines, err = meter.Int64Gauge(
		"stitch_goroutines",
		metric.WithDescription("Number of active goroutines"),
	); err != nil {
		return nil, err
	}
	if sm.heapBytes, err = meter.Int64Gauge(
		"stitch_heap_bytes",
		metric.WithDescription("Heap bytes in use"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if sm.systemBytes, err = meter.Int64Gauge(
		"stitch_runtime_system_bytes",
		metric.WithDescription("Bytes obtained from the OS by the Go runtime"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if sm.hostAvailable, err = meter.Int64Gauge(
		"stitch_host_available_bytes",
		metric.WithDescription("Host memory available to new allocations"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if sm.hostUsedPercent, err = meter.Float64Gauge(
		"stitch_host_memory_used_percent",
		metric.WithDescription("Host memory in use, percent"),
	); err != nil {
		return nil, err
	}
	if sm.uptime, err = meter.Float64Gauge(
		"stitch_run_uptime_seconds",
		metric.WithDescription("Seconds since the run started"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return sm, nil
}

// SystemStats holds current system statistics
type SystemStats struct {
	GoRoutines  int64       `json:"goroutines"`
	HeapBytes   int64       `json:"heap_bytes"`
	SystemBytes int64       `json:"system_bytes"`
	Host        MemoryStats `json:"host"`
	Uptime      string      `json:"uptime"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Collect samples the runtime and host and records the gauges. A host
// memory failure leaves Host zero.
func (sm *SystemMetrics) Collect(ctx context.Context, startTime time.Time) *SystemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := &SystemStats{
		GoRoutines:  int64(runtime.NumGoroutine()),
		HeapBytes:   int64(ms.HeapAlloc),
		SystemBytes: int64(ms.Sys),
		Uptime:      time.Since(startTime).Round(time.Second).String(),
		Timestamp:   time.Now(),
	}
	host, hostErr := ReadMemoryStats()
	if hostErr == nil {
		stats.Host = host
	}

	if sm != nil {
		sm.goRoutines.Record(ctx, stats.GoRoutines)
		sm.heapBytes.Record(ctx, stats.HeapBytes)
		sm.systemBytes.Record(ctx, stats.SystemBytes)
		sm.uptime.Record(ctx, time.Since(startTime).Seconds())
		if hostErr == nil {
			sm.hostAvailable.Record(ctx, int64(host.Available))
			sm.hostUsedPercent.Record(ctx, host.UsedPercent)
		}
	}
	return stats
}

// SystemMetricsCollector samples SystemMetrics on an interval until
// stopped or its context ends.
type SystemMetricsCollector struct {
	metrics   *SystemMetrics
	startTime time.Time
	interval  time.Duration
	logger    *slog.Logger
	stopCh    chan struct{}
}

// NewSystemMetricsCollector creates a new system metrics collector
func NewSystemMetricsCollector(meter metric.Meter, interval time.Duration, logger *slog.Logger) (*SystemMetricsCollector, error) {
	metrics, err := NewSystemMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create system metrics: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemMetricsCollector{
		metrics:   metrics,
		startTime: time.Now(),
		interval:  interval,
		logger:    logger.With(slog.String("component", "system_metrics")),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start collects until Stop is called or ctx is done. It blocks; run it in
// its own goroutine.
func (smc *SystemMetricsCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(smc.interval)
	defer ticker.Stop()

	smc.collect(ctx)
	for {
		select {
		case <-ticker.C:
			smc.collect(ctx)
		case <-smc.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (smc *SystemMetricsCollector) collect(ctx context.Context) {
	s := smc.metrics.Collect(ctx, smc.startTime)
	smc.logger.Debug("Resource sample",
		slog.Int64("heap_mb", s.HeapBytes>>20),
		slog.Uint64("host_available_mb", s.Host.Available>>20),
		slog.Int64("goroutines", s.GoRoutines))
}

// Stop stops the metrics collection
func (smc *SystemMetricsCollector) Stop() {
	close(smc.stopCh)
}

// GetCurrentStats returns the current system statistics
func (smc *SystemMetricsCollector) GetCurrentStats(ctx context.Context) *SystemStats {
	return smc.metrics.Collect(ctx, smc.startTime)
}
