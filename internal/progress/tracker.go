// Package progress tracks completion of long-running lag batches and
// logs it at a bounded rate.
package progress

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultLogInterval is the minimum time between progress log lines.
const DefaultLogInterval = 30 * time.Second

// Tracker tracks progress for one step of a run.
type Tracker struct {
	Step      string
	Total     int
	Current   int
	Failed    int
	StartTime time.Time
	Message   string

	mu        sync.Mutex
	logger    *slog.Logger
	sometimes *rate.Sometimes
}

// Snapshot is a point-in-time copy of a Tracker.
type Snapshot struct {
	Step       string        `json:"step"`
	Total      int           `json:"total"`
	Current    int           `json:"current"`
	Failed     int           `json:"failed"`
	Percentage float64       `json:"percentage"`
	Message    string        `json:"message,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	ETA        string        `json:"eta"`
	Complete   bool          `json:"complete"`
}

// NewTracker creates a tracker for total units of work. The first update
// and then at most one update per interval are logged.
func NewTracker(step string, total int, interval time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultLogInterval
	}
	return &Tracker{
		Step:      step,
		Total:     total,
		StartTime: time.Now(),
		logger:    logger.With(slog.String("component", "progress")),
		sometimes: &rate.Sometimes{First: 1, Interval: interval},
	}
}

// Update sets the current progress.
func (p *Tracker) Update(current int, message string) {
	p.mu.Lock()
	p.Current = current
	p.Message = message
	p.mu.Unlock()
	p.maybeLog()
}

// Increment records one finished unit.
func (p *Tracker) Increment(message string) {
	p.mu.Lock()
	p.Current++
	p.Message = message
	p.mu.Unlock()
	p.maybeLog()
}

// Fail records one finished unit that failed.
func (p *Tracker) Fail(message string) {
	p.mu.Lock()
	p.Current++
	p.Failed++
	p.Message = message
	p.mu.Unlock()
	p.maybeLog()
}

func (p *Tracker) maybeLog() {
	p.sometimes.Do(func() {
		s := p.Snapshot()
		p.logger.Info("Progress",
			slog.String("step", s.Step),
			slog.Int("current", s.Current),
			slog.Int("total", s.Total),
			slog.Int("failed", s.Failed),
			slog.String("percentage", fmt.Sprintf("%.1f", s.Percentage)),
			slog.String("eta", s.ETA))
	})
}

// Snapshot returns the current state.
func (p *Tracker) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{
		Step:     p.Step,
		Total:    p.Total,
		Current:  p.Current,
		Failed:   p.Failed,
		Message:  p.Message,
		Elapsed:  time.Since(p.StartTime),
		ETA:      p.eta(),
		Complete: p.Current >= p.Total,
	}
	if p.Total > 0 {
		s.Percentage = float64(p.Current) / float64(p.Total) * 100
	}
	return s
}

// eta must be called with mu held.
func (p *Tracker) eta() string {
	if p.Current == 0 || p.Total == 0 {
		return "calculating..."
	}
	elapsed := time.Since(p.StartTime)
	perSecond := float64(p.Current) / elapsed.Seconds()
	if perSecond == 0 {
		return "calculating..."
	}
	return formatDuration(float64(p.Total-p.Current) / perSecond)
}

// IsComplete reports whether every unit has finished.
func (p *Tracker) IsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Current >= p.Total
}

// Elapsed returns the time since the tracker was created.
func (p *Tracker) Elapsed() time.Duration {
	return time.Since(p.StartTime)
}

// ElapsedString returns Elapsed in human units.
func (p *Tracker) ElapsedString() string {
	return formatDuration(p.Elapsed().Seconds())
}

func formatDuration(seconds float64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%.0f seconds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%.1f minutes", seconds/60)
	default:
		return fmt.Sprintf("%.1f hours", seconds/3600)
	}
}
