package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracker(t *testing.T) {
	tests := []struct {
		name  string
		step  string
		total int
	}{
		{name: "basic", step: "lags", total: 365},
		{name: "zero total", step: "merge", total: 0},
		{name: "empty step", step: "", total: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(tt.step, tt.total, 0, nil)
			assert.Equal(t, tt.step, tracker.Step)
			assert.Equal(t, tt.total, tracker.Total)
			assert.Zero(t, tracker.Current)
			assert.WithinDuration(t, time.Now(), tracker.StartTime, time.Second)
		})
	}
}

func TestTrackerCounts(t *testing.T) {
	tracker := NewTracker("lags", 4, time.Hour, nil)
	tracker.Increment("lag 0")
	tracker.Fail("lag 1")
	tracker.Increment("lag 2")

	s := tracker.Snapshot()
	assert.Equal(t, 3, s.Current)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 75.0, s.Percentage)
	assert.Equal(t, "lag 2", s.Message)
	assert.False(t, s.Complete)
	assert.NotEqual(t, "calculating...", s.ETA)

	tracker.Update(4, "done")
	assert.True(t, tracker.IsComplete())
}

func TestTrackerConcurrentIncrement(t *testing.T) {
	tracker := NewTracker("lags", 100, time.Hour, nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Increment("")
		}()
	}
	wg.Wait()
	assert.True(t, tracker.IsComplete())
	assert.Equal(t, 100, tracker.Snapshot().Current)
}

func TestSnapshotETABeforeProgress(t *testing.T) {
	tracker := NewTracker("lags", 10, 0, nil)
	assert.Equal(t, "calculating...", tracker.Snapshot().ETA)
	assert.Zero(t, tracker.Snapshot().Percentage)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "30 seconds", formatDuration(30))
	assert.Equal(t, "2.0 minutes", formatDuration(120))
	assert.Equal(t, "1.5 hours", formatDuration(5400))
}

func TestBoard(t *testing.T) {
	b := NewBoard()
	_, _, ok := b.Current()
	assert.False(t, ok)

	tracker := NewTracker("lags", 2, 0, nil)
	tracker.Increment("lag 0")
	b.Publish("run-1", tracker)

	runID, snap, ok := b.Current()
	require.True(t, ok)
	assert.Equal(t, "run-1", runID)
	assert.Equal(t, 1, snap.Current)
}
