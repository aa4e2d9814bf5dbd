package progress

import "sync"

// Board publishes the tracker of the step currently running so that
// readers such as the status server can poll it.
type Board struct {
	mu      sync.RWMutex
	runID   string
	tracker *Tracker
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{}
}

// Publish makes t the current tracker for runID.
func (b *Board) Publish(runID string, t *Tracker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runID = runID
	b.tracker = t
}

// Current returns the run id and a snapshot of the current tracker. ok is
// false when nothing has been published.
func (b *Board) Current() (runID string, snap Snapshot, ok bool) {
	b.mu.RLock()
	runID, t := b.runID, b.tracker
	b.mu.RUnlock()
	if t == nil {
		return "", Snapshot{}, false
	}
	return runID, t.Snapshot(), true
}
