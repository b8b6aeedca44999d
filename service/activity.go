package service

import (
	"sync"
	"time"

	"vigil/core"
	"vigil/metrics"
)

type stageRecord struct {
	status      core.StageState
	lastUpdated time.Time
	events      []string
}

// StageTracker keeps the status and recent events of every pipeline stage.
// It is safe for concurrent use.
type StageTracker struct {
	mu     sync.Mutex
	stages map[core.StageID]*stageRecord
	now    func() time.Time
}

// NewStageTracker creates a tracker with every stage idle
func NewStageTracker() *StageTracker {
	t := &StageTracker{
		stages: make(map[core.StageID]*stageRecord, len(core.Stages)),
		now:    time.Now,
	}
	for _, id := range core.Stages {
		t.stages[id] = &stageRecord{status: core.StageIdle}
	}
	return t
}

// Record appends an event to a stage and sets its status. Unknown stage
// ids are ignored. Only the newest core.MaxStageEvents events are kept.
func (t *StageTracker) Record(id core.StageID, status core.StageState, message string) {
	if !id.Valid() {
		return
	}
	metrics.StageEvents.WithLabelValues(string(id), string(status)).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.stages[id]
	rec.status = status
	rec.lastUpdated = t.now().UTC()
	rec.events = append(rec.events, message)
	if n := len(rec.events); n > core.MaxStageEvents {
		rec.events = append([]string(nil), rec.events[n-core.MaxStageEvents:]...)
	}
}

// Snapshot returns a copy of every stage's state keyed by stage id
func (t *StageTracker) Snapshot() map[core.StageID]core.StageStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[core.StageID]core.StageStatus, len(t.stages))
	for id, rec := range t.stages {
		status := core.StageStatus{
			Status:       rec.status,
			RecentEvents: append([]string{}, rec.events...),
		}
		if !rec.lastUpdated.IsZero() {
			updated := rec.lastUpdated
			status.LastUpdated = &updated
		}
		out[id] = status
	}
	return out
}
