package pipeline

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of a run's mutable state, safe to hand to
// the API and the monitor. Runs are never persisted past process exit; the
// history ledger keeps the summary row instead.
type Snapshot struct {
	ID             string    `json:"id"`
	PackageVersion string    `json:"package_version"`
	ToolkitVersion string    `json:"toolkit_version"`
	Stage          Stage     `json:"stage"`
	Progress       float64   `json:"progress"`
	Status         string    `json:"status"`
	LastError      string    `json:"last_error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Run is the mutable state of one pipeline execution.
type Run struct {
	mu   sync.Mutex
	snap Snapshot
}

func newRun(id, packageVersion, toolkitVersion string) *Run {
	now := time.Now().UTC()
	return &Run{snap: Snapshot{
		ID:             id,
		PackageVersion: packageVersion,
		ToolkitVersion: toolkitVersion,
		Stage:          StageIdle,
		Status:         "Ready to start...",
		StartedAt:      now,
		UpdatedAt:      now,
	}}
}

func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// advance moves the run to the next stage with validated ordering.
func (r *Run) advance(to Stage, progress float64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := transition(r.snap.Stage, r.snap.Stage, to); err != nil {
		return err
	}
	r.snap.Stage = to
	r.snap.Progress = progress
	r.snap.Status = status
	r.snap.UpdatedAt = time.Now().UTC()
	return nil
}

// fail marks the run terminally failed. Valid from any live stage.
func (r *Run) fail(err error, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.Stage.IsTerminal() {
		return
	}
	r.snap.Stage = StageFailed
	r.snap.Status = status
	r.snap.LastError = err.Error()
	r.snap.UpdatedAt = time.Now().UTC()
}
