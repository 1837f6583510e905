package orchestrator

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrWorkerNotFound is returned for an id the tracker has never seen.
var ErrWorkerNotFound = errors.New("worker not found")

// WorkerPhase is where a launched unit is in its lifecycle.
type WorkerPhase string

const (
	PhasePending   WorkerPhase = "pending"
	PhaseLaunching WorkerPhase = "launching"
	PhaseRunning   WorkerPhase = "running"
	PhaseStopping  WorkerPhase = "stopping"
	PhaseCompleted WorkerPhase = "completed"
	PhaseFailed    WorkerPhase = "failed"
	PhaseTimedOut  WorkerPhase = "timed_out"
	PhaseCancelled WorkerPhase = "cancelled"
)

// WorkerStatus is the orchestrator's view of one worker.
type WorkerStatus struct {
	WorkerID  string      `json:"worker_id"`
	Phase     WorkerPhase `json:"phase"`
	Handle    string      `json:"handle,omitempty"`
	Jobs      int         `json:"jobs"`
	ExitCode  *int        `json:"exit_code,omitempty"`
	Error     string      `json:"error,omitempty"`
	StartedAt time.Time   `json:"started_at,omitzero"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// IsTerminal returns true once the worker will not change phase again.
func (w *WorkerStatus) IsTerminal() bool {
	switch w.Phase {
	case PhaseCompleted, PhaseFailed, PhaseTimedOut, PhaseCancelled:
		return true
	}
	return false
}

// Tracker records worker phases for one run. It is safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	workers map[string]*WorkerStatus
	now     func() time.Time
}

// NewTracker registers the given workers as pending.
func NewTracker(jobsPerWorker map[string]int) *Tracker {
	t := &Tracker{
		workers: make(map[string]*WorkerStatus, len(jobsPerWorker)),
		now:     func() time.Time { return time.Now().UTC() },
	}
	now := t.now()
	for id, n := range jobsPerWorker {
		t.workers[id] = &WorkerStatus{WorkerID: id, Phase: PhasePending, Jobs: n, UpdatedAt: now}
	}
	return t
}

// Get returns a copy of one worker's status.
func (t *Tracker) Get(id string) (*WorkerStatus, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, ok := t.workers[id]
	if !ok {
		return nil, ErrWorkerNotFound
	}
	c := *w
	return &c, nil
}

// List returns copies of every worker's status ordered by id.
func (t *Tracker) List() []WorkerStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]WorkerStatus, 0, len(t.workers))
	for _, w := range t.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}

// Launching marks a worker as being started.
func (t *Tracker) Launching(id string) error {
	return t.update(id, func(w *WorkerStatus) {
		w.Phase = PhaseLaunching
	})
}

// Running records the handle of a started worker.
func (t *Tracker) Running(id, handle string) error {
	return t.update(id, func(w *WorkerStatus) {
		w.Phase = PhaseRunning
		w.Handle = handle
		w.StartedAt = t.now()
	})
}

// Stopping marks a worker that is being asked to exit.
func (t *Tracker) Stopping(id string) error {
	return t.update(id, func(w *WorkerStatus) {
		w.Phase = PhaseStopping
	})
}

// Finish moves a worker to a terminal phase. A terminal worker is not changed.
func (t *Tracker) Finish(id string, phase WorkerPhase, exitCode *int, err error) error {
	return t.update(id, func(w *WorkerStatus) {
		if w.IsTerminal() {
			return
		}
		w.Phase = phase
		w.ExitCode = exitCode
		if err != nil {
			w.Error = err.Error()
		}
	})
}

// Counts returns the number of workers per phase.
func (t *Tracker) Counts() map[WorkerPhase]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[WorkerPhase]int)
	for _, w := range t.workers {
		out[w.Phase]++
	}
	return out
}

func (t *Tracker) update(id string, fn func(*WorkerStatus)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.workers[id]
	if !ok {
		return ErrWorkerNotFound
	}
	fn(w)
	w.UpdatedAt = t.now()
	return nil
}
