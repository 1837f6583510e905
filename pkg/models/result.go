package models

import (
	"fmt"
	"time"
)

// TraceEntry is one recorded decision or field operation.
type TraceEntry struct {
	Step    int       `json:"step"`
	Action  string    `json:"action"`
	Target  string    `json:"target,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Outcome string    `json:"outcome"`
	At      time.Time `json:"at"`
}

// JobResult is the outcome of one attempt at one job.
type JobResult struct {
	JobID           string        `json:"job_id"`
	Title           string        `json:"title,omitempty"`
	Company         string        `json:"company,omitempty"`
	WorkerID        string        `json:"worker_id"`
	Attempt         int           `json:"attempt"`
	Status          Status        `json:"status"`
	FailureReason   FailureReason `json:"failure_reason,omitempty"`
	Stage           Stage         `json:"stage,omitempty"`
	Error           string        `json:"error,omitempty"`
	NavigationTrace []TraceEntry  `json:"navigation_trace"`
	FormTrace       []TraceEntry  `json:"form_trace"`
	ScreenshotRefs  []string      `json:"screenshot_refs,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     time.Time     `json:"completed_at"`
}

// NewJobResult starts a pending result for job.
func NewJobResult(job JobDescriptor, workerID string, attempt int, now time.Time) JobResult {
	return JobResult{
		JobID:           job.ID(),
		Title:           job.Title,
		Company:         job.Company,
		WorkerID:        workerID,
		Attempt:         attempt,
		Status:          StatusPending,
		NavigationTrace: []TraceEntry{},
		FormTrace:       []TraceEntry{},
		StartedAt:       now.UTC(),
	}
}

// Advance moves the result along a legal edge of the state machine.
func (r *JobResult) Advance(next Status) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal transition %s -> %s for %s", r.Status, next, r.JobID)
	}
	r.Status = next
	return nil
}

// Finish records a terminal status. A failure terminal that is not reachable
// from the current status degrades to StatusError so the reason is never lost.
func (r *JobResult) Finish(status Status, reason FailureReason, stage Stage, cause error, now time.Time) {
	if !status.IsTerminal() {
		status, reason = StatusError, ReasonError
	}
	if err := r.Advance(status); err != nil {
		r.Status = StatusError
	}
	if r.Status.IsFailure() {
		if reason == ReasonNone {
			reason = status.DefaultReason()
		}
		r.FailureReason = reason
	} else {
		r.FailureReason = ReasonNone
	}
	r.Stage = stage
	if cause != nil {
		r.Error = cause.Error()
	}
	r.CompletedAt = now.UTC()
}

// Succeeded reports whether the job reached StatusVerified.
func (r JobResult) Succeeded() bool {
	return r.Status.IsSuccess()
}

// BatchResult is everything one worker produced for its slice.
type BatchResult struct {
	WorkerID          string      `json:"worker_id"`
	RunID             string      `json:"run_id,omitempty"`
	Backend           string      `json:"backend,omitempty"`
	Assigned          []string    `json:"assigned"`
	Results           []JobResult `json:"results"`
	WorkerStartedAt   time.Time   `json:"worker_started_at"`
	WorkerCompletedAt time.Time   `json:"worker_completed_at"`
	Partial           bool        `json:"partial,omitempty"`
	Fault             string      `json:"fault,omitempty"`
}
