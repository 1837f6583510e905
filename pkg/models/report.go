package models

import "time"

// WorkerState describes how much of a worker's output was recovered.
type WorkerState string

const (
	WorkerStateComplete WorkerState = "complete"
	WorkerStatePartial  WorkerState = "partial"
	WorkerStateMissing  WorkerState = "missing"
)

// WorkerSummary is the per-worker breakdown of a SummaryReport.
type WorkerSummary struct {
	WorkerID  string      `json:"worker_id"`
	Assigned  int         `json:"assigned"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Missing   int         `json:"missing"`
	State     WorkerState `json:"state"`
	Fault     string      `json:"fault,omitempty"`
}

// SummaryReport is the run-wide aggregate. It is always recomputed from
// batch results, never edited.
type SummaryReport struct {
	RunID            string                `json:"run_id,omitempty"`
	TotalJobs        int                   `json:"total_jobs"`
	SuccessCount     int                   `json:"success_count"`
	FailureCount     int                   `json:"failure_count"`
	MissingCount     int                   `json:"missing_count"`
	SuccessRate      float64               `json:"success_rate"`
	FailuresByReason map[FailureReason]int `json:"failures_by_reason"`
	Workers          []WorkerSummary       `json:"workers"`
	StartedAt        *time.Time            `json:"started_at,omitempty"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
}

// Resolved returns the number of jobs with a terminal outcome.
func (s SummaryReport) Resolved() int {
	return s.SuccessCount + s.FailureCount
}
