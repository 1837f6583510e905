package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/applybot-dev/applybot/pkg/models"
)

// Worker owns one partition. It runs its jobs in order and writes a batch
// result exactly once, however the loop ends.
type Worker struct {
	ID      string
	RunID   string
	Backend string
	Runner  *Runner
	// Delay is the pause between consecutive jobs.
	Delay time.Duration
}

// Run processes jobs sequentially and persists the batch result. Faults and
// cancellation are recorded per job; the returned error only reports that
// the batch result could not be written.
func (w *Worker) Run(ctx context.Context, jobs []models.JobDescriptor) (*models.BatchResult, error) {
	r := w.Runner
	batch := &models.BatchResult{
		WorkerID:        w.ID,
		RunID:           w.RunID,
		Backend:         w.Backend,
		Assigned:        models.JobIDs(jobs),
		Results:         make([]models.JobResult, 0, len(jobs)),
		WorkerStartedAt: r.now().UTC(),
	}
	r.logf("Starting %d jobs (backend %s)", len(jobs), w.Backend)

	var fault error
	for i, job := range jobs {
		seq := i + 1

		if i > 0 && fault == nil {
			if err := sleep(ctx, w.Delay); err != nil {
				r.logf("Interrupted between jobs: %v", err)
			}
		}

		switch {
		case fault != nil:
			batch.Results = append(batch.Results, w.skip(seq, job, models.ReasonWorkerFault, fault))
			continue
		case ctx.Err() != nil:
			batch.Results = append(batch.Results, w.skip(seq, job, models.ReasonCancelled, context.Cause(ctx)))
			continue
		}

		res, err := r.RunJob(ctx, seq, job)
		batch.Results = append(batch.Results, res)
		if err != nil {
			r.logf("Stopping after job %d: %v", seq, err)
			fault = err
		}
	}

	batch.WorkerCompletedAt = r.now().UTC()
	if fault != nil {
		batch.Partial = true
		batch.Fault = fault.Error()
	} else if err := ctx.Err(); err != nil {
		batch.Partial = true
		batch.Fault = fmt.Sprintf("cancelled: %v", context.Cause(ctx))
	}

	if _, err := r.Sink.WriteBatch(*batch); err != nil {
		return batch, err
	}
	r.logf("Finished: %d/%d verified", countVerified(batch.Results), len(jobs))
	return batch, nil
}

// skip records a job that was never started.
func (w *Worker) skip(seq int, job models.JobDescriptor, reason models.FailureReason, cause error) models.JobResult {
	r := w.Runner
	res := models.NewJobResult(job, w.ID, 1, r.now())
	if cause == nil {
		cause = errors.New(string(reason))
	}
	res.Finish(models.StatusError, reason, models.StageRunner, cause, r.now())
	if _, err := r.Sink.WriteJob(seq, res); err != nil {
		r.logf("Failed to write result for %s: %v", job.ID(), err)
	}
	return res
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func countVerified(results []models.JobResult) int {
	n := 0
	for _, r := range results {
		if r.Succeeded() {
			n++
		}
	}
	return n
}
