// Package worker runs a slice of jobs through the navigation and form agents,
// one job and one browser session at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/applybot-dev/applybot/internal/agent"
	"github.com/applybot-dev/applybot/internal/browser"
	"github.com/applybot-dev/applybot/internal/errdefs"
	"github.com/applybot-dev/applybot/internal/store"
	"github.com/applybot-dev/applybot/pkg/models"
)

// ErrWorkerFault ends a worker's loop early. The remaining jobs are recorded
// as worker faults.
var ErrWorkerFault = errors.New("worker fault")

const screenshotTimeout = 10 * time.Second

// Stage is one of the two agents.
type Stage interface {
	Run(ctx context.Context, sess browser.Session, job models.JobDescriptor, res *models.JobResult) agent.Outcome
}

// Runner takes one job at a time from pending to a terminal status.
type Runner struct {
	WorkerID   string
	Engine     browser.Engine
	Navigation Stage
	Form       Stage
	Sink       *store.ResultSink
	// JobTimeout bounds one attempt, both stages included. Zero disables it.
	JobTimeout time.Duration
	// MaxAttempts bounds attempts for jobs that fail validation or upload.
	MaxAttempts int
	Logger      *log.Logger
	Now         func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}

// RunJob processes one job and returns its final result. Job failures are
// recorded in the result. The error is non-nil only when the worker can not
// go on, and it wraps ErrWorkerFault.
func (r *Runner) RunJob(ctx context.Context, seq int, job models.JobDescriptor) (models.JobResult, error) {
	maxAttempts := max(r.MaxAttempts, 1)

	var res models.JobResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res = r.attempt(ctx, seq, attempt, job)
		if _, err := r.Sink.WriteJob(seq, res); err != nil {
			r.logf("Failed to write result for %s: %v", job.ID(), err)
		}
		r.logf("Job %d attempt %d: %s -> %s %s", seq, attempt, job.DisplayName(), res.Status, res.FailureReason)

		if res.FailureReason == models.ReasonWorkerFault {
			return res, fmt.Errorf("%w: %s", ErrWorkerFault, res.Error)
		}
		if ctx.Err() != nil || !retryable(res.Status) {
			break
		}
		if attempt < maxAttempts {
			r.logf("Retrying %s after %s", job.ID(), res.Status)
		}
	}
	return res, nil
}

// retryable reports whether a fresh attempt can change the outcome.
// Navigation failures are never retried.
func retryable(s models.Status) bool {
	return s == models.StatusValidationFailed || s == models.StatusUploadFailed
}

func (r *Runner) attempt(ctx context.Context, seq, attempt int, job models.JobDescriptor) models.JobResult {
	res := models.NewJobResult(job, r.WorkerID, attempt, r.now())

	jctx := ctx
	if r.JobTimeout > 0 {
		var cancel context.CancelFunc
		jctx, cancel = context.WithTimeout(ctx, r.JobTimeout)
		defer cancel()
	}

	sess, err := r.Engine.NewSession(jctx)
	if err != nil {
		out := classify(ctx, err)
		res.Finish(out.Status, out.Reason, models.StageRunner, err, r.now())
		return res
	}
	defer func() {
		if err := sess.Close(); err != nil {
			r.logf("Failed to close browser session for %s: %v", job.ID(), err)
		}
	}()

	stage := models.StageNavigation
	out := r.Navigation.Run(jctx, sess, job, &res)
	if out.Status == models.StatusFormReached {
		stage = models.StageForm
		out = r.Form.Run(jctx, sess, job, &res)
	}

	if out.Status != models.StatusVerified && out.Reason != models.ReasonWorkerFault && out.Reason != models.ReasonCancelled {
		if ref := r.capture(ctx, sess, seq, attempt, string(stage)); ref != "" {
			res.ScreenshotRefs = append(res.ScreenshotRefs, ref)
		}
	}
	res.Finish(out.Status, out.Reason, stage, out.Err, r.now())
	return res
}

// classify maps an error raised outside the agents.
func classify(ctx context.Context, err error) agent.Outcome {
	switch {
	case ctx.Err() != nil:
		return agent.Outcome{Status: models.StatusError, Reason: models.ReasonCancelled, Err: err}
	case browser.IsWorkerFault(err):
		return agent.Outcome{Status: models.StatusError, Reason: models.ReasonWorkerFault, Err: err}
	case errdefs.KindOf(err) == errdefs.KindTimeout:
		return agent.Outcome{Status: models.StatusError, Reason: models.ReasonTimeout, Err: err}
	}
	return agent.Outcome{Status: models.StatusError, Reason: models.ReasonError, Err: err}
}

// capture saves a screenshot of the failed page. It runs on a context
// detached from cancellation and gives up after screenshotTimeout.
func (r *Runner) capture(ctx context.Context, sess browser.Session, seq, attempt int, label string) string {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()

	type shot struct {
		data []byte
		err  error
	}
	done := make(chan shot, 1)
	go func() {
		data, err := sess.Screenshot(sctx)
		done <- shot{data, err}
	}()

	var s shot
	select {
	case s = <-done:
	case <-sctx.Done():
		s.err = sctx.Err()
	}
	if s.err != nil || len(s.data) == 0 {
		if s.err != nil {
			r.logf("Screenshot failed: %v", s.err)
		}
		return ""
	}

	path := r.Sink.ScreenshotPath(seq, attempt, label)
	if err := writeFile(path, s.data); err != nil {
		r.logf("Failed to save screenshot: %v", err)
		return ""
	}
	return path
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
