package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/applybot-dev/applybot/internal/browser"
	"github.com/applybot-dev/applybot/internal/errdefs"
	"github.com/applybot-dev/applybot/pkg/models"
)

// Outcome is where an agent stopped. Status is either the hand-off status
// (StatusFormReached, StatusVerified) or a terminal failure.
type Outcome struct {
	Status models.Status
	Reason models.FailureReason
	Err    error
}

func succeed(status models.Status) Outcome {
	return Outcome{Status: status}
}

func fail(status models.Status, reason models.FailureReason, err error) Outcome {
	return Outcome{Status: status, Reason: reason, Err: err}
}

// failFromError classifies a session or planner error into an outcome.
// plannerUnavailable reports a planner error that no retry will fix or that
// must end the job now. Undecodable replies are not among them.
func plannerUnavailable(err error) bool {
	switch errdefs.KindOf(err) {
	case errdefs.KindCancelled, errdefs.KindTimeout, errdefs.KindConfiguration:
		return true
	}
	return false
}

func logf(l *log.Logger, format string, args ...any) {
	if l == nil {
		l = log.Default()
	}
	l.Printf(format, args...)
}

func failFromError(err error) Outcome {
	switch {
	case browser.IsWorkerFault(err):
		return fail(models.StatusError, models.ReasonWorkerFault, err)
	}
	switch errdefs.KindOf(err) {
	case errdefs.KindTimeout:
		return fail(models.StatusError, models.ReasonTimeout, err)
	case errdefs.KindCancelled:
		return fail(models.StatusError, models.ReasonCancelled, err)
	}
	return fail(models.StatusError, models.ReasonError, err)
}

// call runs one session operation under a deadline. A call that ignores its
// context is abandoned when the deadline passes.
func call(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(cctx) }()

	var err error
	select {
	case err = <-done:
	case <-cctx.Done():
		err = cctx.Err()
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errdefs.Timeout(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// observe captures the page, with a screenshot when the planner can see.
func observe(ctx context.Context, sess browser.Session, timeout time.Duration, vision bool) (*browser.PageState, error) {
	var page *browser.PageState
	err := call(ctx, timeout, "observe", func(ctx context.Context) error {
		var err error
		page, err = sess.Observe(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if vision {
		shots := make(chan []byte, 1)
		err := call(ctx, timeout, "screenshot", func(ctx context.Context) error {
			shot, err := sess.Screenshot(ctx)
			shots <- shot
			return err
		})
		if err == nil {
			page.Screenshot = <-shots
		}
	}
	return page, nil
}

// tracer appends numbered entries to a result trace.
type tracer struct {
	entries *[]models.TraceEntry
	now     func() time.Time
}

func (t tracer) add(action, target, detail, outcome string) {
	*t.entries = append(*t.entries, models.TraceEntry{
		Step:    len(*t.entries) + 1,
		Action:  action,
		Target:  target,
		Detail:  detail,
		Outcome: outcome,
		At:      t.now().UTC(),
	})
}

func nowOrDefault(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
