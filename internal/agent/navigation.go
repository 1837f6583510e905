package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/applybot-dev/applybot/internal/browser"
	"github.com/applybot-dev/applybot/internal/config"
	"github.com/applybot-dev/applybot/internal/errdefs"
	"github.com/applybot-dev/applybot/pkg/models"
)

const navigationInstruction = `Find and open the job application form for this posting.
Click the primary "Apply" control (also "Bewerben", "Jetzt bewerben", "Postuler", "申请") or navigate to its link.
Prefer manual application over applying with third-party profiles.
Reply with {"done":"form_reached"} once an application form with applicant fields is visible,
{"done":"login_required"} if signing in is the only way forward, {"done":"captcha"} for a CAPTCHA,
or {"done":"no_apply_button"} if there is no way to apply. Never enter credentials.
Only "click" and "navigate" actions are allowed.`

// Navigator drives a session from a posting URL to its application form.
type Navigator struct {
	Planner Planner
	Config  config.AgentConfig
	Vision  bool
	Now     func() time.Time
	// Logger receives planner diagnostics; log.Default when nil.
	Logger  *log.Logger
}

// Run moves res from pending to form_reached, or to a navigation failure.
func (n *Navigator) Run(ctx context.Context, sess browser.Session, job models.JobDescriptor, res *models.JobResult) Outcome {
	now := nowOrDefault(n.Now)
	trace := tracer{entries: &res.NavigationTrace, now: now}

	if err := res.Advance(models.StatusNavigating); err != nil {
		return fail(models.StatusError, models.ReasonError, err)
	}

	target := strings.TrimSpace(job.URL)
	err := call(ctx, n.Config.PageLoadTimeout, "open posting", func(ctx context.Context) error {
		return sess.Navigate(ctx, target)
	})
	if err != nil {
		trace.add("navigate", target, "", "failed: "+err.Error())
		return failFromError(err)
	}
	trace.add("navigate", target, "", "ok")

	tried := map[string]bool{}
	for step := 0; step < n.Config.NavigationMaxSteps; step++ {
		page, err := observe(ctx, sess, n.Config.ActionTimeout, n.Vision)
		if err != nil {
			trace.add("observe", "", "", "failed: "+err.Error())
			return failFromError(err)
		}

		switch {
		case IsCaptcha(page):
			trace.add("detect", page.URL, "captcha", "blocked")
			return fail(models.StatusCaptchaBlocked, models.ReasonCaptchaBlocked,
				fmt.Errorf("%w: captcha on %s", errdefs.ErrNavigation, page.Host()))
		case IsApplicationForm(page):
			trace.add("detect", page.URL, "application form", "form_reached")
			if err := res.Advance(models.StatusFormReached); err != nil {
				return fail(models.StatusError, models.ReasonError, err)
			}
			return succeed(models.StatusFormReached)
		case IsLoginGate(page):
			trace.add("detect", page.URL, "login gate", "login_required")
			return fail(models.StatusLoginRequired, models.ReasonLoginRequired,
				fmt.Errorf("%w: sign-in required on %s", errdefs.ErrNavigation, page.Host()))
		}

		if el, ok := bestApplyControl(page, tried); ok {
			tried[page.URL+"#"+el.Ref] = true
			if out, done := n.click(ctx, sess, trace, el, "heuristic"); done {
				return out
			}
			continue
		}

		decision, err := n.plan(ctx, page, tried)
		if err != nil {
			trace.add("plan", page.URL, "", "failed: "+err.Error())
			return failFromError(err)
		}
		switch decision.Signal {
		case SignalNone:
		case SignalFormReached:
			if len(page.Fields()) > 0 {
				trace.add("plan", page.URL, decision.Reason, "form_reached")
				if err := res.Advance(models.StatusFormReached); err != nil {
					return fail(models.StatusError, models.ReasonError, err)
				}
				return succeed(models.StatusFormReached)
			}
			trace.add("plan", page.URL, "form_reached without fields", "rejected")
			return fail(models.StatusNoApplyButton, models.ReasonNoApplyButton,
				fmt.Errorf("%w: no application form on %s", errdefs.ErrNavigation, page.Host()))
		case SignalLoginRequired:
			trace.add("plan", page.URL, decision.Reason, "login_required")
			return fail(models.StatusLoginRequired, models.ReasonLoginRequired,
				fmt.Errorf("%w: sign-in required on %s", errdefs.ErrNavigation, page.Host()))
		case SignalCaptcha:
			trace.add("plan", page.URL, decision.Reason, "captcha_blocked")
			return fail(models.StatusCaptchaBlocked, models.ReasonCaptchaBlocked,
				fmt.Errorf("%w: captcha on %s", errdefs.ErrNavigation, page.Host()))
		default:
			trace.add("plan", page.URL, decision.Reason, "no_apply_button")
			return fail(models.StatusNoApplyButton, models.ReasonNoApplyButton,
				fmt.Errorf("%w: no apply action on %s", errdefs.ErrNavigation, page.Host()))
		}

		act := decision.Action
		switch act.Kind {
		case ActionClick:
			el, _ := page.Element(act.Ref)
			tried[page.URL+"#"+el.Ref] = true
			if out, done := n.click(ctx, sess, trace, el, "planner"); done {
				return out
			}
		case ActionNavigate:
			err := call(ctx, n.Config.PageLoadTimeout, "navigate", func(ctx context.Context) error {
				return sess.Navigate(ctx, act.URL)
			})
			if err != nil {
				trace.add("navigate", act.URL, "planner", "failed: "+err.Error())
				return failFromError(err)
			}
			tried[act.URL] = true
			trace.add("navigate", act.URL, "planner", "ok")
		}
	}

	trace.add("budget", "", fmt.Sprintf("%d steps", n.Config.NavigationMaxSteps), "no_apply_button")
	return fail(models.StatusNoApplyButton, models.ReasonNoApplyButton,
		fmt.Errorf("%w: no application form within %d steps", errdefs.ErrNavigation, n.Config.NavigationMaxSteps))
}

// click activates el. done is true when the click failed the job.
func (n *Navigator) click(ctx context.Context, sess browser.Session, trace tracer, el browser.Element, source string) (Outcome, bool) {
	err := call(ctx, n.Config.ActionTimeout, "click", func(ctx context.Context) error {
		return sess.Click(ctx, el.Ref)
	})
	if err != nil {
		trace.add("click", el.Caption(), source, "failed: "+err.Error())
		if recoverable(err) {
			// stale element; observe again
			return Outcome{}, false
		}
		return failFromError(err), true
	}
	trace.add("click", el.Caption(), source, "ok")
	return Outcome{}, false
}

// bestApplyControl picks the highest scoring apply affordance not yet tried.
func bestApplyControl(page *browser.PageState, tried map[string]bool) (browser.Element, bool) {
	type candidate struct {
		el    browser.Element
		score int
	}
	var candidates []candidate
	for _, el := range page.Controls() {
		if tried[page.URL+"#"+el.Ref] {
			continue
		}
		if s := applyScore(el); s > 0 {
			if el.Tag == "button" || el.Type == "submit" {
				s++
			}
			candidates = append(candidates, candidate{el, s})
		}
	}
	if len(candidates) == 0 {
		return browser.Element{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	return candidates[0].el, true
}

// plan asks the planner for a click or navigate action. Unusable replies are
// retried up to MaxPlannerAttempts and then reported as no apply action.
// When the planner never answered, its last error is returned instead so the
// job records the outage rather than a missing apply button.
func (n *Navigator) plan(ctx context.Context, page *browser.PageState, tried map[string]bool) (Decision, error) {
	if n.Planner == nil {
		return Decision{Signal: SignalNoApply, Reason: "no apply control found"}, nil
	}
	var lastErr error
	answered := false
	attempts := max(n.Config.MaxPlannerAttempts, 1)
	for i := 0; i < attempts; i++ {
		d, err := n.Planner.Act(ctx, navigationInstruction, page)
		if err != nil {
			if plannerUnavailable(err) {
				return Decision{}, err
			}
			logf(n.Logger, "navigation planner attempt %d failed: %v", i+1, err)
			if errors.Is(err, ErrInvalidDecision) {
				answered = true
			} else {
				lastErr = err
			}
			continue
		}
		answered = true
		if d.Done() {
			return d, nil
		}
		switch d.Action.Kind {
		case ActionClick:
			if el, ok := page.Element(d.Action.Ref); ok && !tried[page.URL+"#"+el.Ref] {
				return d, nil
			}
		case ActionNavigate:
			if u, err := url.Parse(d.Action.URL); err == nil && (u.Scheme == "http" || u.Scheme == "https") && !tried[d.Action.URL] {
				return d, nil
			}
		}
	}
	if !answered && lastErr != nil {
		return Decision{}, fmt.Errorf("navigation planner: %w", lastErr)
	}
	return Decision{Signal: SignalNoApply, Reason: "planner produced no valid action"}, nil
}
