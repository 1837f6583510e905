package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applybot-dev/applybot/internal/browser"
	"github.com/applybot-dev/applybot/internal/browser/browsertest"
	"github.com/applybot-dev/applybot/internal/errdefs"
	"github.com/applybot-dev/applybot/pkg/models"
)

const postingURL = "https://board.example/job/1"

func postingPage(applyTarget string) *browsertest.Page {
	return &browsertest.Page{
		URL:   postingURL,
		Title: "Senior Go Engineer at Acme",
		Text:  "We are hiring a Senior Go Engineer.",
		Elements: []browser.Element{
			{Ref: "save", Tag: "button", Text: "Save job"},
			{Ref: "share", Tag: "a", Text: "Share on LinkedIn", Href: "https://linkedin.example/share"},
			{Ref: "apply", Tag: "a", Text: "Apply now", Href: applyTarget},
		},
		Links: map[string]string{"apply": applyTarget},
	}
}

func simpleFormPage(url string) *browsertest.Page {
	return &browsertest.Page{
		URL:   url,
		Title: "Application",
		Elements: []browser.Element{
			{Ref: "f1", Tag: "input", Type: "text", Label: "First name"},
			{Ref: "f2", Tag: "input", Type: "text", Label: "Last name"},
			{Ref: "f3", Tag: "input", Type: "email", Label: "Email"},
			{Ref: "f4", Tag: "input", Type: "file", Label: "CV"},
			{Ref: "go", Tag: "button", Type: "submit", Text: "Submit"},
		},
	}
}

func runNavigator(t *testing.T, sess browser.Session, n *Navigator) (Outcome, models.JobResult) {
	t.Helper()
	res := models.NewJobResult(testJob(), "batch-001", 1, time.Now())
	out := n.Run(context.Background(), sess, testJob(), &res)
	return out, res
}

func TestNavigator_ReachesForm(t *testing.T) {
	site := browsertest.Site{}.Add(
		postingPage("https://careers.acme.example/apply/1"),
		simpleFormPage("https://careers.acme.example/apply/1"),
	)
	sess := browsertest.NewSession(site)

	out, res := runNavigator(t, sess, &Navigator{Config: testAgentConfig()})

	assert.Equal(t, models.StatusFormReached, out.Status)
	assert.NoError(t, out.Err)
	assert.Equal(t, models.StatusFormReached, res.Status)
	assert.Equal(t, "https://careers.acme.example/apply/1", sess.URL())
	assert.Contains(t, sess.Calls(), "click apply")
	assert.NotContains(t, sess.Calls(), "click save")
	assert.NotContains(t, sess.Calls(), "click share")
}

func TestNavigator_LoginGatedTracker(t *testing.T) {
	site := browsertest.Site{}.Add(
		postingPage("https://board.example/out/1"),
		&browsertest.Page{URL: "https://board.example/out/1", Redirect: "https://ats.example/login?job=1"},
		&browsertest.Page{
			URL:  "https://ats.example/login?job=1",
			Text: "Sign in to apply for this position",
			Elements: []browser.Element{
				{Ref: "user", Tag: "input", Type: "email", Label: "Email"},
				{Ref: "pass", Tag: "input", Type: "password", Label: "Password"},
				{Ref: "signin", Tag: "button", Type: "submit", Text: "Sign in"},
			},
		},
	)
	sess := browsertest.NewSession(site)

	out, res := runNavigator(t, sess, &Navigator{Config: testAgentConfig()})

	assert.Equal(t, models.StatusLoginRequired, out.Status)
	assert.Equal(t, models.ReasonLoginRequired, out.Reason)
	assert.Equal(t, errdefs.KindNavigation, errdefs.KindOf(out.Err))
	assert.Empty(t, sess.Value("user"), "credentials are never entered")
	assert.NotContains(t, sess.Calls(), "click signin")
	assert.Empty(t, res.FormTrace)
}

func TestNavigator_Captcha(t *testing.T) {
	site := browsertest.Site{}.Add(
		postingPage("https://careers.acme.example/apply/1"),
		&browsertest.Page{
			URL:    "https://careers.acme.example/apply/1",
			Frames: []string{"https://www.google.com/recaptcha/api2/anchor?k=abc"},
		},
	)
	out, _ := runNavigator(t, browsertest.NewSession(site), &Navigator{Config: testAgentConfig()})
	assert.Equal(t, models.StatusCaptchaBlocked, out.Status)
	assert.Equal(t, models.ReasonCaptchaBlocked, out.Reason)
}

func TestNavigator_InvisibleRecaptchaBadgeIsNotABlock(t *testing.T) {
	form := simpleFormPage("https://careers.acme.example/apply/1")
	form.Text = "This site is protected by reCAPTCHA and the Google Privacy Policy and Terms of Service apply."
	form.Frames = []string{
		"https://www.google.com/recaptcha/api2/anchor?ar=1&k=abc&size=invisible",
		"https://www.google.com/recaptcha/api2/bframe?k=abc",
	}
	site := browsertest.Site{}.Add(postingPage("https://careers.acme.example/apply/1"), form)

	out, _ := runNavigator(t, browsertest.NewSession(site), &Navigator{Config: testAgentConfig()})
	assert.Equal(t, models.StatusFormReached, out.Status)
	assert.NoError(t, out.Err)
}

func TestNavigator_NoApplyButton(t *testing.T) {
	site := browsertest.Site{}.Add(&browsertest.Page{
		URL:      postingURL,
		Text:     "This position has been filled.",
		Elements: []browser.Element{{Ref: "home", Tag: "a", Text: "Back to all jobs"}},
	})

	t.Run("without planner", func(t *testing.T) {
		out, res := runNavigator(t, browsertest.NewSession(site), &Navigator{Config: testAgentConfig()})
		assert.Equal(t, models.StatusNoApplyButton, out.Status)
		assert.NotEmpty(t, res.NavigationTrace)
	})

	t.Run("planner never produces a valid action", func(t *testing.T) {
		planner := &scriptedPlanner{decisions: []Decision{
			{Action: Action{Kind: ActionType, Ref: "home", Value: "x"}},
			{Action: Action{Kind: ActionClick, Ref: "missing"}},
		}}
		out, _ := runNavigator(t, browsertest.NewSession(site), &Navigator{Planner: planner, Config: testAgentConfig()})
		assert.Equal(t, models.StatusNoApplyButton, out.Status)
		assert.Equal(t, 2, planner.calls)
	})
}

func TestNavigator_PlannerOutageIsNotNoApplyButton(t *testing.T) {
	site := browsertest.Site{}.Add(&browsertest.Page{
		URL:      postingURL,
		Elements: []browser.Element{{Ref: "home", Tag: "a", Text: "Back to all jobs"}},
	})

	tests := []struct {
		name       string
		err        error
		wantStatus models.Status
		wantReason models.FailureReason
		wantCalls  int
	}{
		{"rejected key stops at once", errdefs.Configuration("OpenAI rejected the API key"), models.StatusError, models.ReasonError, 1},
		{"service outage", errors.New("chat completion failed with status 503: overloaded"), models.StatusError, models.ReasonError, 2},
		{"undecodable replies", fmt.Errorf("%w: invalid character 'c'", ErrInvalidDecision), models.StatusNoApplyButton, models.ReasonNoApplyButton, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			planner := PlannerFunc(func(context.Context, string, *browser.PageState) (Decision, error) {
				calls++
				return Decision{}, tt.err
			})
			var logs bytes.Buffer
			n := &Navigator{Planner: planner, Config: testAgentConfig(), Logger: log.New(&logs, "[batch-001] ", 0)}

			out, _ := runNavigator(t, browsertest.NewSession(site), n)

			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantReason, out.Reason)
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantStatus == models.StatusError {
				assert.ErrorIs(t, out.Err, tt.err)
			}
			if tt.wantCalls > 1 {
				assert.Contains(t, logs.String(), "[batch-001] navigation planner attempt 1 failed")
			}
		})
	}
}

func TestNavigator_PlannerFallback(t *testing.T) {
	site := browsertest.Site{}.Add(
		&browsertest.Page{
			URL: postingURL,
			Elements: []browser.Element{
				{Ref: "portal", Tag: "a", Text: "Zum Karriereportal"},
			},
			Links: map[string]string{"portal": "https://careers.acme.example/form"},
		},
		simpleFormPage("https://careers.acme.example/form"),
	)
	planner := &scriptedPlanner{decisions: []Decision{
		{Action: Action{Kind: ActionUnknown}},
		{Action: Action{Kind: ActionClick, Ref: "portal"}},
	}}

	out, res := runNavigator(t, browsertest.NewSession(site), &Navigator{Planner: planner, Config: testAgentConfig()})

	assert.Equal(t, models.StatusFormReached, out.Status)
	assert.Equal(t, 2, planner.calls)
	require.NotEmpty(t, res.NavigationTrace)
	assert.Equal(t, "form_reached", res.NavigationTrace[len(res.NavigationTrace)-1].Outcome)
}

func TestNavigator_HungActionTimesOut(t *testing.T) {
	site := browsertest.Site{}.Add(postingPage("https://careers.acme.example/apply/1"))
	sess := browsertest.NewSession(site)
	sess.HangOn = "navigate"

	cfg := testAgentConfig()
	cfg.PageLoadTimeout = 50 * time.Millisecond

	start := time.Now()
	out, res := runNavigator(t, sess, &Navigator{Config: cfg})

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, models.StatusError, out.Status)
	assert.Equal(t, models.ReasonTimeout, out.Reason)
	assert.Equal(t, models.StatusNavigating, res.Status)
}

func TestNavigator_WorkerFault(t *testing.T) {
	sess := browsertest.NewSession(browsertest.Site{}.Add(postingPage("x")))
	sess.FailOn = map[string]error{"observe": browser.ErrSessionCrashed}

	out, _ := runNavigator(t, sess, &Navigator{Config: testAgentConfig()})
	assert.Equal(t, models.ReasonWorkerFault, out.Reason)
	assert.True(t, browser.IsWorkerFault(out.Err))
}
