package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/applybot-dev/applybot/internal/browser"
	"github.com/applybot-dev/applybot/internal/config"
	"github.com/applybot-dev/applybot/internal/errdefs"
	"github.com/applybot-dev/applybot/internal/profile"
	"github.com/applybot-dev/applybot/pkg/models"
)

const fieldInstructionFormat = `Fill exactly one form field for a job application.
Field ref: %s
Field label: %q
Field type: %s
%s
Applicant: %s, %s. Applying for %q at %q.
Reply with {"action":"type","ref":"%s","value":"..."} or {"action":"select","ref":"%s","value":"<option text>"}.
If you are not confident, reply with {"done":"skip"}. Never invent personal data.`

// FormFiller fills, submits and verifies the application form reached by the Navigator.
type FormFiller struct {
	Planner Planner
	Profile *profile.Profile
	Config  config.AgentConfig
	Vision  bool
	Now     func() time.Time
	// Logger receives planner diagnostics; log.Default when nil.
	Logger  *log.Logger
}

type formRun struct {
	f        *FormFiller
	sess     browser.Session
	job      models.JobDescriptor
	trace    tracer
	steps    int
	uploaded map[string]bool
	handled  map[string]bool
}

var errStepBudget = errors.New("form step budget exhausted")

// Run moves res from form_reached through filling and submitted to verified,
// or to a form failure.
func (f *FormFiller) Run(ctx context.Context, sess browser.Session, job models.JobDescriptor, res *models.JobResult) Outcome {
	r := &formRun{
		f:        f,
		sess:     sess,
		job:      job,
		trace:    tracer{entries: &res.FormTrace, now: nowOrDefault(f.Now)},
		uploaded: map[string]bool{},
		handled:  map[string]bool{},
	}
	if err := res.Advance(models.StatusFilling); err != nil {
		return fail(models.StatusError, models.ReasonError, err)
	}

	submit, out, ok := r.fillPages(ctx)
	if !ok {
		return out
	}
	if out, ok := r.submit(ctx, submit, res); !ok {
		return out
	}

	page, verdict, err := r.verify(ctx)
	if err != nil {
		return r.failure(err)
	}
	switch verdict {
	case verdictConfirmed:
		r.trace.add("verify", page.URL, "confirmation", "verified")
		return succeed(models.StatusVerified)
	case verdictUnverified:
		r.trace.add("verify", page.URL, "no confirmation", "unverified")
		return fail(models.StatusError, models.ReasonUnverified,
			fmt.Errorf("%w: no confirmation after submit", errdefs.ErrForm))
	}

	// one corrective pass
	problems := FormErrors(page)
	r.trace.add("verify", page.URL, strings.Join(problems, "; "), "errors")
	if err := res.Advance(models.StatusFilling); err != nil {
		return fail(models.StatusError, models.ReasonError, err)
	}
	if err := r.correct(ctx, page); err != nil {
		return r.failure(err)
	}
	page, err = observe(ctx, sess, f.Config.ActionTimeout, false)
	if err != nil {
		return r.failure(err)
	}
	submit, ok = findSubmit(page)
	if !ok {
		return fail(models.StatusValidationFailed, models.ReasonValidationFailed,
			fmt.Errorf("%w: %s", errdefs.ErrForm, strings.Join(problems, "; ")))
	}
	if out, ok := r.submit(ctx, submit, res); !ok {
		return out
	}
	page, verdict, err = r.verify(ctx)
	if err != nil {
		return r.failure(err)
	}
	switch verdict {
	case verdictConfirmed:
		r.trace.add("verify", page.URL, "confirmation after correction", "verified")
		return succeed(models.StatusVerified)
	case verdictUnverified:
		r.trace.add("verify", page.URL, "no confirmation after correction", "unverified")
		return fail(models.StatusError, models.ReasonUnverified,
			fmt.Errorf("%w: no confirmation after corrective submit", errdefs.ErrForm))
	}
	problems = FormErrors(page)
	r.trace.add("verify", page.URL, strings.Join(problems, "; "), "validation_failed")
	return fail(models.StatusValidationFailed, models.ReasonValidationFailed,
		fmt.Errorf("%w: %s", errdefs.ErrForm, strings.Join(problems, "; ")))
}

// recoverable reports a failed action that should not end the job, such as
// an element that went stale or an option that vanished.
func recoverable(err error) bool {
	return errdefs.KindOf(err) == errdefs.KindUnknown && !browser.IsWorkerFault(err) && !errors.Is(err, errStepBudget)
}

func (r *formRun) failure(err error) Outcome {
	if errors.Is(err, errStepBudget) {
		return fail(models.StatusError, models.ReasonError, fmt.Errorf("%w: %w", errdefs.ErrForm, err))
	}
	return failFromError(err)
}

// fillPages fills every page of the form and returns the final submit control.
func (r *formRun) fillPages(ctx context.Context) (browser.Element, Outcome, bool) {
	cfg := r.f.Config
	for pageNum := 1; pageNum <= max(cfg.MaxFormPages, 1); pageNum++ {
		page, err := observe(ctx, r.sess, cfg.ActionTimeout, r.f.Vision)
		if err != nil {
			return browser.Element{}, r.failure(err), false
		}
		if IsCaptcha(page) {
			r.trace.add("detect", page.URL, "captcha", "blocked")
			return browser.Element{}, fail(models.StatusCaptchaBlocked, models.ReasonCaptchaBlocked,
				fmt.Errorf("%w: captcha on form page %d", errdefs.ErrNavigation, pageNum)), false
		}

		if err := r.fillPage(ctx, page, nil); err != nil {
			if errdefs.KindOf(err) == errdefs.KindForm && !errors.Is(err, errStepBudget) {
				return browser.Element{}, fail(models.StatusUploadFailed, models.ReasonUploadFailed, err), false
			}
			return browser.Element{}, r.failure(err), false
		}

		page, err = observe(ctx, r.sess, cfg.ActionTimeout, false)
		if err != nil {
			return browser.Element{}, r.failure(err), false
		}
		if submit, ok := findSubmit(page); ok {
			return submit, Outcome{}, true
		}
		next, ok := findControl(page, nextKeywords, nil)
		if !ok {
			r.trace.add("submit", page.URL, "no submit control", "failed")
			return browser.Element{}, fail(models.StatusError, models.ReasonError,
				fmt.Errorf("%w: no submit or next control on form page %d", errdefs.ErrForm, pageNum)), false
		}
		if err := r.act(ctx, "next page", func(ctx context.Context) error { return r.sess.Click(ctx, next.Ref) }); err != nil {
			return browser.Element{}, r.failure(err), false
		}
		r.trace.add("next", next.Caption(), fmt.Sprintf("page %d", pageNum), "ok")
	}
	return browser.Element{}, fail(models.StatusError, models.ReasonError,
		fmt.Errorf("%w: form has more than %d pages", errdefs.ErrForm, cfg.MaxFormPages)), false
}

// findSubmit returns a final submit control. Controls that read as "next"
// or "continue" are page turns, not submits.
func findSubmit(page *browser.PageState) (browser.Element, bool) {
	return findControl(page, submitKeywords, func(el browser.Element) bool {
		return containsAny(normalize(el.Caption()), nextKeywords...)
	})
}

// act runs one budgeted session action.
func (r *formRun) act(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	r.steps++
	if r.steps > r.f.Config.FormMaxSteps {
		return fmt.Errorf("%w after %d actions", errStepBudget, r.f.Config.FormMaxSteps)
	}
	return call(ctx, r.f.Config.ActionTimeout, op, fn)
}

// fillPage fills the fields on one page. When only is non-nil just those
// refs are touched, whatever their current value.
func (r *formRun) fillPage(ctx context.Context, page *browser.PageState, only map[string]bool) error {
	var fileInputs, unresolved []browser.Element
	for _, el := range page.Fields() {
		if only != nil && !only[el.Ref] {
			continue
		}
		if only == nil && r.handled[el.Ref] {
			continue
		}
		if el.Type == "file" {
			if only == nil {
				fileInputs = append(fileInputs, el)
			}
			continue
		}
		r.handled[el.Ref] = true

		// a rejected value is not retried as is
		if only != nil && el.Invalid && el.Value != "" && el.Type != "checkbox" {
			unresolved = append(unresolved, el)
			continue
		}
		done, err := r.fillField(ctx, el, only != nil)
		if err != nil {
			if recoverable(err) {
				r.trace.add("fill", el.Caption(), "", "failed: "+err.Error())
				continue
			}
			return err
		}
		if !done && el.Required {
			unresolved = append(unresolved, el)
		}
	}

	if err := r.attach(ctx, page, fileInputs); err != nil {
		return err
	}
	for _, el := range unresolved {
		if err := r.resolveWithPlanner(ctx, page, el); err != nil {
			return err
		}
	}
	return nil
}

// fillField fills one field from the profile. done is false when the field
// was left for the planner.
func (r *formRun) fillField(ctx context.Context, el browser.Element, force bool) (bool, error) {
	key := ClassifyField(el)

	if el.Type == "checkbox" {
		switch {
		case key == FieldConsent && el.Required:
			if el.Checked {
				return true, nil
			}
			if err := r.act(ctx, "check consent", func(ctx context.Context) error { return r.sess.SetChecked(ctx, el.Ref, true) }); err != nil {
				return false, err
			}
			r.trace.add("check", el.Caption(), "mandatory consent", "ok")
			return true, nil
		case key == FieldNewsletter && el.Checked:
			if err := r.act(ctx, "uncheck", func(ctx context.Context) error { return r.sess.SetChecked(ctx, el.Ref, false) }); err != nil {
				return false, err
			}
			r.trace.add("uncheck", el.Caption(), "optional subscription", "ok")
			return true, nil
		case key == FieldNewsletter:
			r.trace.add("skip", el.Caption(), "optional subscription", "skipped")
			return true, nil
		}
		return false, nil
	}
	if el.Type == "radio" {
		return false, nil
	}
	if el.Value != "" && !el.Invalid && !force {
		return true, nil
	}
	if key == FieldUnknown {
		if !el.Required {
			r.trace.add("skip", el.Caption(), "unrecognized optional field", "skipped")
		}
		return false, nil
	}

	value, ok := resolveValue(key, r.f.Profile, r.job)
	if !ok {
		r.trace.add("skip", el.Caption(), string(key)+" not in profile", "skipped")
		return false, nil
	}

	switch {
	case el.Tag == "select":
		option := matchOption(el.Options, value)
		if option == "" {
			r.trace.add("skip", el.Caption(), "no matching option for "+string(key), "skipped")
			return false, nil
		}
		if err := r.act(ctx, "select", func(ctx context.Context) error { return r.sess.Select(ctx, el.Ref, option) }); err != nil {
			return false, err
		}
		r.trace.add("select", el.Caption(), string(key), "ok")
		return true, nil

	case key.IsDateField() || el.Type == "date":
		return true, r.fillDate(ctx, el, key, value)
	}

	if err := r.act(ctx, "type", func(ctx context.Context) error { return r.sess.Type(ctx, el.Ref, value) }); err != nil {
		return false, err
	}
	detail := string(key)
	if key.IsOpenQuestion() {
		detail = "templated answer"
	}
	r.trace.add("type", el.Caption(), detail, "ok")
	return true, nil
}

// fillDate uses the picker when the field has one and falls back to text.
func (r *formRun) fillDate(ctx context.Context, el browser.Element, key FieldKey, value string) error {
	date, ok := parseDate(value)
	if ok && (el.HasPicker || el.Type == "date") {
		err := r.act(ctx, "pick date", func(ctx context.Context) error { return r.sess.PickDate(ctx, el.Ref, date) })
		if err == nil {
			r.trace.add("pick_date", el.Caption(), string(key), "ok")
			return nil
		}
		if !errors.Is(err, browser.ErrNoPicker) {
			return err
		}
		r.trace.add("pick_date", el.Caption(), string(key), "no picker, typing")
	}
	text := value
	if ok {
		text = date.Format(dateLayoutFor(el))
	}
	if err := r.act(ctx, "type date", func(ctx context.Context) error { return r.sess.Type(ctx, el.Ref, text) }); err != nil {
		return err
	}
	r.trace.add("type", el.Caption(), string(key), "ok")
	return nil
}

// attach uploads documents not yet attached on an earlier page.
func (r *formRun) attach(ctx context.Context, page *browser.PageState, inputs []browser.Element) error {
	if len(inputs) == 0 {
		return nil
	}
	var docs []profile.Document
	for _, d := range r.f.Profile.Documents {
		if !r.uploaded[d.FilePath] {
			docs = append(docs, d)
		}
	}
	limits := ParseUploadLimits(page)
	plan, err := PlanUploads(docs, inputs, limits)
	for _, d := range plan.Dropped {
		r.trace.add("drop", d.Label, string(d.Kind), "dropped for upload limits")
	}
	if err != nil {
		r.trace.add("upload", "", "", "failed: "+err.Error())
		return err
	}

	for _, up := range plan.Uploads {
		err := r.act(ctx, "upload", func(ctx context.Context) error { return r.sess.SetFiles(ctx, up.Ref, up.Paths()) })
		labels := make([]string, len(up.Documents))
		required := false
		for i, d := range up.Documents {
			labels[i] = d.Label
			required = required || d.Required
		}
		if err != nil {
			r.trace.add("upload", strings.Join(labels, ", "), "", "failed: "+err.Error())
			if !recoverable(err) {
				return err
			}
			if required {
				return fmt.Errorf("%w: attach %s: %w", errdefs.ErrForm, strings.Join(labels, ", "), err)
			}
			continue
		}
		for _, d := range up.Documents {
			r.uploaded[d.FilePath] = true
		}
		r.trace.add("upload", strings.Join(labels, ", "), fmt.Sprintf("%d file(s)", len(up.Documents)), "ok")
	}
	return nil
}

// resolveWithPlanner asks the planner for one field. Only a type or select
// action on that same field is accepted; anything else leaves it blank.
func (r *formRun) resolveWithPlanner(ctx context.Context, page *browser.PageState, el browser.Element) error {
	if r.f.Planner == nil {
		r.trace.add("skip", el.Caption(), "unresolved required field", "skipped")
		return nil
	}
	options := ""
	if len(el.Options) > 0 {
		options = "Options: " + strings.Join(el.Options, " | ")
	}
	if el.Message != "" {
		options += "\nReported error: " + el.Message
	}
	instruction := fmt.Sprintf(fieldInstructionFormat,
		el.Ref, el.Caption(), el.Tag+"/"+el.Type, options,
		r.f.Profile.FullName(), r.f.Profile.Personal.Email, r.job.Title, r.job.Company,
		el.Ref, el.Ref)

	var lastErr error
	answered := false
	for i := 0; i < max(r.f.Config.MaxPlannerAttempts, 1); i++ {
		d, err := r.f.Planner.Act(ctx, instruction, page)
		if err != nil {
			if plannerUnavailable(err) {
				return err
			}
			logf(r.f.Logger, "form planner attempt %d for %q failed: %v", i+1, el.Caption(), err)
			if errors.Is(err, ErrInvalidDecision) {
				answered = true
			} else {
				lastErr = err
			}
			continue
		}
		answered = true
		if d.Done() {
			break
		}
		act := d.Action
		if act.Ref != el.Ref || strings.TrimSpace(act.Value) == "" {
			continue
		}
		switch {
		case act.Kind == ActionType && el.Tag != "select":
			if err := r.act(ctx, "type", func(ctx context.Context) error { return r.sess.Type(ctx, el.Ref, act.Value) }); err != nil {
				return err
			}
		case act.Kind == ActionSelect && el.Tag == "select":
			option := matchOption(el.Options, act.Value)
			if option == "" {
				continue
			}
			if err := r.act(ctx, "select", func(ctx context.Context) error { return r.sess.Select(ctx, el.Ref, option) }); err != nil {
				return err
			}
		default:
			continue
		}
		r.trace.add(string(act.Kind), el.Caption(), "planner", "ok")
		return nil
	}
	if !answered && lastErr != nil {
		r.trace.add("plan", el.Caption(), "", "failed: "+lastErr.Error())
		return fmt.Errorf("form planner: %w", lastErr)
	}
	r.trace.add("skip", el.Caption(), "unresolved required field", "skipped")
	return nil
}

// submit clicks the submit control and advances res to submitted.
func (r *formRun) submit(ctx context.Context, el browser.Element, res *models.JobResult) (Outcome, bool) {
	if err := r.act(ctx, "submit", func(ctx context.Context) error { return r.sess.Click(ctx, el.Ref) }); err != nil {
		r.trace.add("submit", el.Caption(), "", "failed: "+err.Error())
		return r.failure(err), false
	}
	r.trace.add("submit", el.Caption(), "", "ok")
	if err := res.Advance(models.StatusSubmitted); err != nil {
		return fail(models.StatusError, models.ReasonError, err), false
	}
	return Outcome{}, true
}

type verdict int

const (
	verdictUnverified verdict = iota
	verdictConfirmed
	verdictErrors
)

// verify polls the page until it shows a confirmation or errors, or the
// verify timeout passes.
func (r *formRun) verify(ctx context.Context) (*browser.PageState, verdict, error) {
	cfg := r.f.Config
	interval := cfg.VerifyPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.NewTimer(cfg.VerifyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *browser.PageState
	for {
		page, err := observe(ctx, r.sess, cfg.ActionTimeout, false)
		if err != nil {
			return nil, verdictUnverified, err
		}
		last = page
		if IsConfirmation(page) {
			return page, verdictConfirmed, nil
		}
		if len(FormErrors(page)) > 0 {
			return page, verdictErrors, nil
		}

		select {
		case <-ctx.Done():
			return last, verdictUnverified, ctx.Err()
		case <-deadline.C:
			return last, verdictUnverified, nil
		case <-ticker.C:
		}
	}
}

// correct refills the fields the page flagged, once.
func (r *formRun) correct(ctx context.Context, page *browser.PageState) error {
	only := map[string]bool{}
	for _, el := range page.Fields() {
		if el.Invalid || (el.Required && el.Value == "" && el.Type != "file" && el.Type != "checkbox") {
			only[el.Ref] = true
		}
		if el.Type == "checkbox" && el.Required && !el.Checked {
			only[el.Ref] = true
		}
	}
	r.trace.add("correct", page.URL, fmt.Sprintf("%d field(s)", len(only)), "started")
	if len(only) == 0 {
		return nil
	}
	return r.fillPage(ctx, page, only)
}
