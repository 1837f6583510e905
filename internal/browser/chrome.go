package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
)

// refAttr marks every element an observation reports.
const refAttr = "data-applybot-ref"

// ChromeOptions configures the Chrome engine.
type ChromeOptions struct {
	Headless  bool
	ExecPath  string
	UserAgent string
	Width     int
	Height    int
	NoSandbox bool
	Verbose   bool
}

// Chrome starts one Chrome process per session.
type Chrome struct {
	opts ChromeOptions
}

// NewChrome creates a Chrome engine.
func NewChrome(opts ChromeOptions) *Chrome {
	if opts.Width == 0 || opts.Height == 0 {
		opts.Width, opts.Height = 1366, 900
	}
	return &Chrome{opts: opts}
}

// NewSession starts a fresh browser. ctx bounds startup only.
func (c *Chrome) NewSession(ctx context.Context) (Session, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.opts.Headless),
		chromedp.WindowSize(c.opts.Width, c.opts.Height),
		chromedp.Flag("disable-popup-blocking", false),
	)
	if c.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(c.opts.ExecPath))
	}
	if c.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(c.opts.UserAgent))
	}
	if c.opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox, chromedp.DisableGPU)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	var ctxOpts []chromedp.ContextOption
	if c.opts.Verbose {
		ctxOpts = append(ctxOpts, chromedp.WithLogf(log.Printf))
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	s := &chromeSession{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}

	// the first Run launches the process
	if err := s.run(ctx); err != nil {
		s.cancel()
		return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	return s, nil
}

type chromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// run executes actions on the tab, bounded by the caller's deadline and
// cancellation as well as the tab's lifetime.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.closed.Load() {
		return ErrSessionCrashed
	}
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrSessionCrashed, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return err
}

func selector(ref string) string {
	return fmt.Sprintf(`[%s=%q]`, refAttr, ref)
}

func (s *chromeSession) Navigate(ctx context.Context, target string) error {
	return s.run(ctx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *chromeSession) Observe(ctx context.Context) (*PageState, error) {
	var snap struct {
		URL      string    `json:"url"`
		Title    string    `json:"title"`
		Text     string    `json:"text"`
		Elements []Element `json:"elements"`
		Frames   []string  `json:"frames"`
	}
	if err := s.run(ctx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(observeScript, &snap),
	); err != nil {
		return nil, fmt.Errorf("observe page: %w", err)
	}
	return &PageState{
		URL:      snap.URL,
		Title:    snap.Title,
		Text:     snap.Text,
		Elements: snap.Elements,
		Frames:   snap.Frames,
	}, nil
}

func (s *chromeSession) exists(ctx context.Context, ref string) error {
	var found bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, selector(ref))
	if err := s.run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrElementNotFound, ref)
	}
	return nil
}

func (s *chromeSession) Click(ctx context.Context, ref string) error {
	if err := s.exists(ctx, ref); err != nil {
		return err
	}
	sel := selector(ref)
	return s.run(ctx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	)
}

func (s *chromeSession) Type(ctx context.Context, ref, text string) error {
	if err := s.exists(ctx, ref); err != nil {
		return err
	}
	sel := selector(ref)
	return s.run(ctx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
		chromedp.Evaluate(dispatchScript(ref), nil),
	)
}

func (s *chromeSession) Select(ctx context.Context, ref, option string) error {
	if err := s.exists(ctx, ref); err != nil {
		return err
	}
	var ok bool
	script := fmt.Sprintf(selectScript, selector(ref), option)
	if err := s.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("option %q not available on %s", option, ref)
	}
	return nil
}

func (s *chromeSession) SetChecked(ctx context.Context, ref string, checked bool) error {
	if err := s.exists(ctx, ref); err != nil {
		return err
	}
	var current bool
	sel := selector(ref)
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%q).checked`, sel), &current)); err != nil {
		return err
	}
	if current == checked {
		return nil
	}
	return s.run(ctx, chromedp.Click(sel, chromedp.ByQuery))
}

func (s *chromeSession) SetFiles(ctx context.Context, ref string, paths []string) error {
	if err := s.exists(ctx, ref); err != nil {
		return err
	}
	return s.run(ctx, chromedp.SetUploadFiles(selector(ref), paths, chromedp.ByQuery))
}

// PickDate drives the element's picker. Native date inputs take the ISO
// value; other pickers are opened and the matching day is clicked.
func (s *chromeSession) PickDate(ctx context.Context, ref string, date time.Time) error {
	if err := s.exists(ctx, ref); err != nil {
		return err
	}
	sel := selector(ref)
	var native bool
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%q).type === "date"`, sel), &native)); err != nil {
		return err
	}
	if native {
		return s.run(ctx,
			chromedp.SetValue(sel, date.Format("2006-01-02"), chromedp.ByQuery),
			chromedp.Evaluate(dispatchScript(ref), nil),
		)
	}

	if err := s.run(ctx, chromedp.Click(sel, chromedp.ByQuery)); err != nil {
		return err
	}
	var picked bool
	script := fmt.Sprintf(pickDayScript,
		date.Format("2006-01-02"), date.Format("January 2, 2006"), date.Format("2 January 2006"), date.Day())
	if err := s.run(ctx, chromedp.Evaluate(script, &picked)); err != nil {
		return err
	}
	if !picked {
		return fmt.Errorf("%w: %s", ErrNoPicker, ref)
	}
	return nil
}

func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close tears down the tab and the browser process. Safe to call twice.
func (s *chromeSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

func dispatchScript(ref string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  if (!el) return false;
  el.dispatchEvent(new Event("input", {bubbles: true}));
  el.dispatchEvent(new Event("change", {bubbles: true}));
  el.dispatchEvent(new Event("blur", {bubbles: true}));
  return true;
})()`, selector(ref))
}

const selectScript = `(() => {
  const el = document.querySelector(%q);
  const want = %q.trim().toLowerCase();
  if (!el || !el.options) return false;
  for (const opt of el.options) {
    const text = (opt.textContent || "").trim().toLowerCase();
    if (text === want || opt.value.toLowerCase() === want) {
      el.value = opt.value;
      el.dispatchEvent(new Event("input", {bubbles: true}));
      el.dispatchEvent(new Event("change", {bubbles: true}));
      return true;
    }
  }
  return false;
})()`

const pickDayScript = `(() => {
  const iso = %q, long = %q, alt = %q, day = %d;
  const visible = el => el.offsetParent !== null;
  const candidates = [
    ...document.querySelectorAll('[data-date="' + iso + '"], [data-value="' + iso + '"]'),
    ...document.querySelectorAll('[aria-label*="' + long + '"], [aria-label*="' + alt + '"]'),
  ].filter(visible);
  if (candidates.length === 0) {
    const cal = [...document.querySelectorAll('[class*="calendar"], [class*="datepicker"], [role="grid"]')].filter(visible);
    for (const c of cal) {
      for (const cell of c.querySelectorAll('td, button, [role="gridcell"]')) {
        if (visible(cell) && (cell.textContent || "").trim() === String(day)) { candidates.push(cell); break; }
      }
      if (candidates.length) break;
    }
  }
  if (candidates.length === 0) return false;
  candidates[0].click();
  return true;
})()`

// observeScript tags interactive elements with refs and returns a snapshot.
// Links and window.open are rewritten so navigation stays in this tab.
var observeScript = strings.ReplaceAll(`(() => {
  const ATTR = "REFATTR";
  if (!window.__applybotPatched) {
    window.open = (u) => { if (u) location.href = u; return window; };
    window.__applybotPatched = true;
  }
  document.querySelectorAll("a[target], form[target]").forEach(a => a.removeAttribute("target"));

  const clean = s => (s || "").replace(/\s+/g, " ").trim();
  const visible = el => {
    if (el.type === "file") return true;
    const r = el.getBoundingClientRect();
    const st = getComputedStyle(el);
    return r.width > 0 && r.height > 0 && st.visibility !== "hidden" && st.display !== "none";
  };
  const labelFor = el => {
    if (el.labels && el.labels.length) return clean(el.labels[0].innerText);
    const by = el.getAttribute("aria-labelledby");
    if (by) {
      const t = by.split(/\s+/).map(id => document.getElementById(id)).filter(Boolean).map(n => n.innerText).join(" ");
      if (clean(t)) return clean(t);
    }
    if (el.getAttribute("aria-label")) return clean(el.getAttribute("aria-label"));
    const wrap = el.closest("label, .form-group, .field, fieldset");
    if (wrap) {
      const l = wrap.querySelector("label, legend");
      if (l && l !== el) return clean(l.innerText);
    }
    return "";
  };

  let doc = document.body.getAttribute(ATTR + "-doc");
  if (!doc) {
    doc = Math.random().toString(36).slice(2, 7);
    document.body.setAttribute(ATTR + "-doc", doc);
  }
  let next = Number(document.body.getAttribute(ATTR + "-next") || "0");
  const elements = [];
  const nodes = document.querySelectorAll('a[href], button, input, select, textarea, [role="button"], [role="link"]');
  for (const el of nodes) {
    if (el.type === "hidden" || !visible(el)) continue;
    let ref = el.getAttribute(ATTR);
    if (!ref) { ref = doc + "-" + (++next); el.setAttribute(ATTR, ref); }
    const tag = el.getAttribute("role") === "button" ? "button" : el.getAttribute("role") === "link" ? "a" : el.tagName.toLowerCase();
    const label = labelFor(el);
    const cls = (el.className && el.className.baseVal === undefined ? el.className : "") || "";
    elements.push({
      ref,
      tag,
      type: (el.type || "").toLowerCase(),
      name: el.getAttribute("name") || "",
      id: el.id || "",
      label,
      placeholder: el.getAttribute("placeholder") || "",
      text: tag === "a" || tag === "button" ? clean(el.innerText || el.value).slice(0, 200) : "",
      href: el.href || "",
      value: el.type === "password" ? "" : (el.value || ""),
      options: el.tagName === "SELECT" ? [...el.options].map(o => clean(o.textContent)).filter(Boolean) : [],
      accept: el.getAttribute("accept") || "",
      required: el.required || el.getAttribute("aria-required") === "true" || /\*\s*$/.test(label),
      checked: !!el.checked,
      disabled: !!el.disabled || el.getAttribute("aria-disabled") === "true",
      multiple: !!el.multiple,
      has_picker: el.type === "date" || /date|calendar|picker/i.test(cls) || el.hasAttribute("data-datepicker"),
      invalid: el.getAttribute("aria-invalid") === "true" || (el.willValidate && el.matches(":invalid") && el.value !== ""),
      message: el.validationMessage || "",
    });
  }
  document.body.setAttribute(ATTR + "-next", String(next));

  return {
    url: location.href,
    title: document.title,
    text: clean(document.body.innerText).slice(0, 20000),
    elements,
    frames: [...document.querySelectorAll("iframe")].map(f => f.src || "").filter(Boolean),
  };
})()`, "REFATTR", refAttr)
