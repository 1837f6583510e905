// Package browsertest provides a scripted in-memory browser for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/applybot-dev/applybot/internal/browser"
)

// Page is one scripted page.
type Page struct {
	URL      string
	Title    string
	Text     string
	Elements []browser.Element
	Frames   []string
	// Redirect sends navigation straight on to another URL.
	Redirect string
	// Links maps an element ref to the URL a click opens.
	Links map[string]string
	// OnClick runs when the ref is clicked and returns the URL to open, or "" to stay.
	OnClick map[string]func(s *Session) string
}

// Site is a set of pages keyed by URL.
type Site map[string]*Page

// Add registers pages by their URL.
func (s Site) Add(pages ...*Page) Site {
	for _, p := range pages {
		s[p.URL] = p
	}
	return s
}

// Engine hands out fake sessions over a shared site.
type Engine struct {
	Site Site
	// NewErr is returned by NewSession when set.
	NewErr error
	// Configure adjusts each new session before it is returned.
	Configure func(s *Session)

	mu       sync.Mutex
	sessions []*Session
}

// NewEngine creates an engine serving pages.
func NewEngine(pages ...*Page) *Engine {
	return &Engine{Site: Site{}.Add(pages...)}
}

func (e *Engine) NewSession(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NewErr != nil {
		return nil, e.NewErr
	}
	s := NewSession(e.Site)
	if e.Configure != nil {
		e.Configure(s)
	}
	e.sessions = append(e.sessions, s)
	return s, nil
}

// Sessions returns every session created so far.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

// OpenSessions counts sessions that were never closed.
func (e *Engine) OpenSessions() int {
	n := 0
	for _, s := range e.Sessions() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// Session is a fake browser session.
type Session struct {
	// HangOn names an operation that blocks until its context ends, ignoring it otherwise.
	HangOn string
	// FailOn makes the named operation return the error.
	FailOn map[string]error
	// NoPicker makes PickDate report that no picker exists.
	NoPicker bool

	mu      sync.Mutex
	site    Site
	current *Page
	values  map[string]string
	files   map[string][]string
	checked map[string]bool
	picked  map[string]time.Time
	calls   []string
	closed  bool
}

// NewSession creates a session over site.
func NewSession(site Site) *Session {
	return &Session{
		site:    site,
		values:  map[string]string{},
		files:   map[string][]string{},
		checked: map[string]bool{},
		picked:  map[string]time.Time{},
	}
}

func (s *Session) enter(ctx context.Context, op, arg string) error {
	s.mu.Lock()
	s.calls = append(s.calls, fmt.Sprintf("%s %s", op, arg))
	closed := s.closed
	hang := s.HangOn == op
	err := s.FailOn[op]
	s.mu.Unlock()

	if closed {
		return browser.ErrSessionCrashed
	}
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, target string) error {
	if err := s.enter(ctx, "navigate", target); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open(target)
	return nil
}

func (s *Session) open(target string) {
	for range 10 {
		p, ok := s.site[target]
		if !ok {
			s.current = &Page{URL: target, Title: "Not Found", Text: "404 Not Found"}
			return
		}
		if p.Redirect == "" {
			s.current = p
			return
		}
		target = p.Redirect
	}
}

func (s *Session) Observe(ctx context.Context) (*browser.PageState, error) {
	if err := s.enter(ctx, "observe", ""); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return &browser.PageState{URL: "about:blank"}, nil
	}
	state := &browser.PageState{
		URL:    s.current.URL,
		Title:  s.current.Title,
		Text:   s.current.Text,
		Frames: append([]string(nil), s.current.Frames...),
	}
	for _, el := range s.current.Elements {
		if v, ok := s.values[el.Ref]; ok {
			el.Value = v
		}
		if c, ok := s.checked[el.Ref]; ok {
			el.Checked = c
		}
		el.Options = append([]string(nil), el.Options...)
		state.Elements = append(state.Elements, el)
	}
	return state, nil
}

func (s *Session) lookup(ref string) (browser.Element, error) {
	if s.current != nil {
		for _, el := range s.current.Elements {
			if el.Ref == ref {
				return el, nil
			}
		}
	}
	return browser.Element{}, fmt.Errorf("%w: %s", browser.ErrElementNotFound, ref)
}

func (s *Session) Click(ctx context.Context, ref string) error {
	if err := s.enter(ctx, "click", ref); err != nil {
		return err
	}
	s.mu.Lock()
	if _, err := s.lookup(ref); err != nil {
		s.mu.Unlock()
		return err
	}
	page := s.current
	handler := page.OnClick[ref]
	target := page.Links[ref]
	s.mu.Unlock()

	// handlers read session state, so they run unlocked
	if handler != nil {
		target = handler(s)
	}
	if target != "" {
		s.mu.Lock()
		s.open(target)
		s.mu.Unlock()
	}
	return nil
}

func (s *Session) Type(ctx context.Context, ref, text string) error {
	if err := s.enter(ctx, "type", ref); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(ref); err != nil {
		return err
	}
	s.values[ref] = text
	return nil
}

func (s *Session) Select(ctx context.Context, ref, option string) error {
	if err := s.enter(ctx, "select", ref); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.lookup(ref)
	if err != nil {
		return err
	}
	for _, o := range el.Options {
		if o == option {
			s.values[ref] = option
			return nil
		}
	}
	return fmt.Errorf("option %q not available on %s", option, ref)
}

func (s *Session) SetChecked(ctx context.Context, ref string, checked bool) error {
	if err := s.enter(ctx, "check", ref); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(ref); err != nil {
		return err
	}
	s.checked[ref] = checked
	return nil
}

func (s *Session) SetFiles(ctx context.Context, ref string, paths []string) error {
	if err := s.enter(ctx, "upload", ref); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(ref); err != nil {
		return err
	}
	s.files[ref] = append(s.files[ref], paths...)
	return nil
}

func (s *Session) PickDate(ctx context.Context, ref string, date time.Time) error {
	if err := s.enter(ctx, "pick", ref); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.lookup(ref)
	if err != nil {
		return err
	}
	if s.NoPicker || !el.HasPicker {
		return fmt.Errorf("%w: %s", browser.ErrNoPicker, ref)
	}
	s.picked[ref] = date
	s.values[ref] = date.Format("2006-01-02")
	return nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := s.enter(ctx, "screenshot", ""); err != nil {
		return nil, err
	}
	return []byte("\x89PNG fake"), nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "close ")
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Calls returns the operations performed, as "op arg".
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Value returns what was typed or selected into ref.
func (s *Session) Value(ref string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[ref]
}

// Checked reports whether ref was checked.
func (s *Session) Checked(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checked[ref]
}

// Files returns the paths attached to ref.
func (s *Session) Files(ref string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files[ref]...)
}

// Picked returns the date chosen through ref's picker.
func (s *Session) Picked(ref string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.picked[ref]
	return t, ok
}

// URL returns the current page URL.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.URL
}

// Open navigates without recording a call.
func (s *Session) Open(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open(target)
}
