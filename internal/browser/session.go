// Package browser provides the automation session both agents drive.
package browser

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrEngineUnavailable means no browser could be started. It is a worker fault.
	ErrEngineUnavailable = errors.New("browser engine unavailable")
	// ErrSessionCrashed means the browser died under a live session. It is a worker fault.
	ErrSessionCrashed = errors.New("browser session crashed")
	// ErrElementNotFound means a ref did not resolve on the current page.
	ErrElementNotFound = errors.New("element not found")
	// ErrNoPicker means the element has no date picker that could be driven.
	ErrNoPicker = errors.New("no date picker")
)

// IsWorkerFault reports whether err leaves the worker unable to process more jobs.
func IsWorkerFault(err error) bool {
	return errors.Is(err, ErrEngineUnavailable) || errors.Is(err, ErrSessionCrashed)
}

// Engine creates sessions. Every session is a fresh, isolated browser.
type Engine interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session is one browser instance used for one job.
type Session interface {
	Navigate(ctx context.Context, target string) error
	Observe(ctx context.Context) (*PageState, error)
	Click(ctx context.Context, ref string) error
	Type(ctx context.Context, ref, text string) error
	Select(ctx context.Context, ref, option string) error
	SetChecked(ctx context.Context, ref string, checked bool) error
	SetFiles(ctx context.Context, ref string, paths []string) error
	PickDate(ctx context.Context, ref string, date time.Time) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Element is one interactive element of the page.
type Element struct {
	Ref         string   `json:"ref"`
	Tag         string   `json:"tag"`
	Type        string   `json:"type,omitempty"`
	Name        string   `json:"name,omitempty"`
	ID          string   `json:"id,omitempty"`
	Label       string   `json:"label,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Text        string   `json:"text,omitempty"`
	Href        string   `json:"href,omitempty"`
	Value       string   `json:"value,omitempty"`
	Options     []string `json:"options,omitempty"`
	Accept      string   `json:"accept,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Checked     bool     `json:"checked,omitempty"`
	Disabled    bool     `json:"disabled,omitempty"`
	Multiple    bool     `json:"multiple,omitempty"`
	HasPicker   bool     `json:"has_picker,omitempty"`
	Invalid     bool     `json:"invalid,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// IsField reports whether the element accepts input.
func (e Element) IsField() bool {
	switch e.Tag {
	case "select", "textarea":
		return true
	case "input":
		switch e.Type {
		case "submit", "button", "reset", "image", "hidden":
			return false
		}
		return true
	}
	return false
}

// IsControl reports whether the element is something to click.
func (e Element) IsControl() bool {
	switch e.Tag {
	case "a", "button":
		return true
	case "input":
		return e.Type == "submit" || e.Type == "button" || e.Type == "image"
	}
	return false
}

// Caption is the best human-readable description of the element.
func (e Element) Caption() string {
	for _, s := range []string{e.Label, e.Text, e.Placeholder, e.Name, e.ID, e.Value} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// PageState is a structured observation of the current page.
type PageState struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	Elements   []Element `json:"elements"`
	Frames     []string  `json:"frames,omitempty"`
	Screenshot []byte    `json:"-"`
}

// Element looks up an element by ref.
func (p *PageState) Element(ref string) (Element, bool) {
	for _, e := range p.Elements {
		if e.Ref == ref {
			return e, true
		}
	}
	return Element{}, false
}

// Fields returns the enabled input elements in document order.
func (p *PageState) Fields() []Element {
	var out []Element
	for _, e := range p.Elements {
		if e.IsField() && !e.Disabled {
			out = append(out, e)
		}
	}
	return out
}

// Controls returns the enabled links and buttons in document order.
func (p *PageState) Controls() []Element {
	var out []Element
	for _, e := range p.Elements {
		if e.IsControl() && !e.Disabled {
			out = append(out, e)
		}
	}
	return out
}

// Host returns the host part of the page URL.
func (p *PageState) Host() string {
	u, err := url.Parse(p.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
