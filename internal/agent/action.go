// Package agent implements the navigation and form agents that drive one
// automation session through an application flow.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/applybot-dev/applybot/internal/browser"
)

// ActionKind is the closed set of actions a planner may request.
type ActionKind string

const (
	ActionClick    ActionKind = "click"
	ActionType     ActionKind = "type"
	ActionSelect   ActionKind = "select"
	ActionUpload   ActionKind = "upload"
	ActionNavigate ActionKind = "navigate"
	ActionSubmit   ActionKind = "submit"
	ActionUnknown  ActionKind = "unknown"
)

// ParseActionKind maps free text onto a known kind. Anything else is ActionUnknown.
func ParseActionKind(raw string) ActionKind {
	switch k := ActionKind(strings.ToLower(strings.TrimSpace(raw))); k {
	case ActionClick, ActionType, ActionSelect, ActionUpload, ActionNavigate, ActionSubmit:
		return k
	case "fill", "input":
		return ActionType
	case "goto", "go_to", "open":
		return ActionNavigate
	}
	return ActionUnknown
}

// Action is one concrete step against the page.
type Action struct {
	Kind  ActionKind `json:"action"`
	Ref   string     `json:"ref,omitempty"`
	Value string     `json:"value,omitempty"`
	URL   string     `json:"url,omitempty"`
}

func (a Action) String() string {
	switch a.Kind {
	case ActionNavigate:
		return fmt.Sprintf("%s %s", a.Kind, a.URL)
	case ActionType, ActionSelect:
		return fmt.Sprintf("%s %s=%q", a.Kind, a.Ref, a.Value)
	}
	return fmt.Sprintf("%s %s", a.Kind, a.Ref)
}

// Signal is a completion reported by the planner instead of an action.
type Signal string

const (
	SignalNone          Signal = ""
	SignalFormReached   Signal = "form_reached"
	SignalLoginRequired Signal = "login_required"
	SignalCaptcha       Signal = "captcha"
	SignalNoApply       Signal = "no_apply_button"
	SignalSkip          Signal = "skip"
)

// Decision is either an Action or a completion Signal.
type Decision struct {
	Action Action
	Signal Signal
	Reason string
}

// Done reports whether the decision is a completion signal.
func (d Decision) Done() bool {
	return d.Signal != SignalNone
}

type rawDecision struct {
	Action string `json:"action"`
	Ref    string `json:"ref"`
	Value  string `json:"value"`
	URL    string `json:"url"`
	Done   any    `json:"done"`
	Reason string `json:"reason"`
}

// ErrInvalidDecision marks a planner reply that could not be decoded. It
// counts against the attempt budget like any other unusable reply.
var ErrInvalidDecision = errors.New("undecodable planner decision")

// ParseDecision decodes a planner reply. Unknown action kinds are kept as
// ActionUnknown so the caller can count them as invalid.
func ParseDecision(raw []byte) (Decision, error) {
	text := strings.TrimSpace(string(raw))
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var r rawDecision
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &r); err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrInvalidDecision, err)
	}
	if done, ok := r.Done.(string); ok && done != "" {
		return Decision{Signal: parseSignal(done), Reason: r.Reason}, nil
	}
	return Decision{
		Action: Action{
			Kind:  ParseActionKind(r.Action),
			Ref:   strings.TrimSpace(r.Ref),
			Value: r.Value,
			URL:   strings.TrimSpace(r.URL),
		},
		Reason: r.Reason,
	}, nil
}

func parseSignal(raw string) Signal {
	switch s := Signal(strings.ToLower(strings.TrimSpace(raw))); s {
	case SignalFormReached, SignalLoginRequired, SignalCaptcha, SignalNoApply, SignalSkip:
		return s
	case "captcha_blocked":
		return SignalCaptcha
	case "login":
		return SignalLoginRequired
	}
	return SignalSkip
}

// Planner chooses the next step for an instruction given the observed page.
type Planner interface {
	Act(ctx context.Context, instruction string, page *browser.PageState) (Decision, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, instruction string, page *browser.PageState) (Decision, error)

func (f PlannerFunc) Act(ctx context.Context, instruction string, page *browser.PageState) (Decision, error) {
	return f(ctx, instruction, page)
}
