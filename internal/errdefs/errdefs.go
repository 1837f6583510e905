// Package errdefs defines the error categories shared by the orchestrator,
// workers and agents.
package errdefs

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is fatal and aborts a run before any worker launches.
	ErrConfiguration = errors.New("configuration error")

	// ErrInfrastructure is an execution-unit or engine failure. Fatal for one worker only.
	ErrInfrastructure = errors.New("infrastructure error")

	// ErrNavigation covers login gates, CAPTCHAs and missing apply affordances.
	ErrNavigation = errors.New("navigation failure")

	// ErrForm covers validation and upload failures.
	ErrForm = errors.New("form failure")

	// ErrTimeout is a blocking wait that exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrUnknown wraps anything unclassified.
	ErrUnknown = errors.New("unknown error")
)

// Kind names an error category.
type Kind string

const (
	KindNone           Kind = ""
	KindConfiguration  Kind = "configuration"
	KindInfrastructure Kind = "infrastructure"
	KindNavigation     Kind = "navigation"
	KindForm           Kind = "form"
	KindTimeout        Kind = "timeout"
	KindCancelled      Kind = "cancelled"
	KindUnknown        Kind = "unknown"
)

// KindOf classifies err. Deadline errors count as timeouts even when they
// were not wrapped with ErrTimeout.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrInfrastructure):
		return KindInfrastructure
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrNavigation):
		return KindNavigation
	case errors.Is(err, ErrForm):
		return KindForm
	}
	return KindUnknown
}

// Configuration returns a formatted ErrConfiguration.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Infrastructure wraps err as ErrInfrastructure.
func Infrastructure(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrInfrastructure, fmt.Sprintf(format, args...), err)
}

// Timeout wraps err as ErrTimeout with the operation that timed out.
func Timeout(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
}
