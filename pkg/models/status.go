package models

import "fmt"

// Status is the position of one job in the application pipeline.
type Status string

const (
	StatusPending     Status = "pending"
	StatusNavigating  Status = "navigating"
	StatusFormReached Status = "form_reached"
	StatusFilling     Status = "filling"
	StatusSubmitted   Status = "submitted"
	StatusVerified    Status = "verified"

	StatusLoginRequired    Status = "login_required"
	StatusNoApplyButton    Status = "no_apply_button"
	StatusCaptchaBlocked   Status = "captcha_blocked"
	StatusValidationFailed Status = "validation_failed"
	StatusUploadFailed     Status = "upload_failed"
	StatusError            Status = "error"
)

// FailureReason is the closed set of reasons a job did not reach StatusVerified.
type FailureReason string

const (
	ReasonNone             FailureReason = ""
	ReasonLoginRequired    FailureReason = "login_required"
	ReasonNoApplyButton    FailureReason = "no_apply_button"
	ReasonCaptchaBlocked   FailureReason = "captcha_blocked"
	ReasonValidationFailed FailureReason = "validation_failed"
	ReasonUploadFailed     FailureReason = "upload_failed"
	ReasonTimeout          FailureReason = "timeout"
	ReasonCancelled        FailureReason = "cancelled"
	ReasonWorkerFault      FailureReason = "worker_fault"
	ReasonUnverified       FailureReason = "unverified"
	ReasonError            FailureReason = "error"
)

// Stage names the part of the pipeline a result ended in.
type Stage string

const (
	StageNavigation Stage = "navigation"
	StageForm       Stage = "form"
	StageRunner     Stage = "runner"
)

var transitions = map[Status][]Status{
	StatusPending:     {StatusNavigating, StatusError},
	StatusNavigating:  {StatusFormReached, StatusLoginRequired, StatusNoApplyButton, StatusCaptchaBlocked, StatusError},
	StatusFormReached: {StatusFilling, StatusCaptchaBlocked, StatusError},
	StatusFilling:     {StatusSubmitted, StatusUploadFailed, StatusValidationFailed, StatusCaptchaBlocked, StatusError},
	// a corrective pass goes back to filling once
	StatusSubmitted: {StatusVerified, StatusFilling, StatusValidationFailed, StatusError},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusVerified || s.IsFailure()
}

// IsSuccess returns true for the single successful terminal.
func (s Status) IsSuccess() bool {
	return s == StatusVerified
}

// IsFailure returns true for failure terminals.
func (s Status) IsFailure() bool {
	switch s {
	case StatusLoginRequired, StatusNoApplyButton, StatusCaptchaBlocked,
		StatusValidationFailed, StatusUploadFailed, StatusError:
		return true
	}
	return false
}

// DefaultReason returns the failure reason implied by a failure terminal.
// StatusError has no implied reason beyond ReasonError.
func (s Status) DefaultReason() FailureReason {
	switch s {
	case StatusLoginRequired:
		return ReasonLoginRequired
	case StatusNoApplyButton:
		return ReasonNoApplyButton
	case StatusCaptchaBlocked:
		return ReasonCaptchaBlocked
	case StatusValidationFailed:
		return ReasonValidationFailed
	case StatusUploadFailed:
		return ReasonUploadFailed
	case StatusError:
		return ReasonError
	}
	return ReasonNone
}

// ParseStatus validates a status read from disk.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	switch s {
	case StatusPending, StatusNavigating, StatusFormReached, StatusFilling, StatusSubmitted, StatusVerified:
		return s, nil
	}
	if s.IsFailure() {
		return s, nil
	}
	return "", fmt.Errorf("unknown job status %q", raw)
}
