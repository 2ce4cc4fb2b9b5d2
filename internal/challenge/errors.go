package challenge

import (
	"context"
	"errors"
)

var (
	// ErrNotFound matches every NotFoundError.
	ErrNotFound = errors.New("reCAPTCHA element not found")
	// ErrAudioNotFound is returned when no audio payload arrived within the wait window.
	// Callers may retry the whole solve.
	ErrAudioNotFound = errors.New("No Audio Found")
	// ErrVerificationExhausted is returned when every attempt failed verification.
	ErrVerificationExhausted = errors.New("Could not solve reCAPTCHA")
)

// Messages for structural lookups.
const (
	MsgNoChallenge     = "No reCAPTCHA detected"
	MsgNoPopupFrame    = "Could not find reCAPTCHA popup iframe"
	MsgNoPopupContent  = "Could not find reCAPTCHA popup iframe content"
	MsgNoAnchorFrame   = "Could not find reCAPTCHA iframe"
	MsgNoAnchorContent = "Could not find reCAPTCHA iframe content"
	MsgNoLabel         = "Could not find reCAPTCHA label"
	MsgNoChallengeBody = "Could not find reCAPTCHA challenge"
	MsgNoAudioButton   = "Could not find reCAPTCHA audio button"
	MsgNoAudioInput    = "Could not find reCAPTCHA audio input"
	MsgNoVerifyButton  = "Could not find reCAPTCHA verify button"
)

// NotFoundError reports a missing UI element or frame. It is never retried.
type NotFoundError struct {
	Message string
	// Selector that failed to match, if any.
	Selector string
	Err      error
}

func notFound(msg, sel string, err error) *NotFoundError {
	return &NotFoundError{Message: msg, Selector: sel, Err: err}
}

// Error returns the message alone; the underlying cause is available through Unwrap.
func (e *NotFoundError) Error() string {
	return e.Message
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies a solve error for API responses and events.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAudioNotFound):
		return "audio_not_found"
	case errors.Is(err, ErrVerificationExhausted):
		return "verification_exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
