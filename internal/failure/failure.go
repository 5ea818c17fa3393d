// Package failure holds the error taxonomy shared by every workflow.
package failure

import (
	"errors"
	"fmt"

	"autoclip/internal/poll"
)

var (
	ErrSessionCreationFailed = errors.New("session creation failed")
	ErrNavigationTimeout     = errors.New("navigation timeout")
	ErrPollTimeout           = poll.ErrTimeout
	ErrLoginEntryNotFound    = errors.New("entry point not found")
	ErrTwoFactorTimeout      = errors.New("two-factor authentication not completed")
	ErrTwoFactorUnattended   = errors.New("two-factor authentication needs a visible browser")
	ErrReportNotFound        = errors.New("report not found")
	ErrUnknownSession        = errors.New("unknown session")
	ErrSessionBusy           = errors.New("session busy")
	ErrSessionClosed         = errors.New("session closed")
)

// CredentialFieldError reports an input or control the login form did not expose.
type CredentialFieldError struct {
	Field string
}

func (e *CredentialFieldError) Error() string {
	return fmt.Sprintf("credential field not found: %s", e.Field)
}

// LoginError is a terminal Failed state of the login sub-workflow.
type LoginError struct {
	Reason           string
	TwoFactorPending bool
	timeout          bool
	cause            error
}

// LoginTimeout builds the error for a login that never reached the
// authenticated destination.
func LoginTimeout(twoFactorPending bool) *LoginError {
	e := &LoginError{Reason: "login timeout", TwoFactorPending: twoFactorPending, timeout: true}
	if twoFactorPending {
		e.cause = ErrTwoFactorTimeout
	}
	return e
}

// TwoFactorUnattended is the error for a challenge raised in a browser no
// one can see.
func TwoFactorUnattended() *LoginError {
	return &LoginError{
		Reason:           ErrTwoFactorUnattended.Error() + ", rerun with --showui",
		TwoFactorPending: true,
		cause:            ErrTwoFactorUnattended,
	}
}

func (e *LoginError) Error() string {
	if e.timeout && e.TwoFactorPending {
		return e.Reason + ": complete two-factor authentication and retry"
	}
	return e.Reason
}

// Unwrap lets callers test errors.Is(err, ErrTwoFactorTimeout) and
// errors.Is(err, ErrTwoFactorUnattended).
func (e *LoginError) Unwrap() error { return e.cause }

// Timeout reports whether the login ran out of time rather than being rejected.
func (e *LoginError) Timeout() bool { return e.timeout }

// ConfigurationError is a report configuration step that could not complete.
type ConfigurationError struct {
	Step   string
	Reason string
}

func (e *ConfigurationError) Error() string { return e.Reason }

// ErrSubmitDisabled is returned when the generate control never became enabled.
var ErrSubmitDisabled = &ConfigurationError{Step: "submit", Reason: "submit disabled"}

// Is matches any ConfigurationError for the same step.
func (e *ConfigurationError) Is(target error) bool {
	t, ok := target.(*ConfigurationError)
	return ok && t.Step == e.Step
}

// FetchError reports a failed download. Status is 0 for transport errors.
type FetchError struct {
	Status  int
	Message string
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return e.Message
}
