package calls

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateLock means another caller already holds the contact's lock.
	ErrDuplicateLock = errors.New("a call is already in progress for this contact")
	// ErrCooldown means the contact was called too recently.
	ErrCooldown = errors.New("contact was called recently")

	ErrInvalidNumber      = errors.New("invalid phone number")
	ErrProviderConnect    = errors.New("telephony provider connect failed")
	ErrProviderTimeout    = errors.New("telephony provider timed out")
	ErrNetworkUnavailable = errors.New("network unavailable")

	ErrAttemptNotFound = errors.New("call attempt not found")
	ErrNotOwner        = errors.New("call attempt belongs to another caller")
	ErrInvalidArgument = errors.New("invalid argument")
)

// CooldownError carries the details of the attempt that started the window.
type CooldownError struct {
	LastCallTime time.Time
	LastCallerID string
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s (last call at %s)", ErrCooldown, e.LastCallTime.UTC().Format(time.RFC3339))
}

func (e *CooldownError) Unwrap() error { return ErrCooldown }

// ReasonForDialError classifies a failure returned by the telephony adapter's connect
// into the end reason used to seal the attempt.
func ReasonForDialError(err error) EndReason {
	switch {
	case err == nil:
		return EndReasonUnknown
	case errors.Is(err, ErrInvalidNumber):
		return EndReasonInvalidNumber
	case errors.Is(err, ErrNetworkUnavailable):
		return EndReasonNetworkError
	case errors.Is(err, ErrProviderTimeout):
		return EndReasonTimeout
	default:
		return EndReasonFailed
	}
}
