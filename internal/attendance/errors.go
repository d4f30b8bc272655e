package attendance

import (
	"errors"
	"fmt"
)

// Rejection reasons. AlreadyMarked is an Outcome, not an error.
var (
	ErrInvalidSession     = errors.New("invalid session")
	ErrSessionExpired     = errors.New("session expired")
	ErrVerificationFailed = errors.New("verification failed")
	ErrOffCampus          = errors.New("not on a campus network")
	ErrMalformedRequest   = errors.New("malformed request")
	// ErrUnavailable wraps storage faults. A redemption that hits it was not recorded.
	ErrUnavailable = errors.New("attendance service unavailable")
)

func malformed(msg string) error {
	return fmt.Errorf("%w: %s", ErrMalformedRequest, msg)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// Reason maps an error returned by the Service to a stable short code.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidSession):
		return "invalid_session"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	case errors.Is(err, ErrOffCampus):
		return "off_campus"
	case errors.Is(err, ErrMalformedRequest):
		return "malformed_request"
	default:
		return "unavailable"
	}
}
