package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every error produced while handling a command wraps exactly
// one of these so callers can classify it with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrAuth          = errors.New("auth error")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrCapacity      = errors.New("capacity exceeded")
	ErrAlreadyMember = errors.New("already a member")
	ErrNotMember     = errors.New("not a member")
	ErrIO            = errors.New("io error")
	ErrTransport     = errors.New("transport error")
)

// Auth failures. Each one wraps ErrAuth.
var (
	ErrNotLoggedIn   = fmt.Errorf("%w: not logged in", ErrAuth)
	ErrBadSecret     = fmt.Errorf("%w: bad secret", ErrAuth)
	ErrForbidden     = fmt.Errorf("%w: forbidden", ErrAuth)
	ErrTargetOffline = fmt.Errorf("%w: target offline", ErrAuth)
)

// ErrReplyTooLarge is returned by a transport that cannot carry a payload in
// one message.
var ErrReplyTooLarge = fmt.Errorf("%w: reply too large", ErrTransport)

// Code returns the stable wire code for err. Auth failures are reported by
// their specific reason; unknown errors fall back to "internal".
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotLoggedIn):
		return "not_logged_in"
	case errors.Is(err, ErrBadSecret):
		return "bad_secret"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrTargetOffline):
		return "target_offline"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCapacity):
		return "capacity"
	case errors.Is(err, ErrAlreadyMember):
		return "already_member"
	case errors.Is(err, ErrNotMember):
		return "not_member"
	case errors.Is(err, ErrIO):
		return "io"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "internal"
	}
}
