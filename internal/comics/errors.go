package comics

import (
	"errors"
	"fmt"
)

// Kind is the stable machine-readable failure classification surfaced to
// API callers.
type Kind string

const (
	KindUnauthorized  Kind = "unauthorized"
	KindNotFound      Kind = "not_found"
	KindInvalidInput  Kind = "invalid_input"
	KindInvalidState  Kind = "invalid_state"
	KindTurnViolation Kind = "turn_violation"
	KindRateLimited   Kind = "rate_limited"
	KindConflict      Kind = "conflict"
)

type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is the remaining cooldown in seconds, set only on
	// KindRateLimited.
	RetryAfter int
}

func (e *Error) Error() string {
	return e.Message
}

func errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError unwraps err into *Error if it carries a failure kind.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
