package model

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrScoringUnavailable is returned when a collaborator (cell store, category
// table) fails mid-request. Callers should surface a generic message and keep
// the wrapped cause for logs only.
var ErrScoringUnavailable = eris.New("scoring temporarily unavailable")

// InputError rejects a request before any aggregation work. Param names the
// offending request parameter.
type InputError struct {
	Param  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

// NewInputError builds an InputError with a formatted reason.
func NewInputError(param, format string, args ...any) *InputError {
	return &InputError{Param: param, Reason: fmt.Sprintf(format, args...)}
}

// AsInputError reports whether err (or any error in its chain) is an InputError.
func AsInputError(err error) (*InputError, bool) {
	var ie *InputError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// IsUnavailable reports whether err signals a collaborator failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrScoringUnavailable)
}

// Unavailable wraps a collaborator failure so that IsUnavailable matches it
// while the original cause stays in the chain.
func Unavailable(cause error, op string) error {
	return &unavailableError{op: op, cause: cause}
}

type unavailableError struct {
	op    string
	cause error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.op, ErrScoringUnavailable.Error(), e.cause)
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrScoringUnavailable, e.cause}
}
