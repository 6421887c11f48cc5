// Package permanent tags failures that redelivering the same message cannot fix.
package permanent

import "errors"

// Error wraps a non-retryable cause with a short reason label.
// Params: reason label (for logs) and wrapped cause.
// Returns: typed permanent failure.
type Error struct {
	Reason string
	Err    error
}

// Error returns wrapped error message.
func (e *Error) Error() string {
	if e.Err == nil {
		return "permanent failure: " + e.Reason
	}
	return e.Err.Error()
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Mark tags err as permanent with the given reason.
// Params: reason label and source error.
// Returns: wrapped error, or nil when err is nil.
func Mark(reason string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Reason: reason, Err: err}
}

// Is reports whether err carries a permanent tag anywhere in its chain.
func Is(err error) bool {
	var tagged *Error
	return errors.As(err, &tagged)
}

// Reason returns the reason label of the outermost permanent tag.
// Params: candidate error.
// Returns: reason, or empty string when err is retryable.
func Reason(err error) string {
	var tagged *Error
	if !errors.As(err, &tagged) {
		return ""
	}
	return tagged.Reason
}
