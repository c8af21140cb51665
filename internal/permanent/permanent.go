package permanent

import "errors"

// Error marks a delivery failure that retrying inside the same call cannot fix.
// Params: wrapped root cause.
// Returns: typed non-retryable marker.
type Error struct {
	Err error
}

func (e Error) Error() string {
	if e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

func (e Error) Unwrap() error {
	return e.Err
}

// Permanent reports the marker value.
func (Error) Permanent() bool {
	return true
}

// Mark wraps err so that retry loops stop at the first attempt.
// Params: source error.
// Returns: wrapped error or nil.
func Mark(err error) error {
	if err == nil {
		return nil
	}
	return Error{Err: err}
}

// Is reports whether any error in the chain carries the permanent marker.
// Params: candidate error.
// Returns: true when the failure must not be retried.
func Is(err error) bool {
	if err == nil {
		return false
	}
	type marker interface {
		Permanent() bool
	}
	var tagged marker
	if !errors.As(err, &tagged) {
		return false
	}
	return tagged.Permanent()
}
