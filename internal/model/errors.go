// errors.go defines the backend error taxonomy for the model gateway.
package model

import (
	"errors"
	"fmt"
)

// TransientError indicates a backend failure that may succeed on retry:
// rate limits, timeouts, and server-side errors.
type TransientError struct {
	Status int    // HTTP status, 0 for transport-level failures
	Msg    string
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transient backend error (status %d): %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("transient backend error: %s", e.Msg)
}

// FatalError indicates a backend failure that will not succeed on retry:
// authentication failures and invalid requests.
type FatalError struct {
	Status int
	Msg    string
}

func (e *FatalError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fatal backend error (status %d): %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("fatal backend error: %s", e.Msg)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
