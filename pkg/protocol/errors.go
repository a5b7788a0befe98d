package protocol

import (
	"errors"
	"fmt"
)

// TransientError marks a collaborator failure as retryable: network errors,
// provider outages, rate limits. Anything not wrapped in it is treated as
// permanent and fails the enrollment without retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &TransientError{Err: err}
}

// IsTransient reports whether err is a retryable collaborator failure.
func IsTransient(err error) bool {
	var target *TransientError

	return errors.As(err, &target)
}
