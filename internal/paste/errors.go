package paste

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned for any paste that cannot be served: absent,
// expired or out of views. Callers cannot tell these apart.
var ErrNotFound = errors.New("paste not found")

// ValidationError reports the first invalid field of a create request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// PersistenceError wraps an unexpected storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
