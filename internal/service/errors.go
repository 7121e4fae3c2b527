package service

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is wrapped by validation failures of user-supplied data.
var ErrInvalidInput = errors.New("invalid input")

// StoreQueryError wraps a task store failure that aborted a scheduling cycle.
type StoreQueryError struct {
	Op  string
	Err error
}

func (e *StoreQueryError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreQueryError) Unwrap() error { return e.Err }

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
