package pool

import (
	"errors"
	"fmt"
)

var (
	ErrClosed      = errors.New("pool is closed")
	ErrExhausted   = errors.New("pool exhausted")
	ErrValidation  = errors.New("connection failed validation")
	ErrUnknownConn = errors.New("connection is not borrowed from this pool")
)

// CreateError reports a factory failure while opening a connection for Key.
// The pool does not retry it.
type CreateError struct {
	Key string
	Err error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("create connection for key %q: %v", e.Key, e.Err)
}

func (e *CreateError) Unwrap() error {
	return e.Err
}
