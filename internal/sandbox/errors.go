package sandbox

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidKey   = errors.New("invalid sandbox key")
	ErrConnClosed   = errors.New("sandbox connection is closed")
	ErrNoSandboxKey = errors.New("no sandbox key bound to context")
)

// CreateError reports a failure to open or provision the database for Key.
type CreateError struct {
	Key string
	Op  string
	Err error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("open sandbox %q: %s: %v", e.Key, e.Op, e.Err)
}

func (e *CreateError) Unwrap() error {
	return e.Err
}

// DestroyError collects the failures of one teardown. Drop and Close are
// independent: a failed drop never skips the close.
type DestroyError struct {
	Key   string
	Drop  error
	Close error
}

func (e *DestroyError) Error() string {
	return fmt.Sprintf("destroy sandbox %q: %v", e.Key, errors.Join(e.Drop, e.Close))
}

func (e *DestroyError) Unwrap() []error {
	var errs []error
	if e.Drop != nil {
		errs = append(errs, e.Drop)
	}
	if e.Close != nil {
		errs = append(errs, e.Close)
	}
	return errs
}
