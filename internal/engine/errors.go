package engine

import (
	"errors"
	"fmt"
)

var (
	ErrStartup        = errors.New("engine startup failed")
	ErrAlreadyStarted = errors.New("engine already started")
)

// StartupError is returned by Start when the engine cannot come up. It is
// fatal; Start is not retried.
type StartupError struct {
	Op  string
	Err error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrStartup, e.Op, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

func (e *StartupError) Is(target error) bool {
	return target == ErrStartup
}
