package datasource

import (
	"errors"
	"fmt"
)

var (
	ErrAcquire = errors.New("sandbox connection acquisition failed")

	// ErrUnsupported is returned for per-user credentials: sandbox
	// databases are opened with fixed credentials.
	ErrUnsupported = errors.New("operation not supported")
)

// AcquireError wraps every GetConnection failure. The cause stays
// reachable through errors.Is and errors.As.
type AcquireError struct {
	Key string
	Err error
}

func (e *AcquireError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%v: %v", ErrAcquire, e.Err)
	}
	return fmt.Sprintf("%v: key %q: %v", ErrAcquire, e.Key, e.Err)
}

func (e *AcquireError) Unwrap() error {
	return e.Err
}

func (e *AcquireError) Is(target error) bool {
	return target == ErrAcquire
}
