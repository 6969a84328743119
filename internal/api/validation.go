package api

import (
	"fmt"

	"github.com/p-arndt/sandkastendb/internal/pool"
)

const (
	maxExecTimeoutMs = 600000
	defaultMaxRows   = 1000
	maxRowsLimit     = 10000
)

// validateExecRequest validates statement execution parameters
func validateExecRequest(req ExecRequest) error {
	if req.SQL == "" {
		return fmt.Errorf("sql is required")
	}

	if req.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms must be non-negative")
	}
	if req.TimeoutMs > maxExecTimeoutMs {
		return fmt.Errorf("timeout_ms must not exceed 600000 (10 minutes)")
	}

	if req.MaxRows < 0 {
		return fmt.Errorf("max_rows must be non-negative")
	}
	if req.MaxRows > maxRowsLimit {
		return fmt.Errorf("max_rows must not exceed %d", maxRowsLimit)
	}

	return nil
}

// validatePoolUpdate checks a partial pool update. Unset fields are
// skipped; limits accept -1 for unlimited.
func validatePoolUpdate(req poolUpdateRequest) error {
	limits := []struct {
		name string
		v    *int
	}{
		{"max_active", req.MaxActive},
		{"max_total", req.MaxTotal},
		{"max_idle", req.MaxIdle},
	}
	for _, l := range limits {
		if l.v != nil && *l.v < -1 {
			return fmt.Errorf("%s must be -1 (unlimited) or non-negative", l.name)
		}
	}

	if req.MinIdle != nil && *req.MinIdle < 0 {
		return fmt.Errorf("min_idle must be non-negative")
	}
	if req.MaxValidationAttempts != nil && *req.MaxValidationAttempts < 0 {
		return fmt.Errorf("max_validation_attempts must be non-negative")
	}
	if req.LoginTimeoutMs != nil && *req.LoginTimeoutMs < 0 {
		return fmt.Errorf("login_timeout_ms must be non-negative")
	}
	if req.WhenExhausted != nil {
		if _, err := pool.ParseWhenExhausted(*req.WhenExhausted); err != nil {
			return err
		}
	}

	return nil
}
