package pool

import (
	"fmt"
	"time"
)

// WhenExhausted selects what Borrow does when a key (or the whole pool) is
// at capacity.
type WhenExhausted string

const (
	WhenExhaustedBlock WhenExhausted = "block"
	WhenExhaustedFail  WhenExhausted = "fail"
	WhenExhaustedGrow  WhenExhausted = "grow"
)

func ParseWhenExhausted(s string) (WhenExhausted, error) {
	switch p := WhenExhausted(s); p {
	case WhenExhaustedBlock, WhenExhaustedFail, WhenExhaustedGrow:
		return p, nil
	default:
		return "", fmt.Errorf("invalid exhaustion policy: %q, must be 'block', 'fail' or 'grow'", s)
	}
}

// DefaultMaxValidationAttempts bounds how many idle connections a single
// Borrow discards before giving up.
const DefaultMaxValidationAttempts = 3

// Config is the runtime-mutable tuning of a Pool. Negative limits mean
// unlimited.
type Config struct {
	MaxActive int // per key, borrowed or being created
	MaxTotal  int // across all keys, every live connection
	MaxIdle   int // per key
	MinIdle   int // per key, kept by the eviction sweep

	// MaxWait bounds a blocking Borrow. Zero fails at once, negative waits
	// until the context is done.
	MaxWait       time.Duration
	WhenExhausted WhenExhausted

	TimeBetweenEvictionRuns time.Duration
	MinEvictableIdleTime    time.Duration
	TestWhileIdle           bool

	LIFO                  bool
	MaxValidationAttempts int
}

func DefaultConfig() Config {
	return Config{
		MaxActive:               8,
		MaxTotal:                -1,
		MaxIdle:                 8,
		MinIdle:                 0,
		MaxWait:                 -1,
		WhenExhausted:           WhenExhaustedBlock,
		TimeBetweenEvictionRuns: -1,
		MinEvictableIdleTime:    30 * time.Minute,
		LIFO:                    true,
		MaxValidationAttempts:   DefaultMaxValidationAttempts,
	}
}

func (c Config) validationAttempts() int {
	if c.MaxValidationAttempts <= 0 {
		return DefaultMaxValidationAttempts
	}
	return c.MaxValidationAttempts
}

func withinLimit(n, limit int) bool {
	return limit < 0 || n < limit
}
