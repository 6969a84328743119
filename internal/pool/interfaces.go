package pool

import (
	"context"
	"time"
)

// Factory creates, checks and tears down the connections held by a Pool.
// Create may be called concurrently for different keys; the pool never
// relies on the factory to serialize calls for the same key.
type Factory[C any] interface {
	Create(ctx context.Context, key string) (C, error)
	// Destroy must release conn even when an earlier teardown step fails.
	Destroy(ctx context.Context, key string, conn C) error
	Validate(ctx context.Context, key string, conn C) bool
	Activate(ctx context.Context, key string, conn C) error
	Passivate(ctx context.Context, key string, conn C) error
}

// Scheduler runs the eviction sweep on an interval. Reschedule with a
// non-positive interval disables it.
type Scheduler interface {
	Reschedule(interval time.Duration)
	Stop()
}
