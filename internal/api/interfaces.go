package api

import (
	"context"
	"time"

	"github.com/p-arndt/sandkastendb/internal/pool"
	"github.com/p-arndt/sandkastendb/internal/sandbox"
	"github.com/p-arndt/sandkastendb/internal/store"
)

// SandboxService abstracts the data source operations needed by API handlers.
type SandboxService interface {
	GetConnection(ctx context.Context) (*sandbox.Conn, error)
	PoolConfig() pool.Config
	UpdatePool(fn func(*pool.Config))
	LoginTimeout() time.Duration
	SetLoginTimeout(d time.Duration)
	NumActive() int
	NumIdle() int
	Stats() []pool.KeyStats
}

// SandboxRegistry abstracts the registry lookups needed by API handlers.
type SandboxRegistry interface {
	ListSandboxes() ([]*store.Sandbox, error)
	GetSandbox(key string) (*store.Sandbox, error)
}
