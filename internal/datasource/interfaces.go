package datasource

import (
	"context"
	"time"

	"github.com/p-arndt/sandkastendb/internal/pool"
	"github.com/p-arndt/sandkastendb/internal/sandbox"
)

// ConnPool is the keyed pool of sandbox connections.
type ConnPool interface {
	Borrow(ctx context.Context, key string) (*sandbox.RawConn, error)
	Return(key string, raw *sandbox.RawConn) error
	Prepare(ctx context.Context, key string) error
	Config() pool.Config
	Update(fn func(*pool.Config))
	Close(ctx context.Context)
	NumActive() int
	NumIdle() int
	NumActiveKey(key string) int
	NumIdleKey(key string) int
	Stats() []pool.KeyStats
}

// ConnectTimeouter is the factory's login timeout knob.
type ConnectTimeouter interface {
	ConnectTimeout() time.Duration
	SetConnectTimeout(d time.Duration)
}

// Engine is the running database engine.
type Engine interface {
	Host() string
	Port() int
	Stop()
}
