package datasource

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/p-arndt/sandkastendb/internal/pool"
	"github.com/p-arndt/sandkastendb/internal/sandbox"
)

// DataSource hands out connections to the sandbox database of the key
// bound to the caller's context.
type DataSource struct {
	pool     ConnPool
	factory  ConnectTimeouter
	engine   Engine
	provider sandbox.KeyProvider
	logger   *zap.Logger
}

func New(p ConnPool, factory ConnectTimeouter, eng Engine, provider sandbox.KeyProvider, logger *zap.Logger) *DataSource {
	if provider == nil {
		provider = sandbox.ContextKeyProvider{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataSource{
		pool:     p,
		factory:  factory,
		engine:   eng,
		provider: provider,
		logger:   logger,
	}
}

// GetConnection borrows a connection for the sandbox key the provider
// resolves from ctx. Closing the returned Conn gives it back to the pool.
func (ds *DataSource) GetConnection(ctx context.Context) (*sandbox.Conn, error) {
	key, ok := ds.provider.SandboxKey(ctx)
	if !ok {
		return nil, &AcquireError{Err: sandbox.ErrNoSandboxKey}
	}
	return ds.Acquire(ctx, key)
}

// Acquire borrows a connection for an explicit key.
func (ds *DataSource) Acquire(ctx context.Context, key string) (*sandbox.Conn, error) {
	if err := sandbox.ValidateKey(key); err != nil {
		return nil, &AcquireError{Key: key, Err: err}
	}
	raw, err := ds.pool.Borrow(ctx, key)
	if err != nil {
		ds.logger.Debug("acquire failed", zap.String("key", key), zap.Error(err))
		return nil, &AcquireError{Key: key, Err: err}
	}
	return sandbox.NewConn(raw, ds.pool), nil
}

func (ds *DataSource) GetConnectionWithCredentials(ctx context.Context, user, password string) (*sandbox.Conn, error) {
	return nil, ErrUnsupported
}

// Prepare pre-warms key up to MinIdle idle connections.
func (ds *DataSource) Prepare(ctx context.Context, key string) error {
	if err := sandbox.ValidateKey(key); err != nil {
		return err
	}
	return ds.pool.Prepare(ctx, key)
}

// Close destroys every sandbox database, then stops the engine.
func (ds *DataSource) Close(ctx context.Context) {
	ds.pool.Close(ctx)
	if ds.engine != nil {
		ds.engine.Stop()
	}
	ds.logger.Info("datasource closed")
}

func (ds *DataSource) Address() string {
	if ds.engine == nil {
		return ""
	}
	return ds.engine.Host()
}

func (ds *DataSource) Port() int {
	if ds.engine == nil {
		return 0
	}
	return ds.engine.Port()
}

func (ds *DataSource) PoolConfig() pool.Config {
	return ds.pool.Config()
}

// UpdatePool applies several pool settings at once.
func (ds *DataSource) UpdatePool(fn func(*pool.Config)) {
	ds.pool.Update(fn)
}

func (ds *DataSource) MaxActive() int { return ds.pool.Config().MaxActive }

func (ds *DataSource) SetMaxActive(n int) {
	ds.pool.Update(func(c *pool.Config) { c.MaxActive = n })
}

func (ds *DataSource) MaxTotal() int { return ds.pool.Config().MaxTotal }

func (ds *DataSource) SetMaxTotal(n int) {
	ds.pool.Update(func(c *pool.Config) { c.MaxTotal = n })
}

func (ds *DataSource) MaxIdle() int { return ds.pool.Config().MaxIdle }

func (ds *DataSource) SetMaxIdle(n int) {
	ds.pool.Update(func(c *pool.Config) { c.MaxIdle = n })
}

func (ds *DataSource) MinIdle() int { return ds.pool.Config().MinIdle }

func (ds *DataSource) SetMinIdle(n int) {
	ds.pool.Update(func(c *pool.Config) { c.MinIdle = n })
}

func (ds *DataSource) MaxWait() time.Duration { return ds.pool.Config().MaxWait }

func (ds *DataSource) SetMaxWait(d time.Duration) {
	ds.pool.Update(func(c *pool.Config) { c.MaxWait = d })
}

func (ds *DataSource) WhenExhausted() pool.WhenExhausted { return ds.pool.Config().WhenExhausted }

func (ds *DataSource) SetWhenExhausted(w pool.WhenExhausted) {
	ds.pool.Update(func(c *pool.Config) { c.WhenExhausted = w })
}

func (ds *DataSource) TimeBetweenEvictionRuns() time.Duration {
	return ds.pool.Config().TimeBetweenEvictionRuns
}

// SetTimeBetweenEvictionRuns reschedules the eviction sweep; non-positive
// disables it.
func (ds *DataSource) SetTimeBetweenEvictionRuns(d time.Duration) {
	ds.pool.Update(func(c *pool.Config) { c.TimeBetweenEvictionRuns = d })
}

func (ds *DataSource) MinEvictableIdleTime() time.Duration {
	return ds.pool.Config().MinEvictableIdleTime
}

func (ds *DataSource) SetMinEvictableIdleTime(d time.Duration) {
	ds.pool.Update(func(c *pool.Config) { c.MinEvictableIdleTime = d })
}

func (ds *DataSource) LIFO() bool { return ds.pool.Config().LIFO }

func (ds *DataSource) SetLIFO(lifo bool) {
	ds.pool.Update(func(c *pool.Config) { c.LIFO = lifo })
}

// LoginTimeout bounds opening a new sandbox connection.
func (ds *DataSource) LoginTimeout() time.Duration { return ds.factory.ConnectTimeout() }

func (ds *DataSource) SetLoginTimeout(d time.Duration) {
	ds.factory.SetConnectTimeout(d)
}

func (ds *DataSource) NumActive() int { return ds.pool.NumActive() }

func (ds *DataSource) NumIdle() int { return ds.pool.NumIdle() }

func (ds *DataSource) NumActiveKey(key string) int { return ds.pool.NumActiveKey(key) }

func (ds *DataSource) NumIdleKey(key string) int { return ds.pool.NumIdleKey(key) }

func (ds *DataSource) Stats() []pool.KeyStats { return ds.pool.Stats() }
