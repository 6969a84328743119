package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/p-arndt/sandkastendb/internal/api"
	"github.com/p-arndt/sandkastendb/internal/config"
	"github.com/p-arndt/sandkastendb/internal/datasource"
	"github.com/p-arndt/sandkastendb/internal/engine"
	"github.com/p-arndt/sandkastendb/internal/evictor"
	"github.com/p-arndt/sandkastendb/internal/logger"
	"github.com/p-arndt/sandkastendb/internal/pool"
	"github.com/p-arndt/sandkastendb/internal/sandbox"
	"github.com/p-arndt/sandkastendb/internal/store"
)

type sandboxPool = pool.Pool[*sandbox.RawConn]

// appOptions wires the daemon. Nothing listens until the app starts.
func appOptions(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			logger.NewFromConfig,
			newEngine,
			newRegistry,
			newFactory,
			newPool,
			newEvictor,
			newDataSource,
			newAPIServer,
		),
		fx.Invoke(mountAPI),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)
}

// engineLog is the engine's activity sink. The file is opened when the
// engine starts, so building the graph holds no descriptors.
type engineLog struct {
	path string
	mu   sync.Mutex
	file *os.File
}

func (l *engineLog) open() error {
	if l.path == "" {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open engine log: %w", err)
	}
	l.mu.Lock()
	l.file = f
	l.mu.Unlock()
	return nil
}

func (l *engineLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return os.Stdout.Write(p)
	}
	return l.file.Write(p)
}

func (l *engineLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func newEngine(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *engine.Engine {
	sink := &engineLog{path: cfg.Engine.LogFile}
	eng := engine.New(sink)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := sink.open(); err != nil {
				return err
			}
			if err := eng.Start(cfg.Engine.Address, cfg.Engine.Port, cfg.Engine.RemoteOpen); err != nil {
				sink.Close()
				return err
			}
			log.Info("engine listening", zap.String("addr", eng.Addr().String()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			eng.Stop()
			return sink.Close()
		},
	})
	return eng
}

func newRegistry(lc fx.Lifecycle, cfg *config.Config) (*store.Store, error) {
	st, err := store.New(cfg.Registry.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	lc.Append(fx.StopHook(st.Close))
	return st, nil
}

// newFactory learns the engine's address once the engine is listening.
// Its start hook runs after the engine's because it depends on the engine.
func newFactory(lc fx.Lifecycle, cfg *config.Config, eng *engine.Engine, reg *store.Store, log *zap.Logger) (*sandbox.Factory, error) {
	cacheSize, err := cfg.CacheSizeBytes()
	if err != nil {
		return nil, err
	}
	loc := sandbox.Locator{
		Host:      cfg.Engine.Address,
		Port:      cfg.Engine.Port,
		Prefix:    cfg.Engine.NamespacePrefix,
		CacheSize: cacheSize,
	}
	f := sandbox.NewFactory(loc, reg, log.Named("factory"))
	f.SetConnectTimeout(cfg.ConnectTimeout())
	lc.Append(fx.StartHook(func() {
		loc.Host = eng.Host()
		loc.Port = eng.Port()
		f.SetLocator(loc)
	}))
	return f, nil
}

func newPool(cfg *config.Config, f *sandbox.Factory, log *zap.Logger) *sandboxPool {
	return pool.New[*sandbox.RawConn](f, cfg.PoolConfig(), log.Named("pool"))
}

// newEvictor arms the sweep; the pool stops it when it closes.
func newEvictor(p *sandboxPool, log *zap.Logger) *evictor.Evictor {
	ev := evictor.New(p, log.Named("evictor"))
	p.SetScheduler(ev)
	return ev
}

func newDataSource(lc fx.Lifecycle, p *sandboxPool, f *sandbox.Factory, eng *engine.Engine, log *zap.Logger) *datasource.DataSource {
	ds := datasource.New(p, f, eng, sandbox.ContextKeyProvider{}, log.Named("datasource"))
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			ds.Close(ctx)
			return nil
		},
	})
	return ds
}

func newAPIServer(cfg *config.Config, ds *datasource.DataSource, reg *store.Store, log *zap.Logger) *api.Server {
	return api.NewServer(cfg, ds, reg, log.Named("api"))
}

func mountAPI(cfg *config.Config, eng *engine.Engine, srv *api.Server, _ *evictor.Evictor, log *zap.Logger) {
	if cfg.APIKey == "" {
		log.Warn("no API key configured, running in open access mode")
	}
	eng.Mount(srv.Handler())
}
