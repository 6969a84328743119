package testutil

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/p-arndt/sandkastendb/internal/config"
	"github.com/p-arndt/sandkastendb/internal/datasource"
	"github.com/p-arndt/sandkastendb/internal/engine"
	"github.com/p-arndt/sandkastendb/internal/pool"
	"github.com/p-arndt/sandkastendb/internal/sandbox"
	"github.com/p-arndt/sandkastendb/internal/store"
)

// TestConfig returns a Config with sensible test defaults.
func TestConfig() *config.Config {
	cfg := config.Default()
	cfg.APIKey = "test-api-key"
	cfg.Engine.Address = "127.0.0.1"
	cfg.Engine.Port = 0
	cfg.Engine.RemoteOpen = true
	cfg.Engine.NamespacePrefix = UniquePrefix()
	cfg.Pool.TimeBetweenEvictionRunsMs = -1
	cfg.Logging.Mode = "development"
	cfg.Logging.Level = "error"
	return cfg
}

// UniquePrefix returns a namespace prefix no other test in the process
// uses, so in-memory sandbox databases never collide.
func UniquePrefix() string {
	return "t" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// NewTestStore creates an in-memory SQLite store for testing.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// Stack is a fully wired data source over a real engine and registry.
type Stack struct {
	Config     *config.Config
	Engine     *engine.Engine
	Registry   *store.Store
	Factory    *sandbox.Factory
	Pool       *pool.Pool[*sandbox.RawConn]
	DataSource *datasource.DataSource
}

// NewStack starts an engine on an ephemeral port and builds the data
// source on top of it. Everything is closed when the test ends.
func NewStack(t *testing.T, cfg *config.Config) *Stack {
	t.Helper()
	if cfg == nil {
		cfg = TestConfig()
	}
	log := zaptest.NewLogger(t)

	eng := engine.New(io.Discard)
	if err := eng.Start(cfg.Engine.Address, cfg.Engine.Port, cfg.Engine.RemoteOpen); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}

	reg := NewTestStore(t)
	f := sandbox.NewFactory(sandbox.Locator{
		Host:   eng.Host(),
		Port:   eng.Port(),
		Prefix: cfg.Engine.NamespacePrefix,
	}, reg, log)

	p := pool.New[*sandbox.RawConn](f, cfg.PoolConfig(), log)
	ds := datasource.New(p, f, eng, sandbox.ContextKeyProvider{}, log)
	t.Cleanup(func() { ds.Close(context.Background()) })

	return &Stack{
		Config:     cfg,
		Engine:     eng,
		Registry:   reg,
		Factory:    f,
		Pool:       p,
		DataSource: ds,
	}
}
