package api

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/p-arndt/sandkastendb/internal/pool"
	"github.com/p-arndt/sandkastendb/internal/sandbox"
	"github.com/p-arndt/sandkastendb/internal/store"
)

// MockSandboxService mocks the SandboxService interface.
type MockSandboxService struct {
	mock.Mock
}

func (m *MockSandboxService) GetConnection(ctx context.Context) (*sandbox.Conn, error) {
	args := m.Called(ctx)
	if c := args.Get(0); c != nil {
		return c.(*sandbox.Conn), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSandboxService) PoolConfig() pool.Config {
	args := m.Called()
	return args.Get(0).(pool.Config)
}

func (m *MockSandboxService) UpdatePool(fn func(*pool.Config)) {
	m.Called(fn)
}

func (m *MockSandboxService) LoginTimeout() time.Duration {
	args := m.Called()
	return args.Get(0).(time.Duration)
}

func (m *MockSandboxService) SetLoginTimeout(d time.Duration) {
	m.Called(d)
}

func (m *MockSandboxService) NumActive() int {
	return m.Called().Int(0)
}

func (m *MockSandboxService) NumIdle() int {
	return m.Called().Int(0)
}

func (m *MockSandboxService) Stats() []pool.KeyStats {
	args := m.Called()
	if s := args.Get(0); s != nil {
		return s.([]pool.KeyStats)
	}
	return nil
}

// MockSandboxRegistry mocks the SandboxRegistry interface.
type MockSandboxRegistry struct {
	mock.Mock
}

func (m *MockSandboxRegistry) ListSandboxes() ([]*store.Sandbox, error) {
	args := m.Called()
	if s := args.Get(0); s != nil {
		return s.([]*store.Sandbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSandboxRegistry) GetSandbox(key string) (*store.Sandbox, error) {
	args := m.Called(key)
	if s := args.Get(0); s != nil {
		return s.(*store.Sandbox), args.Error(1)
	}
	return nil, args.Error(1)
}
