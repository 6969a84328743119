package datasource

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/p-arndt/sandkastendb/internal/pool"
	"github.com/p-arndt/sandkastendb/internal/sandbox"
)

// MockPool mocks the ConnPool interface.
type MockPool struct {
	mock.Mock
}

func (m *MockPool) Borrow(ctx context.Context, key string) (*sandbox.RawConn, error) {
	args := m.Called(ctx, key)
	if raw := args.Get(0); raw != nil {
		return raw.(*sandbox.RawConn), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPool) Return(key string, raw *sandbox.RawConn) error {
	args := m.Called(key, raw)
	return args.Error(0)
}

func (m *MockPool) Prepare(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockPool) Config() pool.Config {
	args := m.Called()
	return args.Get(0).(pool.Config)
}

func (m *MockPool) Update(fn func(*pool.Config)) {
	m.Called(fn)
}

func (m *MockPool) Close(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockPool) NumActive() int {
	return m.Called().Int(0)
}

func (m *MockPool) NumIdle() int {
	return m.Called().Int(0)
}

func (m *MockPool) NumActiveKey(key string) int {
	return m.Called(key).Int(0)
}

func (m *MockPool) NumIdleKey(key string) int {
	return m.Called(key).Int(0)
}

func (m *MockPool) Stats() []pool.KeyStats {
	args := m.Called()
	if s := args.Get(0); s != nil {
		return s.([]pool.KeyStats)
	}
	return nil
}

// MockEngine mocks the Engine interface.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Host() string {
	return m.Called().String(0)
}

func (m *MockEngine) Port() int {
	return m.Called().Int(0)
}

func (m *MockEngine) Stop() {
	m.Called()
}

// MockTimeouter mocks the ConnectTimeouter interface.
type MockTimeouter struct {
	mock.Mock
}

func (m *MockTimeouter) ConnectTimeout() time.Duration {
	return m.Called().Get(0).(time.Duration)
}

func (m *MockTimeouter) SetConnectTimeout(d time.Duration) {
	m.Called(d)
}
