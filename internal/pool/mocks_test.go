package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

type fakeConn struct {
	id  int
	key string
}

// fakeFactory records every create and destroy so tests can check the
// pool's bookkeeping against what the factory actually saw.
type fakeFactory struct {
	mu        sync.Mutex
	nextID    int
	created   []*fakeConn
	destroyed []*fakeConn
	live      map[*fakeConn]bool

	createDelay time.Duration
	createErr   error
	destroyErr  error
	invalid     map[*fakeConn]bool

	// When set, Validate announces itself on validating and blocks until
	// validateGate is closed.
	validating   chan *fakeConn
	validateGate chan struct{}
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		live:    make(map[*fakeConn]bool),
		invalid: make(map[*fakeConn]bool),
	}
}

func (f *fakeFactory) Create(ctx context.Context, key string) (*fakeConn, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	c := &fakeConn{id: f.nextID, key: key}
	f.created = append(f.created, c)
	f.live[c] = true
	return c, nil
}

func (f *fakeFactory) Destroy(ctx context.Context, key string, conn *fakeConn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live[conn] {
		return errors.New("double destroy")
	}
	delete(f.live, conn)
	f.destroyed = append(f.destroyed, conn)
	return f.destroyErr
}

func (f *fakeFactory) Validate(ctx context.Context, key string, conn *fakeConn) bool {
	if f.validateGate != nil {
		f.validating <- conn
		<-f.validateGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.invalid[conn] && conn.key == key
}

func (f *fakeFactory) Activate(ctx context.Context, key string, conn *fakeConn) error {
	return nil
}

func (f *fakeFactory) Passivate(ctx context.Context, key string, conn *fakeConn) error {
	return nil
}

func (f *fakeFactory) markInvalid(c *fakeConn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalid[c] = true
}

func (f *fakeFactory) numCreated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeFactory) numDestroyed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.destroyed)
}

func (f *fakeFactory) numLive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func (f *fakeFactory) wasDestroyed(c *fakeConn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.destroyed {
		if d == c {
			return true
		}
	}
	return false
}

// MockFactory mocks the Factory interface.
type MockFactory struct {
	mock.Mock
}

func (m *MockFactory) Create(ctx context.Context, key string) (*fakeConn, error) {
	args := m.Called(ctx, key)
	if c := args.Get(0); c != nil {
		return c.(*fakeConn), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockFactory) Destroy(ctx context.Context, key string, conn *fakeConn) error {
	args := m.Called(ctx, key, conn)
	return args.Error(0)
}

func (m *MockFactory) Validate(ctx context.Context, key string, conn *fakeConn) bool {
	args := m.Called(ctx, key, conn)
	return args.Bool(0)
}

func (m *MockFactory) Activate(ctx context.Context, key string, conn *fakeConn) error {
	args := m.Called(ctx, key, conn)
	return args.Error(0)
}

func (m *MockFactory) Passivate(ctx context.Context, key string, conn *fakeConn) error {
	args := m.Called(ctx, key, conn)
	return args.Error(0)
}

// MockScheduler mocks the Scheduler interface.
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Reschedule(interval time.Duration) {
	m.Called(interval)
}

func (m *MockScheduler) Stop() {
	m.Called()
}
