package evictor

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockSweeper mocks the Sweeper interface.
type MockSweeper struct {
	mock.Mock
}

func (m *MockSweeper) Evict(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
