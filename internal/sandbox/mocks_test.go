package sandbox

import (
	"github.com/stretchr/testify/mock"
)

// MockRegistry mocks the Registry interface.
type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) RecordOpen(key, namespace, url string) error {
	args := m.Called(key, namespace, url)
	return args.Error(0)
}

func (m *MockRegistry) RecordDrop(key string, dropErr error) error {
	args := m.Called(key, dropErr)
	return args.Error(0)
}

// MockReleaser mocks the Releaser interface.
type MockReleaser struct {
	mock.Mock
}

func (m *MockReleaser) Return(key string, raw *RawConn) error {
	args := m.Called(key, raw)
	return args.Error(0)
}
