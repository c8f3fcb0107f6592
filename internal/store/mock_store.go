package store

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStore is a testify mock implementing ingest.Store.
type MockStore struct {
	mock.Mock
}

// Set is the mock implementation of the Set method.
func (m *MockStore) Set(ctx context.Context, key string, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0) //nolint:wrapcheck
}

// Get is the mock implementation of the Get method.
func (m *MockStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1) //nolint:wrapcheck
}

// Ping is the mock implementation of the Ping method.
func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0) //nolint:wrapcheck
}

// Close is the mock implementation of the Close method.
func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0) //nolint:wrapcheck
}
