// Package mocks holds testify mocks for the watcher's collaborator interfaces.
package mocks

import (
	"context"

	"github.com/huru0825/kenpo-watcher/internal/cookies"
	"github.com/stretchr/testify/mock"
)

// -- Notification Sink Mock --

// MockSink mocks notify.Sink.
type MockSink struct {
	mock.Mock
}

func (m *MockSink) NotifyAvailable(ctx context.Context, label, url string) {
	m.Called(ctx, label, url)
}

func (m *MockSink) NotifyNoVacancy(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockSink) NotifyError(ctx context.Context, err error) {
	m.Called(ctx, err)
}

// -- Cookie Store Mock --

// MockStore mocks cookies.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Read(ctx context.Context) (cookies.Snapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return cookies.Snapshot{}, args.Error(1)
	}
	return args.Get(0).(cookies.Snapshot), args.Error(1)
}

func (m *MockStore) Write(ctx context.Context, snap cookies.Snapshot) error {
	return m.Called(ctx, snap).Error(0)
}
