package mocks

import (
	"context"

	"novel-engine/internal/worker"
	"novel-engine/shared/messaging"

	"github.com/stretchr/testify/mock"
)

// MockNotifier is a mock type for the Notifier type
type MockNotifier struct {
	mock.Mock
}

// Notify provides a mock function with given fields: ctx, payload
func (_m *MockNotifier) Notify(ctx context.Context, payload messaging.StageNotificationPayload) error {
	ret := _m.Called(ctx, payload)
	return ret.Error(0)
}

// NewMockNotifier creates a new instance of MockNotifier. It also registers a testing interface on the mock.
func NewMockNotifier(t interface {
	mock.TestingT
	Helper()
}) *MockNotifier {
	m := &MockNotifier{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ worker.Notifier = (*MockNotifier)(nil)
