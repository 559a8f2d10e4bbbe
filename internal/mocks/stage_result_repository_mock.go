package mocks

import (
	"context"

	"novel-engine/internal/repository"
	"novel-engine/shared/models"

	"github.com/stretchr/testify/mock"
)

// MockStageResultRepository is a mock type for the StageResultRepository type
type MockStageResultRepository struct {
	mock.Mock
}

// Save provides a mock function with given fields: ctx, record
func (_m *MockStageResultRepository) Save(ctx context.Context, record *models.StageRecord) error {
	ret := _m.Called(ctx, record)
	return ret.Error(0)
}

// GetByTaskID provides a mock function with given fields: ctx, taskID
func (_m *MockStageResultRepository) GetByTaskID(ctx context.Context, taskID string) (*models.StageRecord, error) {
	ret := _m.Called(ctx, taskID)

	var r0 *models.StageRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.StageRecord)
	}

	return r0, ret.Error(1)
}

// ListByStory provides a mock function with given fields: ctx, storyID, limit
func (_m *MockStageResultRepository) ListByStory(ctx context.Context, storyID string, limit int) ([]*models.StageRecord, error) {
	ret := _m.Called(ctx, storyID, limit)

	var r0 []*models.StageRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*models.StageRecord)
	}

	return r0, ret.Error(1)
}

// NewMockStageResultRepository creates a new instance of MockStageResultRepository. It also registers a testing interface on the mock.
func NewMockStageResultRepository(t interface {
	mock.TestingT
	Helper()
}) *MockStageResultRepository {
	m := &MockStageResultRepository{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ repository.StageResultRepository = (*MockStageResultRepository)(nil)
