package mocks

import (
	"context"

	"novel-engine/internal/pipeline"
	"novel-engine/shared/models"

	"github.com/stretchr/testify/mock"
)

// MockMemoryStore is a mock type for the MemoryStore type
type MockMemoryStore struct {
	mock.Mock
}

// Store provides a mock function with given fields: ctx, item
func (_m *MockMemoryStore) Store(ctx context.Context, item *models.MemoryItem) (string, error) {
	ret := _m.Called(ctx, item)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, *models.MemoryItem) string); ok {
		r0 = rf(ctx, item)
	} else {
		r0 = ret.String(0)
	}

	return r0, ret.Error(1)
}

// Search provides a mock function with given fields: ctx, storyID, query, filter, maxResults
func (_m *MockMemoryStore) Search(ctx context.Context, storyID string, query string, filter models.SearchFilter, maxResults int) ([]models.SearchResult, error) {
	ret := _m.Called(ctx, storyID, query, filter, maxResults)

	var r0 []models.SearchResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.SearchResult)
	}

	return r0, ret.Error(1)
}

// Access provides a mock function with given fields: ctx, item
func (_m *MockMemoryStore) Access(ctx context.Context, item *models.MemoryItem) error {
	ret := _m.Called(ctx, item)
	return ret.Error(0)
}

// ExtractAndStore provides a mock function with given fields: ctx, chapterText, storyID, chapterID
func (_m *MockMemoryStore) ExtractAndStore(ctx context.Context, chapterText string, storyID string, chapterID string) ([]*models.MemoryItem, error) {
	ret := _m.Called(ctx, chapterText, storyID, chapterID)

	var r0 []*models.MemoryItem
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*models.MemoryItem)
	}

	return r0, ret.Error(1)
}

// SummarizeContext provides a mock function with given fields: ctx, storyID, maxItems
func (_m *MockMemoryStore) SummarizeContext(ctx context.Context, storyID string, maxItems int) (string, error) {
	ret := _m.Called(ctx, storyID, maxItems)
	return ret.String(0), ret.Error(1)
}

// Evict provides a mock function with given fields: ctx, storyID, keepCount
func (_m *MockMemoryStore) Evict(ctx context.Context, storyID string, keepCount int) (int, error) {
	ret := _m.Called(ctx, storyID, keepCount)
	return ret.Int(0), ret.Error(1)
}

// NewMockMemoryStore creates a new instance of MockMemoryStore. It also registers a testing interface on the mock.
func NewMockMemoryStore(t interface {
	mock.TestingT
	Helper()
}) *MockMemoryStore {
	m := &MockMemoryStore{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ pipeline.MemoryStore = (*MockMemoryStore)(nil)
