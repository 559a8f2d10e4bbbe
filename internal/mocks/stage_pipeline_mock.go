package mocks

import (
	"context"

	"novel-engine/internal/pipeline"
	"novel-engine/internal/worker"
	"novel-engine/shared/models"

	"github.com/stretchr/testify/mock"
)

// MockStagePipeline is a mock type for the StagePipeline type
type MockStagePipeline struct {
	mock.Mock
}

func stageResult(ret mock.Arguments) (*models.StageResult, error) {
	var r0 *models.StageResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.StageResult)
	}
	return r0, ret.Error(1)
}

// StartStory provides a mock function with given fields: ctx, state
func (_m *MockStagePipeline) StartStory(ctx context.Context, state *models.StoryState) (*models.StageResult, error) {
	return stageResult(_m.Called(ctx, state))
}

// CreateProtagonist provides a mock function with given fields: ctx, state
func (_m *MockStagePipeline) CreateProtagonist(ctx context.Context, state *models.StoryState) (*models.StageResult, error) {
	return stageResult(_m.Called(ctx, state))
}

// OpenFirstChapter provides a mock function with given fields: ctx, state
func (_m *MockStagePipeline) OpenFirstChapter(ctx context.Context, state *models.StoryState) (*models.StageResult, error) {
	return stageResult(_m.Called(ctx, state))
}

// ApplyChoice provides a mock function with given fields: ctx, state, in
func (_m *MockStagePipeline) ApplyChoice(ctx context.Context, state *models.StoryState, in pipeline.ChoiceInput) (*models.StageResult, error) {
	return stageResult(_m.Called(ctx, state, in))
}

// GenerateEnding provides a mock function with given fields: ctx, state, endingType
func (_m *MockStagePipeline) GenerateEnding(ctx context.Context, state *models.StoryState, endingType string) (*models.StageResult, error) {
	return stageResult(_m.Called(ctx, state, endingType))
}

// AnalyzeChoice provides a mock function with given fields: ctx, state, in
func (_m *MockStagePipeline) AnalyzeChoice(ctx context.Context, state *models.StoryState, in pipeline.ChoiceInput) (*models.StageResult, error) {
	return stageResult(_m.Called(ctx, state, in))
}

// SummarizeStory provides a mock function with given fields: ctx, state
func (_m *MockStagePipeline) SummarizeStory(ctx context.Context, state *models.StoryState) (*models.StageResult, error) {
	return stageResult(_m.Called(ctx, state))
}

// RunStoryAnalysis provides a mock function with given fields: ctx, storyID, theme, history, protagonist, chapterNumber
func (_m *MockStagePipeline) RunStoryAnalysis(ctx context.Context, storyID string, theme models.Theme, history []models.ChapterSummary, protagonist *models.Protagonist, chapterNumber int) (*models.StageResult, error) {
	return stageResult(_m.Called(ctx, storyID, theme, history, protagonist, chapterNumber))
}

// NewMockStagePipeline creates a new instance of MockStagePipeline. It also registers a testing interface on the mock.
func NewMockStagePipeline(t interface {
	mock.TestingT
	Helper()
}) *MockStagePipeline {
	m := &MockStagePipeline{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ worker.StagePipeline = (*MockStagePipeline)(nil)
