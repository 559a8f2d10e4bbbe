package worker_test

import (
	"context"
	"errors"
	"testing"

	"novel-engine/internal/mocks"
	"novel-engine/internal/pipeline"
	"novel-engine/internal/worker"
	"novel-engine/shared/messaging"
	"novel-engine/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testTaskID  = "task-456"
	testStoryID = "story-123"
)

type handlerFixture struct {
	pipeline *mocks.MockStagePipeline
	repo     *mocks.MockStageResultRepository
	notifier *mocks.MockNotifier
	handler  *worker.TaskHandler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	f := &handlerFixture{
		pipeline: mocks.NewMockStagePipeline(t),
		repo:     mocks.NewMockStageResultRepository(t),
		notifier: mocks.NewMockNotifier(t),
	}
	f.handler = worker.NewTaskHandler(f.pipeline, f.repo, f.notifier, zap.NewNop())
	return f
}

func worldState(t *testing.T) *models.StoryState {
	t.Helper()
	state, err := models.NewStoryState(testStoryID, models.ThemeCultivation)
	require.NoError(t, err)
	require.NoError(t, state.CommitWorldSetting(&models.WorldSetting{WorldName: "青云界", WorldDescription: "灵气充沛"}))
	return state
}

func TestHandle_WorldSettingCreatesState(t *testing.T) {
	f := newHandlerFixture(t)
	result := &models.StageResult{
		Kind:         models.StageWorldSetting,
		WorldSetting: &models.WorldSetting{WorldName: "青云界"},
	}
	f.pipeline.On("StartStory", mock.Anything, mock.MatchedBy(func(s *models.StoryState) bool {
		return s.StoryID == testStoryID && s.Theme == models.ThemeCultivation
	})).Run(func(args mock.Arguments) {
		s := args.Get(1).(*models.StoryState)
		s.WorldSetting = result.WorldSetting
	}).Return(result, nil).Once()
	f.repo.On("Save", mock.Anything, mock.MatchedBy(func(r *models.StageRecord) bool {
		return r.ID == testTaskID && r.Stage == models.StageWorldSetting && r.Error == "" && len(r.Payload) > 0
	})).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n messaging.StageNotificationPayload) bool {
		return n.TaskID == testTaskID &&
			n.Status == messaging.NotificationStatusSuccess &&
			n.Result == result &&
			n.State != nil && n.State.WorldSetting != nil
	})).Return(nil).Once()

	err := f.handler.Handle(context.Background(), messaging.StageTaskPayload{
		TaskID:  testTaskID,
		StoryID: testStoryID,
		Stage:   messaging.TaskStageWorldSetting,
		Theme:   models.ThemeCultivation,
	})
	require.NoError(t, err)
	f.pipeline.AssertExpectations(t)
	f.repo.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestHandle_DispatchesStages(t *testing.T) {
	chapterResult := &models.StageResult{Kind: models.StageChapter, Chapter: &models.Chapter{ChapterNumber: 1}}
	cases := []struct {
		stage  messaging.TaskStage
		method string
		args   []interface{}
	}{
		{messaging.TaskStageProtagonist, "CreateProtagonist", []interface{}{mock.Anything, mock.Anything}},
		{messaging.TaskStageFirstChapter, "OpenFirstChapter", []interface{}{mock.Anything, mock.Anything}},
		{messaging.TaskStageApplyChoice, "ApplyChoice", []interface{}{mock.Anything, mock.Anything, pipeline.ChoiceInput{ChoiceID: "choice_2"}}},
		{messaging.TaskStageChoiceAnalysis, "AnalyzeChoice", []interface{}{mock.Anything, mock.Anything, pipeline.ChoiceInput{ChoiceID: "choice_2"}}},
		{messaging.TaskStageEnding, "GenerateEnding", []interface{}{mock.Anything, mock.Anything, "圆满"}},
		{messaging.TaskStageStorySummary, "SummarizeStory", []interface{}{mock.Anything, mock.Anything}},
		{messaging.TaskStageStoryAnalysis, "RunStoryAnalysis", []interface{}{mock.Anything, testStoryID, models.ThemeCultivation, mock.Anything, mock.Anything, 0}},
	}
	for _, tc := range cases {
		t.Run(string(tc.stage), func(t *testing.T) {
			f := newHandlerFixture(t)
			f.pipeline.On(tc.method, tc.args...).Return(chapterResult, nil).Once()
			f.repo.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
			f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n messaging.StageNotificationPayload) bool {
				return n.Stage == tc.stage && n.Status == messaging.NotificationStatusSuccess
			})).Return(nil).Once()

			err := f.handler.Handle(context.Background(), messaging.StageTaskPayload{
				TaskID:     testTaskID,
				StoryID:    testStoryID,
				Stage:      tc.stage,
				State:      worldState(t),
				ChoiceID:   "choice_2",
				EndingType: "圆满",
			})
			require.NoError(t, err)
			f.pipeline.AssertExpectations(t)
		})
	}
}

func TestHandle_DoesNotMutatePayloadState(t *testing.T) {
	f := newHandlerFixture(t)
	state := worldState(t)
	f.pipeline.On("CreateProtagonist", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			args.Get(1).(*models.StoryState).Protagonist = &models.Protagonist{Name: "林逸"}
		}).
		Return(&models.StageResult{Kind: models.StageProtagonist, Protagonist: &models.Protagonist{Name: "林逸"}}, nil)
	f.repo.On("Save", mock.Anything, mock.Anything).Return(nil)
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n messaging.StageNotificationPayload) bool {
		return n.State != nil && n.State.Protagonist != nil && n.State.Protagonist.Name == "林逸"
	})).Return(nil)

	require.NoError(t, f.handler.Handle(context.Background(), messaging.StageTaskPayload{
		TaskID: testTaskID, StoryID: testStoryID, Stage: messaging.TaskStageProtagonist, State: state,
	}))
	assert.Nil(t, state.Protagonist)
}

func TestHandle_ContractErrorNotifiesFailure(t *testing.T) {
	f := newHandlerFixture(t)
	f.pipeline.On("ApplyChoice", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, models.ErrUnknownChoice).Once()
	f.repo.On("Save", mock.Anything, mock.MatchedBy(func(r *models.StageRecord) bool {
		return r.Error != "" && len(r.Payload) == 0
	})).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n messaging.StageNotificationPayload) bool {
		return n.Status == messaging.NotificationStatusError &&
			n.ErrorKind == worker.ErrorKindContract &&
			n.Result == nil && n.State == nil
	})).Return(nil).Once()

	err := f.handler.Handle(context.Background(), messaging.StageTaskPayload{
		TaskID: testTaskID, StoryID: testStoryID, Stage: messaging.TaskStageApplyChoice,
		State: worldState(t), ChoiceID: "choice_9",
	})
	require.ErrorIs(t, err, models.ErrUnknownChoice)
	assert.True(t, worker.IsRejected(err))
	f.repo.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestHandle_InvalidPayload(t *testing.T) {
	cases := map[string]messaging.StageTaskPayload{
		"unknown stage":   {TaskID: testTaskID, StoryID: testStoryID, Stage: "rewrite"},
		"missing state":   {TaskID: testTaskID, StoryID: testStoryID, Stage: messaging.TaskStageFirstChapter},
		"foreign state":   {TaskID: testTaskID, StoryID: "other", Stage: messaging.TaskStageFirstChapter, State: &models.StoryState{StoryID: testStoryID}},
		"missing storyID": {TaskID: testTaskID, Stage: messaging.TaskStageWorldSetting, Theme: models.ThemeUrban},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			f := newHandlerFixture(t)
			f.repo.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
			f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n messaging.StageNotificationPayload) bool {
				return n.ErrorKind == worker.ErrorKindContract
			})).Return(nil).Once()

			err := f.handler.Handle(context.Background(), payload)
			assert.ErrorIs(t, err, worker.ErrInvalidPayload)
			f.pipeline.AssertNotCalled(t, "StartStory", mock.Anything, mock.Anything)
			f.pipeline.AssertNotCalled(t, "OpenFirstChapter", mock.Anything, mock.Anything)
		})
	}
}

func TestHandle_InvalidThemeIsContractError(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n messaging.StageNotificationPayload) bool {
		return n.ErrorKind == worker.ErrorKindContract
	})).Return(nil).Once()

	err := f.handler.Handle(context.Background(), messaging.StageTaskPayload{
		TaskID: testTaskID, StoryID: testStoryID, Stage: messaging.TaskStageWorldSetting, Theme: "赛博",
	})
	assert.ErrorIs(t, err, models.ErrInvalidTheme)
}

func TestHandle_InternalError(t *testing.T) {
	f := newHandlerFixture(t)
	internal := errors.New("embedding generation failed")
	f.pipeline.On("OpenFirstChapter", mock.Anything, mock.Anything).Return(nil, internal).Once()
	f.repo.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n messaging.StageNotificationPayload) bool {
		return n.ErrorKind == worker.ErrorKindInternal && n.ErrorDetails == internal.Error()
	})).Return(nil).Once()

	err := f.handler.Handle(context.Background(), messaging.StageTaskPayload{
		TaskID: testTaskID, StoryID: testStoryID, Stage: messaging.TaskStageFirstChapter, State: worldState(t),
	})
	assert.ErrorIs(t, err, internal)
	assert.False(t, worker.IsRejected(err))
}

func TestHandle_ShutdownSkipsSaveAndNotify(t *testing.T) {
	f := newHandlerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.pipeline.On("OpenFirstChapter", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled).Once()

	err := f.handler.Handle(ctx, messaging.StageTaskPayload{
		TaskID: testTaskID, StoryID: testStoryID, Stage: messaging.TaskStageFirstChapter, State: worldState(t),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, worker.IsRejected(err))
	f.repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestHandle_ContractErrorDuringShutdownStillNotifies(t *testing.T) {
	f := newHandlerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.pipeline.On("OpenFirstChapter", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, models.ErrInvalidStageOrder).Once()
	f.repo.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n messaging.StageNotificationPayload) bool {
		return n.ErrorKind == worker.ErrorKindContract
	})).Return(nil).Once()

	err := f.handler.Handle(ctx, messaging.StageTaskPayload{
		TaskID: testTaskID, StoryID: testStoryID, Stage: messaging.TaskStageFirstChapter, State: worldState(t),
	})
	assert.ErrorIs(t, err, models.ErrInvalidStageOrder)
	assert.True(t, worker.IsRejected(err))
}

func TestHandle_SaveErrorStillNotifies(t *testing.T) {
	f := newHandlerFixture(t)
	dbErr := errors.New("connection refused")
	f.pipeline.On("SummarizeStory", mock.Anything, mock.Anything).
		Return(&models.StageResult{Kind: models.StageStorySummary, StoryAnalysis: &models.StoryAnalysis{Summary: "概要"}}, nil)
	f.repo.On("Save", mock.Anything, mock.Anything).Return(dbErr).Once()
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n messaging.StageNotificationPayload) bool {
		return n.Status == messaging.NotificationStatusError &&
			n.ErrorKind == worker.ErrorKindInternal &&
			n.Result != nil
	})).Return(nil).Once()

	err := f.handler.Handle(context.Background(), messaging.StageTaskPayload{
		TaskID: testTaskID, StoryID: testStoryID, Stage: messaging.TaskStageStorySummary, State: worldState(t),
	})
	assert.ErrorIs(t, err, dbErr)
	f.notifier.AssertExpectations(t)
}

func TestHandle_NotifyErrorReturned(t *testing.T) {
	f := newHandlerFixture(t)
	notifyErr := errors.New("channel closed")
	f.pipeline.On("SummarizeStory", mock.Anything, mock.Anything).
		Return(&models.StageResult{Kind: models.StageStorySummary, StoryAnalysis: &models.StoryAnalysis{Summary: "概要"}}, nil)
	f.repo.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(notifyErr).Once()

	err := f.handler.Handle(context.Background(), messaging.StageTaskPayload{
		TaskID: testTaskID, StoryID: testStoryID, Stage: messaging.TaskStageStorySummary, State: worldState(t),
	})
	assert.ErrorIs(t, err, notifyErr)
}
