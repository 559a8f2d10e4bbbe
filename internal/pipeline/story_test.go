package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"novel-engine/internal/pipeline"
	"novel-engine/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestApplyChoice_IndependentSnapshots(t *testing.T) {
	f := newFixture(t, time.Second)
	f.allowMemory()
	f.provider.On("Generate", mock.Anything, mock.MatchedBy(func(p string) bool { return strings.Contains(p, "的选择：拜师") }), mock.Anything, mock.Anything).
		Return(chapterJSON(t, "拜师之路", 2), nil)
	f.provider.On("Generate", mock.Anything, mock.MatchedBy(func(p string) bool { return strings.Contains(p, "的选择：离开") }), mock.Anything, mock.Anything).
		Return(chapterJSON(t, "下山", 3), nil)

	base := stateWithChapter(t)
	first := base.Clone()
	second := base.Clone()

	resFirst, err := f.orch.ApplyChoice(context.Background(), first, pipeline.ChoiceInput{ChoiceID: "choice_1"})
	require.NoError(t, err)
	resSecond, err := f.orch.ApplyChoice(context.Background(), second, pipeline.ChoiceInput{ChoiceID: "choice_2"})
	require.NoError(t, err)

	assert.Equal(t, "拜师之路", resFirst.Chapter.Title)
	assert.Equal(t, "下山", resSecond.Chapter.Title)

	assert.Equal(t, 2, first.CurrentChapter)
	assert.Equal(t, 2, second.CurrentChapter)
	require.Len(t, first.Choices, 1)
	require.Len(t, second.Choices, 1)
	assert.Equal(t, "拜师", first.Choices[0].ChoiceText)
	assert.Equal(t, "离开", second.Choices[0].ChoiceText)
	assert.Equal(t, 1, first.Choices[0].ChapterNumber)
	assert.Len(t, first.LastChapter.Choices, 2)
	assert.Len(t, second.LastChapter.Choices, 3)

	// Исходный снимок не меняется.
	assert.Equal(t, 1, base.CurrentChapter)
	assert.Empty(t, base.Choices)
	assert.Len(t, base.Chapters, 1)
}

func TestApplyChoice_SameChoiceOnDifferentSnapshots(t *testing.T) {
	f := newFixture(t, time.Second)
	f.allowMemory()
	f.provider.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(chapterJSON(t, "续章", 3), nil)
	ctx := context.Background()

	early := stateWithChapter(t)
	later := early.Clone()
	_, err := f.orch.ApplyChoice(ctx, later, pipeline.ChoiceInput{ChoiceID: "choice_2"})
	require.NoError(t, err)
	require.Equal(t, 2, later.CurrentChapter)

	resEarly, err := f.orch.ApplyChoice(ctx, early, pipeline.ChoiceInput{ChoiceID: "choice_1"})
	require.NoError(t, err)
	resLater, err := f.orch.ApplyChoice(ctx, later, pipeline.ChoiceInput{ChoiceID: "choice_1"})
	require.NoError(t, err)

	assert.Equal(t, 2, resEarly.Chapter.ChapterNumber)
	assert.Equal(t, 3, resLater.Chapter.ChapterNumber)

	// Общий родитель - первая глава - остается первым в обеих ветках.
	require.Len(t, early.Chapters, 2)
	require.Len(t, later.Chapters, 3)
	for _, st := range []*models.StoryState{early, later} {
		assert.Equal(t, 1, st.Chapters[0].ChapterNumber)
		assert.Equal(t, "第1章 入门", st.Chapters[0].Title)
		for i, ch := range st.Chapters {
			assert.Equal(t, i+1, ch.ChapterNumber)
		}
	}
	assert.Equal(t, 1, early.Choices[0].ChapterNumber)
	assert.Equal(t, 2, later.Choices[1].ChapterNumber)
	assert.Equal(t, "拜师", early.Choices[0].ChoiceText)
}

func TestApplyChoice_CustomActionStoresChoiceMemory(t *testing.T) {
	f := newFixture(t, time.Second)
	f.memory.On("SummarizeContext", mock.Anything, mock.Anything, mock.Anything).Return("", nil)
	f.memory.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	f.memory.On("ExtractAndStore", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("extraction failed"))
	f.memory.On("Evict", mock.Anything, mock.Anything, mock.Anything).Return(0, nil)
	f.memory.On("Store", mock.Anything, mock.MatchedBy(func(item *models.MemoryItem) bool {
		return item.MemoryType == models.MemoryChoice && strings.Contains(item.Content, "独自闯入后山")
	})).Return("mem-choice", nil).Once()
	f.provider.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(chapterJSON(t, "后山", 2), nil)

	state := stateWithChapter(t)
	res, err := f.orch.ApplyChoice(context.Background(), state, pipeline.ChoiceInput{CustomAction: "  独自闯入后山 "})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Chapter.ChapterNumber)
	require.Len(t, state.Choices, 1)
	assert.Equal(t, "独自闯入后山", state.Choices[0].CustomAction)
	assert.Empty(t, state.Choices[0].ChoiceID)
	f.memory.AssertExpectations(t)
}

func TestApplyChoice_ContractErrors(t *testing.T) {
	f := newFixture(t, time.Second)

	_, err := f.orch.ApplyChoice(context.Background(), stateWithChapter(t), pipeline.ChoiceInput{ChoiceID: "choice_9"})
	assert.ErrorIs(t, err, models.ErrUnknownChoice)

	_, err = f.orch.ApplyChoice(context.Background(), stateWithChapter(t), pipeline.ChoiceInput{CustomAction: "   "})
	assert.ErrorIs(t, err, models.ErrEmptyChoice)

	_, err = f.orch.ApplyChoice(context.Background(), readyState(t), pipeline.ChoiceInput{ChoiceID: "choice_1"})
	assert.ErrorIs(t, err, models.ErrInvalidStageOrder)

	ended := stateWithChapter(t)
	ended.Ended = true
	_, err = f.orch.ApplyChoice(context.Background(), ended, pipeline.ChoiceInput{ChoiceID: "choice_1"})
	assert.ErrorIs(t, err, models.ErrStoryEnded)

	for _, e := range []error{models.ErrUnknownChoice, models.ErrEmptyChoice, models.ErrInvalidStageOrder, models.ErrStoryEnded} {
		assert.True(t, models.IsContractError(e))
	}
	f.provider.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestApplyChoice_CancelledLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, time.Second)
	f.memory.On("SummarizeContext", mock.Anything, mock.Anything, mock.Anything).Return("", nil).Maybe()
	f.memory.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	ctx, cancel := context.WithCancel(context.Background())
	f.provider.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("", context.Canceled)

	state := stateWithChapter(t)
	_, err := f.orch.ApplyChoice(ctx, state, pipeline.ChoiceInput{ChoiceID: "choice_1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, state.CurrentChapter)
	assert.Empty(t, state.Choices)
	f.memory.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
}

func TestStoryLifecycle_AllFallbacks(t *testing.T) {
	f := newFixture(t, time.Second)
	f.allowMemory()
	f.provider.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("provider down"))

	ctx := context.Background()
	state, err := models.NewStoryState("story-9", models.ThemeSciFi)
	require.NoError(t, err)

	_, err = f.orch.CreateProtagonist(ctx, state)
	assert.ErrorIs(t, err, models.ErrInvalidStageOrder)
	_, err = f.orch.OpenFirstChapter(ctx, state)
	assert.ErrorIs(t, err, models.ErrInvalidStageOrder)

	res, err := f.orch.StartStory(ctx, state)
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	require.NotNil(t, state.WorldSetting)

	res, err = f.orch.CreateProtagonist(ctx, state)
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	require.NotNil(t, state.Protagonist)

	res, err = f.orch.OpenFirstChapter(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, 1, state.CurrentChapter)
	assert.Len(t, res.Chapter.Choices, 3)
	assert.Equal(t, []models.Difficulty{models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard},
		[]models.Difficulty{res.Chapter.Choices[0].Difficulty, res.Chapter.Choices[1].Difficulty, res.Chapter.Choices[2].Difficulty})

	_, err = f.orch.OpenFirstChapter(ctx, state)
	assert.ErrorIs(t, err, models.ErrInvalidStageOrder)
	_, err = f.orch.StartStory(ctx, state)
	assert.ErrorIs(t, err, models.ErrInvalidStageOrder)

	res, err = f.orch.ApplyChoice(ctx, state, pipeline.ChoiceInput{ChoiceID: "choice_3"})
	require.NoError(t, err)
	assert.Equal(t, 2, state.CurrentChapter)
	assert.Contains(t, res.Chapter.Content, state.Choices[0].ChoiceText)

	analysis, err := f.orch.AnalyzeChoice(ctx, state, pipeline.ChoiceInput{ChoiceID: "choice_1"})
	require.NoError(t, err)
	assert.True(t, analysis.Valid())
	assert.NotEmpty(t, analysis.ChoiceAnalysis.ImmediateConsequence)

	summary, err := f.orch.SummarizeStory(ctx, state)
	require.NoError(t, err)
	require.True(t, summary.Valid())
	assert.Contains(t, summary.StoryAnalysis.Summary, "第1章")

	ending, err := f.orch.GenerateEnding(ctx, state, "悲壮")
	require.NoError(t, err)
	assert.True(t, ending.Chapter.IsEnding)
	assert.Empty(t, ending.Chapter.Choices)
	assert.True(t, state.Ended)
	assert.Equal(t, 3, state.CurrentChapter)

	_, err = f.orch.ApplyChoice(ctx, state, pipeline.ChoiceInput{ChoiceID: "choice_1"})
	assert.ErrorIs(t, err, models.ErrStoryEnded)
	_, err = f.orch.GenerateEnding(ctx, state, "")
	assert.ErrorIs(t, err, models.ErrStoryEnded)
}

func TestGenerateEnding_IgnoresChoicesFromProvider(t *testing.T) {
	f := newFixture(t, time.Second)
	f.allowMemory()
	var captured string
	f.provider.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.String(1) }).
		Return(chapterJSON(t, "终章", 3), nil)

	state := stateWithChapter(t)
	res, err := f.orch.GenerateEnding(context.Background(), state, "悲壮")
	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	assert.True(t, res.Chapter.IsEnding)
	assert.Empty(t, res.Chapter.Choices)
	assert.Equal(t, 2, res.Chapter.ChapterNumber)
	assert.Contains(t, captured, "悲壮")
	assert.True(t, state.Ended)
}

func TestAnalyzeChoice_ParsesResponse(t *testing.T) {
	f := newFixture(t, time.Second)
	f.provider.On("Generate", mock.Anything, mock.MatchedBy(func(p string) bool { return strings.Contains(p, "离开") }), mock.Anything, mock.Anything).
		Return(`{"immediate_consequence":"师门震怒","long_term_impact":"与宗门决裂","plot_direction":"独自修行"}`, nil).Once()

	res, err := f.orch.AnalyzeChoice(context.Background(), stateWithChapter(t), pipeline.ChoiceInput{ChoiceID: "choice_2"})
	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, "师门震怒", res.ChoiceAnalysis.ImmediateConsequence)
	assert.Equal(t, "独自修行", res.ChoiceAnalysis.PlotDirection)
}

func TestSummarizeStory_PlainText(t *testing.T) {
	f := newFixture(t, time.Second)
	f.provider.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("林逸拜入宗门，开始修行。", nil).Once()

	res, err := f.orch.SummarizeStory(context.Background(), stateWithChapter(t))
	require.NoError(t, err)
	assert.Equal(t, models.StageStorySummary, res.Kind)
	assert.Equal(t, "林逸拜入宗门，开始修行。", res.StoryAnalysis.Summary)
}
