package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"novel-engine/internal/mocks"
	"novel-engine/internal/parser"
	"novel-engine/internal/pipeline"
	"novel-engine/internal/prompt"
	"novel-engine/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	orch     *pipeline.Orchestrator
	provider *mocks.MockGenerationProvider
	memory   *mocks.MockMemoryStore
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	p := mocks.NewMockGenerationProvider(t)
	mem := mocks.NewMockMemoryStore(t)
	builder := prompt.NewBuilder(prompt.Settings{MaxPromptChars: 10000, HistoryWindow: 3, MinChoices: 2, MaxChoices: 4})
	cp := parser.NewContentParser(parser.Config{MinChoices: 2, MaxChoices: 4, MaxChapterLength: 20000, MaxOutputChars: 40000}, zap.NewNop())
	orch := pipeline.NewOrchestrator(p, mem, builder, cp, pipeline.Settings{
		ProviderTimeout:    timeout,
		MaxTokens:          4000,
		Temperature:        0.8,
		ContextMemoryItems: 10,
		RecallResults:      5,
		KeepCount:          100,
	}, zap.NewNop())
	return &fixture{orch: orch, provider: p, memory: mem}
}

// allowMemory разрешает любые обращения к памяти.
func (f *fixture) allowMemory() {
	f.memory.On("Store", mock.Anything, mock.Anything).Return("mem-id", nil).Maybe()
	f.memory.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	f.memory.On("Access", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.memory.On("ExtractAndStore", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	f.memory.On("SummarizeContext", mock.Anything, mock.Anything, mock.Anything).Return("", nil).Maybe()
	f.memory.On("Evict", mock.Anything, mock.Anything, mock.Anything).Return(0, nil).Maybe()
}

func chapterJSON(t *testing.T, title string, choices int) string {
	t.Helper()
	opts := make([]map[string]string, 0, choices)
	for i := 0; i < choices; i++ {
		opts = append(opts, map[string]string{
			"text":       fmt.Sprintf("选项%d", i+1),
			"difficulty": "hard",
			"kind":       "decision",
		})
	}
	data, err := json.Marshal(map[string]interface{}{
		"title":   title,
		"content": "夜色中，" + title + "的故事展开了。风从山谷吹来。",
		"summary": title + "的摘要。",
		"choices": opts,
	})
	require.NoError(t, err)
	return "```json\n" + string(data) + "\n```"
}

func readyState(t *testing.T) *models.StoryState {
	t.Helper()
	state, err := models.NewStoryState("story-1", models.ThemeCultivation)
	require.NoError(t, err)
	require.NoError(t, state.CommitWorldSetting(parser.FallbackWorldSetting(models.ThemeCultivation)))
	require.NoError(t, state.CommitProtagonist(parser.FallbackProtagonist(models.ThemeCultivation)))
	return state
}

func stateWithChapter(t *testing.T) *models.StoryState {
	t.Helper()
	state := readyState(t)
	require.NoError(t, state.CommitChapter(&models.Chapter{
		ChapterNumber: 1,
		Title:         "第1章 入门",
		Content:       "林逸来到山门前。",
		Summary:       "林逸来到山门。",
		Choices: []models.ChoiceOption{
			{ID: "choice_1", Text: "拜师", Difficulty: models.DifficultyEasy, Kind: models.ChoiceKindAction},
			{ID: "choice_2", Text: "离开", Difficulty: models.DifficultyHard, Kind: models.ChoiceKindDecision},
		},
	}))
	return state
}

func TestRunWorldSetting_FallbackForEveryTheme(t *testing.T) {
	for _, theme := range models.AllThemes() {
		t.Run(string(theme), func(t *testing.T) {
			f := newFixture(t, time.Second)
			f.allowMemory()
			f.provider.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
				Return("", errors.New("provider unavailable"))

			res, err := f.orch.RunWorldSetting(context.Background(), "story-1", theme)
			require.NoError(t, err)
			require.True(t, res.Valid())
			assert.True(t, res.UsedFallback)
			assert.Equal(t, parser.ReasonProviderError, res.FallbackReason)
			assert.NotEmpty(t, res.WorldSetting.WorldName)
			assert.NotEmpty(t, res.WorldSetting.WorldDescription)
		})
	}
}

func TestRunWorldSetting_InvalidTheme(t *testing.T) {
	f := newFixture(t, time.Second)

	_, err := f.orch.RunWorldSetting(context.Background(), "story-1", models.Theme("western"))
	assert.ErrorIs(t, err, models.ErrInvalidTheme)
	assert.True(t, models.IsContractError(err))
	f.provider.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunWorldSetting_SeedsCriticalWorldMemory(t *testing.T) {
	f := newFixture(t, time.Second)
	f.provider.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(`好的，世界如下：{"world_name":"青云界","world_description":"灵山遍布的修真世界。","power_system":"炼气、筑基、金丹"}`, nil)
	f.memory.On("Store", mock.Anything, mock.MatchedBy(func(item *models.MemoryItem) bool {
		return item.StoryID == "story-1" &&
			item.MemoryType == models.MemoryWorld &&
			item.Importance == models.ImportanceCritical &&
			strings.Contains(item.Content, "青云界")
	})).Return("mem-1", nil).Once()

	res, err := f.orch.RunWorldSetting(context.Background(), "story-1", models.ThemeCultivation)
	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, "青云界", res.WorldSetting.WorldName)
	f.memory.AssertExpectations(t)
}

func TestRunWorldSetting_MemoryFailureIsNotEscalated(t *testing.T) {
	f := newFixture(t, time.Second)
	f.provider.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"world_name":"青云界","world_description":"灵山遍布。"}`, nil)
	f.memory.On("Store", mock.Anything, mock.Anything).Return("", models.ErrEmbeddingFailed)

	res, err := f.orch.RunWorldSetting(context.Background(), "story-1", models.ThemeCultivation)
	require.NoError(t, err)
	assert.Equal(t, "青云界", res.WorldSetting.WorldName)
}

func TestRunProtagonist_RequiresWorldSetting(t *testing.T) {
	f := newFixture(t, time.Second)

	_, err := f.orch.RunProtagonist(context.Background(), "story-1", models.ThemeCultivation, nil)
	assert.ErrorIs(t, err, models.ErrInvalidStageOrder)
	f.provider.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunChapter_RequiresWorldAndProtagonist(t *testing.T) {
	f := newFixture(t, time.Second)

	_, err := f.orch.RunChapter(context.Background(), pipeline.ChapterRequest{
		StoryID:      "story-1",
		Theme:        models.ThemeCultivation,
		WorldSetting: parser.FallbackWorldSetting(models.ThemeCultivation),
	})
	assert.ErrorIs(t, err, models.ErrInvalidStageOrder)
}

func TestRunChapter_ChoiceBounds(t *testing.T) {
	for n := 0; n <= 7; n++ {
		t.Run(fmt.Sprintf("%d choices", n), func(t *testing.T) {
			f := newFixture(t, time.Second)
			f.allowMemory()
			f.provider.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
				Return(chapterJSON(t, "山门", n), nil)

			state := readyState(t)
			res, err := f.orch.RunChapter(context.Background(), pipeline.ChapterRequest{
				StoryID:       state.StoryID,
				Theme:         state.Theme,
				WorldSetting:  state.WorldSetting,
				Protagonist:   state.Protagonist,
				ChapterNumber: 1,
			})
			require.NoError(t, err)
			ch := res.Chapter
			require.NotNil(t, ch)
			assert.False(t, ch.IsEnding)
			assert.GreaterOrEqual(t, len(ch.Choices), 2)
			assert.LessOrEqual(t, len(ch.Choices), 4)
			for i, c := range ch.Choices {
				assert.Equal(t, fmt.Sprintf("choice_%d", i+1), c.ID)
				assert.True(t, c.Difficulty.IsValid())
				assert.True(t, c.Kind.IsValid())
			}
		})
	}
}

func TestRunChapter_UsesRecentHistoryAndMemory(t *testing.T) {
	f := newFixture(t, time.Second)
	state := readyState(t)
	history := make([]models.ChapterSummary, 0, 5)
	for i := 1; i <= 5; i++ {
		history = append(history, models.ChapterSummary{ChapterNumber: i, Title: fmt.Sprintf("标题%d", i), Summary: fmt.Sprintf("摘要%d。", i)})
	}
	lastChoice := &models.ChoiceRecord{ChapterNumber: 5, ChoiceID: "choice_2", ChoiceText: "追踪黑衣人"}

	f.memory.On("SummarizeContext", mock.Anything, "story-1", 10).Return("林逸与师父关系紧张。", nil)
	f.memory.On("Search", mock.Anything, "story-1", mock.MatchedBy(func(q string) bool {
		return strings.Contains(q, "追踪黑衣人") && strings.Contains(q, "摘要5")
	}), models.SearchFilter{}, 5).Return([]models.SearchResult{
		{Item: &models.MemoryItem{ID: "m1", StoryID: "story-1", Content: "黑衣人来自魔宗", MemoryType: models.MemoryCharacter}, Score: 0.9},
	}, nil)
	f.memory.On("Access", mock.Anything, mock.MatchedBy(func(item *models.MemoryItem) bool { return item.ID == "m1" })).Return(nil).Once()
	f.memory.On("ExtractAndStore", mock.Anything, mock.Anything, "story-1", "chapter_6").Return(nil, nil).Once()
	f.memory.On("Evict", mock.Anything, "story-1", 100).Return(0, nil).Once()

	var captured string
	f.provider.On("Generate", mock.Anything, mock.Anything, 4000, 0.8).
		Run(func(args mock.Arguments) { captured = args.String(1) }).
		Return(chapterJSON(t, "追踪", 3), nil)

	res, err := f.orch.RunChapter(context.Background(), pipeline.ChapterRequest{
		StoryID:       "story-1",
		Theme:         state.Theme,
		WorldSetting:  state.WorldSetting,
		Protagonist:   state.Protagonist,
		History:       history,
		ChapterNumber: 6,
		LastChoice:    lastChoice,
	})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Chapter.ChapterNumber)

	for i := 3; i <= 5; i++ {
		assert.Contains(t, captured, fmt.Sprintf("标题%d", i))
	}
	assert.NotContains(t, captured, "标题1")
	assert.NotContains(t, captured, "标题2")
	assert.Contains(t, captured, "林逸与师父关系紧张。")
	assert.Contains(t, captured, "黑衣人来自魔宗")
	assert.Contains(t, captured, "追踪黑衣人")
	f.memory.AssertExpectations(t)
}

func TestRunChapter_ProviderTimeoutUsesFallback(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.allowMemory()
	f.provider.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.DeadlineExceeded)

	state := readyState(t)
	res, err := f.orch.RunChapter(context.Background(), pipeline.ChapterRequest{
		StoryID:       state.StoryID,
		Theme:         state.Theme,
		WorldSetting:  state.WorldSetting,
		Protagonist:   state.Protagonist,
		ChapterNumber: 1,
	})
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, parser.ReasonProviderTimeout, res.FallbackReason)
	assert.Contains(t, res.Chapter.Content, state.Protagonist.Name)
	assert.Len(t, res.Chapter.Choices, 3)
	f.memory.AssertNotCalled(t, "ExtractAndStore", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunChapter_CallerCancellationWritesNothing(t *testing.T) {
	f := newFixture(t, time.Second)
	f.memory.On("SummarizeContext", mock.Anything, mock.Anything, mock.Anything).Return("", nil).Maybe()
	ctx, cancel := context.WithCancel(context.Background())
	f.provider.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("", context.Canceled)

	state := readyState(t)
	_, err := f.orch.RunChapter(ctx, pipeline.ChapterRequest{
		StoryID:       state.StoryID,
		Theme:         state.Theme,
		WorldSetting:  state.WorldSetting,
		Protagonist:   state.Protagonist,
		ChapterNumber: 1,
	})
	assert.ErrorIs(t, err, context.Canceled)
	f.memory.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
	f.memory.AssertNotCalled(t, "ExtractAndStore", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.memory.AssertNotCalled(t, "Evict", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunStoryAnalysis(t *testing.T) {
	f := newFixture(t, time.Second)
	f.provider.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"current_plot_stage":"发展","tension_level":15,"suggested_next_events":"比武、突破"}`, nil).Once()

	history := []models.ChapterSummary{{ChapterNumber: 1, Title: "入门", Summary: "林逸入门。"}}
	res, err := f.orch.RunStoryAnalysis(context.Background(), "story-1", models.ThemeCultivation, history, nil, 2)
	require.NoError(t, err)
	require.True(t, res.Valid())
	assert.Equal(t, "发展", res.StoryAnalysis.CurrentPlotStage)
	assert.Equal(t, 10, res.StoryAnalysis.TensionLevel)
	assert.Equal(t, []string{"比武", "突破"}, res.StoryAnalysis.SuggestedNextEvents)
}
