package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"novel-engine/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) *models.StoryState {
	t.Helper()
	state, err := models.NewStoryState("story-1", models.ThemeCultivation)
	require.NoError(t, err)
	return state
}

func TestStoryState_StageOrder(t *testing.T) {
	t.Run("protagonist before world setting", func(t *testing.T) {
		state := newTestState(t)
		err := state.CommitProtagonist(&models.Protagonist{Name: "Li Wei"})
		assert.ErrorIs(t, err, models.ErrInvalidStageOrder)
	})

	t.Run("chapter before protagonist", func(t *testing.T) {
		state := newTestState(t)
		require.NoError(t, state.CommitWorldSetting(&models.WorldSetting{WorldName: "青云界"}))
		err := state.CommitChapter(&models.Chapter{ChapterNumber: 1})
		assert.ErrorIs(t, err, models.ErrInvalidStageOrder)
	})

	t.Run("chapter numbers must be sequential", func(t *testing.T) {
		state := newTestState(t)
		require.NoError(t, state.CommitWorldSetting(&models.WorldSetting{WorldName: "青云界"}))
		require.NoError(t, state.CommitProtagonist(&models.Protagonist{Name: "Li Wei"}))
		err := state.CommitChapter(&models.Chapter{ChapterNumber: 2})
		assert.ErrorIs(t, err, models.ErrInvalidStageOrder)
		require.NoError(t, state.CommitChapter(&models.Chapter{ChapterNumber: 1, Title: "初入山门"}))
		assert.Equal(t, 1, state.CurrentChapter)
		assert.Len(t, state.Chapters, 1)
	})

	t.Run("world setting is frozen after protagonist", func(t *testing.T) {
		state := newTestState(t)
		require.NoError(t, state.CommitWorldSetting(&models.WorldSetting{WorldName: "A"}))
		require.NoError(t, state.CommitProtagonist(&models.Protagonist{Name: "Li Wei"}))
		err := state.CommitWorldSetting(&models.WorldSetting{WorldName: "B"})
		assert.ErrorIs(t, err, models.ErrInvalidStageOrder)
	})

	t.Run("ending closes the story", func(t *testing.T) {
		state := newTestState(t)
		require.NoError(t, state.CommitWorldSetting(&models.WorldSetting{WorldName: "A"}))
		require.NoError(t, state.CommitProtagonist(&models.Protagonist{Name: "Li Wei"}))
		require.NoError(t, state.CommitChapter(&models.Chapter{ChapterNumber: 1, IsEnding: true}))
		assert.True(t, state.Ended)
		assert.ErrorIs(t, state.RecordChoice(models.ChoiceRecord{ChoiceText: "x"}), models.ErrStoryEnded)
		assert.ErrorIs(t, state.CommitChapter(&models.Chapter{ChapterNumber: 2}), models.ErrStoryEnded)
	})
}

func TestStoryState_CloneIsIndependent(t *testing.T) {
	state := newTestState(t)
	require.NoError(t, state.CommitWorldSetting(&models.WorldSetting{WorldName: "A", MainLocations: []string{"山门"}}))
	require.NoError(t, state.CommitProtagonist(&models.Protagonist{Name: "Li Wei"}))
	require.NoError(t, state.CommitChapter(&models.Chapter{
		ChapterNumber: 1,
		Choices:       []models.ChoiceOption{{ID: "choice_1", Text: "前进"}},
	}))

	clone := state.Clone()
	require.NoError(t, clone.RecordChoice(models.ChoiceRecord{ChoiceID: "choice_1", ChoiceText: "前进"}))
	clone.WorldSetting.MainLocations[0] = "changed"
	clone.LastChapter.Choices[0].Text = "changed"

	assert.Empty(t, state.Choices)
	assert.Equal(t, "山门", state.WorldSetting.MainLocations[0])
	assert.Equal(t, "前进", state.LastChapter.Choices[0].Text)
}

func TestTailHistory(t *testing.T) {
	history := []models.ChapterSummary{{ChapterNumber: 1}, {ChapterNumber: 2}, {ChapterNumber: 3}, {ChapterNumber: 4}}
	tail := models.TailHistory(history, 3)
	require.Len(t, tail, 3)
	assert.Equal(t, 2, tail[0].ChapterNumber)
	assert.Equal(t, 4, tail[2].ChapterNumber)
	assert.Nil(t, models.TailHistory(history, 0))
	assert.Len(t, models.TailHistory(history[:1], 3), 1)
}

func TestParseTheme(t *testing.T) {
	theme, err := models.ParseTheme("修仙")
	require.NoError(t, err)
	assert.Equal(t, models.ThemeCultivation, theme)

	theme, err = models.ParseTheme("Wuxia")
	require.NoError(t, err)
	assert.Equal(t, models.ThemeWuxia, theme)

	_, err = models.ParseTheme("")
	assert.ErrorIs(t, err, models.ErrMissingTheme)

	_, err = models.ParseTheme("western")
	assert.ErrorIs(t, err, models.ErrInvalidTheme)
	assert.True(t, models.IsContractError(err))
}

func TestImportance_JSON(t *testing.T) {
	item := models.MemoryItem{ID: "m1", Importance: models.ImportanceHigh}
	data, err := json.Marshal(item)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"importance":"high"`)

	var decoded models.MemoryItem
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, models.ImportanceHigh, decoded.Importance)
	assert.True(t, models.ImportanceCritical > models.ImportanceHigh)
}

func TestMemoryItem_Lifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	item := &models.MemoryItem{Active: true}
	assert.True(t, item.Searchable(now))

	item.SetExpiry(now, time.Hour)
	assert.True(t, item.Searchable(now))
	assert.False(t, item.Searchable(now.Add(2*time.Hour)))

	item.ExtendExpiry(2 * time.Hour)
	assert.True(t, item.Searchable(now.Add(2*time.Hour)))

	item.Deactivate()
	assert.False(t, item.Searchable(now))
	item.Activate()
	assert.True(t, item.Searchable(now))

	item.Touch(now)
	assert.EqualValues(t, 1, item.AccessCount)
	require.NotNil(t, item.LastAccessedAt)
}

func TestSearchFilter_Match(t *testing.T) {
	item := &models.MemoryItem{MemoryType: models.MemoryPlot, Importance: models.ImportanceMedium}
	assert.True(t, models.SearchFilter{}.Match(item))
	assert.True(t, models.SearchFilter{Types: []models.MemoryType{models.MemoryPlot}}.Match(item))
	assert.False(t, models.SearchFilter{Types: []models.MemoryType{models.MemoryWorld}}.Match(item))
	assert.False(t, models.SearchFilter{MinImportance: models.ImportanceHigh}.Match(item))
}
