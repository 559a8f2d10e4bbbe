package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"novel-engine/internal/parser"
	"novel-engine/shared/models"
	"novel-engine/shared/utils"
)

// ChoiceInput - выбор читателя: ID варианта из последней главы или свободное действие.
type ChoiceInput struct {
	ChoiceID     string
	CustomAction string
}

// Операции над StoryState меняют состояние только при успехе: стадия выполняется на копии,
// и копия подменяет состояние после коммита.

// StartStory строит мир и фиксирует его в состоянии.
func (o *Orchestrator) StartStory(ctx context.Context, state *models.StoryState) (*models.StageResult, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: story state is nil", models.ErrInvalidStageOrder)
	}
	if state.Protagonist != nil {
		return nil, fmt.Errorf("%w: world setting cannot change after protagonist is created", models.ErrInvalidStageOrder)
	}
	res, err := o.RunWorldSetting(ctx, state.StoryID, state.Theme)
	if err != nil {
		return nil, err
	}
	next := state.Clone()
	if err := next.CommitWorldSetting(res.WorldSetting); err != nil {
		return nil, err
	}
	*state = *next
	return res, nil
}

// CreateProtagonist создает героя для мира из состояния.
func (o *Orchestrator) CreateProtagonist(ctx context.Context, state *models.StoryState) (*models.StageResult, error) {
	if state == nil || state.WorldSetting == nil {
		return nil, fmt.Errorf("%w: world setting must precede protagonist", models.ErrInvalidStageOrder)
	}
	if state.CurrentChapter > 0 {
		return nil, fmt.Errorf("%w: protagonist cannot change after chapters started", models.ErrInvalidStageOrder)
	}
	res, err := o.RunProtagonist(ctx, state.StoryID, state.Theme, state.WorldSetting)
	if err != nil {
		return nil, err
	}
	next := state.Clone()
	if err := next.CommitProtagonist(res.Protagonist); err != nil {
		return nil, err
	}
	*state = *next
	return res, nil
}

// OpenFirstChapter генерирует первую главу.
func (o *Orchestrator) OpenFirstChapter(ctx context.Context, state *models.StoryState) (*models.StageResult, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: story state is nil", models.ErrInvalidStageOrder)
	}
	if state.CurrentChapter != 0 {
		return nil, fmt.Errorf("%w: first chapter already exists", models.ErrInvalidStageOrder)
	}
	return o.advance(ctx, state, state.Clone(), models.StageChapter, "")
}

// ApplyChoice фиксирует выбор читателя и генерирует следующую главу.
func (o *Orchestrator) ApplyChoice(ctx context.Context, state *models.StoryState, in ChoiceInput) (*models.StageResult, error) {
	opt, err := resolveChoice(state, in)
	if err != nil {
		return nil, err
	}
	rec := models.ChoiceRecord{
		ChapterNumber: state.CurrentChapter,
		ChoiceID:      opt.ID,
		ChoiceText:    opt.Text,
		CreatedAt:     time.Now().UTC(),
	}
	if opt.ID == "" {
		rec.CustomAction = opt.Text
	}
	next := state.Clone()
	if err := next.RecordChoice(rec); err != nil {
		return nil, err
	}
	res, err := o.advance(ctx, state, next, models.StageChapter, "")
	if err != nil {
		return nil, err
	}
	o.rememberChoice(ctx, state.StoryID, rec)
	return res, nil
}

// GenerateEnding пишет финальную главу без вариантов выбора и завершает историю.
func (o *Orchestrator) GenerateEnding(ctx context.Context, state *models.StoryState, endingType string) (*models.StageResult, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: story state is nil", models.ErrInvalidStageOrder)
	}
	if state.Ended {
		return nil, models.ErrStoryEnded
	}
	if state.LastChapter == nil {
		return nil, fmt.Errorf("%w: ending requires at least one chapter", models.ErrInvalidStageOrder)
	}
	return o.advance(ctx, state, state.Clone(), models.StageEnding, endingType)
}

// advance генерирует следующую главу для next и при успехе переносит next в state.
func (o *Orchestrator) advance(ctx context.Context, state, next *models.StoryState, stage models.StageKind, endingType string) (*models.StageResult, error) {
	if next.Ended {
		return nil, models.ErrStoryEnded
	}
	req := ChapterRequest{
		StoryID:       next.StoryID,
		Theme:         next.Theme,
		WorldSetting:  next.WorldSetting,
		Protagonist:   next.Protagonist,
		History:       next.Chapters,
		ChapterNumber: next.CurrentChapter + 1,
		LastChoice:    next.LastChoice(),
	}
	res, err := o.runStoryChapter(ctx, stage, req, endingType)
	if err != nil {
		return nil, err
	}
	if err := next.CommitChapter(res.Chapter); err != nil {
		return nil, err
	}
	*state = *next
	o.logger.Info("Chapter committed",
		zap.String("story_id", state.StoryID),
		zap.Int("chapter", state.CurrentChapter),
		zap.Bool("ending", state.Ended),
		zap.Bool("used_fallback", res.UsedFallback))
	return res, nil
}

// AnalyzeChoice оценивает последствия варианта (или свободного действия) в контексте последней главы.
func (o *Orchestrator) AnalyzeChoice(ctx context.Context, state *models.StoryState, in ChoiceInput) (*models.StageResult, error) {
	opt, err := resolveChoice(state, in)
	if err != nil {
		return nil, err
	}
	current := state.LastChapter.Summary
	if current == "" {
		current = utils.CutAtSentence(state.LastChapter.Content, 300)
	}
	promptText, err := o.builder.ChoiceAnalysis(state.Theme, opt, current)
	if err != nil {
		return nil, err
	}
	fc := parser.FallbackContext{
		Theme:         state.Theme,
		ChapterNumber: state.CurrentChapter,
		ChoiceText:    opt.Text,
		History:       state.Chapters,
	}
	if state.Protagonist != nil {
		fc.ProtagonistName = state.Protagonist.Name
	}
	return o.generate(ctx, models.StageChoiceAnalysis, promptText, analysisMaxTokens, analysisTemperature, fc)
}

// SummarizeStory кратко пересказывает историю по резюме глав.
func (o *Orchestrator) SummarizeStory(ctx context.Context, state *models.StoryState) (*models.StageResult, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: story state is nil", models.ErrInvalidStageOrder)
	}
	promptText, err := o.builder.StorySummary(state.Theme, state.Chapters, state.Protagonist)
	if err != nil {
		return nil, err
	}
	fc := parser.FallbackContext{
		Theme:         state.Theme,
		ChapterNumber: state.CurrentChapter,
		History:       state.Chapters,
	}
	if state.Protagonist != nil {
		fc.ProtagonistName = state.Protagonist.Name
	}
	return o.generate(ctx, models.StageStorySummary, promptText, summaryMaxTokens, analysisTemperature, fc)
}

// resolveChoice находит вариант по ID в последней главе или оформляет свободное действие как вариант.
func resolveChoice(state *models.StoryState, in ChoiceInput) (models.ChoiceOption, error) {
	if state == nil {
		return models.ChoiceOption{}, fmt.Errorf("%w: story state is nil", models.ErrInvalidStageOrder)
	}
	if state.Ended {
		return models.ChoiceOption{}, models.ErrStoryEnded
	}
	if state.LastChapter == nil {
		return models.ChoiceOption{}, fmt.Errorf("%w: no chapter to choose from", models.ErrInvalidStageOrder)
	}
	if in.ChoiceID != "" {
		opt, ok := state.LastChapter.FindChoice(in.ChoiceID)
		if !ok {
			return models.ChoiceOption{}, fmt.Errorf("%w: '%s'", models.ErrUnknownChoice, in.ChoiceID)
		}
		return opt, nil
	}
	action := strings.TrimSpace(in.CustomAction)
	if action == "" {
		return models.ChoiceOption{}, models.ErrEmptyChoice
	}
	return models.ChoiceOption{
		Text:       action,
		Difficulty: models.DifficultyMedium,
		Kind:       models.ChoiceKindAction,
	}, nil
}
