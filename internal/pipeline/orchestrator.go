package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"novel-engine/internal/parser"
	"novel-engine/internal/prompt"
	"novel-engine/internal/provider"
	"novel-engine/shared/models"
)

// MemoryStore - та часть памяти историй, которой пользуется пайплайн.
type MemoryStore interface {
	Store(ctx context.Context, item *models.MemoryItem) (string, error)
	Search(ctx context.Context, storyID, query string, filter models.SearchFilter, maxResults int) ([]models.SearchResult, error)
	Access(ctx context.Context, item *models.MemoryItem) error
	ExtractAndStore(ctx context.Context, chapterText, storyID, chapterID string) ([]*models.MemoryItem, error)
	SummarizeContext(ctx context.Context, storyID string, maxItems int) (string, error)
	Evict(ctx context.Context, storyID string, keepCount int) (int, error)
}

// Лимиты токенов и температура для стадий, где они не задаются настройками.
const (
	setupMaxTokens      = 1500
	analysisMaxTokens   = 1000
	summaryMaxTokens    = 600
	analysisTemperature = 0.3
)

// Orchestrator проводит историю через стадии: мир, герой, главы, выборы, финал.
// Не хранит состояние историй; безопасен для конкурентного использования разными историями.
type Orchestrator struct {
	provider provider.GenerationProvider
	memory   MemoryStore
	builder  *prompt.Builder
	parser   *parser.ContentParser
	settings Settings
	logger   *zap.Logger
}

// NewOrchestrator создает оркестратор.
func NewOrchestrator(
	p provider.GenerationProvider,
	memory MemoryStore,
	builder *prompt.Builder,
	contentParser *parser.ContentParser,
	settings Settings,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		provider: p,
		memory:   memory,
		builder:  builder,
		parser:   contentParser,
		settings: settings.withDefaults(),
		logger:   logger.Named("Pipeline"),
	}
}

// ChapterRequest - входные данные для генерации главы.
type ChapterRequest struct {
	StoryID       string
	Theme         models.Theme
	WorldSetting  *models.WorldSetting
	Protagonist   *models.Protagonist
	History       []models.ChapterSummary
	ChapterNumber int
	LastChoice    *models.ChoiceRecord
}

// generate вызывает провайдера с таймаутом и разбирает ответ.
// Ошибка провайдера или таймаут дают fallback; отмена контекста вызывающего возвращает ctx.Err().
func (o *Orchestrator) generate(ctx context.Context, stage models.StageKind, promptText string, maxTokens int, temperature float64, fc parser.FallbackContext) (*models.StageResult, error) {
	started := time.Now()
	log := o.logger.With(zap.String("stage", string(stage)), zap.String("theme", string(fc.Theme)))

	callCtx, cancel := context.WithTimeout(ctx, o.settings.ProviderTimeout)
	raw, err := o.provider.Generate(callCtx, promptText, maxTokens, temperature)
	cancel()

	if ctxErr := ctx.Err(); ctxErr != nil {
		observeStage(stage, outcomeCancelled, started)
		log.Info("Stage cancelled by caller", zap.Error(ctxErr))
		return nil, ctxErr
	}

	var res models.StageResult
	if err != nil {
		reason := parser.ReasonProviderError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = parser.ReasonProviderTimeout
		}
		log.Warn("Provider call failed, using fallback", zap.String("reason", reason), zap.Error(err))
		res = o.parser.Fallback(stage, fc, reason)
	} else {
		res = o.parser.Parse(stage, raw, fc)
	}
	res.Duration = time.Since(started)

	outcome := outcomeSuccess
	if res.UsedFallback {
		outcome = outcomeFallback
	}
	observeStage(stage, outcome, started)
	log.Debug("Stage finished",
		zap.String("outcome", outcome),
		zap.Duration("duration", res.Duration))
	return &res, nil
}

// RunWorldSetting строит мир для темы.
func (o *Orchestrator) RunWorldSetting(ctx context.Context, storyID string, theme models.Theme) (*models.StageResult, error) {
	promptText, err := o.builder.WorldSetting(theme)
	if err != nil {
		return nil, err
	}
	res, err := o.generate(ctx, models.StageWorldSetting, promptText, setupMaxTokens, o.settings.Temperature,
		parser.FallbackContext{Theme: theme})
	if err != nil {
		return nil, err
	}
	o.rememberWorld(ctx, storyID, res.WorldSetting)
	return res, nil
}

// RunProtagonist создает главного героя для построенного мира.
func (o *Orchestrator) RunProtagonist(ctx context.Context, storyID string, theme models.Theme, ws *models.WorldSetting) (*models.StageResult, error) {
	promptText, err := o.builder.Protagonist(theme, ws)
	if err != nil {
		return nil, err
	}
	res, err := o.generate(ctx, models.StageProtagonist, promptText, setupMaxTokens, o.settings.Temperature,
		parser.FallbackContext{Theme: theme, WorldName: ws.WorldName})
	if err != nil {
		return nil, err
	}
	o.rememberProtagonist(ctx, storyID, res.Protagonist)
	return res, nil
}

// RunChapter генерирует главу с вариантами выбора.
// В промпт попадают последние главы истории, сводка памяти и найденные по контексту воспоминания.
func (o *Orchestrator) RunChapter(ctx context.Context, req ChapterRequest) (*models.StageResult, error) {
	return o.runStoryChapter(ctx, models.StageChapter, req, "")
}

func (o *Orchestrator) runStoryChapter(ctx context.Context, stage models.StageKind, req ChapterRequest, endingType string) (*models.StageResult, error) {
	if err := models.ValidateTheme(req.Theme); err != nil {
		return nil, err
	}
	if req.WorldSetting == nil || req.Protagonist == nil {
		return nil, fmt.Errorf("%w: world setting and protagonist must precede chapters", models.ErrInvalidStageOrder)
	}
	number := req.ChapterNumber
	if number <= 0 {
		number = len(req.History) + 1
	}

	in := prompt.ChapterInput{
		Theme:         req.Theme,
		WorldSetting:  req.WorldSetting,
		Protagonist:   req.Protagonist,
		History:       req.History,
		ChapterNumber: number,
		LastChoice:    req.LastChoice,
	}
	in.ContextSummary, in.Recalled = o.recall(ctx, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		promptText string
		err        error
	)
	if stage == models.StageEnding {
		promptText, err = o.builder.Ending(in, endingType)
	} else {
		promptText, err = o.builder.Chapter(in)
	}
	if err != nil {
		return nil, err
	}

	fc := parser.FallbackContext{
		Theme:           req.Theme,
		WorldName:       req.WorldSetting.WorldName,
		ProtagonistName: req.Protagonist.Name,
		ChapterNumber:   number,
		History:         req.History,
	}
	if req.LastChoice != nil {
		fc.ChoiceText = choiceText(req.LastChoice)
	}

	res, err := o.generate(ctx, stage, promptText, o.settings.MaxTokens, o.settings.Temperature, fc)
	if err != nil {
		return nil, err
	}
	o.enforceChapter(res.Chapter, number, stage == models.StageEnding)
	if !res.UsedFallback {
		o.rememberChapter(ctx, req.StoryID, res.Chapter)
	}
	return res, nil
}

// enforceChapter повторно проверяет инвариант главы после разбора.
func (o *Orchestrator) enforceChapter(ch *models.Chapter, number int, ending bool) {
	if ch == nil {
		return
	}
	ch.ChapterNumber = number
	ch.IsEnding = ending
	if ending {
		ch.Choices = []models.ChoiceOption{}
		return
	}
	ch.Choices = o.parser.NormalizeChoices(ch.Choices)
}

// RunStoryAnalysis оценивает темп и структуру истории. Главы не продвигает.
func (o *Orchestrator) RunStoryAnalysis(ctx context.Context, storyID string, theme models.Theme, history []models.ChapterSummary, protagonist *models.Protagonist, chapterNumber int) (*models.StageResult, error) {
	promptText, err := o.builder.StoryAnalysis(theme, history, protagonist, chapterNumber)
	if err != nil {
		return nil, err
	}
	fc := parser.FallbackContext{Theme: theme, ChapterNumber: chapterNumber, History: history}
	if protagonist != nil {
		fc.ProtagonistName = protagonist.Name
	}
	res, err := o.generate(ctx, models.StageStoryAnalysis, promptText, analysisMaxTokens, analysisTemperature, fc)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("Story analysed",
		zap.String("story_id", storyID),
		zap.String("plot_stage", res.StoryAnalysis.CurrentPlotStage),
		zap.Int("tension", res.StoryAnalysis.TensionLevel))
	return res, nil
}

func choiceText(rec *models.ChoiceRecord) string {
	if rec.CustomAction != "" {
		return rec.CustomAction
	}
	return rec.ChoiceText
}
