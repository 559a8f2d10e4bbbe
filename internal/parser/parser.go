package parser

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"novel-engine/internal/config"
	"novel-engine/shared/logger"
	"novel-engine/shared/models"
	"novel-engine/shared/utils"
)

// Config - ограничения разбора ответов модели.
type Config struct {
	MinChoices       int
	MaxChoices       int
	MaxChapterLength int
	MaxOutputChars   int
}

// ConfigFromConfig берет ограничения из конфигурации воркера.
func ConfigFromConfig(cfg *config.Config) Config {
	return Config{
		MinChoices:       cfg.MinChoicesPerChapter,
		MaxChoices:       cfg.MaxChoicesPerChapter,
		MaxChapterLength: cfg.MaxChapterLength,
		MaxOutputChars:   cfg.MaxOutputChars,
	}
}

// ContentParser превращает сырой текст модели в типизированный StageResult.
// Никогда не возвращает ошибку: при любой проблеме используется fallback стадии.
type ContentParser struct {
	cfg    Config
	logger *zap.Logger
}

// NewContentParser создает парсер.
func NewContentParser(cfg Config, logger *zap.Logger) *ContentParser {
	if cfg.MaxChoices <= 0 {
		cfg.MaxChoices = 4
	}
	if cfg.MinChoices <= 0 {
		cfg.MinChoices = 2
	}
	if cfg.MinChoices > cfg.MaxChoices {
		cfg.MinChoices = cfg.MaxChoices
	}
	return &ContentParser{
		cfg:    cfg,
		logger: logger.Named("ContentParser"),
	}
}

// Parse разбирает ответ модели для стадии kind.
func (p *ContentParser) Parse(kind models.StageKind, raw string, fc FallbackContext) models.StageResult {
	log := p.logger.With(zap.String("stage", string(kind)), zap.String("theme", string(fc.Theme)))

	if p.cfg.MaxOutputChars > 0 && utf8.RuneCountInString(raw) > p.cfg.MaxOutputChars {
		log.Warn("Provider output exceeds size limit, using fallback",
			zap.Int("length", utf8.RuneCountInString(raw)),
			zap.Int("limit", p.cfg.MaxOutputChars))
		return p.withRaw(p.Fallback(kind, fc, ReasonOutputTooLong), raw)
	}

	if kind == models.StageStorySummary {
		return p.withRaw(p.parseSummary(raw, fc), raw)
	}

	obj, err := ExtractJSON(raw)
	if err != nil {
		log.Warn("No JSON object in provider output, using fallback",
			zap.String("output_preview", logger.Truncate(raw, 200)))
		return p.withRaw(p.Fallback(kind, fc, ReasonNoJSON), raw)
	}

	res, err := p.decode(kind, obj, fc)
	if err != nil {
		log.Warn("Invalid provider output, using fallback", zap.Error(err))
		return p.withRaw(p.Fallback(kind, fc, fmt.Sprintf("%s: %v", ReasonInvalidOutput, err)), raw)
	}
	return p.withRaw(res, raw)
}

func (p *ContentParser) withRaw(res models.StageResult, raw string) models.StageResult {
	res.RawText = raw
	return res
}

func (p *ContentParser) decode(kind models.StageKind, obj []byte, fc FallbackContext) (models.StageResult, error) {
	res := models.StageResult{Kind: kind}
	var err error
	switch kind {
	case models.StageWorldSetting:
		res.WorldSetting, err = DecodeWorldSetting(obj)
	case models.StageProtagonist:
		res.Protagonist, err = DecodeProtagonist(obj)
	case models.StageChapter, models.StageEnding:
		var ch *models.Chapter
		ch, err = p.DecodeChapter(obj, fc.ChapterNumber, kind == models.StageEnding)
		res.Chapter = ch
	case models.StageChoiceAnalysis:
		res.ChoiceAnalysis, err = DecodeChoiceAnalysis(obj)
	case models.StageStoryAnalysis:
		res.StoryAnalysis, err = DecodeStoryAnalysis(obj)
	default:
		err = fmt.Errorf("unsupported stage kind '%s'", kind)
	}
	if err != nil {
		return models.StageResult{}, err
	}
	return res, nil
}

// Fallback возвращает детерминированный результат стадии с UsedFallback=true.
func (p *ContentParser) Fallback(kind models.StageKind, fc FallbackContext, reason string) models.StageResult {
	res := models.StageResult{Kind: kind, UsedFallback: true, FallbackReason: reason}
	switch kind {
	case models.StageWorldSetting:
		res.WorldSetting = FallbackWorldSetting(fc.Theme)
	case models.StageProtagonist:
		res.Protagonist = FallbackProtagonist(fc.Theme)
	case models.StageChapter:
		ch := FallbackChapter(fc)
		ch.Choices = p.NormalizeChoices(ch.Choices)
		res.Chapter = ch
	case models.StageEnding:
		res.Chapter = FallbackEnding(fc)
	case models.StageChoiceAnalysis:
		res.ChoiceAnalysis = FallbackChoiceAnalysis(fc)
	case models.StageStoryAnalysis:
		res.StoryAnalysis = FallbackStoryAnalysis(fc)
	case models.StageStorySummary:
		res.StoryAnalysis = FallbackStorySummary(fc)
	default:
		p.logger.Error("Fallback requested for unknown stage kind", zap.String("stage", string(kind)))
	}
	return res
}

// parseSummary принимает обычный текст или JSON с полем summary.
func (p *ContentParser) parseSummary(raw string, fc FallbackContext) models.StageResult {
	text := strings.TrimSpace(raw)
	if obj, err := ExtractJSON(raw); err == nil {
		var w wireStoryAnalysis
		if json.Unmarshal(obj, &w) == nil && w.Summary != "" {
			text = string(w.Summary)
		}
	}
	text = strings.TrimSpace(strings.Trim(text, "`"))
	if text == "" {
		return p.Fallback(models.StageStorySummary, fc, ReasonInvalidOutput+": empty summary")
	}
	a := FallbackStoryAnalysis(fc)
	a.Summary = text
	return models.StageResult{Kind: models.StageStorySummary, StoryAnalysis: a}
}

func missing(fields ...string) error {
	return fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(fields, ", "))
}

// DecodeWorldSetting декодирует мир; обязательны world_name и world_description.
func DecodeWorldSetting(obj []byte) (*models.WorldSetting, error) {
	var w wireWorld
	if err := json.Unmarshal(obj, &w); err != nil {
		return nil, fmt.Errorf("failed to decode world setting: %w", err)
	}
	var absent []string
	if w.WorldName == "" {
		absent = append(absent, "world_name")
	}
	if w.WorldDescription == "" {
		absent = append(absent, "world_description")
	}
	if len(absent) > 0 {
		return nil, missing(absent...)
	}
	return &models.WorldSetting{
		WorldName:        string(w.WorldName),
		WorldDescription: string(w.WorldDescription),
		PowerSystem:      string(w.PowerSystem),
		MainLocations:    []string(w.MainLocations),
		KeyFactions:      []string(w.KeyFactions),
		WorldRules:       []string(w.WorldRules),
		StartingScene:    string(w.StartingScene),
	}, nil
}

// DecodeProtagonist декодирует героя; обязательны name и personality или background.
func DecodeProtagonist(obj []byte) (*models.Protagonist, error) {
	var w wireProtagonist
	if err := json.Unmarshal(obj, &w); err != nil {
		return nil, fmt.Errorf("failed to decode protagonist: %w", err)
	}
	if w.Name == "" {
		return nil, missing("name")
	}
	if w.Personality == "" && w.Background == "" {
		return nil, missing("personality", "background")
	}
	return &models.Protagonist{
		Name:             string(w.Name),
		Age:              string(w.Age),
		Gender:           string(w.Gender),
		Appearance:       string(w.Appearance),
		Personality:      string(w.Personality),
		Background:       string(w.Background),
		InitialAbilities: []string(w.InitialAbilities),
		Goals:            []string(w.Goals),
		Weaknesses:       []string(w.Weaknesses),
		SpecialTraits:    []string(w.SpecialTraits),
		StartingScenario: string(w.StartingScenario),
	}, nil
}

// DecodeChapter декодирует главу и нормализует варианты выбора.
// Номер главы задает вызывающий код; финал определяется стадией, а не ответом модели.
func (p *ContentParser) DecodeChapter(obj []byte, number int, ending bool) (*models.Chapter, error) {
	var w wireChapter
	if err := json.Unmarshal(obj, &w); err != nil {
		return nil, fmt.Errorf("failed to decode chapter: %w", err)
	}
	if w.Content == "" {
		return nil, missing("content")
	}
	if p.cfg.MaxChapterLength > 0 && utf8.RuneCountInString(string(w.Content)) > p.cfg.MaxChapterLength {
		return nil, fmt.Errorf("%w: chapter content longer than %d", ErrOutputTooLong, p.cfg.MaxChapterLength)
	}
	if number <= 0 {
		number = 1
	}

	ch := &models.Chapter{
		ChapterNumber:        number,
		Title:                string(w.Title),
		Content:              string(w.Content),
		Summary:              string(w.Summary),
		CharacterDevelopment: string(w.CharacterDevelopment),
		WorldExpansion:       string(w.WorldExpansion),
		IsCriticalMoment:     bool(w.IsCriticalMoment),
		IsEnding:             ending,
	}
	if ch.Title == "" {
		ch.Title = fmt.Sprintf("第%d章", number)
	}
	if ch.Summary == "" {
		ch.Summary = utils.CutAtSentence(ch.Content, 120)
	}

	if ending {
		ch.Choices = []models.ChoiceOption{}
		return ch, nil
	}
	choices := make([]models.ChoiceOption, 0, len(w.Choices))
	for _, c := range w.Choices {
		kind := string(c.Kind)
		if kind == "" {
			kind = string(c.Type)
		}
		choices = append(choices, models.ChoiceOption{
			Text:            string(c.Text),
			Description:     string(c.Description),
			ConsequenceHint: string(c.ConsequenceHint),
			Difficulty:      normalizeDifficulty(string(c.Difficulty)),
			Kind:            normalizeKind(kind),
		})
	}
	ch.Choices = p.NormalizeChoices(choices)
	return ch, nil
}

// DecodeChoiceAnalysis декодирует анализ выбора; обязательно immediate_consequence.
func DecodeChoiceAnalysis(obj []byte) (*models.ChoiceAnalysis, error) {
	var w wireChoiceAnalysis
	if err := json.Unmarshal(obj, &w); err != nil {
		return nil, fmt.Errorf("failed to decode choice analysis: %w", err)
	}
	if w.ImmediateConsequence == "" {
		return nil, missing("immediate_consequence")
	}
	return &models.ChoiceAnalysis{
		ImmediateConsequence: string(w.ImmediateConsequence),
		LongTermImpact:       string(w.LongTermImpact),
		CharacterChange:      string(w.CharacterChange),
		RelationshipChange:   string(w.RelationshipChange),
		PlotDirection:        string(w.PlotDirection),
	}, nil
}

// DecodeStoryAnalysis декодирует анализ истории; tension_level приводится к 1..10.
func DecodeStoryAnalysis(obj []byte) (*models.StoryAnalysis, error) {
	var w wireStoryAnalysis
	if err := json.Unmarshal(obj, &w); err != nil {
		return nil, fmt.Errorf("failed to decode story analysis: %w", err)
	}
	if w.CurrentPlotStage == "" {
		return nil, missing("current_plot_stage")
	}
	tension := 5
	if w.TensionLevel.Set {
		tension = clampTension(w.TensionLevel.Value)
	}
	return &models.StoryAnalysis{
		CurrentPlotStage:     string(w.CurrentPlotStage),
		TensionLevel:         tension,
		CharacterArcProgress: string(w.CharacterArcProgress),
		SuggestedNextEvents:  []string(w.SuggestedNextEvents),
		PotentialEndings:     []string(w.PotentialEndings),
		Summary:              string(w.Summary),
	}, nil
}

