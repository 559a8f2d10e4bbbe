package models

import "time"

// StageKind - тег варианта StageResult.
type StageKind string

const (
	StageWorldSetting   StageKind = "world_setting"
	StageProtagonist    StageKind = "protagonist"
	StageChapter        StageKind = "chapter"
	StageChoiceAnalysis StageKind = "choice_analysis"
	StageStoryAnalysis  StageKind = "story_analysis"
	StageStorySummary   StageKind = "story_summary"
	StageEnding         StageKind = "ending"
)

// Difficulty - сложность варианта выбора.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid проверяет значение сложности.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	default:
		return false
	}
}

// ChoiceKind - характер действия в варианте выбора.
type ChoiceKind string

const (
	ChoiceKindAction   ChoiceKind = "action"
	ChoiceKindDialogue ChoiceKind = "dialogue"
	ChoiceKindDecision ChoiceKind = "decision"
)

// IsValid проверяет значение типа выбора.
func (k ChoiceKind) IsValid() bool {
	switch k {
	case ChoiceKindAction, ChoiceKindDialogue, ChoiceKindDecision:
		return true
	default:
		return false
	}
}

// WorldSetting - результат стадии построения мира.
type WorldSetting struct {
	WorldName        string   `json:"world_name"`
	WorldDescription string   `json:"world_description"`
	PowerSystem      string   `json:"power_system,omitempty"`
	MainLocations    []string `json:"main_locations,omitempty"`
	KeyFactions      []string `json:"key_factions,omitempty"`
	WorldRules       []string `json:"world_rules,omitempty"`
	StartingScene    string   `json:"starting_scene,omitempty"`
}

// Protagonist - результат стадии создания главного героя.
type Protagonist struct {
	Name             string   `json:"name"`
	Age              string   `json:"age,omitempty"`
	Gender           string   `json:"gender,omitempty"`
	Appearance       string   `json:"appearance,omitempty"`
	Personality      string   `json:"personality"`
	Background       string   `json:"background"`
	InitialAbilities []string `json:"initial_abilities,omitempty"`
	Goals            []string `json:"goals,omitempty"`
	Weaknesses       []string `json:"weaknesses,omitempty"`
	SpecialTraits    []string `json:"special_traits,omitempty"`
	StartingScenario string   `json:"starting_scenario,omitempty"`
}

// ChoiceOption - вариант выбора в конце главы.
type ChoiceOption struct {
	ID              string     `json:"id"`
	Text            string     `json:"text"`
	Description     string     `json:"description,omitempty"`
	ConsequenceHint string     `json:"consequence_hint,omitempty"`
	Difficulty      Difficulty `json:"difficulty"`
	Kind            ChoiceKind `json:"kind"`
}

// Chapter - результат стадии генерации главы.
// Если IsEnding=false, глава содержит от 1 до MaxChoices вариантов; если true, ни одного.
type Chapter struct {
	ChapterNumber        int            `json:"chapter_number"`
	Title                string         `json:"title"`
	Content              string         `json:"content"`
	Summary              string         `json:"summary,omitempty"`
	CharacterDevelopment string         `json:"character_development,omitempty"`
	WorldExpansion       string         `json:"world_expansion,omitempty"`
	Choices              []ChoiceOption `json:"choices"`
	IsCriticalMoment     bool           `json:"is_critical_moment"`
	IsEnding             bool           `json:"is_ending"`
}

// FindChoice ищет вариант по ID.
func (c *Chapter) FindChoice(id string) (ChoiceOption, bool) {
	for _, opt := range c.Choices {
		if opt.ID == id {
			return opt, true
		}
	}
	return ChoiceOption{}, false
}

// ChoiceAnalysis - анализ последствий выбора.
type ChoiceAnalysis struct {
	ImmediateConsequence string `json:"immediate_consequence"`
	LongTermImpact       string `json:"long_term_impact"`
	CharacterChange      string `json:"character_change,omitempty"`
	RelationshipChange   string `json:"relationship_change,omitempty"`
	PlotDirection        string `json:"plot_direction,omitempty"`
}

// StoryAnalysis - оценка темпа и структуры истории.
type StoryAnalysis struct {
	CurrentPlotStage     string   `json:"current_plot_stage"`
	TensionLevel         int      `json:"tension_level"`
	CharacterArcProgress string   `json:"character_arc_progress,omitempty"`
	SuggestedNextEvents  []string `json:"suggested_next_events,omitempty"`
	PotentialEndings     []string `json:"potential_endings,omitempty"`
	// Summary заполняется только стадией StageStorySummary.
	Summary string `json:"summary,omitempty"`
}

// StageResult - размеченное объединение результатов стадий.
// Ровно одно поле-указатель заполнено и соответствует Kind.
type StageResult struct {
	Kind           StageKind       `json:"kind"`
	WorldSetting   *WorldSetting   `json:"world_setting,omitempty"`
	Protagonist    *Protagonist    `json:"protagonist,omitempty"`
	Chapter        *Chapter        `json:"chapter,omitempty"`
	ChoiceAnalysis *ChoiceAnalysis `json:"choice_analysis,omitempty"`
	StoryAnalysis  *StoryAnalysis  `json:"story_analysis,omitempty"`

	UsedFallback   bool          `json:"used_fallback"`
	FallbackReason string        `json:"fallback_reason,omitempty"`
	RawText        string        `json:"-"`
	Duration       time.Duration `json:"duration_ns"`
}

// Valid проверяет, что заполнен ровно тот вариант, который указан в Kind.
func (r *StageResult) Valid() bool {
	if r == nil {
		return false
	}
	set := 0
	for _, present := range []bool{
		r.WorldSetting != nil,
		r.Protagonist != nil,
		r.Chapter != nil,
		r.ChoiceAnalysis != nil,
		r.StoryAnalysis != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return false
	}
	switch r.Kind {
	case StageWorldSetting:
		return r.WorldSetting != nil
	case StageProtagonist:
		return r.Protagonist != nil
	case StageChapter, StageEnding:
		return r.Chapter != nil
	case StageChoiceAnalysis:
		return r.ChoiceAnalysis != nil
	case StageStoryAnalysis, StageStorySummary:
		return r.StoryAnalysis != nil
	default:
		return false
	}
}
