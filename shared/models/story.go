package models

import (
	"fmt"
	"time"
)

// ChapterSummary - краткая запись о главе, используется как история в промптах.
type ChapterSummary struct {
	ChapterNumber int    `json:"chapter_number"`
	Title         string `json:"title"`
	Summary       string `json:"summary"`
}

// ChoiceRecord - запись о сделанном читателем выборе.
type ChoiceRecord struct {
	ChapterNumber int       `json:"chapter_number"`
	ChoiceID      string    `json:"choice_id,omitempty"`
	ChoiceText    string    `json:"choice_text"`
	CustomAction  string    `json:"custom_action,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// StoryState - изменяемое состояние одной истории.
// Принадлежит одному запуску пайплайна и меняется только через методы Commit*/RecordChoice.
type StoryState struct {
	StoryID        string           `json:"story_id"`
	Theme          Theme            `json:"theme"`
	WorldSetting   *WorldSetting    `json:"world_setting,omitempty"`
	Protagonist    *Protagonist     `json:"protagonist,omitempty"`
	Chapters       []ChapterSummary `json:"chapters,omitempty"`
	Choices        []ChoiceRecord   `json:"choices,omitempty"`
	CurrentChapter int              `json:"current_chapter"`
	LastChapter    *Chapter         `json:"last_chapter,omitempty"`
	Ended          bool             `json:"ended"`
}

// NewStoryState создает пустое состояние для темы.
func NewStoryState(storyID string, theme Theme) (*StoryState, error) {
	if storyID == "" {
		return nil, ErrMissingStoryID
	}
	if err := ValidateTheme(theme); err != nil {
		return nil, err
	}
	return &StoryState{StoryID: storyID, Theme: theme}, nil
}

// CommitWorldSetting фиксирует мир. Разрешено только до создания героя.
func (s *StoryState) CommitWorldSetting(ws *WorldSetting) error {
	if ws == nil {
		return fmt.Errorf("%w: world setting is nil", ErrInvalidStageOrder)
	}
	if s.Protagonist != nil {
		return fmt.Errorf("%w: world setting cannot change after protagonist is created", ErrInvalidStageOrder)
	}
	s.WorldSetting = ws
	return nil
}

// CommitProtagonist фиксирует героя. Требует мир и отсутствие глав.
func (s *StoryState) CommitProtagonist(p *Protagonist) error {
	if p == nil {
		return fmt.Errorf("%w: protagonist is nil", ErrInvalidStageOrder)
	}
	if s.WorldSetting == nil {
		return fmt.Errorf("%w: world setting must precede protagonist", ErrInvalidStageOrder)
	}
	if s.CurrentChapter > 0 {
		return fmt.Errorf("%w: protagonist cannot change after chapters started", ErrInvalidStageOrder)
	}
	s.Protagonist = p
	return nil
}

// CommitChapter добавляет главу. Номер главы должен быть следующим по порядку.
func (s *StoryState) CommitChapter(ch *Chapter) error {
	if ch == nil {
		return fmt.Errorf("%w: chapter is nil", ErrInvalidStageOrder)
	}
	if s.Ended {
		return ErrStoryEnded
	}
	if s.WorldSetting == nil || s.Protagonist == nil {
		return fmt.Errorf("%w: protagonist must precede the first chapter", ErrInvalidStageOrder)
	}
	if ch.ChapterNumber != s.CurrentChapter+1 {
		return fmt.Errorf("%w: expected chapter %d, got %d", ErrInvalidStageOrder, s.CurrentChapter+1, ch.ChapterNumber)
	}
	s.Chapters = append(s.Chapters, ChapterSummary{
		ChapterNumber: ch.ChapterNumber,
		Title:         ch.Title,
		Summary:       ch.Summary,
	})
	s.CurrentChapter = ch.ChapterNumber
	s.LastChapter = ch
	s.Ended = ch.IsEnding
	return nil
}

// RecordChoice добавляет запись о выборе к текущей главе.
func (s *StoryState) RecordChoice(rec ChoiceRecord) error {
	if s.Ended {
		return ErrStoryEnded
	}
	if s.LastChapter == nil {
		return fmt.Errorf("%w: no chapter to choose from", ErrInvalidStageOrder)
	}
	if rec.ChapterNumber == 0 {
		rec.ChapterNumber = s.CurrentChapter
	}
	s.Choices = append(s.Choices, rec)
	return nil
}

// RecentHistory возвращает не более n последних записей истории, от старых к новым.
func (s *StoryState) RecentHistory(n int) []ChapterSummary {
	return TailHistory(s.Chapters, n)
}

// LastChoice возвращает последний сделанный выбор или nil.
func (s *StoryState) LastChoice() *ChoiceRecord {
	if len(s.Choices) == 0 {
		return nil
	}
	rec := s.Choices[len(s.Choices)-1]
	return &rec
}

// Clone возвращает независимую копию состояния.
func (s *StoryState) Clone() *StoryState {
	if s == nil {
		return nil
	}
	out := *s
	if s.WorldSetting != nil {
		ws := *s.WorldSetting
		ws.MainLocations = append([]string(nil), s.WorldSetting.MainLocations...)
		ws.KeyFactions = append([]string(nil), s.WorldSetting.KeyFactions...)
		ws.WorldRules = append([]string(nil), s.WorldSetting.WorldRules...)
		out.WorldSetting = &ws
	}
	if s.Protagonist != nil {
		p := *s.Protagonist
		p.InitialAbilities = append([]string(nil), s.Protagonist.InitialAbilities...)
		p.Goals = append([]string(nil), s.Protagonist.Goals...)
		p.Weaknesses = append([]string(nil), s.Protagonist.Weaknesses...)
		p.SpecialTraits = append([]string(nil), s.Protagonist.SpecialTraits...)
		out.Protagonist = &p
	}
	if s.LastChapter != nil {
		ch := *s.LastChapter
		ch.Choices = append([]ChoiceOption(nil), s.LastChapter.Choices...)
		out.LastChapter = &ch
	}
	out.Chapters = append([]ChapterSummary(nil), s.Chapters...)
	out.Choices = append([]ChoiceRecord(nil), s.Choices...)
	return &out
}

// TailHistory возвращает последние n элементов истории без копирования порядка.
func TailHistory(history []ChapterSummary, n int) []ChapterSummary {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
