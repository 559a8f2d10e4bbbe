package models

import (
	"fmt"
	"strings"
	"time"
)

// MemoryType - категория факта в памяти истории.
type MemoryType string

const (
	MemoryCharacter MemoryType = "character"
	MemoryPlot      MemoryType = "plot"
	MemoryWorld     MemoryType = "world"
	MemoryChoice    MemoryType = "choice"
	MemoryEmotion   MemoryType = "emotion"
	MemorySetting   MemoryType = "setting"
)

// AllMemoryTypes возвращает типы в порядке группировки для сводок.
func AllMemoryTypes() []MemoryType {
	return []MemoryType{MemoryCharacter, MemoryPlot, MemoryWorld, MemorySetting, MemoryChoice, MemoryEmotion}
}

// IsValid проверяет тип памяти.
func (t MemoryType) IsValid() bool {
	switch t {
	case MemoryCharacter, MemoryPlot, MemoryWorld, MemoryChoice, MemoryEmotion, MemorySetting:
		return true
	default:
		return false
	}
}

// Importance - порядковая важность: low < medium < high < critical.
type Importance int

const (
	ImportanceLow Importance = iota + 1
	ImportanceMedium
	ImportanceHigh
	ImportanceCritical
)

// DefaultImportance применяется, когда важность не указана.
const DefaultImportance = ImportanceMedium

var importanceNames = map[Importance]string{
	ImportanceLow:      "low",
	ImportanceMedium:   "medium",
	ImportanceHigh:     "high",
	ImportanceCritical: "critical",
}

func (i Importance) String() string {
	if name, ok := importanceNames[i]; ok {
		return name
	}
	return fmt.Sprintf("importance(%d)", int(i))
}

// IsValid проверяет, что значение входит в шкалу.
func (i Importance) IsValid() bool {
	return i >= ImportanceLow && i <= ImportanceCritical
}

// ParseImportance разбирает название уровня важности.
func ParseImportance(s string) (Importance, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for level, name := range importanceNames {
		if name == s {
			return level, nil
		}
	}
	return 0, fmt.Errorf("unknown importance '%s'", s)
}

// MarshalText кодирует важность по имени.
func (i Importance) MarshalText() ([]byte, error) {
	if !i.IsValid() {
		return nil, fmt.Errorf("invalid importance %d", int(i))
	}
	return []byte(i.String()), nil
}

// UnmarshalText декодирует важность из имени.
func (i *Importance) UnmarshalText(text []byte) error {
	level, err := ParseImportance(string(text))
	if err != nil {
		return err
	}
	*i = level
	return nil
}

// MemoryItem - факт истории, индексированный по эмбеддингу.
type MemoryItem struct {
	ID             string     `json:"id"`
	Content        string     `json:"content"`
	MemoryType     MemoryType `json:"memory_type"`
	Importance     Importance `json:"importance"`
	Embedding      []float32  `json:"embedding,omitempty"`
	StoryID        string     `json:"story_id"`
	ChapterID      string     `json:"chapter_id,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	AccessCount    int64      `json:"access_count"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Active         bool       `json:"active"`
}

// Expired сообщает, истек ли срок жизни записи к моменту now.
func (m *MemoryItem) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// Searchable - запись активна и не истекла.
func (m *MemoryItem) Searchable(now time.Time) bool {
	return m.Active && !m.Expired(now)
}

// Deactivate снимает запись с выдачи, не удаляя ее.
func (m *MemoryItem) Deactivate() {
	m.Active = false
}

// Activate возвращает запись в выдачу.
func (m *MemoryItem) Activate() {
	m.Active = true
}

// SetExpiry задает срок жизни от момента now.
func (m *MemoryItem) SetExpiry(now time.Time, ttl time.Duration) {
	at := now.Add(ttl)
	m.ExpiresAt = &at
}

// ExtendExpiry продлевает срок жизни. Бессрочная запись остается бессрочной.
func (m *MemoryItem) ExtendExpiry(d time.Duration) {
	if m.ExpiresAt == nil {
		return
	}
	at := m.ExpiresAt.Add(d)
	m.ExpiresAt = &at
}

// Touch фиксирует обращение к записи.
func (m *MemoryItem) Touch(now time.Time) {
	m.AccessCount++
	m.LastAccessedAt = &now
}

// Clone возвращает копию с независимыми срезами.
func (m *MemoryItem) Clone() *MemoryItem {
	if m == nil {
		return nil
	}
	out := *m
	out.Embedding = append([]float32(nil), m.Embedding...)
	out.Tags = append([]string(nil), m.Tags...)
	if m.ExpiresAt != nil {
		at := *m.ExpiresAt
		out.ExpiresAt = &at
	}
	if m.LastAccessedAt != nil {
		at := *m.LastAccessedAt
		out.LastAccessedAt = &at
	}
	return &out
}

// SearchFilter ограничивает поиск по типу и минимальной важности.
type SearchFilter struct {
	Types         []MemoryType
	MinImportance Importance
}

// Match проверяет запись на соответствие фильтру.
func (f SearchFilter) Match(m *MemoryItem) bool {
	if f.MinImportance.IsValid() && m.Importance < f.MinImportance {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if m.MemoryType == t {
			return true
		}
	}
	return false
}

// SearchResult - запись и ее сходство с запросом. Больше - ближе.
type SearchResult struct {
	Item                 *MemoryItem `json:"item"`
	Score                float64     `json:"score"`
	RelevanceExplanation string      `json:"relevance_explanation"`
}

// MemoryStats - агрегаты по памяти истории.
type MemoryStats struct {
	StoryID      string             `json:"story_id"`
	Total        int                `json:"total"`
	Active       int                `json:"active"`
	Inactive     int                `json:"inactive"`
	Expired      int                `json:"expired"`
	ByType       map[MemoryType]int `json:"by_type"`
	ByImportance map[string]int     `json:"by_importance"`
}
