package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StageRecord - итог выполнения стадии, сохраняемый воркером для отладки и выдачи клиенту.
type StageRecord struct {
	ID               string    `json:"id" db:"id"` // Task ID
	StoryID          string    `json:"story_id" db:"story_id"`
	Stage            StageKind `json:"stage" db:"stage"`
	ChapterNumber    int       `json:"chapter_number" db:"chapter_number"`
	UsedFallback     bool      `json:"used_fallback" db:"used_fallback"`
	FallbackReason   string    `json:"fallback_reason,omitempty" db:"fallback_reason"`
	RawText          string    `json:"raw_text,omitempty" db:"raw_text"`
	Payload          []byte    `json:"payload,omitempty" db:"payload"` // StageResult в JSON
	Error            string    `json:"error,omitempty" db:"error"`
	ProcessingTimeMs int64     `json:"processing_time_ms" db:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	CompletedAt      time.Time `json:"completed_at" db:"completed_at"`
}

// NewStageRecord собирает запись из результата стадии.
func NewStageRecord(taskID, storyID string, result *StageResult, startedAt, completedAt time.Time) (*StageRecord, error) {
	rec := &StageRecord{
		ID:               taskID,
		StoryID:          storyID,
		CreatedAt:        startedAt,
		CompletedAt:      completedAt,
		ProcessingTimeMs: completedAt.Sub(startedAt).Milliseconds(),
	}
	if result == nil {
		return rec, nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stage result: %w", err)
	}
	rec.Stage = result.Kind
	rec.UsedFallback = result.UsedFallback
	rec.FallbackReason = result.FallbackReason
	rec.RawText = result.RawText
	rec.Payload = payload
	if result.Chapter != nil {
		rec.ChapterNumber = result.Chapter.ChapterNumber
	}
	return rec, nil
}

// Result декодирует сохраненный StageResult.
func (r *StageRecord) Result() (*StageResult, error) {
	if len(r.Payload) == 0 {
		return nil, ErrNotFound
	}
	var res StageResult
	if err := json.Unmarshal(r.Payload, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage result: %w", err)
	}
	return &res, nil
}
