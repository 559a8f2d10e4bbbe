package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"novel-engine/shared/models"
)

const defaultListLimit = 50

const (
	saveStageResultQuery = `
		INSERT INTO stage_results (
			id, story_id, stage, chapter_number, used_fallback, fallback_reason,
			raw_text, payload, error, processing_time_ms, created_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			story_id = EXCLUDED.story_id,
			stage = EXCLUDED.stage,
			chapter_number = EXCLUDED.chapter_number,
			used_fallback = EXCLUDED.used_fallback,
			fallback_reason = EXCLUDED.fallback_reason,
			raw_text = EXCLUDED.raw_text,
			payload = EXCLUDED.payload,
			error = EXCLUDED.error,
			processing_time_ms = EXCLUDED.processing_time_ms,
			created_at = EXCLUDED.created_at,
			completed_at = EXCLUDED.completed_at
	`
	stageResultColumns = `
		id, story_id, stage, chapter_number, used_fallback, fallback_reason,
		raw_text, payload, error, processing_time_ms, created_at, completed_at
	`
	getStageResultByTaskIDQuery  = `SELECT` + stageResultColumns + `FROM stage_results WHERE id = $1`
	listStageResultsByStoryQuery = `SELECT` + stageResultColumns + `FROM stage_results
		WHERE story_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2`
)

// PgStageResultRepository реализует StageResultRepository поверх pgxpool.
type PgStageResultRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ StageResultRepository = (*PgStageResultRepository)(nil)

// NewPgStageResultRepository создает репозиторий итогов стадий.
func NewPgStageResultRepository(pool *pgxpool.Pool, logger *zap.Logger) *PgStageResultRepository {
	return &PgStageResultRepository{
		pool:   pool,
		logger: logger.Named("PgStageResultRepo"),
	}
}

// Save сохраняет или обновляет запись.
func (r *PgStageResultRepository) Save(ctx context.Context, record *models.StageRecord) error {
	if record == nil || record.ID == "" {
		return errors.New("stage record id is required")
	}
	tag, err := r.pool.Exec(ctx, saveStageResultQuery,
		record.ID,
		record.StoryID,
		string(record.Stage),
		record.ChapterNumber,
		record.UsedFallback,
		record.FallbackReason,
		record.RawText,
		record.Payload,
		record.Error,
		record.ProcessingTimeMs,
		record.CreatedAt,
		record.CompletedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save stage record",
			zap.String("task_id", record.ID),
			zap.String("story_id", record.StoryID),
			zap.Error(err),
		)
		return fmt.Errorf("error saving stage record '%s': %w", record.ID, err)
	}
	r.logger.Debug("Stage record saved",
		zap.String("task_id", record.ID),
		zap.Int64("rows_affected", tag.RowsAffected()))
	return nil
}

// GetByTaskID возвращает запись по ID задачи.
func (r *PgStageResultRepository) GetByTaskID(ctx context.Context, taskID string) (*models.StageRecord, error) {
	record, err := scanStageRecord(r.pool.QueryRow(ctx, getStageResultByTaskIDQuery, taskID))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			r.logger.Warn("Stage record not found", zap.String("task_id", taskID))
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get stage record", zap.String("task_id", taskID), zap.Error(err))
		return nil, fmt.Errorf("error getting stage record by task id: %w", err)
	}
	return record, nil
}

// ListByStory возвращает последние записи истории.
func (r *PgStageResultRepository) ListByStory(ctx context.Context, storyID string, limit int) ([]*models.StageRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.pool.Query(ctx, listStageResultsByStoryQuery, storyID, limit)
	if err != nil {
		r.logger.Error("Failed to list stage records", zap.String("story_id", storyID), zap.Error(err))
		return nil, fmt.Errorf("error listing stage records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.StageRecord, 0, limit)
	for rows.Next() {
		record, err := scanStageRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stage records: %w", err)
	}
	return records, nil
}

// scanStageRecord читает одну строку; pgx.Row подходит и для QueryRow, и для Rows.
func scanStageRecord(row pgx.Row) (*models.StageRecord, error) {
	var (
		record models.StageRecord
		stage  string
	)
	err := row.Scan(
		&record.ID,
		&record.StoryID,
		&stage,
		&record.ChapterNumber,
		&record.UsedFallback,
		&record.FallbackReason,
		&record.RawText,
		&record.Payload,
		&record.Error,
		&record.ProcessingTimeMs,
		&record.CreatedAt,
		&record.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("error scanning stage record: %w", err)
	}
	record.Stage = models.StageKind(stage)
	return &record, nil
}
