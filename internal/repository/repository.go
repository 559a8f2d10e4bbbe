package repository

import (
	"context"

	"novel-engine/shared/models"
)

// StageResultRepository хранит итоги стадий, выполненных воркером.
type StageResultRepository interface {
	// Save сохраняет или обновляет запись по ID задачи.
	Save(ctx context.Context, record *models.StageRecord) error
	// GetByTaskID возвращает запись по ID задачи или models.ErrNotFound.
	GetByTaskID(ctx context.Context, taskID string) (*models.StageRecord, error)
	// ListByStory возвращает последние записи истории, новые первыми.
	ListByStory(ctx context.Context, storyID string, limit int) ([]*models.StageRecord, error)
}
