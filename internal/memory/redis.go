package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"novel-engine/shared/models"
)

// maxUpdateAttempts ограничивает повторы оптимистичной транзакции в Update.
const maxUpdateAttempts = 5

// RedisIndex - удаленный VectorIndex: один hash на историю ({prefix}:{storyID}),
// поле - ID записи, значение - JSON записи вместе с эмбеддингом.
// Расстояния считаются на стороне клиента.
type RedisIndex struct {
	client    *redis.Client
	prefix    string
	dimension int
	logger    *zap.Logger
}

var _ VectorIndex = (*RedisIndex)(nil)

// NewRedisIndex создает индекс поверх клиента. Close закрывает клиента.
func NewRedisIndex(client *redis.Client, prefix string, dimension int, logger *zap.Logger) *RedisIndex {
	if prefix == "" {
		prefix = "story_memory"
	}
	return &RedisIndex{
		client:    client,
		prefix:    prefix,
		dimension: dimension,
		logger:    logger.Named("RedisIndex"),
	}
}

func (r *RedisIndex) storyKey(storyID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, storyID)
}

// Upsert записывает запись в hash истории.
func (r *RedisIndex) Upsert(ctx context.Context, item *models.MemoryItem) error {
	if err := checkDimension(r.dimension, item.Embedding); err != nil {
		return err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal memory item: %w", err)
	}
	if err := r.client.HSet(ctx, r.storyKey(item.StoryID), item.ID, data).Err(); err != nil {
		r.logger.Error("Failed to store memory item in redis",
			zap.String("story_id", item.StoryID),
			zap.String("item_id", item.ID),
			zap.Error(err))
		return fmt.Errorf("store memory item: %w", err)
	}
	return nil
}

// Get возвращает запись или models.ErrNotFound.
func (r *RedisIndex) Get(ctx context.Context, storyID, id string) (*models.MemoryItem, error) {
	data, err := r.client.HGet(ctx, r.storyKey(storyID), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load memory item: %w", err)
	}
	var item models.MemoryItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("decode memory item %s: %w", id, err)
	}
	return &item, nil
}

// Update выполняет чтение-изменение-запись в WATCH-транзакции: если hash истории
// изменился другим клиентом между HGET и HSET, попытка повторяется.
func (r *RedisIndex) Update(ctx context.Context, storyID, id string, fn func(*models.MemoryItem) bool) (*models.MemoryItem, error) {
	key := r.storyKey(storyID)
	var updated *models.MemoryItem
	txf := func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, key, id).Bytes()
		if errors.Is(err, redis.Nil) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load memory item: %w", err)
		}
		var item models.MemoryItem
		if err := json.Unmarshal(data, &item); err != nil {
			return fmt.Errorf("decode memory item %s: %w", id, err)
		}
		updated = &item
		if !fn(&item) {
			return nil
		}
		if err := checkDimension(r.dimension, item.Embedding); err != nil {
			return err
		}
		out, err := json.Marshal(&item)
		if err != nil {
			return fmt.Errorf("marshal memory item: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, out)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		r.logger.Debug("Memory item changed concurrently, retrying update",
			zap.String("story_id", storyID),
			zap.String("item_id", id),
			zap.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("update memory item %s: %w", id, redis.TxFailedErr)
}

// List возвращает все записи истории.
func (r *RedisIndex) List(ctx context.Context, storyID string) ([]*models.MemoryItem, error) {
	fields, err := r.client.HGetAll(ctx, r.storyKey(storyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list memory items: %w", err)
	}
	items := make([]*models.MemoryItem, 0, len(fields))
	for id, raw := range fields {
		var item models.MemoryItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			r.logger.Warn("Skipping undecodable memory item",
				zap.String("story_id", storyID),
				zap.String("item_id", id),
				zap.Error(err))
			continue
		}
		items = append(items, &item)
	}
	return items, nil
}

// Nearest загружает записи истории и ранжирует их по косинусному расстоянию.
func (r *RedisIndex) Nearest(ctx context.Context, storyID string, query []float32, k int, accept func(*models.MemoryItem) bool) ([]Neighbor, error) {
	if err := checkDimension(r.dimension, query); err != nil {
		return nil, err
	}
	items, err := r.List(ctx, storyID)
	if err != nil {
		return nil, err
	}
	candidates := make([]Neighbor, 0, len(items))
	for _, item := range items {
		if len(item.Embedding) != len(query) {
			continue
		}
		if accept != nil && !accept(item) {
			continue
		}
		candidates = append(candidates, Neighbor{Item: item, Distance: cosineDistance(query, item.Embedding)})
	}
	return rankNeighbors(candidates, k), nil
}

// Close закрывает клиента redis.
func (r *RedisIndex) Close() error {
	return r.client.Close()
}
