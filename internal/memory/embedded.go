package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"novel-engine/shared/models"
)

const memoryKeyPrefix = "memory:"

// EmbeddedIndex - встроенный VectorIndex: записи лежат в badger,
// векторы держатся в памяти процесса и восстанавливаются из badger при открытии.
type EmbeddedIndex struct {
	// mu упорядочивает запись и заполнение кэша после промаха:
	// прочитанная из badger копия не может затереть более новую запись.
	mu      sync.RWMutex
	db      *badger.DB
	ownsDB  bool
	vectors *vectorSet
	cache   *itemCache
	logger  *zap.Logger

	afterLoad func() // вызывается между чтением из badger и заполнением кэша, только в тестах
}

var _ VectorIndex = (*EmbeddedIndex)(nil)

// OpenEmbeddedIndex открывает badger в каталоге path. Пустой path - хранилище в памяти.
func OpenEmbeddedIndex(path string, dimension, cacheSize int, logger *zap.Logger) (*EmbeddedIndex, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger memory index: %w", err)
	}
	idx, err := NewEmbeddedIndex(db, dimension, cacheSize, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	idx.ownsDB = true
	return idx, nil
}

// NewEmbeddedIndex строит индекс поверх уже открытой БД. Жизненным циклом db управляет вызывающий.
func NewEmbeddedIndex(db *badger.DB, dimension, cacheSize int, logger *zap.Logger) (*EmbeddedIndex, error) {
	idx := &EmbeddedIndex{
		db:      db,
		vectors: newVectorSet(dimension),
		cache:   newItemCache(cacheSize),
		logger:  logger.Named("EmbeddedIndex"),
	}
	if err := idx.rebuild(); err != nil {
		return nil, err
	}
	return idx, nil
}

func itemKey(storyID, itemID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", memoryKeyPrefix, storyID, itemID))
}

func storyPrefix(storyID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", memoryKeyPrefix, storyID))
}

// rebuild загружает векторы всех записей из badger.
func (e *EmbeddedIndex) rebuild() error {
	loaded, skipped := 0, 0
	err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(memoryKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var item models.MemoryItem
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return fmt.Errorf("decode memory item %s: %w", it.Item().Key(), err)
			}
			if err := e.vectors.put(item.ID, item.StoryID, item.Embedding); err != nil {
				skipped++
				continue
			}
			loaded++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild vector index: %w", err)
	}
	e.logger.Info("Vector index rebuilt from storage", zap.Int("loaded", loaded), zap.Int("skipped", skipped))
	return nil
}

// Upsert сохраняет запись и ее вектор.
func (e *EmbeddedIndex) Upsert(ctx context.Context, item *models.MemoryItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.upsertLocked(item)
}

func (e *EmbeddedIndex) upsertLocked(item *models.MemoryItem) error {
	if err := checkDimension(e.vectors.dimension, item.Embedding); err != nil {
		return err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal memory item: %w", err)
	}
	key := itemKey(item.StoryID, item.ID)
	if err := e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return fmt.Errorf("store memory item: %w", err)
	}
	if err := e.vectors.put(item.ID, item.StoryID, item.Embedding); err != nil {
		return err
	}
	e.cache.put(string(key), item)
	return nil
}

// Update читает запись из badger и сохраняет изменения под блокировкой записи.
func (e *EmbeddedIndex) Update(ctx context.Context, storyID, id string, fn func(*models.MemoryItem) bool) (*models.MemoryItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, err := e.load(itemKey(storyID, id))
	if err != nil {
		return nil, err
	}
	if !fn(item) {
		return item, nil
	}
	if err := e.upsertLocked(item); err != nil {
		return nil, err
	}
	return item, nil
}

func (e *EmbeddedIndex) load(key []byte) (*models.MemoryItem, error) {
	var item models.MemoryItem
	err := e.db.View(func(txn *badger.Txn) error {
		it, err := txn.Get(key)
		if err != nil {
			return err
		}
		return it.Value(func(val []byte) error {
			return json.Unmarshal(val, &item)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load memory item: %w", err)
	}
	return &item, nil
}

// Get возвращает запись или models.ErrNotFound.
func (e *EmbeddedIndex) Get(ctx context.Context, storyID, id string) (*models.MemoryItem, error) {
	key := itemKey(storyID, id)
	if item, ok := e.cache.get(string(key)); ok {
		return item, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	item, err := e.load(key)
	if err != nil {
		return nil, err
	}
	if e.afterLoad != nil {
		e.afterLoad()
	}
	e.cache.put(string(key), item)
	return item, nil
}

// List возвращает все записи истории, включая неактивные.
func (e *EmbeddedIndex) List(ctx context.Context, storyID string) ([]*models.MemoryItem, error) {
	var items []*models.MemoryItem
	err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = storyPrefix(storyID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var item models.MemoryItem
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return err
			}
			items = append(items, &item)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list memory items: %w", err)
	}
	return items, nil
}

// Nearest перебирает векторы истории по возрастанию расстояния и собирает k записей, прошедших accept.
func (e *EmbeddedIndex) Nearest(ctx context.Context, storyID string, query []float32, k int, accept func(*models.MemoryItem) bool) ([]Neighbor, error) {
	ranked, err := e.vectors.ranked(storyID, query)
	if err != nil {
		return nil, err
	}
	out := make([]Neighbor, 0, max(k, 0))
	for _, r := range ranked {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, err := e.Get(ctx, storyID, r.id)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if accept != nil && !accept(item) {
			continue
		}
		out = append(out, Neighbor{Item: item, Distance: r.distance})
		if k > 0 && len(out) == k {
			break
		}
	}
	return out, nil
}

// Close закрывает badger, если индекс открыл его сам.
func (e *EmbeddedIndex) Close() error {
	if !e.ownsDB {
		return nil
	}
	return e.db.Close()
}
