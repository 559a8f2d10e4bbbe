package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-engine/internal/config"
	"novel-engine/internal/parser"
	"novel-engine/internal/prompt"
	"novel-engine/internal/provider"
	"novel-engine/shared/models"
)

// EmptyContextPlaceholder возвращается SummarizeContext, когда у истории нет доступных воспоминаний.
const EmptyContextPlaceholder = "暂无故事上下文"

const (
	extractMaxTokens   = 1500
	extractTemperature = 0.3
	summaryMaxTokens   = 400
	summaryTemperature = 0.3
)

// StoreConfig - параметры хранилища памяти.
type StoreConfig struct {
	MaxSearchResults int
	KeepCount        int
	ExtractChars     int
}

// StoreConfigFromConfig берет параметры из конфигурации воркера.
func StoreConfigFromConfig(cfg *config.Config) StoreConfig {
	return StoreConfig{
		MaxSearchResults: cfg.MaxSearchResults,
		KeepCount:        cfg.MemoryKeepCount,
		ExtractChars:     cfg.MemoryExtractChars,
	}
}

// Store - контекстная память историй поверх VectorIndex.
// Безопасен для конкурентного использования; Evict и изменения записей сериализуются по истории.
type Store struct {
	index    VectorIndex
	provider provider.GenerationProvider
	builder  *prompt.Builder
	cfg      StoreConfig
	locks    *keyedMutex
	now      func() time.Time
	logger   *zap.Logger
}

// NewStore создает хранилище памяти.
func NewStore(index VectorIndex, p provider.GenerationProvider, builder *prompt.Builder, cfg StoreConfig, logger *zap.Logger) *Store {
	if cfg.MaxSearchResults <= 0 {
		cfg.MaxSearchResults = 10
	}
	if cfg.KeepCount <= 0 {
		cfg.KeepCount = 100
	}
	return &Store{
		index:    index,
		provider: p,
		builder:  builder,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		now:      time.Now,
		logger:   logger.Named("MemoryStore"),
	}
}

func observe(op string, start time.Time, err error) {
	memoryOperations.WithLabelValues(op, statusLabel(err)).Inc()
	memoryOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *Store) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := s.provider.Embed(ctx, texts)
	if err != nil {
		if errors.Is(err, models.ErrEmbeddingFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", models.ErrEmbeddingFailed, len(texts), len(vectors))
	}
	return vectors, nil
}

// Store сохраняет запись и возвращает ее ID. Если эмбеддинга нет, он вычисляется провайдером;
// ошибка эмбеддинга возвращается как models.ErrEmbeddingFailed, и запись не сохраняется.
func (s *Store) Store(ctx context.Context, item *models.MemoryItem) (id string, err error) {
	start := time.Now()
	defer func() { observe("store", start, err) }()

	if item == nil || strings.TrimSpace(item.Content) == "" {
		return "", models.ErrEmptyContent
	}
	if item.StoryID == "" {
		return "", models.ErrMissingStoryID
	}

	rec := item.Clone()
	if len(rec.Embedding) == 0 {
		vectors, err := s.embed(ctx, []string{rec.Content})
		if err != nil {
			s.logger.Warn("Failed to embed memory item", zap.String("story_id", rec.StoryID), zap.Error(err))
			return "", err
		}
		rec.Embedding = vectors[0]
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if !rec.Importance.IsValid() {
		rec.Importance = models.DefaultImportance
	}
	if !rec.MemoryType.IsValid() {
		rec.MemoryType = models.MemoryPlot
	}
	rec.Active = true

	if err := s.index.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to store memory item: %w", err)
	}

	item.ID = rec.ID
	item.Embedding = rec.Embedding
	item.CreatedAt = rec.CreatedAt
	item.Importance = rec.Importance
	item.MemoryType = rec.MemoryType
	item.Active = true
	return rec.ID, nil
}

// Search ищет записи истории, близкие к запросу. Неактивные и истекшие записи не возвращаются.
// Результаты упорядочены по убыванию Score = max(0, 1 - distance).
func (s *Store) Search(ctx context.Context, storyID, query string, filter models.SearchFilter, maxResults int) (results []models.SearchResult, err error) {
	start := time.Now()
	defer func() { observe("search", start, err) }()

	if storyID == "" {
		return nil, models.ErrMissingStoryID
	}
	if maxResults <= 0 {
		maxResults = s.cfg.MaxSearchResults
	}
	vectors, err := s.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	now := s.now()
	accept := func(m *models.MemoryItem) bool {
		return m.Searchable(now) && filter.Match(m)
	}
	neighbors, err := s.index.Nearest(ctx, storyID, vectors[0], maxResults, accept)
	if err != nil {
		return nil, fmt.Errorf("failed to search memory: %w", err)
	}

	results = make([]models.SearchResult, 0, len(neighbors))
	for _, n := range neighbors {
		score := scoreFromDistance(n.Distance)
		results = append(results, models.SearchResult{
			Item:                 n.Item,
			Score:                score,
			RelevanceExplanation: explainRelevance(score),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// mutate загружает запись, применяет fn и сохраняет ее под блокировкой истории.
func (s *Store) mutate(ctx context.Context, op, storyID, id string, fn func(*models.MemoryItem)) (item *models.MemoryItem, err error) {
	start := time.Now()
	defer func() { observe(op, start, err) }()

	unlock := s.locks.Lock(storyID)
	defer unlock()

	item, err = s.index.Update(ctx, storyID, id, func(m *models.MemoryItem) bool {
		fn(m)
		return true
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update memory item: %w", err)
	}
	return item, nil
}

// Access отмечает обращение к записи: увеличивает AccessCount и обновляет LastAccessedAt.
// Переданная запись получает новые значения счетчиков.
func (s *Store) Access(ctx context.Context, item *models.MemoryItem) error {
	if item == nil {
		return models.ErrNotFound
	}
	now := s.now().UTC()
	updated, err := s.mutate(ctx, "access", item.StoryID, item.ID, func(m *models.MemoryItem) { m.Touch(now) })
	if err != nil {
		return err
	}
	item.AccessCount = updated.AccessCount
	item.LastAccessedAt = updated.LastAccessedAt
	return nil
}

// Deactivate снимает запись с выдачи поиска.
func (s *Store) Deactivate(ctx context.Context, storyID, id string) error {
	_, err := s.mutate(ctx, "deactivate", storyID, id, func(m *models.MemoryItem) { m.Deactivate() })
	return err
}

// Activate возвращает запись в выдачу.
func (s *Store) Activate(ctx context.Context, storyID, id string) error {
	_, err := s.mutate(ctx, "activate", storyID, id, func(m *models.MemoryItem) { m.Activate() })
	return err
}

// SetExpiry задает срок жизни записи от текущего момента.
func (s *Store) SetExpiry(ctx context.Context, storyID, id string, ttl time.Duration) error {
	now := s.now().UTC()
	_, err := s.mutate(ctx, "set_expiry", storyID, id, func(m *models.MemoryItem) { m.SetExpiry(now, ttl) })
	return err
}

// ExtendExpiry продлевает срок жизни записи. Бессрочные записи не меняются.
func (s *Store) ExtendExpiry(ctx context.Context, storyID, id string, d time.Duration) error {
	_, err := s.mutate(ctx, "extend_expiry", storyID, id, func(m *models.MemoryItem) { m.ExtendExpiry(d) })
	return err
}

// ExtractAndStore просит провайдера выделить факты из текста главы и сохраняет их.
// Возвращает сохраненные записи; ошибки отдельных записей объединяются в одну.
func (s *Store) ExtractAndStore(ctx context.Context, chapterText, storyID, chapterID string) (stored []*models.MemoryItem, err error) {
	start := time.Now()
	defer func() { observe("extract", start, err) }()

	if storyID == "" {
		return nil, models.ErrMissingStoryID
	}
	if strings.TrimSpace(chapterText) == "" {
		return nil, nil
	}

	raw, err := s.provider.Generate(ctx, s.builder.MemoryExtraction(chapterText, s.cfg.ExtractChars), extractMaxTokens, extractTemperature)
	if err != nil {
		return nil, fmt.Errorf("memory extraction request failed: %w", err)
	}
	extracted, err := parser.ParseMemories(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse extracted memories: %w", err)
	}
	if len(extracted) == 0 {
		return nil, nil
	}

	texts := make([]string, len(extracted))
	for i, m := range extracted {
		texts[i] = m.Content
	}
	vectors, err := s.embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	var errs []error
	for i, m := range extracted {
		item := &models.MemoryItem{
			Content:    m.Content,
			MemoryType: m.MemoryType,
			Importance: m.Importance,
			Embedding:  vectors[i],
			StoryID:    storyID,
			ChapterID:  chapterID,
			Tags:       m.Tags,
		}
		if _, err := s.Store(ctx, item); err != nil {
			errs = append(errs, err)
			continue
		}
		stored = append(stored, item)
	}
	memoryExtracted.Add(float64(len(stored)))
	s.logger.Debug("Memories extracted from chapter",
		zap.String("story_id", storyID),
		zap.String("chapter_id", chapterID),
		zap.Int("extracted", len(extracted)),
		zap.Int("stored", len(stored)))
	return stored, errors.Join(errs...)
}

// contextOrder: важность по убыванию, затем число обращений, затем новизна.
func contextOrder(items []*models.MemoryItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if a.AccessCount != b.AccessCount {
			return a.AccessCount > b.AccessCount
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}

var memoryTypeLabels = map[models.MemoryType]string{
	models.MemoryCharacter: "人物",
	models.MemoryPlot:      "情节",
	models.MemoryWorld:     "世界观",
	models.MemorySetting:   "场景",
	models.MemoryChoice:    "选择",
	models.MemoryEmotion:   "情感",
}

// digest группирует записи по типу в детерминированный текст.
func digest(items []*models.MemoryItem) string {
	byType := make(map[models.MemoryType][]string)
	for _, m := range items {
		byType[m.MemoryType] = append(byType[m.MemoryType], strings.TrimSpace(m.Content))
	}
	var sb strings.Builder
	for _, t := range models.AllMemoryTypes() {
		contents := byType[t]
		if len(contents) == 0 {
			continue
		}
		sb.WriteString(memoryTypeLabels[t])
		sb.WriteString("：")
		sb.WriteString(strings.Join(contents, "；"))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// SummarizeContext сжимает до maxItems самых важных доступных записей истории в сводку.
// Без записей возвращает EmptyContextPlaceholder; если провайдер недоступен - сгруппированный дайджест.
func (s *Store) SummarizeContext(ctx context.Context, storyID string, maxItems int) (summary string, err error) {
	start := time.Now()
	defer func() { observe("summarize", start, err) }()

	items, err := s.index.List(ctx, storyID)
	if err != nil {
		return "", fmt.Errorf("failed to list memory items: %w", err)
	}
	now := s.now()
	searchable := items[:0]
	for _, m := range items {
		if m.Searchable(now) {
			searchable = append(searchable, m)
		}
	}
	if len(searchable) == 0 {
		return EmptyContextPlaceholder, nil
	}
	contextOrder(searchable)
	if maxItems > 0 && len(searchable) > maxItems {
		searchable = searchable[:maxItems]
	}

	d := digest(searchable)
	raw, genErr := s.provider.Generate(ctx, s.builder.ContextSummary(d), summaryMaxTokens, summaryTemperature)
	if genErr != nil || strings.TrimSpace(raw) == "" {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		s.logger.Warn("Context summary generation failed, using digest",
			zap.String("story_id", storyID),
			zap.Error(genErr))
		return d, nil
	}
	return strings.TrimSpace(raw), nil
}

// evictionOrder: важность по убыванию, затем новые раньше старых.
func evictionOrder(items []*models.MemoryItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Evict оставляет активными не более keepCount записей истории, деактивируя остальные
// в порядке (важность по убыванию, время создания по убыванию). Повторный вызов ничего не меняет.
func (s *Store) Evict(ctx context.Context, storyID string, keepCount int) (evicted int, err error) {
	start := time.Now()
	defer func() { observe("evict", start, err) }()

	if keepCount <= 0 {
		keepCount = s.cfg.KeepCount
	}
	unlock := s.locks.Lock(storyID)
	defer unlock()

	items, err := s.index.List(ctx, storyID)
	if err != nil {
		return 0, fmt.Errorf("failed to list memory items: %w", err)
	}
	active := items[:0]
	for _, m := range items {
		if m.Active {
			active = append(active, m)
		}
	}
	if len(active) <= keepCount {
		return 0, nil
	}

	evictionOrder(active)
	for _, m := range active[keepCount:] {
		changed := false
		_, err := s.index.Update(ctx, storyID, m.ID, func(cur *models.MemoryItem) bool {
			changed = false
			if !cur.Active {
				return false
			}
			cur.Deactivate()
			changed = true
			return true
		})
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return evicted, fmt.Errorf("failed to deactivate memory item %s: %w", m.ID, err)
		}
		if changed {
			evicted++
		}
	}
	memoryEvicted.Add(float64(evicted))
	s.logger.Info("Evicted memory items",
		zap.String("story_id", storyID),
		zap.Int("evicted", evicted),
		zap.Int("kept", keepCount))
	return evicted, nil
}

// Stats считает записи истории по состоянию, типу и важности.
func (s *Store) Stats(ctx context.Context, storyID string) (*models.MemoryStats, error) {
	items, err := s.index.List(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory items: %w", err)
	}
	now := s.now()
	stats := &models.MemoryStats{
		StoryID:      storyID,
		ByType:       make(map[models.MemoryType]int),
		ByImportance: make(map[string]int),
	}
	for _, m := range items {
		stats.Total++
		if m.Active {
			stats.Active++
		} else {
			stats.Inactive++
		}
		if m.Expired(now) {
			stats.Expired++
		}
		stats.ByType[m.MemoryType]++
		stats.ByImportance[m.Importance.String()]++
	}
	return stats, nil
}

// Close закрывает индекс.
func (s *Store) Close() error {
	return s.index.Close()
}
