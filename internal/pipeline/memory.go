package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"novel-engine/internal/memory"
	"novel-engine/shared/models"
)

// Записи памяти пишутся по принципу best-effort: ошибки логируются и не влияют на результат стадии.

func (o *Orchestrator) memoryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.settings.ProviderTimeout)
}

// recall собирает сводку памяти и воспоминания, близкие к последнему выбору и последней главе.
func (o *Orchestrator) recall(ctx context.Context, req ChapterRequest) (string, []models.SearchResult) {
	if o.memory == nil || req.StoryID == "" {
		return "", nil
	}
	log := o.logger.With(zap.String("story_id", req.StoryID))

	mctx, cancel := o.memoryCtx(ctx)
	defer cancel()

	summary, err := o.memory.SummarizeContext(mctx, req.StoryID, o.settings.ContextMemoryItems)
	if err != nil {
		log.Warn("Failed to summarize story memory", zap.Error(err))
		summary = ""
	}
	if summary == memory.EmptyContextPlaceholder {
		summary = ""
	}

	query := recallQuery(req)
	if query == "" {
		return summary, nil
	}
	results, err := o.memory.Search(mctx, req.StoryID, query, models.SearchFilter{}, o.settings.RecallResults)
	if err != nil {
		log.Warn("Failed to search story memory", zap.Error(err))
		return summary, nil
	}
	for _, r := range results {
		if err := o.memory.Access(mctx, r.Item); err != nil {
			log.Debug("Failed to record memory access", zap.String("item_id", r.Item.ID), zap.Error(err))
		}
	}
	return summary, results
}

func recallQuery(req ChapterRequest) string {
	var parts []string
	if req.LastChoice != nil {
		parts = append(parts, choiceText(req.LastChoice))
	}
	if n := len(req.History); n > 0 {
		parts = append(parts, req.History[n-1].Summary)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func (o *Orchestrator) remember(ctx context.Context, item *models.MemoryItem) {
	if o.memory == nil || item.StoryID == "" {
		return
	}
	mctx, cancel := o.memoryCtx(ctx)
	defer cancel()
	if _, err := o.memory.Store(mctx, item); err != nil {
		o.logger.Warn("Failed to store memory item",
			zap.String("story_id", item.StoryID),
			zap.String("memory_type", string(item.MemoryType)),
			zap.Error(err))
	}
}

func (o *Orchestrator) rememberWorld(ctx context.Context, storyID string, ws *models.WorldSetting) {
	if ws == nil {
		return
	}
	content := fmt.Sprintf("世界「%s」：%s", ws.WorldName, ws.WorldDescription)
	if ws.PowerSystem != "" {
		content += "\n力量体系：" + ws.PowerSystem
	}
	o.remember(ctx, &models.MemoryItem{
		StoryID:    storyID,
		Content:    content,
		MemoryType: models.MemoryWorld,
		Importance: models.ImportanceCritical,
		Tags:       []string{"world_setting"},
	})
}

func (o *Orchestrator) rememberProtagonist(ctx context.Context, storyID string, p *models.Protagonist) {
	if p == nil {
		return
	}
	o.remember(ctx, &models.MemoryItem{
		StoryID:    storyID,
		Content:    fmt.Sprintf("主人公%s。性格：%s。背景：%s", p.Name, p.Personality, p.Background),
		MemoryType: models.MemoryCharacter,
		Importance: models.ImportanceHigh,
		Tags:       []string{"protagonist", p.Name},
	})
}

func (o *Orchestrator) rememberChoice(ctx context.Context, storyID string, rec models.ChoiceRecord) {
	o.remember(ctx, &models.MemoryItem{
		StoryID:    storyID,
		ChapterID:  chapterID(rec.ChapterNumber),
		Content:    fmt.Sprintf("第%d章，读者选择：%s", rec.ChapterNumber, choiceText(&rec)),
		MemoryType: models.MemoryChoice,
		Importance: models.ImportanceMedium,
		Tags:       []string{"choice"},
	})
}

// rememberChapter извлекает факты из текста главы и вытесняет лишние воспоминания.
func (o *Orchestrator) rememberChapter(ctx context.Context, storyID string, ch *models.Chapter) {
	if o.memory == nil || storyID == "" || ch == nil {
		return
	}
	log := o.logger.With(zap.String("story_id", storyID), zap.Int("chapter", ch.ChapterNumber))

	mctx, cancel := o.memoryCtx(ctx)
	defer cancel()

	stored, err := o.memory.ExtractAndStore(mctx, ch.Content, storyID, chapterID(ch.ChapterNumber))
	if err != nil {
		log.Warn("Memory extraction failed", zap.Int("stored", len(stored)), zap.Error(err))
	}
	if _, err := o.memory.Evict(mctx, storyID, o.settings.KeepCount); err != nil {
		log.Warn("Memory eviction failed", zap.Error(err))
	}
}

func chapterID(number int) string {
	return fmt.Sprintf("chapter_%d", number)
}
