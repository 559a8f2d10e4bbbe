package memory

import (
	"context"
	"sort"

	"novel-engine/shared/models"
)

// Neighbor - запись и ее косинусное расстояние до запроса (0 - совпадение, 2 - противоположность).
type Neighbor struct {
	Item     *models.MemoryItem
	Distance float64
}

// VectorIndex - хранилище записей памяти с поиском ближайших соседей внутри одной истории.
// Возвращаемые записи - копии; их изменение не влияет на хранилище.
type VectorIndex interface {
	Upsert(ctx context.Context, item *models.MemoryItem) error
	Get(ctx context.Context, storyID, id string) (*models.MemoryItem, error)
	// Update атомарно читает запись, применяет fn и сохраняет результат, если fn вернула true.
	// Изменение, сделанное между чтением и записью другим процессом, не теряется.
	Update(ctx context.Context, storyID, id string, fn func(*models.MemoryItem) bool) (*models.MemoryItem, error)
	List(ctx context.Context, storyID string) ([]*models.MemoryItem, error)
	// Nearest возвращает до k записей, прошедших accept, по возрастанию расстояния.
	Nearest(ctx context.Context, storyID string, query []float32, k int, accept func(*models.MemoryItem) bool) ([]Neighbor, error)
	Close() error
}

// rankNeighbors сортирует кандидатов по расстоянию и обрезает до k.
func rankNeighbors(candidates []Neighbor, k int) []Neighbor {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].Item.ID < candidates[j].Item.ID
	})
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}
