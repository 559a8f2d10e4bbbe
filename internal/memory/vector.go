package memory

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"novel-engine/shared/models"
)

// vectorSet - перебор всех векторов с косинусной мерой. Для объемов одной истории
// (сотни записей) этого достаточно.
type vectorSet struct {
	mu        sync.RWMutex
	dimension int
	vectors   map[string][]float32 // itemID -> vector
	stories   map[string]string    // itemID -> storyID
}

func newVectorSet(dimension int) *vectorSet {
	return &vectorSet{
		dimension: dimension,
		vectors:   make(map[string][]float32),
		stories:   make(map[string]string),
	}
}

func checkDimension(dimension int, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector", models.ErrDimensionMismatch)
	}
	if dimension > 0 && len(vector) != dimension {
		return fmt.Errorf("%w: expected %d, got %d", models.ErrDimensionMismatch, dimension, len(vector))
	}
	return nil
}

func (v *vectorSet) put(itemID, storyID string, vector []float32) error {
	if err := checkDimension(v.dimension, vector); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vectors[itemID] = vector
	v.stories[itemID] = storyID
	return nil
}

type rankedID struct {
	id       string
	distance float64
}

// ranked возвращает все id истории по возрастанию косинусного расстояния.
func (v *vectorSet) ranked(storyID string, query []float32) ([]rankedID, error) {
	if err := checkDimension(v.dimension, query); err != nil {
		return nil, err
	}

	v.mu.RLock()
	results := make([]rankedID, 0, len(v.vectors))
	for id, vec := range v.vectors {
		if v.stories[id] != storyID {
			continue
		}
		results = append(results, rankedID{id: id, distance: cosineDistance(query, vec)})
	}
	v.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].distance != results[j].distance {
			return results[i].distance < results[j].distance
		}
		return results[i].id < results[j].id
	})
	return results, nil
}

func (v *vectorSet) len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.vectors)
}

// cosineSimilarity вычисляет косинусное сходство двух векторов.
func cosineSimilarity(a []float32, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dotProduct / denom
}

// cosineDistance = 1 - сходство, в диапазоне [0, 2].
func cosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}

// scoreFromDistance переводит расстояние в оценку релевантности: max(0, 1-distance).
func scoreFromDistance(distance float64) float64 {
	return math.Max(0, 1-distance)
}
