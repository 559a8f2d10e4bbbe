package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"novel-engine/shared/models"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T, dir string) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	return db
}

func testItem(storyID, id string, vec ...float32) *models.MemoryItem {
	return &models.MemoryItem{
		ID:         id,
		StoryID:    storyID,
		Content:    "内容 " + id,
		MemoryType: models.MemoryPlot,
		Importance: models.ImportanceMedium,
		Embedding:  vec,
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:     true,
	}
}

func TestEmbeddedIndex_NearestOrdersByDistance(t *testing.T) {
	idx, err := OpenEmbeddedIndex("", 2, 16, zap.NewNop())
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, testItem("s1", "far", 0, 1)))
	require.NoError(t, idx.Upsert(ctx, testItem("s1", "near", 1, 0)))
	require.NoError(t, idx.Upsert(ctx, testItem("s1", "mid", 1, 1)))
	require.NoError(t, idx.Upsert(ctx, testItem("s2", "other", 1, 0)))

	got, err := idx.Nearest(ctx, "s1", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "near", got[0].Item.ID)
	assert.Equal(t, "mid", got[1].Item.ID)
	assert.Equal(t, "far", got[2].Item.ID)
	assert.InDelta(t, 0, got[0].Distance, 1e-9)
	assert.InDelta(t, 1, got[2].Distance, 1e-9)

	top, err := idx.Nearest(ctx, "s1", []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "near", top[0].Item.ID)
}

func TestEmbeddedIndex_NearestAppliesAcceptBeforeLimit(t *testing.T) {
	idx, err := OpenEmbeddedIndex("", 2, 0, zap.NewNop())
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	hidden := testItem("s1", "hidden", 1, 0)
	hidden.Active = false
	require.NoError(t, idx.Upsert(ctx, hidden))
	require.NoError(t, idx.Upsert(ctx, testItem("s1", "visible", 0, 1)))

	got, err := idx.Nearest(ctx, "s1", []float32{1, 0}, 1, func(m *models.MemoryItem) bool { return m.Active })
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "visible", got[0].Item.ID)
}

func TestEmbeddedIndex_DimensionMismatch(t *testing.T) {
	idx, err := OpenEmbeddedIndex("", 3, 0, zap.NewNop())
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	err = idx.Upsert(ctx, testItem("s1", "a", 1, 0))
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)

	err = idx.Upsert(ctx, testItem("s1", "b"))
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)

	_, err = idx.Nearest(ctx, "s1", []float32{1}, 5, nil)
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}

func TestEmbeddedIndex_GetMissing(t *testing.T) {
	idx, err := OpenEmbeddedIndex("", 2, 4, zap.NewNop())
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.Get(context.Background(), "s1", "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestEmbeddedIndex_ReturnsCopies(t *testing.T) {
	idx, err := OpenEmbeddedIndex("", 2, 4, zap.NewNop())
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, testItem("s1", "a", 1, 0)))
	first, err := idx.Get(ctx, "s1", "a")
	require.NoError(t, err)
	first.Active = false
	first.Content = "changed"

	second, err := idx.Get(ctx, "s1", "a")
	require.NoError(t, err)
	assert.True(t, second.Active)
	assert.Equal(t, "内容 a", second.Content)
}

func TestEmbeddedIndex_RebuildsVectorsOnReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db := openTestDB(t, dir)
	idx, err := NewEmbeddedIndex(db, 2, 4, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, testItem("s1", "a", 1, 0)))
	require.NoError(t, idx.Upsert(ctx, testItem("s1", "b", 0, 1)))
	require.NoError(t, idx.Close())
	require.NoError(t, db.Close())

	db = openTestDB(t, dir)
	defer db.Close()
	reopened, err := NewEmbeddedIndex(db, 2, 4, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.vectors.len())

	got, err := reopened.Nearest(ctx, "s1", []float32{0, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Item.ID)

	items, err := reopened.List(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestItemCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newItemCache(2)
	c.put("a", testItem("s", "a", 1))
	c.put("b", testItem("s", "b", 1))
	_, ok := c.get("a")
	require.True(t, ok)
	c.put("c", testItem("s", "c", 1))

	assert.Equal(t, 2, c.len())
	_, ok = c.get("b")
	assert.False(t, ok)
	_, ok = c.get("a")
	assert.True(t, ok)

	disabled := newItemCache(0)
	disabled.put("a", testItem("s", "a", 1))
	_, ok = disabled.get("a")
	assert.False(t, ok)
}

func TestScoreAndRelevance(t *testing.T) {
	assert.InDelta(t, 1.0, scoreFromDistance(0), 1e-9)
	assert.InDelta(t, 0.0, scoreFromDistance(1.5), 1e-9)
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))

	tests := []struct {
		score  float64
		prefix string
	}{
		{0.95, "高度相关"},
		{0.8, "中度相关"},
		{0.61, "中度相关"},
		{0.6, "低度相关"},
		{0.41, "低度相关"},
		{0.4, "弱相关"},
		{0, "弱相关"},
	}
	for _, tt := range tests {
		assert.Contains(t, explainRelevance(tt.score), tt.prefix, "score %v", tt.score)
	}
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("s1")
	unlockOther := k.Lock("s2")
	unlock()
	unlockOther()
	assert.Empty(t, k.locks)
}

func TestEmbeddedIndex_CacheFillDoesNotOverwriteNewerRecord(t *testing.T) {
	idx, err := OpenEmbeddedIndex("", 2, 1, zap.NewNop())
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, testItem("s1", "x", 1, 0)))
	// Вытесняет x из кэша на одну запись.
	require.NoError(t, idx.Upsert(ctx, testItem("s1", "y", 0, 1)))

	deactivated := testItem("s1", "x", 1, 0)
	deactivated.Deactivate()

	done := make(chan error, 1)
	var once sync.Once
	idx.afterLoad = func() {
		once.Do(func() {
			go func() { done <- idx.Upsert(ctx, deactivated) }()
			// Пока промах не записан в кэш, деактивация должна ждать.
			select {
			case err := <-done:
				done <- err
				t.Error("upsert finished while a cache miss was being filled")
			case <-time.After(100 * time.Millisecond):
			}
		})
	}

	got, err := idx.Get(ctx, "s1", "x")
	require.NoError(t, err)
	assert.True(t, got.Active)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("deactivating upsert did not finish")
	}

	cached, err := idx.Get(ctx, "s1", "x")
	require.NoError(t, err)
	assert.False(t, cached.Active)

	active := func(m *models.MemoryItem) bool { return m.Active }
	neighbors, err := idx.Nearest(ctx, "s1", []float32{1, 0}, 10, active)
	require.NoError(t, err)
	for _, n := range neighbors {
		assert.NotEqual(t, "x", n.Item.ID)
	}
}

func TestEmbeddedIndex_Update(t *testing.T) {
	idx, err := OpenEmbeddedIndex("", 2, 4, zap.NewNop())
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, testItem("s1", "x", 1, 0)))

	got, err := idx.Update(ctx, "s1", "x", func(m *models.MemoryItem) bool {
		m.Deactivate()
		return true
	})
	require.NoError(t, err)
	assert.False(t, got.Active)

	// fn, вернувшая false, ничего не записывает.
	_, err = idx.Update(ctx, "s1", "x", func(m *models.MemoryItem) bool {
		m.Activate()
		return false
	})
	require.NoError(t, err)
	stored, err := idx.Get(ctx, "s1", "x")
	require.NoError(t, err)
	assert.False(t, stored.Active)

	_, err = idx.Update(ctx, "s1", "missing", func(*models.MemoryItem) bool { return true })
	assert.ErrorIs(t, err, models.ErrNotFound)
}
