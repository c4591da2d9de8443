package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/medsearch-ai/orchestrator/internal/models"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	store, err := NewRedisStore(s.Addr(), "", 200*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestRedisStore_SetGetDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, ok := store.Get(ctx, "res:missing")
	assert.False(t, ok)

	store.Set(ctx, "res:k1", []byte("hello"), time.Minute)
	got, ok := store.Get(ctx, "res:k1")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)

	require.NoError(t, store.Delete(ctx, "res:k1"))
	_, ok = store.Get(ctx, "res:k1")
	assert.False(t, ok)
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	store, s := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "emb:k1", []byte{1, 2, 3}, time.Second)
	_, ok := store.Get(ctx, "emb:k1")
	require.True(t, ok)

	s.FastForward(2 * time.Second)
	_, ok = store.Get(ctx, "emb:k1")
	assert.False(t, ok, "entry should expire by TTL")
}

func TestRedisStore_BackendLossReadsAsMiss(t *testing.T) {
	store, s := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "res:k1", []byte("x"), time.Minute)
	s.Close()

	_, ok := store.Get(ctx, "res:k1")
	assert.False(t, ok, "unreachable cache must read as miss, not error")
	// Writes after loss must not panic or block.
	store.Set(ctx, "res:k2", []byte("y"), time.Minute)
}

func TestEmbeddingKey_NormalizesText(t *testing.T) {
	a := EmbeddingKey("bge-small", "Metformin  Side Effects")
	b := EmbeddingKey("bge-small", "metformin side effects")
	assert.Equal(t, a, b)

	c := EmbeddingKey("other-model", "metformin side effects")
	assert.NotEqual(t, a, c, "model must be part of the key")
}

func TestResultKey_SensitiveToWeightsAndFilters(t *testing.T) {
	f := &models.Filters{YearFrom: 2020, YearTo: 2024}
	base := ResultKey("research_articles", "metformin", 0.3, 0.7, 5, f)

	assert.Equal(t, base, ResultKey("research_articles", "  Metformin ", 0.3, 0.7, 5, f))
	assert.NotEqual(t, base, ResultKey("research_articles", "metformin", 0.5, 0.5, 5, f))
	assert.NotEqual(t, base, ResultKey("research_articles", "metformin", 0.3, 0.7, 10, f))
	assert.NotEqual(t, base, ResultKey("research_articles", "metformin", 0.3, 0.7, 5, nil))
	assert.NotEqual(t, base, ResultKey("clinical_trials", "metformin", 0.3, 0.7, 5, f))
}

func TestNamespace(t *testing.T) {
	assert.Equal(t, "emb", Namespace("emb:abc"))
	assert.Equal(t, "res", Namespace("res:abc"))
	assert.Equal(t, "unknown", Namespace("abc"))
}
