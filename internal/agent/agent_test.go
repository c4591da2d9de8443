package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/medsearch-ai/orchestrator/internal/config"
	"github.com/medsearch-ai/orchestrator/internal/index"
	"github.com/medsearch-ai/orchestrator/internal/mockdata"
	"github.com/medsearch-ai/orchestrator/internal/models"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embedding(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) Model() string { return "fake-model" }

type fakeBackend struct {
	lexDocs []index.Document
	vecDocs []index.Document
	lexErr  error
	vecErr  error
}

func (f *fakeBackend) Lexical(ctx context.Context, collection, query string, filters *models.Filters, topK int) ([]index.Document, error) {
	return f.lexDocs, f.lexErr
}

func (f *fakeBackend) Vector(ctx context.Context, collection string, vec []float32, filters *models.Filters, topK int) ([]index.Document, error) {
	return f.vecDocs, f.vecErr
}

type fakeReranker struct {
	output string
	err    error
}

func (f *fakeReranker) GenerateFor(ctx context.Context, purpose, prompt string, temperature float64, maxTokens int) (string, error) {
	return f.output, f.err
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Get(ctx context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func staticTunables() config.TunablesSource {
	return config.StaticTunables{T: config.DefaultTunables()}
}

func newTestAgent(t *testing.T, cfg Config, be index.Backend, emb Embedder, store *memStore, rr Reranker) *Agent {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "research"
	}
	if cfg.Collection == "" {
		cfg.Collection = "research_articles"
	}
	if store == nil {
		return New(cfg, emb, be, nil, rr, mockdata.New(), staticTunables(), zaptest.NewLogger(t))
	}
	return New(cfg, emb, be, store, rr, mockdata.New(), staticTunables(), zaptest.NewLogger(t))
}

func TestSearchFusesBothChannels(t *testing.T) {
	be := &fakeBackend{
		lexDocs: []index.Document{
			{ID: "a", Title: "A", Score: 1.0},
			{ID: "b", Title: "B", Score: 0.5},
		},
		vecDocs: []index.Document{
			{ID: "b", Title: "B", Score: 1.0},
			{ID: "c", Title: "C", Score: 0.8},
		},
	}
	a := newTestAgent(t, Config{Name: "research"}, be, &fakeEmbedder{}, nil, nil)

	hits, errs := a.Search(context.Background(), "metformin", nil)
	require.Empty(t, errs)
	require.Len(t, hits, 3)

	// research weights: 0.3 lexical, 0.7 semantic
	byID := map[string]models.RetrievalHit{}
	for _, h := range hits {
		byID[h.SourceID] = h
	}
	assert.InDelta(t, 0.3*1.0, byID["a"].FusedScore, 1e-9)
	assert.InDelta(t, 0.3*0.5+0.7*1.0, byID["b"].FusedScore, 1e-9)
	assert.InDelta(t, 0.7*0.8, byID["c"].FusedScore, 1e-9)

	// Sorted by fused score descending.
	assert.Equal(t, "b", hits[0].SourceID)
	assert.Equal(t, "c", hits[1].SourceID)
	assert.Equal(t, "a", hits[2].SourceID)
}

func TestSearchTieBreaks(t *testing.T) {
	// Equal fused scores with drug weights (0.5/0.5): the hit with the
	// higher semantic score wins; equal semantics fall back to recency.
	be := &fakeBackend{
		lexDocs: []index.Document{
			{ID: "lex-heavy", Score: 0.8, PublishedAt: "2020-01-01"},
			{ID: "old", Score: 0.4, PublishedAt: "2019-01-01"},
			{ID: "new", Score: 0.4, PublishedAt: "2023-01-01"},
		},
		vecDocs: []index.Document{
			{ID: "sem-heavy", Score: 0.8, PublishedAt: "2020-01-01"},
			{ID: "old", Score: 0.4, PublishedAt: "2019-01-01"},
			{ID: "new", Score: 0.4, PublishedAt: "2023-01-01"},
		},
	}
	a := newTestAgent(t, Config{Name: "drug", Collection: "drug_labels"}, be, &fakeEmbedder{}, nil, nil)

	hits, errs := a.Search(context.Background(), "metformin", nil)
	require.Empty(t, errs)
	require.Len(t, hits, 4)
	assert.Equal(t, "sem-heavy", hits[0].SourceID)
	assert.Equal(t, "lex-heavy", hits[1].SourceID)
	assert.Equal(t, "new", hits[2].SourceID)
	assert.Equal(t, "old", hits[3].SourceID)
}

func TestSearchTruncatesToTopK(t *testing.T) {
	docs := make([]index.Document, 20)
	for i := range docs {
		docs[i] = index.Document{ID: string(rune('a' + i)), Score: 1.0 - float64(i)*0.01}
	}
	be := &fakeBackend{lexDocs: docs, vecDocs: nil}
	// vecDocs nil here means vector "ran and found nothing" is not the case;
	// keep the vector channel healthy but empty.
	be.vecDocs = []index.Document{}
	a := newTestAgent(t, Config{Name: "research", TopK: 5}, be, &fakeEmbedder{}, nil, nil)

	hits, _ := a.Search(context.Background(), "diabetes", nil)
	assert.Len(t, hits, 5)
}

func TestSearchEmbeddingFailureDegradesToLexical(t *testing.T) {
	be := &fakeBackend{
		lexDocs: []index.Document{{ID: "a", Score: 0.9}},
	}
	a := newTestAgent(t, Config{Name: "research"}, be, &fakeEmbedder{err: errors.New("embedder down")}, nil, nil)

	hits, errs := a.Search(context.Background(), "metformin", nil)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].SourceID)
	assert.Zero(t, hits[0].SemanticScore)

	require.Len(t, errs, 1)
	assert.Equal(t, models.ErrProviderFailure, errs[0].Type)
	assert.True(t, errs[0].Recoverable)
}

func TestSearchFallsBackToCannedData(t *testing.T) {
	be := &fakeBackend{
		lexErr: errors.New("index down"),
		vecErr: errors.New("index down"),
	}
	a := newTestAgent(t, Config{Name: "research"}, be, &fakeEmbedder{}, nil, nil)

	hits, errs := a.Search(context.Background(), "metformin cardiovascular outcomes", nil)
	require.NotEmpty(t, hits, "agent must never return empty on backend failure")
	assert.GreaterOrEqual(t, len(hits), 2)
	for _, h := range hits {
		assert.Equal(t, "research_articles", h.Collection)
		assert.Greater(t, h.FusedScore, 0.0)
	}
	require.NotEmpty(t, errs)
	for _, e := range errs {
		assert.True(t, e.Recoverable)
	}
}

func TestSearchResultCache(t *testing.T) {
	be := &fakeBackend{
		lexDocs: []index.Document{{ID: "a", Score: 0.9}},
		vecDocs: []index.Document{{ID: "a", Score: 0.8}},
	}
	emb := &fakeEmbedder{}
	store := newMemStore()
	a := newTestAgent(t, Config{Name: "research"}, be, emb, store, nil)

	first, errs := a.Search(context.Background(), "metformin", nil)
	require.Empty(t, errs)
	require.Equal(t, 1, emb.calls)

	second, errs := a.Search(context.Background(), "metformin", nil)
	require.Empty(t, errs)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, emb.calls, "cached result must not re-embed")
}

func TestRerankReorders(t *testing.T) {
	be := &fakeBackend{
		lexDocs: []index.Document{
			{ID: "a", Score: 0.9},
			{ID: "b", Score: 0.8},
			{ID: "c", Score: 0.7},
		},
		vecDocs: []index.Document{},
	}
	rr := &fakeReranker{output: `["c","a","b"]`}
	a := newTestAgent(t, Config{Name: "research", RerankEnabled: true}, be, &fakeEmbedder{}, nil, rr)

	hits, _ := a.Search(context.Background(), "metformin", nil)
	require.Len(t, hits, 3)
	assert.Equal(t, "c", hits[0].SourceID)
	assert.Equal(t, "a", hits[1].SourceID)
	assert.Equal(t, "b", hits[2].SourceID)
}

func TestRerankFailureKeepsFusionOrder(t *testing.T) {
	be := &fakeBackend{
		lexDocs: []index.Document{
			{ID: "a", Score: 0.9},
			{ID: "b", Score: 0.8},
		},
		vecDocs: []index.Document{},
	}

	tests := []struct {
		name string
		rr   *fakeReranker
	}{
		{"generation error", &fakeReranker{err: errors.New("llm down")}},
		{"unparsable output", &fakeReranker{output: "sure, here is the order: a then b"}},
		{"incomplete ordering", &fakeReranker{output: `["a"]`}},
		{"unknown ids", &fakeReranker{output: `["x","y"]`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAgent(t, Config{Name: "research", RerankEnabled: true}, be, &fakeEmbedder{}, nil, tt.rr)
			hits, errs := a.Search(context.Background(), "metformin", nil)
			require.Empty(t, errs)
			require.Len(t, hits, 2)
			assert.Equal(t, "a", hits[0].SourceID)
			assert.Equal(t, "b", hits[1].SourceID)
		})
	}
}

func TestRerankHandlesFencedOutput(t *testing.T) {
	be := &fakeBackend{
		lexDocs: []index.Document{
			{ID: "a", Score: 0.9},
			{ID: "b", Score: 0.8},
		},
		vecDocs: []index.Document{},
	}
	rr := &fakeReranker{output: "```json\n[\"b\",\"a\"]\n```"}
	a := newTestAgent(t, Config{Name: "research", RerankEnabled: true}, be, &fakeEmbedder{}, nil, rr)

	hits, _ := a.Search(context.Background(), "metformin", nil)
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].SourceID)
}
