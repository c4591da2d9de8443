// Package agent implements the hybrid search agents. Each agent owns one
// collection and runs lexical and vector retrieval in parallel, fusing the
// two score streams with its configured weight split.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/medsearch-ai/orchestrator/internal/cache"
	"github.com/medsearch-ai/orchestrator/internal/config"
	"github.com/medsearch-ai/orchestrator/internal/index"
	"github.com/medsearch-ai/orchestrator/internal/metrics"
	"github.com/medsearch-ai/orchestrator/internal/mockdata"
	"github.com/medsearch-ai/orchestrator/internal/models"
)

// Embedder turns query text into a vector. Satisfied by embeddings.Service.
type Embedder interface {
	Embedding(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Reranker reorders fused hits. Satisfied by llm.Client via the rerank
// prompt; nil disables reranking.
type Reranker interface {
	GenerateFor(ctx context.Context, purpose, prompt string, temperature float64, maxTokens int) (string, error)
}

// Config describes one search agent.
type Config struct {
	Name           string
	Collection     string
	TopK           int
	RerankEnabled  bool
	RerankMaxChars int
	CacheTTL       time.Duration
}

// Agent executes hybrid retrieval against a single collection.
type Agent struct {
	cfg      Config
	embedder Embedder
	backend  index.Backend
	store    cache.Store
	reranker Reranker
	fallback *mockdata.Provider
	tunables config.TunablesSource
	logger   *zap.Logger
}

// New creates an agent. store, reranker and fallback may be nil; tunables
// must not be.
func New(cfg Config, embedder Embedder, backend index.Backend, store cache.Store, reranker Reranker, fallback *mockdata.Provider, tunables config.TunablesSource, logger *zap.Logger) *Agent {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.RerankMaxChars <= 0 {
		cfg.RerankMaxChars = 4000
	}
	return &Agent{
		cfg:      cfg,
		embedder: embedder,
		backend:  backend,
		store:    store,
		reranker: reranker,
		fallback: fallback,
		tunables: tunables,
		logger:   logger.With(zap.String("agent", cfg.Name)),
	}
}

// Name returns the agent's routing name.
func (a *Agent) Name() string { return a.cfg.Name }

// Collection returns the collection this agent searches.
func (a *Agent) Collection() string { return a.cfg.Collection }

// Search runs hybrid retrieval for the query. It degrades rather than fails:
// backend errors are reported as recoverable records and the canned dataset
// stands in, so a reachable agent always returns at least one hit.
func (a *Agent) Search(ctx context.Context, query string, filters *models.Filters) ([]models.RetrievalHit, []models.ErrorRecord) {
	start := time.Now()
	w := a.tunables.Current().WeightsFor(a.cfg.Name)

	key := cache.ResultKey(a.cfg.Collection, query, w.Lexical, w.Semantic, a.cfg.TopK, filters)
	if hits, ok := a.cachedHits(ctx, key); ok {
		metrics.RecordAgentMetrics(a.cfg.Name, "cached", float64(time.Since(start).Milliseconds()))
		return hits, nil
	}

	var errs []models.ErrorRecord

	lexDocs, vecDocs, retrievalErrs := a.retrieve(ctx, query, filters)
	errs = append(errs, retrievalErrs...)

	var hits []models.RetrievalHit
	if lexDocs == nil && vecDocs == nil {
		hits = a.fallbackHits(query, w)
		metrics.AgentFallbacks.WithLabelValues(a.cfg.Name, "backend_error").Inc()
	} else {
		hits = fuse(lexDocs, vecDocs, a.cfg.Collection, w)
		if len(hits) == 0 {
			hits = a.fallbackHits(query, w)
			metrics.AgentFallbacks.WithLabelValues(a.cfg.Name, "empty_results").Inc()
		}
	}
	if len(hits) > a.cfg.TopK {
		hits = hits[:a.cfg.TopK]
	}

	if a.cfg.RerankEnabled && a.reranker != nil && len(hits) > 1 {
		hits = a.rerank(ctx, query, hits)
	}

	a.storeHits(ctx, key, hits)

	status := "ok"
	if len(errs) > 0 {
		status = "degraded"
	}
	metrics.RecordAgentMetrics(a.cfg.Name, status, float64(time.Since(start).Milliseconds()))
	return hits, errs
}

// retrieve runs lexical and vector search concurrently. A nil slice for a
// channel means that channel failed; an empty non-nil slice means it ran and
// found nothing.
func (a *Agent) retrieve(ctx context.Context, query string, filters *models.Filters) (lexDocs, vecDocs []index.Document, errs []models.ErrorRecord) {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		lexErr error
		vecErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		docs, err := a.backend.Lexical(ctx, a.cfg.Collection, query, filters, a.cfg.TopK)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			lexErr = err
			return
		}
		if docs == nil {
			docs = []index.Document{}
		}
		lexDocs = docs
	}()
	go func() {
		defer wg.Done()
		vec, err := a.embedder.Embedding(ctx, query)
		if err == nil {
			var docs []index.Document
			docs, err = a.backend.Vector(ctx, a.cfg.Collection, vec, filters, a.cfg.TopK)
			if err == nil && docs == nil {
				docs = []index.Document{}
			}
			mu.Lock()
			vecDocs = docs
			mu.Unlock()
		}
		if err != nil {
			mu.Lock()
			vecErr = err
			mu.Unlock()
		}
	}()
	wg.Wait()

	if lexErr != nil {
		a.logger.Warn("lexical search failed", zap.Error(lexErr))
		errs = append(errs, models.NewErrorRecord(models.ErrProviderFailure, a.cfg.Name, "lexical search: "+lexErr.Error(), true))
	}
	if vecErr != nil {
		a.logger.Warn("vector search failed", zap.Error(vecErr))
		errs = append(errs, models.NewErrorRecord(models.ErrProviderFailure, a.cfg.Name, "vector search: "+vecErr.Error(), true))
	}
	return lexDocs, vecDocs, errs
}

// fuse merges the two document streams by ID: fused = wl*lexical + ws*semantic,
// with a missing channel scoring zero. Ties break on higher semantic score,
// then more recent publication date.
func fuse(lexDocs, vecDocs []index.Document, collection string, w config.FusionWeights) []models.RetrievalHit {
	byID := map[string]*models.RetrievalHit{}
	order := []string{}

	add := func(d index.Document, lexical bool) {
		h, ok := byID[d.ID]
		if !ok {
			h = &models.RetrievalHit{
				SourceID:    d.ID,
				Collection:  collection,
				Title:       d.Title,
				Snippet:     d.Snippet,
				Authors:     d.Authors,
				Venue:       d.Venue,
				PublishedAt: d.PublishedAt,
				ExternalID:  d.ExternalID,
				Metadata:    d.Metadata,
			}
			byID[d.ID] = h
			order = append(order, d.ID)
		}
		if lexical {
			h.LexicalScore = d.Score
		} else {
			h.SemanticScore = d.Score
		}
	}
	for _, d := range lexDocs {
		add(d, true)
	}
	for _, d := range vecDocs {
		add(d, false)
	}

	hits := make([]models.RetrievalHit, 0, len(order))
	for _, id := range order {
		h := byID[id]
		h.FusedScore = w.Lexical*h.LexicalScore + w.Semantic*h.SemanticScore
		hits = append(hits, *h)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].FusedScore != hits[j].FusedScore {
			return hits[i].FusedScore > hits[j].FusedScore
		}
		if hits[i].SemanticScore != hits[j].SemanticScore {
			return hits[i].SemanticScore > hits[j].SemanticScore
		}
		return hits[i].PublishedAt > hits[j].PublishedAt
	})
	return hits
}

func (a *Agent) fallbackHits(query string, w config.FusionWeights) []models.RetrievalHit {
	if a.fallback == nil {
		return nil
	}
	docs := a.fallback.Hits(a.cfg.Collection, query, a.cfg.TopK)
	hits := make([]models.RetrievalHit, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, models.RetrievalHit{
			SourceID:      d.ID,
			Collection:    a.cfg.Collection,
			Title:         d.Title,
			Snippet:       d.Snippet,
			Authors:       d.Authors,
			Venue:         d.Venue,
			PublishedAt:   d.PublishedAt,
			ExternalID:    d.ExternalID,
			Metadata:      d.Metadata,
			LexicalScore:  d.Score,
			SemanticScore: d.Score,
			FusedScore:    (w.Lexical + w.Semantic) * d.Score,
		})
	}
	return hits
}

// rerank asks the model for a relevance ordering of the fused hits. Any
// failure, including unparsable output or an ordering that drops hits, keeps
// the fusion order.
func (a *Agent) rerank(ctx context.Context, query string, hits []models.RetrievalHit) []models.RetrievalHit {
	var b strings.Builder
	fmt.Fprintf(&b, "Order the following documents from most to least relevant to the query.\nQuery: %s\n\nDocuments:\n", query)
	for _, h := range hits {
		fmt.Fprintf(&b, "id=%s title=%s snippet=%s\n", h.SourceID, h.Title, h.Snippet)
		if b.Len() > a.cfg.RerankMaxChars {
			break
		}
	}
	b.WriteString("\nRespond with a JSON array of ids in relevance order and nothing else.")

	out, err := a.reranker.GenerateFor(ctx, "rerank", b.String(), 0, 256)
	if err != nil {
		a.logger.Debug("rerank failed, keeping fusion order", zap.Error(err))
		return hits
	}

	var ids []string
	if err := json.Unmarshal([]byte(stripFences(out)), &ids); err != nil {
		a.logger.Debug("rerank output unparsable, keeping fusion order", zap.Error(err))
		return hits
	}

	byID := make(map[string]models.RetrievalHit, len(hits))
	for _, h := range hits {
		byID[h.SourceID] = h
	}
	reordered := make([]models.RetrievalHit, 0, len(hits))
	for _, id := range ids {
		if h, ok := byID[id]; ok {
			reordered = append(reordered, h)
			delete(byID, id)
		}
	}
	if len(reordered) != len(hits) {
		a.logger.Debug("rerank ordering incomplete, keeping fusion order",
			zap.Int("got", len(reordered)), zap.Int("want", len(hits)))
		return hits
	}
	return reordered
}

func (a *Agent) cachedHits(ctx context.Context, key string) ([]models.RetrievalHit, bool) {
	if a.store == nil {
		return nil, false
	}
	data, ok := a.store.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var hits []models.RetrievalHit
	if err := json.Unmarshal(data, &hits); err != nil {
		a.logger.Warn("corrupt cached result, ignoring", zap.Error(err))
		return nil, false
	}
	return hits, true
}

func (a *Agent) storeHits(ctx context.Context, key string, hits []models.RetrievalHit) {
	if a.store == nil || len(hits) == 0 {
		return
	}
	data, err := json.Marshal(hits)
	if err != nil {
		return
	}
	ttl := a.cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	a.store.Set(ctx, key, data, ttl)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
