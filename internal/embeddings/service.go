package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/medsearch-ai/orchestrator/internal/cache"
	"github.com/medsearch-ai/orchestrator/internal/circuitbreaker"
	ometrics "github.com/medsearch-ai/orchestrator/internal/metrics"
	"github.com/medsearch-ai/orchestrator/internal/tracing"
)

// Provider turns text into fixed-length vectors. Implementations must be safe
// for concurrent use.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// HTTPProvider calls an embedding service over HTTP JSON.
type HTTPProvider struct {
	baseURL string
	model   string
	http    *circuitbreaker.HTTPWrapper
}

// NewHTTPProvider creates an HTTP embedding provider with a circuit breaker.
func NewHTTPProvider(baseURL, model string, timeout time.Duration, logger *zap.Logger) *HTTPProvider {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	return &HTTPProvider{
		baseURL: baseURL,
		model:   model,
		http:    circuitbreaker.NewHTTPWrapper(client, "embeddings", logger),
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

func (p *HTTPProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	url := fmt.Sprintf("%s/embeddings/", p.baseURL)

	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	payload := embedRequest{Texts: texts, Model: p.model}
	buf, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(body))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, err
	}
	if len(er.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d embeddings for %d texts", len(er.Embeddings), len(texts))
	}

	out := make([][]float32, len(er.Embeddings))
	for i, emb := range er.Embeddings {
		v := make([]float32, len(emb))
		for j, f := range emb {
			v[j] = float32(f)
		}
		out[i] = v
	}
	return out, nil
}

// Service provides embedding generation with a two-tier cache: in-process LRU
// first, then the shared cache store, then the provider.
type Service struct {
	cfg      Config
	provider Provider
	cache    cache.Store
	lru      *LocalLRU
	logger   *zap.Logger
}

// NewService wires a provider with the shared cache. The cache may be nil,
// in which case only the LRU tier is used.
func NewService(cfg Config, provider Provider, store cache.Store, logger *zap.Logger) *Service {
	c := cfg.withDefaults()
	return &Service{
		cfg:      c,
		provider: provider,
		cache:    store,
		lru:      NewLocalLRU(c.MaxLRU),
		logger:   logger,
	}
}

// Model returns the configured embedding model identifier.
func (s *Service) Model() string { return s.cfg.Model }

// Embedding returns the vector for a single text, consulting the LRU and the
// shared cache before calling the provider. Provider results are written back
// to both tiers.
func (s *Service) Embedding(ctx context.Context, text string) ([]float32, error) {
	if s == nil || s.provider == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	key := cache.EmbeddingKey(s.cfg.Model, text)

	if v, ok := s.lru.Get(key); ok {
		ometrics.RecordEmbeddingMetrics(s.cfg.Model, "lru_hit", 0)
		return v, nil
	}
	if s.cache != nil {
		if b, ok := s.cache.Get(ctx, key); ok {
			if v, ok := DecodeVector(b); ok {
				s.lru.Set(key, v, s.cfg.LocalTTL)
				ometrics.RecordEmbeddingMetrics(s.cfg.Model, "cache_hit", 0)
				return v, nil
			}
		}
	}

	start := time.Now()
	vecs, err := s.provider.Embed(ctx, []string{text})
	if err != nil {
		ometrics.RecordEmbeddingMetrics(s.cfg.Model, "error", time.Since(start).Seconds())
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		ometrics.RecordEmbeddingMetrics(s.cfg.Model, "empty", time.Since(start).Seconds())
		return nil, fmt.Errorf("no embeddings returned")
	}
	ometrics.RecordEmbeddingMetrics(s.cfg.Model, "ok", time.Since(start).Seconds())

	s.lru.Set(key, vecs[0], s.cfg.LocalTTL)
	if s.cache != nil {
		s.cache.Set(ctx, key, EncodeVector(vecs[0]), s.cfg.CacheTTL)
	}
	return vecs[0], nil
}

// BatchEmbeddings returns vectors for multiple texts, fetching only uncached
// ones from the provider in a single batched call.
func (s *Service) BatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if s == nil || s.provider == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var uncached []string
	var uncachedIdx []int

	for i, text := range texts {
		key := cache.EmbeddingKey(s.cfg.Model, text)
		if v, ok := s.lru.Get(key); ok {
			results[i] = v
			ometrics.RecordEmbeddingMetrics(s.cfg.Model, "lru_hit", 0)
			continue
		}
		if s.cache != nil {
			if b, ok := s.cache.Get(ctx, key); ok {
				if v, ok := DecodeVector(b); ok {
					results[i] = v
					s.lru.Set(key, v, s.cfg.LocalTTL)
					ometrics.RecordEmbeddingMetrics(s.cfg.Model, "cache_hit", 0)
					continue
				}
			}
		}
		uncached = append(uncached, text)
		uncachedIdx = append(uncachedIdx, i)
	}

	if len(uncached) == 0 {
		return results, nil
	}

	start := time.Now()
	vecs, err := s.provider.Embed(ctx, uncached)
	if err != nil {
		ometrics.RecordEmbeddingMetrics(s.cfg.Model, "error", time.Since(start).Seconds())
		return nil, err
	}
	if len(vecs) != len(uncached) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(vecs), len(uncached))
	}
	ometrics.RecordEmbeddingMetrics(s.cfg.Model, "ok", time.Since(start).Seconds())

	for i, v := range vecs {
		idx := uncachedIdx[i]
		results[idx] = v
		key := cache.EmbeddingKey(s.cfg.Model, uncached[i])
		s.lru.Set(key, v, s.cfg.LocalTTL)
		if s.cache != nil {
			s.cache.Set(ctx, key, EncodeVector(v), s.cfg.CacheTTL)
		}
	}
	return results, nil
}
