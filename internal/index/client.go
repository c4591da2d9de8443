package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/medsearch-ai/orchestrator/internal/circuitbreaker"
	ometrics "github.com/medsearch-ai/orchestrator/internal/metrics"
	"github.com/medsearch-ai/orchestrator/internal/models"
	"github.com/medsearch-ai/orchestrator/internal/tracing"
)

// Document is a raw hit from the index backend with a source-local score
// normalized to [0,1].
type Document struct {
	ID          string            `json:"id"`
	Score       float64           `json:"score"`
	Title       string            `json:"title"`
	Snippet     string            `json:"snippet"`
	Authors     []string          `json:"authors,omitempty"`
	Venue       string            `json:"venue,omitempty"`
	PublishedAt string            `json:"published_at,omitempty"`
	ExternalID  string            `json:"external_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Backend is the hybrid index contract: lexical (term-match) and vector
// (nearest-neighbor) search over a named collection.
type Backend interface {
	Lexical(ctx context.Context, collection, query string, f *models.Filters, topK int) ([]Document, error)
	Vector(ctx context.Context, collection string, vec []float32, f *models.Filters, topK int) ([]Document, error)
}

// Config controls the index client behavior
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is a minimal HTTP client for the index backend.
type Client struct {
	cfg  Config
	http *circuitbreaker.HTTPWrapper
	log  *zap.Logger
}

// NewClient creates an index backend client with a circuit breaker.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		cfg:  cfg,
		http: circuitbreaker.NewHTTPWrapper(httpClient, "index", logger),
		log:  logger,
	}
}

type searchRequest struct {
	Query  string         `json:"query,omitempty"`
	Vector []float32      `json:"vector,omitempty"`
	TopK   int            `json:"top_k"`
	Filter *searchFilters `json:"filter,omitempty"`
}

type searchFilters struct {
	YearFrom   int      `json:"year_from,omitempty"`
	YearTo     int      `json:"year_to,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}

type searchResponse struct {
	Hits []Document `json:"hits"`
}

// Lexical issues a term-match query against a collection.
func (c *Client) Lexical(ctx context.Context, collection, query string, f *models.Filters, topK int) ([]Document, error) {
	body := searchRequest{Query: query, TopK: topK, Filter: toFilters(f)}
	return c.search(ctx, collection, "lexical", body)
}

// Vector issues a nearest-neighbor query against a collection.
func (c *Client) Vector(ctx context.Context, collection string, vec []float32, f *models.Filters, topK int) ([]Document, error) {
	body := searchRequest{Vector: vec, TopK: topK, Filter: toFilters(f)}
	return c.search(ctx, collection, "vector", body)
}

func (c *Client) search(ctx context.Context, collection, mode string, body searchRequest) ([]Document, error) {
	if c == nil {
		return nil, fmt.Errorf("index client not initialized")
	}
	start := time.Now()
	url := fmt.Sprintf("%s/collections/%s/search/%s", c.cfg.BaseURL, collection, mode)

	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		ometrics.RecordIndexSearch(collection, mode, "error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		ometrics.RecordIndexSearch(collection, mode, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("index %s search on %s: status %d", mode, collection, resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		ometrics.RecordIndexSearch(collection, mode, "error", time.Since(start).Seconds())
		return nil, err
	}
	ometrics.RecordIndexSearch(collection, mode, "ok", time.Since(start).Seconds())

	// Fusion inputs must stay inside [0,1].
	for i := range sr.Hits {
		sr.Hits[i].Score = clamp01(sr.Hits[i].Score)
	}
	return sr.Hits, nil
}

func toFilters(f *models.Filters) *searchFilters {
	if f == nil {
		return nil
	}
	return &searchFilters{
		YearFrom:   f.YearFrom,
		YearTo:     f.YearTo,
		Categories: f.Categories,
		Sources:    f.Sources,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
