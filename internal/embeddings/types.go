package embeddings

import "time"

// Config controls the embedding service behavior
type Config struct {
	// BaseURL points to the embedding provider's /embeddings endpoint
	BaseURL string
	// Model is the embedding model identifier used in cache keys and requests
	Model string
	// Timeout for outbound HTTP calls
	Timeout time.Duration
	// CacheTTL sets TTL for shared-cache embedding entries (long; default 24h)
	CacheTTL time.Duration
	// LocalTTL sets TTL for in-process LRU entries
	LocalTTL time.Duration
	// MaxLRU controls in-process LRU size
	MaxLRU int
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if c.LocalTTL == 0 {
		c.LocalTTL = 30 * time.Minute
	}
	if c.MaxLRU == 0 {
		c.MaxLRU = 2048
	}
	return c
}
