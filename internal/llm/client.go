package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	ometrics "github.com/medsearch-ai/orchestrator/internal/metrics"
)

// Generator is the text-generation provider contract. Temperature 0 must be
// deterministic enough for reranking and conflict detection.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error)
}

// Config controls the generation client
type Config struct {
	// BaseURL of an OpenAI-compatible chat completion API
	BaseURL string
	// APIKey; "none" works for local services without authentication
	APIKey string
	// Model identifier, e.g. gemini-2.0-flash or gpt-4o-mini behind a proxy
	Model string
	// RPM caps outbound requests per minute; 0 disables the limiter
	RPM int
}

// Client implements Generator over an OpenAI-compatible API.
type Client struct {
	model   llms.Model
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a generation client. The purpose label on each call feeds
// metrics, so callers should use GenerateFor for anything beyond answers.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model is required")
	}
	key := cfg.APIKey
	if key == "" {
		key = "none"
	}
	opts := []openai.Option{
		openai.WithToken(key),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: create client: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RPM > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RPM)), cfg.RPM)
	}
	return &Client{model: m, limiter: limiter, logger: logger}, nil
}

// Generate produces text for a prompt at the given temperature.
func (c *Client) Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	return c.GenerateFor(ctx, "answer", prompt, temperature, maxTokens)
}

// GenerateFor is Generate with an explicit purpose label for metrics
// (answer, rerank, conflict).
func (c *Client) GenerateFor(ctx context.Context, purpose, prompt string, temperature float64, maxTokens int) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	start := time.Now()
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(prompt)},
		},
	}

	resp, err := c.model.GenerateContent(ctx, content,
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(maxTokens),
	)
	if err != nil {
		ometrics.RecordGenerationMetrics(purpose, "error", time.Since(start).Seconds())
		return "", err
	}
	if len(resp.Choices) == 0 {
		ometrics.RecordGenerationMetrics(purpose, "empty", time.Since(start).Seconds())
		return "", fmt.Errorf("llm: no choices returned")
	}
	ometrics.RecordGenerationMetrics(purpose, "ok", time.Since(start).Seconds())
	return resp.Choices[0].Content, nil
}
