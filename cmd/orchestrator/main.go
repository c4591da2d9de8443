package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/medsearch-ai/orchestrator/internal/agent"
	"github.com/medsearch-ai/orchestrator/internal/analyzer"
	"github.com/medsearch-ai/orchestrator/internal/cache"
	"github.com/medsearch-ai/orchestrator/internal/config"
	"github.com/medsearch-ai/orchestrator/internal/embeddings"
	"github.com/medsearch-ai/orchestrator/internal/httpapi"
	"github.com/medsearch-ai/orchestrator/internal/index"
	"github.com/medsearch-ai/orchestrator/internal/llm"
	"github.com/medsearch-ai/orchestrator/internal/mockdata"
	"github.com/medsearch-ai/orchestrator/internal/streaming"
	"github.com/medsearch-ai/orchestrator/internal/synthesis"
	"github.com/medsearch-ai/orchestrator/internal/tracing"
	"github.com/medsearch-ai/orchestrator/internal/workflow"
)

// agentSpecs maps the routing names to their collections.
var agentSpecs = []struct {
	name       string
	collection string
}{
	{"research", "research_articles"},
	{"clinical", "clinical_trials"},
	{"drug", "drug_labels"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("tracing init failed, continuing without", zap.Error(err))
	}

	tunables, err := config.NewTunablesManager(cfg.Tunables.Path, logger)
	if err != nil {
		logger.Fatal("tunables", zap.Error(err))
	}
	defer tunables.Stop()

	// Shared Redis-backed cache; optional, everything degrades without it.
	var store cache.Store
	if cfg.Redis.Enabled {
		rs, err := cache.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, 0, logger)
		if err != nil {
			logger.Warn("redis unavailable, running without shared cache", zap.Error(err))
		} else {
			defer rs.Close()
			store = rs
		}
	}

	embedder := embeddings.NewService(embeddings.Config{
		BaseURL:  cfg.Embeddings.BaseURL,
		Model:    cfg.Embeddings.Model,
		Timeout:  cfg.Embeddings.Timeout,
		CacheTTL: cfg.Embeddings.CacheTTL,
	}, embeddings.NewHTTPProvider(cfg.Embeddings.BaseURL, cfg.Embeddings.Model, cfg.Embeddings.Timeout, logger), store, logger)

	backend := index.NewClient(index.Config{
		BaseURL: cfg.Index.BaseURL,
		Timeout: cfg.Index.Timeout,
	}, logger)

	var generator *llm.Client
	if cfg.LLM.Enabled {
		generator, err = llm.NewClient(llm.Config{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			RPM:     cfg.LLM.RPM,
		}, logger)
		if err != nil {
			logger.Warn("llm client unavailable, using templated answers", zap.Error(err))
			generator = nil
		}
	}

	fallback := mockdata.New()
	agents := make([]workflow.SearchAgent, 0, len(agentSpecs))
	for _, spec := range agentSpecs {
		var reranker agent.Reranker
		if generator != nil {
			reranker = generator
		}
		agents = append(agents, agent.New(agent.Config{
			Name:           spec.name,
			Collection:     spec.collection,
			TopK:           cfg.Workflow.TopK,
			RerankEnabled:  cfg.Workflow.RerankEnabled,
			RerankMaxChars: cfg.Workflow.RerankMaxChars,
			CacheTTL:       cfg.Workflow.ResultCacheTTL,
		}, embedder, backend, store, reranker, fallback, tunables, logger))
	}

	var checkpoints workflow.CheckpointStore
	if store != nil {
		checkpoints = workflow.NewRedisCheckpointStore(store, 0)
	} else {
		checkpoints = workflow.NewMemoryCheckpointStore()
	}

	stream := streaming.NewManager(256)
	var gen synthesis.Generator
	if generator != nil {
		gen = generator
	}
	synth := synthesis.New(gen, tunables, logger)

	engine := workflow.NewEngine(workflow.Config{
		Deadline:     cfg.Workflow.Deadline,
		AgentTimeout: cfg.Workflow.AgentTimeout,
	}, analyzer.New(logger), agents, synth, checkpoints, stream, fallback, logger)

	api := httpapi.NewServer(engine, stream, cfg.Service.AllowedOrigins, logger)
	if rs, ok := store.(*cache.RedisStore); ok {
		api.AddHealthCheck("redis", rs.Ping)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", api.Handler())

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Service.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Service.ReadTimeout,
		WriteTimeout: cfg.Service.WriteTimeout,
	}

	go func() {
		logger.Info("orchestrator listening", zap.Int("port", cfg.Service.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if lc.Level != "" {
		lvl, err := zap.ParseAtomicLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	return zc.Build()
}
