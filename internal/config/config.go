// Package config loads service configuration from a YAML file with
// environment overrides, and manages hot-reloadable tunable parameters.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration loaded at startup. Everything here
// is fixed for the life of the process; the knobs that may change at runtime
// live in Tunables.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Index      IndexConfig      `mapstructure:"index"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tunables   TunablesConfig   `mapstructure:"tunables"`
}

type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type IndexConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EmbeddingsConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type LLMConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	RPM     int    `mapstructure:"rpm"`
	Enabled bool   `mapstructure:"enabled"`
}

type WorkflowConfig struct {
	Deadline       time.Duration `mapstructure:"deadline"`
	AgentTimeout   time.Duration `mapstructure:"agent_timeout"`
	TopK           int           `mapstructure:"top_k"`
	RerankEnabled  bool          `mapstructure:"rerank_enabled"`
	RerankMaxChars int           `mapstructure:"rerank_max_chars"`
	ResultCacheTTL time.Duration `mapstructure:"result_cache_ttl"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TunablesConfig points at the tunables file watched for hot-reload.
type TunablesConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads configuration from MEDSEARCH_CONFIG (or config/medsearch.yaml)
// if the file exists, applies MEDSEARCH_* environment overrides, and fills in
// defaults. A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MEDSEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("MEDSEARCH_CONFIG")
	if path == "" {
		path = "config/medsearch.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8080)
	v.SetDefault("service.graceful_timeout", 15*time.Second)
	v.SetDefault("service.read_timeout", 30*time.Second)
	v.SetDefault("service.write_timeout", 60*time.Second)
	v.SetDefault("service.allowed_origins", []string{"*"})

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", true)

	v.SetDefault("index.base_url", "http://localhost:9200")
	v.SetDefault("index.timeout", 10*time.Second)

	v.SetDefault("embeddings.base_url", "http://localhost:8000")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.timeout", 10*time.Second)
	v.SetDefault("embeddings.cache_ttl", 24*time.Hour)

	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.rpm", 60)
	v.SetDefault("llm.enabled", true)

	v.SetDefault("workflow.deadline", 30*time.Second)
	v.SetDefault("workflow.agent_timeout", 10*time.Second)
	v.SetDefault("workflow.top_k", 10)
	v.SetDefault("workflow.rerank_enabled", false)
	v.SetDefault("workflow.rerank_max_chars", 4000)
	v.SetDefault("workflow.result_cache_ttl", 5*time.Minute)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("tunables.path", "")
}

func (c *Config) validate() error {
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid service port %d", c.Service.Port)
	}
	if c.Workflow.Deadline <= 0 {
		return fmt.Errorf("workflow deadline must be positive")
	}
	if c.Workflow.AgentTimeout <= 0 {
		return fmt.Errorf("agent timeout must be positive")
	}
	if c.Workflow.AgentTimeout > c.Workflow.Deadline {
		return fmt.Errorf("agent timeout %s exceeds workflow deadline %s", c.Workflow.AgentTimeout, c.Workflow.Deadline)
	}
	if c.Workflow.TopK <= 0 {
		return fmt.Errorf("top_k must be positive")
	}
	return nil
}
