package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Chroma    ChromaConfig    `yaml:"chroma" mapstructure:"chroma"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. Driver is "sqlite" or
// "postgres"; Path is only used by sqlite, DatabaseURL only by postgres.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	HaikuModel        string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel       string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxDraftTokens    int    `yaml:"max_draft_tokens" mapstructure:"max_draft_tokens"`
}

// ChromaConfig holds vector store settings.
type ChromaConfig struct {
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	Collection string `yaml:"collection" mapstructure:"collection"`
}

// EmbeddingConfig holds embedding engine settings.
type EmbeddingConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// PipelineConfig configures reconciliation behavior.
type PipelineConfig struct {
	SuborderCandidates    int `yaml:"suborder_candidates" mapstructure:"suborder_candidates"`
	AlternativeCandidates int `yaml:"alternative_candidates" mapstructure:"alternative_candidates"`
	FallbackCandidates    int `yaml:"fallback_candidates" mapstructure:"fallback_candidates"`
	InquiryCandidates     int `yaml:"inquiry_candidates" mapstructure:"inquiry_candidates"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ORDERDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "orderdesk.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.requests_per_minute", 50)
	v.SetDefault("anthropic.max_draft_tokens", 1024)
	v.SetDefault("chroma.base_url", "http://localhost:8000")
	v.SetDefault("chroma.collection", "products_data")
	v.SetDefault("embedding.model", "gemini-embedding-001")
	v.SetDefault("pipeline.suborder_candidates", 3)
	v.SetDefault("pipeline.alternative_candidates", 5)
	v.SetDefault("pipeline.fallback_candidates", 5)
	v.SetDefault("pipeline.inquiry_candidates", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
