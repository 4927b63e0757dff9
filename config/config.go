package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds the application's configuration
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`
	WebPort  int    `mapstructure:"WEB_PORT"`

	AIAPIKey              string  `mapstructure:"AI_API_KEY"`
	AIBaseURL             string  `mapstructure:"AI_BASE_URL"`
	AIModel               string  `mapstructure:"AI_MODEL"`
	AITemperature         float64 `mapstructure:"AI_TEMPERATURE"`
	MaxRetries            int     `mapstructure:"AI_MAX_RETRIES"`
	RetryBackoffMS        int     `mapstructure:"AI_RETRY_BACKOFF_MS"`
	RequestTimeoutSeconds int     `mapstructure:"AI_REQUEST_TIMEOUT_SECONDS"`
	StreamMaxSeconds      int     `mapstructure:"AI_STREAM_MAX_SECONDS"`
	WebSearchEnabled      bool    `mapstructure:"AI_WEB_SEARCH_ENABLED"`

	// Derived from the integer keys above.
	RetryBackoff      time.Duration `mapstructure:"-"`
	LLMRequestTimeout time.Duration `mapstructure:"-"`
	StreamMaxDuration time.Duration `mapstructure:"-"`

	WebSearchConfidence      float64 `mapstructure:"WEB_SEARCH_CONFIDENCE"`
	FallbackMarkerConfidence float64 `mapstructure:"FALLBACK_MARKER_CONFIDENCE"`

	CatalogPath            string `mapstructure:"CATALOG_PATH"`
	HistoryMaxItems        int    `mapstructure:"HISTORY_MAX_ITEMS"`
	HistoryItemMaxChars    int    `mapstructure:"HISTORY_ITEM_MAX_CHARS"`
	ContextMaxChars        int    `mapstructure:"CONTEXT_MAX_CHARS"`
	ArtifactCandidateLimit int    `mapstructure:"ARTIFACT_CANDIDATE_LIMIT"`
	MuseumCandidateLimit   int    `mapstructure:"MUSEUM_CANDIDATE_LIMIT"`

	MaxBodyBytes     int64  `mapstructure:"MAX_BODY_BYTES"`
	RateLimitPerMin  int    `mapstructure:"RATE_LIMIT_PER_MIN"`
	RateLimitBurst   int    `mapstructure:"RATE_LIMIT_BURST"`
	RateLimitClients int    `mapstructure:"RATE_LIMIT_CLIENTS"`
	AllowedOrigin    string `mapstructure:"ALLOWED_ORIGIN"`
}

// HasAPIKey reports whether upstream credentials are present.
func (c *Config) HasAPIKey() bool {
	return strings.TrimSpace(c.AIAPIKey) != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("WEB_PORT", 8787)
	v.SetDefault("AI_API_KEY", "")
	v.SetDefault("AI_BASE_URL", "https://open.bigmodel.cn/api/paas/v4")
	v.SetDefault("AI_MODEL", "glm-4-flash")
	v.SetDefault("AI_TEMPERATURE", 0.4)
	v.SetDefault("AI_MAX_RETRIES", 3)
	v.SetDefault("AI_RETRY_BACKOFF_MS", 600)
	v.SetDefault("AI_REQUEST_TIMEOUT_SECONDS", 45)
	v.SetDefault("AI_STREAM_MAX_SECONDS", 180)
	v.SetDefault("AI_WEB_SEARCH_ENABLED", true)
	v.SetDefault("WEB_SEARCH_CONFIDENCE", 60)
	v.SetDefault("FALLBACK_MARKER_CONFIDENCE", 45)
	v.SetDefault("CATALOG_PATH", "data/artifacts.json")
	v.SetDefault("HISTORY_MAX_ITEMS", 8)
	v.SetDefault("HISTORY_ITEM_MAX_CHARS", 600)
	v.SetDefault("CONTEXT_MAX_CHARS", 6000)
	v.SetDefault("ARTIFACT_CANDIDATE_LIMIT", 10)
	v.SetDefault("MUSEUM_CANDIDATE_LIMIT", 6)
	v.SetDefault("MAX_BODY_BYTES", 8<<20)
	v.SetDefault("RATE_LIMIT_PER_MIN", 30)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("RATE_LIMIT_CLIENTS", 4096)
	v.SetDefault("ALLOWED_ORIGIN", "*")
}

// Load reads config.yaml (if any) and environment variables.
func Load(logger *zap.Logger) *Config {
	var config Config
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")        // For running locally
	v.AddConfigPath("../")      // For running from docker subdir
	v.AddConfigPath("./config") // Common config folder
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if logger != nil {
			logger.Warn("Could not read config file, using defaults/env vars", zap.Error(err))
		}
	}

	if err := v.Unmarshal(&config); err != nil {
		// Config unmarshaling is critical - fail fast during bootstrap
		if logger != nil {
			logger.Fatal("Unable to decode config into struct", zap.Error(err))
		} else {
			fmt.Fprintf(os.Stderr, "FATAL: Unable to decode config into struct: %v\n", err)
			os.Exit(1)
		}
	}

	config.normalize()
	return &config
}

// normalize converts raw integer durations and clamps values that would
// otherwise disable the pipeline.
func (c *Config) normalize() {
	c.AIAPIKey = strings.TrimSpace(c.AIAPIKey)
	c.AIBaseURL = strings.TrimRight(strings.TrimSpace(c.AIBaseURL), "/")

	// Convert milliseconds/seconds to proper time.Duration
	if c.RetryBackoffMS < 0 {
		c.RetryBackoffMS = 0
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 45
	}
	if c.StreamMaxSeconds < c.RequestTimeoutSeconds {
		c.StreamMaxSeconds = max(180, c.RequestTimeoutSeconds)
	}
	c.RetryBackoff = time.Duration(c.RetryBackoffMS) * time.Millisecond
	c.LLMRequestTimeout = time.Duration(c.RequestTimeoutSeconds) * time.Second
	c.StreamMaxDuration = time.Duration(c.StreamMaxSeconds) * time.Second

	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	if c.HistoryMaxItems < 0 {
		c.HistoryMaxItems = 0
	}
	if c.ContextMaxChars <= 0 {
		c.ContextMaxChars = 6000
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 8 << 20
	}
}

// Default returns a configuration populated with defaults only. Used by
// tests and by callers that never touch the filesystem.
func Default() *Config {
	var config Config
	v := viper.New()
	setDefaults(v)
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("decode default config: %v", err))
	}
	config.normalize()
	return &config
}
