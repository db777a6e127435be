package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        App        `mapstructure:"app"`
	Database   Database   `mapstructure:"database"`
	AI         AI         `mapstructure:"ai"`
	Cache      Cache      `mapstructure:"cache"`
	Clustering Clustering `mapstructure:"clustering"`
	Digest     Digest     `mapstructure:"digest"`
	Sources    Sources    `mapstructure:"sources"`
}

// App holds general application configuration
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// Database selects and configures the document store
type Database struct {
	Driver           string `mapstructure:"driver"` // postgres or sqlite
	ConnectionString string `mapstructure:"connection_string"`
	SQLitePath       string `mapstructure:"sqlite_path"`
}

// AI holds gateway configuration
type AI struct {
	Provider  string          `mapstructure:"provider"` // openai, gemini or anthropic
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Retry     RetryConfig     `mapstructure:"retry"`
}

// OpenAIConfig holds OpenAI configuration
type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Timeout     string  `mapstructure:"timeout"`
	MaxTokens   int64   `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Timeout     string  `mapstructure:"timeout"`
	MaxTokens   int32   `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`
}

// AnthropicConfig holds Anthropic configuration
type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	Timeout   string `mapstructure:"timeout"`
	MaxTokens int64  `mapstructure:"max_tokens"`
}

// EmbeddingConfig holds embedding model settings. Stories and keywords use
// separate models so their indexes stay independent.
type EmbeddingConfig struct {
	Provider          string `mapstructure:"provider"` // openai or gemini
	Model             string `mapstructure:"model"`
	Dimensions        int    `mapstructure:"dimensions"`
	KeywordModel      string `mapstructure:"keyword_model"`
	KeywordDimensions int    `mapstructure:"keyword_dimensions"`
}

// RetryConfig bounds every gateway call
type RetryConfig struct {
	MaxRetries int    `mapstructure:"max_retries"`
	Delay      string `mapstructure:"delay"`
}

// Cache holds the embedding cache configuration
type Cache struct {
	RedisURL     string `mapstructure:"redis_url"`
	EmbeddingTTL string `mapstructure:"embedding_ttl"`
}

// Clustering holds similarity search and topic assignment settings
type Clustering struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	BrowseThreshold     float64 `mapstructure:"browse_threshold"`
	KeywordThreshold    float64 `mapstructure:"keyword_threshold"`
	CandidatePool       int     `mapstructure:"candidate_pool"`
	ResultLimit         int     `mapstructure:"result_limit"`
	Strict              bool    `mapstructure:"strict"`
}

// Digest holds daily digest settings
type Digest struct {
	Window string `mapstructure:"window"`
}

// Sources lists the article record files consumed by a run
type Sources struct {
	Files []string `mapstructure:"files"`
}

var globalConfig *Config

// Load loads configuration from file, environment variables, and defaults
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".newsdigest")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}

func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.sqlite_path", ".newsdigest/newsdigest.db")

	viper.SetDefault("ai.provider", "openai")
	viper.SetDefault("ai.openai.model", "gpt-4o-mini")
	viper.SetDefault("ai.openai.timeout", "60s")
	viper.SetDefault("ai.openai.max_tokens", 2000)
	viper.SetDefault("ai.openai.temperature", 0.7)
	viper.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.gemini.timeout", "60s")
	viper.SetDefault("ai.gemini.max_tokens", 8192)
	viper.SetDefault("ai.gemini.temperature", 0.7)
	viper.SetDefault("ai.anthropic.model", "claude-haiku-4-5")
	viper.SetDefault("ai.anthropic.timeout", "60s")
	viper.SetDefault("ai.anthropic.max_tokens", 2048)

	viper.SetDefault("ai.embedding.provider", "openai")
	viper.SetDefault("ai.embedding.model", "text-embedding-3-small")
	viper.SetDefault("ai.embedding.dimensions", 512)
	viper.SetDefault("ai.embedding.keyword_model", "text-embedding-ada-002")
	viper.SetDefault("ai.embedding.keyword_dimensions", 1536)

	viper.SetDefault("ai.retry.max_retries", 2)
	viper.SetDefault("ai.retry.delay", "2s")

	viper.SetDefault("cache.embedding_ttl", "720h")

	viper.SetDefault("clustering.similarity_threshold", 0.9)
	viper.SetDefault("clustering.browse_threshold", 0.7)
	viper.SetDefault("clustering.keyword_threshold", 0.9)
	viper.SetDefault("clustering.candidate_pool", 100)
	viper.SetDefault("clustering.result_limit", 10)
	viper.SetDefault("clustering.strict", false)

	viper.SetDefault("digest.window", "24h")
}

// bindEnvironmentVariables binds conventional environment variable names to config keys
func bindEnvironmentVariables() {
	bindEnvKeys("ai.openai.api_key", []string{
		"OPENAI_API_KEY",
	})

	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("ai.anthropic.api_key", []string{
		"ANTHROPIC_API_KEY",
	})

	bindEnvKeys("database.connection_string", []string{
		"DATABASE_URL",
		"POSTGRES_URL",
	})

	bindEnvKeys("cache.redis_url", []string{
		"REDIS_URL",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"NEWSDIGEST_DEBUG",
	})

	bindEnvKeys("app.log_level", []string{
		"LOG_LEVEL",
	})
}

// bindEnvKeys sets the first non-empty environment variable as the config value
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

func postProcessConfig(config *Config) error {
	if config.Database.SQLitePath != "" {
		config.Database.SQLitePath = expandPath(config.Database.SQLitePath)
	}
	for i, file := range config.Sources.Files {
		config.Sources.Files[i] = expandPath(file)
	}

	if config.App.Debug {
		config.App.LogLevel = "debug"
	}

	durations := map[string]string{
		"ai.openai.timeout":    config.AI.OpenAI.Timeout,
		"ai.gemini.timeout":    config.AI.Gemini.Timeout,
		"ai.anthropic.timeout": config.AI.Anthropic.Timeout,
		"ai.retry.delay":       config.AI.Retry.Delay,
		"cache.embedding_ttl":  config.Cache.EmbeddingTTL,
		"digest.window":        config.Digest.Window,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	return nil
}

func validateConfig(config *Config) error {
	var errors []string

	switch config.Database.Driver {
	case "postgres", "sqlite":
	default:
		errors = append(errors, fmt.Sprintf("Unknown database driver: %s. Supported: postgres, sqlite", config.Database.Driver))
	}

	switch config.AI.Provider {
	case "openai", "gemini", "anthropic":
	default:
		errors = append(errors, fmt.Sprintf("Unknown AI provider: %s. Supported: openai, gemini, anthropic", config.AI.Provider))
	}

	switch config.AI.Embedding.Provider {
	case "openai", "gemini":
	default:
		errors = append(errors, fmt.Sprintf("Unknown embedding provider: %s. Supported: openai, gemini", config.AI.Embedding.Provider))
	}

	if config.AI.Embedding.Dimensions <= 0 || config.AI.Embedding.KeywordDimensions <= 0 {
		errors = append(errors, "Embedding dimensions must be positive")
	}

	thresholds := map[string]float64{
		"clustering.similarity_threshold": config.Clustering.SimilarityThreshold,
		"clustering.browse_threshold":     config.Clustering.BrowseThreshold,
		"clustering.keyword_threshold":    config.Clustering.KeywordThreshold,
	}
	for key, value := range thresholds {
		if value < 0 || value > 1 {
			errors = append(errors, fmt.Sprintf("%s must be between 0 and 1, got %v", key, value))
		}
	}

	if config.Clustering.ResultLimit <= 0 {
		errors = append(errors, "clustering.result_limit must be positive")
	}
	if config.Clustering.CandidatePool < config.Clustering.ResultLimit {
		errors = append(errors, "clustering.candidate_pool must be at least clustering.result_limit")
	}

	if config.AI.Retry.MaxRetries < 0 {
		errors = append(errors, "ai.retry.max_retries must not be negative")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// APIKey returns the key configured for the given provider.
func (a AI) APIKey(provider string) string {
	switch provider {
	case "openai":
		return a.OpenAI.APIKey
	case "gemini":
		return a.Gemini.APIKey
	case "anthropic":
		return a.Anthropic.APIKey
	}
	return ""
}

// Duration parses a validated duration string, returning fallback when empty.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}
