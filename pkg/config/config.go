package config

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Logging   LoggingConfig
	Mapping   MappingConfig
	Anthropic AnthropicConfig
}

type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

type MappingConfig struct {
	MinConfidence    float64
	AutoMapThreshold float64
	// RulesPath points to an external matching-rules YAML file; empty means
	// the embedded default table.
	RulesPath             string
	OutputFilenamePattern string
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real environment variables
// win over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Mapping: MappingConfig{
			MinConfidence:         getEnvAsFloat("MIN_CONFIDENCE", 0.30),
			AutoMapThreshold:      getEnvAsFloat("AUTO_MAP_THRESHOLD", 0.70),
			RulesPath:             getEnv("MATCHING_RULES_PATH", ""),
			OutputFilenamePattern: getEnv("OUTPUT_FILENAME_PATTERN", "{template_name}_mapped.xlsx"),
		},
		Anthropic: AnthropicConfig{
			APIKey: getEnv("ANTHROPIC_API_KEY", ""),
			Model:  getEnv("ANTHROPIC_MODEL", ""),
		},
	}

	return cfg, nil
}

// SlogLevel maps the configured level name onto slog's leveler.
func (c LoggingConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}
