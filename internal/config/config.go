package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL         string `envconfig:"DATABASE_URL" required:"true"`
	DatabaseFallbackURL string `envconfig:"DATABASE_FALLBACK_URL" default:""`
	DBMinConns          int32  `envconfig:"TICKER_DB_MIN_CONNS" default:"1"`
	DBMaxConns          int32  `envconfig:"TICKER_DB_MAX_CONNS" default:"8"`

	DataDir string `envconfig:"DATA_DIR" default:"data"`

	SimilarityThreshold float64 `envconfig:"SIM_THRESHOLD" default:"0.70"`
	RetentionHours      int     `envconfig:"NEWS_TTL_HOURS" default:"36"`
	IntervalMin         float64 `envconfig:"INTERVAL_MIN" default:"2"`

	EmbedEndpoint  string `envconfig:"EMBED_ENDPOINT" default:"http://127.0.0.1:8844/embed"`
	EmbedModelName string `envconfig:"EMBED_MODEL_NAME" default:"all-MiniLM-L6-v2"`
	EmbedMaxLength int    `envconfig:"EMBED_MAX_LENGTH" default:"512"`
	EmbedBatchSize int    `envconfig:"EMBED_BATCH_SIZE" default:"32"`

	GenAIProvider string `envconfig:"GENAI_PROVIDER" default:""`
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel   string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GenAIEndpoint string `envconfig:"GENAI_ENDPOINT" default:""`
	GenAIModel    string `envconfig:"GENAI_MODEL" default:""`

	APIHost string `envconfig:"API_HOST" default:"0.0.0.0"`
	APIPort int    `envconfig:"PORT" default:"8000"`

	FrontendOrigin     string `envconfig:"FRONTEND_ORIGIN" default:"http://localhost:5173"`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("TICKER_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("TICKER_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("TICKER_DB_MIN_CONNS (%d) cannot exceed TICKER_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIM_THRESHOLD must be in (0, 1], got %g", c.SimilarityThreshold)
	}
	if c.RetentionHours < 1 {
		return fmt.Errorf("NEWS_TTL_HOURS must be >= 1")
	}
	if c.IntervalMin <= 0 {
		return fmt.Errorf("INTERVAL_MIN must be > 0")
	}
	if c.EmbedMaxLength < 1 {
		return fmt.Errorf("EMBED_MAX_LENGTH must be >= 1")
	}
	if c.EmbedBatchSize < 1 {
		return fmt.Errorf("EMBED_BATCH_SIZE must be >= 1")
	}
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("PORT must be in 1..65535, got %d", c.APIPort)
	}
	return nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
