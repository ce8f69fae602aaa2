package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"UPKEEP_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"UPKEEP_DB_MAX_CONNS" default:"8"`

	RedisURL     string        `envconfig:"REDIS_URL" default:""`
	MergeLockTTL time.Duration `envconfig:"MERGE_LOCK_TTL" default:"2m"`

	TitleSimilarityThreshold float64 `envconfig:"TITLE_SIMILARITY_THRESHOLD" default:"0.85"`

	AdminTokenHash     string `envconfig:"ADMIN_TOKEN_HASH" default:""`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`

	ReaderTimeout   time.Duration `envconfig:"READER_TIMEOUT" default:"12s"`
	ReaderUserAgent string        `envconfig:"READER_USER_AGENT" default:""`
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
		return fmt.Errorf("UPKEEP_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("UPKEEP_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("UPKEEP_DB_MIN_CONNS (%d) cannot exceed UPKEEP_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.TitleSimilarityThreshold <= 0 || c.TitleSimilarityThreshold > 1 {
		return fmt.Errorf("TITLE_SIMILARITY_THRESHOLD must be in (0, 1]")
	}
	if strings.TrimSpace(c.RedisURL) != "" && c.MergeLockTTL < time.Second {
		return fmt.Errorf("MERGE_LOCK_TTL must be >= 1s when REDIS_URL is set")
	}
	if c.ReaderTimeout < 0 {
		return fmt.Errorf("READER_TIMEOUT must be >= 0")
	}
	return nil
}

// AuthEnabled reports whether mutating API routes require an admin token.
func (c *Config) AuthEnabled() bool {
	return c != nil && strings.TrimSpace(c.AdminTokenHash) != ""
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
