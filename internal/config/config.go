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
	DBMinConns  int32  `envconfig:"KANON_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"KANON_DB_MAX_CONNS" default:"8"`

	RedisAddr    string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisChannel string `envconfig:"REDIS_CHANNEL" default:"kanon.series"`

	ProviderBaseURL  string        `envconfig:"PROVIDER_BASE_URL" default:"https://api.mangadex.org"`
	ProviderName     string        `envconfig:"PROVIDER_NAME" default:"mangadex"`
	ProviderTimeout  time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"15s"`
	ProviderCacheTTL time.Duration `envconfig:"PROVIDER_CACHE_TTL" default:"90s"`

	// Review policy knobs (configurable constants, not hard-coded strings).
	ReviewMinConfidence float64 `envconfig:"REVIEW_MIN_CONFIDENCE" default:"0.92"`
	YearDriftTolerance  int     `envconfig:"YEAR_DRIFT_TOLERANCE" default:"2"`

	// Serializable-transaction conflict retry.
	TxMaxAttempts int           `envconfig:"TX_MAX_ATTEMPTS" default:"4"`
	TxBackoffBase time.Duration `envconfig:"TX_BACKOFF_BASE" default:"50ms"`
	TxBackoffMax  time.Duration `envconfig:"TX_BACKOFF_MAX" default:"1s"`

	// Recovery scheduling for unresolved references.
	RecoveryBaseDelay time.Duration `envconfig:"RECOVERY_BASE_DELAY" default:"15m"`
	RecoveryMaxDelay  time.Duration `envconfig:"RECOVERY_MAX_DELAY" default:"24h"`
	MaxResolveRetries int           `envconfig:"MAX_RESOLVE_RETRIES" default:"8"`

	TitleLockTTL time.Duration `envconfig:"TITLE_LOCK_TTL" default:"30s"`

	WorkerPollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"2s"`
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
		return fmt.Errorf("KANON_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("KANON_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("KANON_DB_MIN_CONNS (%d) cannot exceed KANON_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.TrimSpace(c.ProviderBaseURL) == "" {
		return fmt.Errorf("PROVIDER_BASE_URL is required")
	}
	if strings.TrimSpace(c.ProviderName) == "" {
		return fmt.Errorf("PROVIDER_NAME is required")
	}
	if c.ReviewMinConfidence <= 0 || c.ReviewMinConfidence > 1 {
		return fmt.Errorf("REVIEW_MIN_CONFIDENCE must be in (0, 1]")
	}
	if c.YearDriftTolerance < 0 {
		return fmt.Errorf("YEAR_DRIFT_TOLERANCE must be >= 0")
	}
	if c.TxMaxAttempts < 1 {
		return fmt.Errorf("TX_MAX_ATTEMPTS must be >= 1")
	}
	if c.RecoveryBaseDelay <= 0 || c.RecoveryMaxDelay < c.RecoveryBaseDelay {
		return fmt.Errorf("recovery delays must satisfy 0 < RECOVERY_BASE_DELAY <= RECOVERY_MAX_DELAY")
	}
	if c.MaxResolveRetries < 1 {
		return fmt.Errorf("MAX_RESOLVE_RETRIES must be >= 1")
	}
	if c.TitleLockTTL <= 0 {
		return fmt.Errorf("TITLE_LOCK_TTL must be > 0")
	}
	return nil
}
