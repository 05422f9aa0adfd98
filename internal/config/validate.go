package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Fetcher.MaxAttempts < 1 {
		return fmt.Errorf("fetcher.max_attempts must be >= 1, got %d", cfg.Fetcher.MaxAttempts)
	}
	if cfg.Fetcher.RateLimitCooldown < 0 {
		return fmt.Errorf("fetcher.rate_limit_cooldown must be >= 0")
	}
	if cfg.Fetcher.BackoffInitial < 0 || cfg.Fetcher.BackoffStep < 0 {
		return fmt.Errorf("fetcher.backoff_initial and fetcher.backoff_step must be >= 0")
	}
	if cfg.Fetcher.RequestTimeout <= 0 {
		return fmt.Errorf("fetcher.request_timeout must be > 0")
	}
	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}

	if cfg.Crawl.CursorStallLimit < 0 {
		return fmt.Errorf("crawl.cursor_stall_limit must be >= 0, got %d", cfg.Crawl.CursorStallLimit)
	}
	if cfg.Crawl.MaxFollowDepth < 0 {
		return fmt.Errorf("crawl.max_follow_depth must be >= 0, got %d", cfg.Crawl.MaxFollowDepth)
	}
	if cfg.Crawl.MaxPayloadBytes < 0 {
		return fmt.Errorf("crawl.max_payload_bytes must be >= 0, got %d", cfg.Crawl.MaxPayloadBytes)
	}
	if cfg.Crawl.DefaultCeiling < 1 {
		return fmt.Errorf("crawl.default_ceiling must be >= 1, got %d", cfg.Crawl.DefaultCeiling)
	}
	for kind, ceiling := range cfg.Crawl.Ceilings {
		if ceiling < 1 {
			return fmt.Errorf("crawl.ceilings.%s must be >= 1, got %d", kind, ceiling)
		}
	}

	switch cfg.Storage.Type {
	case "sqlite":
	case "mongo":
		if !strings.HasPrefix(cfg.Storage.MongoURI, "mongodb://") && !strings.HasPrefix(cfg.Storage.MongoURI, "mongodb+srv://") {
			return fmt.Errorf("storage.mongo_uri must be a mongodb:// URI, got %q", cfg.Storage.MongoURI)
		}
		if cfg.Storage.MongoDatabase == "" {
			return fmt.Errorf("storage.mongo_database must be set")
		}
	default:
		return fmt.Errorf("storage.type %q is not supported (valid: sqlite, mongo)", cfg.Storage.Type)
	}
	if cfg.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must be set")
	}

	if cfg.Assets.MaxSizeMB < 0 {
		return fmt.Errorf("assets.max_size_mb must be >= 0")
	}
	if cfg.Assets.Enabled && cfg.Assets.MaxSizeMB*1024*1024 > cfg.Fetcher.MaxBodySize {
		return fmt.Errorf("assets.max_size_mb (%d MB) must not exceed fetcher.max_body_size (%d bytes)",
			cfg.Assets.MaxSizeMB, cfg.Fetcher.MaxBodySize)
	}
	if cfg.Twitter.PageSize < 1 {
		return fmt.Errorf("twitter.page_size must be >= 1, got %d", cfg.Twitter.PageSize)
	}
	if cfg.Twitter.TokenRefreshDelay < 0 {
		return fmt.Errorf("twitter.token_refresh_delay must be >= 0")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}
