package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and defaults.
// Priority (highest to lowest): env vars > config file > defaults.
// CLI flags are applied on top by the caller.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("PAGEARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pagearchive")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".pagearchive"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("fetcher.max_attempts", cfg.Fetcher.MaxAttempts)
	v.SetDefault("fetcher.rate_limit_cooldown", cfg.Fetcher.RateLimitCooldown)
	v.SetDefault("fetcher.backoff_initial", cfg.Fetcher.BackoffInitial)
	v.SetDefault("fetcher.backoff_step", cfg.Fetcher.BackoffStep)
	v.SetDefault("fetcher.request_timeout", cfg.Fetcher.RequestTimeout)
	v.SetDefault("fetcher.idle_conn_timeout", cfg.Fetcher.IdleConnTimeout)
	v.SetDefault("fetcher.max_body_size", cfg.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.tls_insecure", cfg.Fetcher.TLSInsecure)
	v.SetDefault("fetcher.user_agent", cfg.Fetcher.UserAgent)

	v.SetDefault("crawl.cursor_stall_limit", cfg.Crawl.CursorStallLimit)
	v.SetDefault("crawl.cursor_stall_delay", cfg.Crawl.CursorStallDelay)
	v.SetDefault("crawl.max_follow_depth", cfg.Crawl.MaxFollowDepth)
	v.SetDefault("crawl.max_payload_bytes", cfg.Crawl.MaxPayloadBytes)
	v.SetDefault("crawl.default_ceiling", cfg.Crawl.DefaultCeiling)
	for kind, ceiling := range cfg.Crawl.Ceilings {
		v.SetDefault("crawl.ceilings."+kind, ceiling)
	}

	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
	v.SetDefault("storage.mongo_uri", cfg.Storage.MongoURI)
	v.SetDefault("storage.mongo_database", cfg.Storage.MongoDatabase)

	v.SetDefault("assets.enabled", cfg.Assets.Enabled)
	v.SetDefault("assets.max_size_mb", cfg.Assets.MaxSizeMB)

	v.SetDefault("twitter.bearer_token", cfg.Twitter.BearerToken)
	v.SetDefault("twitter.page_size", cfg.Twitter.PageSize)
	v.SetDefault("twitter.token_refresh_delay", cfg.Twitter.TokenRefreshDelay)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
