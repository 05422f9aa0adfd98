package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Feed kinds with their own safety ceilings.
const (
	FeedSteamWorkshop    = "steam_workshop"
	FeedSteamScreenshots = "steam_screenshots"
	FeedSteamGuides      = "steam_guides"
	FeedSteamDiscussions = "steam_discussions"
	FeedTwitchChat       = "twitch_chat"
	FeedTwitterSearch    = "twitter_search"
)

// Config is the root configuration for pagearchive.
type Config struct {
	Fetcher FetcherConfig `mapstructure:"fetcher" yaml:"fetcher"`
	Crawl   CrawlConfig   `mapstructure:"crawl"   yaml:"crawl"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Assets  AssetsConfig  `mapstructure:"assets"  yaml:"assets"`
	Twitter TwitterConfig `mapstructure:"twitter" yaml:"twitter"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// FetcherConfig controls the transport and the retry state machine.
type FetcherConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"        yaml:"max_attempts"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown" yaml:"rate_limit_cooldown"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial"     yaml:"backoff_initial"`
	BackoffStep       time.Duration `mapstructure:"backoff_step"        yaml:"backoff_step"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"     yaml:"request_timeout"`
	IdleConnTimeout   time.Duration `mapstructure:"idle_conn_timeout"   yaml:"idle_conn_timeout"`
	MaxBodySize       int64         `mapstructure:"max_body_size"       yaml:"max_body_size"`
	TLSInsecure       bool          `mapstructure:"tls_insecure"        yaml:"tls_insecure"`
	UserAgent         string        `mapstructure:"user_agent"          yaml:"user_agent"`
}

// CrawlConfig controls pagination.
type CrawlConfig struct {
	CursorStallLimit int            `mapstructure:"cursor_stall_limit" yaml:"cursor_stall_limit"`
	CursorStallDelay time.Duration  `mapstructure:"cursor_stall_delay" yaml:"cursor_stall_delay"`
	MaxFollowDepth   int            `mapstructure:"max_follow_depth"   yaml:"max_follow_depth"`
	MaxPayloadBytes  int            `mapstructure:"max_payload_bytes"  yaml:"max_payload_bytes"`
	DefaultCeiling   int            `mapstructure:"default_ceiling"    yaml:"default_ceiling"`
	Ceilings         map[string]int `mapstructure:"ceilings"           yaml:"ceilings"`
}

// StorageConfig controls where records are persisted.
type StorageConfig struct {
	Type          string `mapstructure:"type"           yaml:"type"`
	DataDir       string `mapstructure:"data_dir"       yaml:"data_dir"`
	MongoURI      string `mapstructure:"mongo_uri"      yaml:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database" yaml:"mongo_database"`
}

// AssetsConfig controls binary asset downloads requested by extractors.
type AssetsConfig struct {
	Enabled   bool  `mapstructure:"enabled"     yaml:"enabled"`
	MaxSizeMB int64 `mapstructure:"max_size_mb" yaml:"max_size_mb"`
}

// TwitterConfig holds the public web-client credentials for the search API.
type TwitterConfig struct {
	BearerToken       string        `mapstructure:"bearer_token"        yaml:"bearer_token"`
	PageSize          int           `mapstructure:"page_size"           yaml:"page_size"`
	TokenRefreshDelay time.Duration `mapstructure:"token_refresh_delay" yaml:"token_refresh_delay"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// Ceiling returns the safety ceiling for a feed kind.
func (c CrawlConfig) Ceiling(kind string) int {
	if n, ok := c.Ceilings[kind]; ok && n > 0 {
		return n
	}
	return c.DefaultCeiling
}

// DefaultCeilings returns the per-feed page ceilings. They are large enough
// that a feed's own termination signal always fires first on real data.
func DefaultCeilings() map[string]int {
	return map[string]int{
		FeedSteamWorkshop:    8000,
		FeedSteamScreenshots: 10 * 1000,
		FeedSteamGuides:      500,
		FeedSteamDiscussions: 800,
		FeedTwitchChat:       100 * 1000,
		FeedTwitterSearch:    100 * 1000,
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Fetcher: FetcherConfig{
			MaxAttempts:       13,
			RateLimitCooldown: 5 * time.Second,
			BackoffInitial:    15 * time.Second,
			BackoffStep:       3 * time.Second,
			RequestTimeout:    50 * time.Second,
			IdleConnTimeout:   90 * time.Second,
			MaxBodySize:       256 * 1024 * 1024, // 256MB
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Crawl: CrawlConfig{
			CursorStallLimit: 20,
			CursorStallDelay: 200 * time.Millisecond,
			MaxFollowDepth:   2,
			MaxPayloadBytes:  16 * 1024 * 1024,
			DefaultCeiling:   10 * 1000,
			Ceilings:         DefaultCeilings(),
		},
		Storage: StorageConfig{
			Type:          "sqlite",
			DataDir:       "./data",
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "pagearchive",
		},
		Assets: AssetsConfig{
			Enabled:   true,
			MaxSizeMB: 256,
		},
		Twitter: TwitterConfig{
			BearerToken:       "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs=1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA",
			PageSize:          100,
			TokenRefreshDelay: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
