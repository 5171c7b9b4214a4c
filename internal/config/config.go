// Package config defines the top-level configuration for the copy-trading
// replicator and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYCOPY_* environment variables.
type Config struct {
	Wallet      WalletConfig      `toml:"wallet"`
	Polymarket  PolymarketConfig  `toml:"polymarket"`
	Goldsky     GoldskyConfig     `toml:"goldsky"`
	Replication ReplicationConfig `toml:"replication"`
	Execution   ExecutionConfig   `toml:"execution"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// WalletConfig holds the follower wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	ProxyAddress     string `toml:"proxy_address"` // Polymarket proxy/Safe funder address
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// GoldskyConfig holds the subgraph endpoint serving on-chain fill events.
type GoldskyConfig struct {
	GraphqlURL string `toml:"graphql_url"`
	ApiKey     string `toml:"api_key"`
}

// ReplicationConfig holds the trade-replication pipeline parameters.
type ReplicationConfig struct {
	// TargetActorAddress is the wallet whose fills are replicated. Compared
	// case-insensitively against event maker/taker addresses.
	TargetActorAddress string `toml:"target_actor_address"`

	// FeedSource selects the fill feed adapter: "goldsky" or "websocket".
	FeedSource string `toml:"feed_source"`

	// FetchIntervalSec is the poll interval for the goldsky feed.
	FetchIntervalSec int `toml:"fetch_interval_sec"`

	// MaxTradeAgeSec drops trades older than this at ingestion time.
	MaxTradeAgeSec int `toml:"max_trade_age_sec"`

	// CopyRatio scales the observed size; must be in (0, 1].
	CopyRatio float64 `toml:"copy_ratio"`

	// RetryLimit bounds retries per order; a failing order makes at most
	// retry_limit retries after the initial attempt.
	RetryLimit int `toml:"retry_limit"`

	// BackoffIntervalMs is the wait between execution retries.
	BackoffIntervalMs int `toml:"backoff_interval_ms"`

	// MinOrderSize is the venue's minimum tradable size; scaled orders below
	// it fail immediately with reason below_minimum_size.
	MinOrderSize float64 `toml:"min_order_size"`

	// TickSize snaps submitted prices to the venue price grid.
	TickSize float64 `toml:"tick_size"`
}

// FetchInterval returns the goldsky poll interval as a duration.
func (r ReplicationConfig) FetchInterval() time.Duration {
	return time.Duration(r.FetchIntervalSec) * time.Second
}

// MaxTradeAge returns the staleness horizon as a duration.
func (r ReplicationConfig) MaxTradeAge() time.Duration {
	return time.Duration(r.MaxTradeAgeSec) * time.Second
}

// BackoffInterval returns the retry backoff as a duration.
func (r ReplicationConfig) BackoffInterval() time.Duration {
	return time.Duration(r.BackoffIntervalMs) * time.Millisecond
}

// ExecutionConfig holds order-submission parameters.
type ExecutionConfig struct {
	// Simulated selects the no-op executor: orders are logged and confirmed
	// without touching the venue. Chosen at construction time.
	Simulated bool `toml:"simulated"`

	// RateLimitPerSec caps order submissions per second (0 disables).
	RateLimitPerSec int `toml:"rate_limit_per_sec"`
}

// PostgresConfig holds ledger database connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the raw-fill
// archive. Archival is disabled when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns the built-in configuration defaults. Load merges the TOML
// file and environment overrides on top of these.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 1,
		},
		Goldsky: GoldskyConfig{
			GraphqlURL: "https://api.goldsky.com/api/public/project_cl6mb8i9h0003e201j6li0diw/subgraphs/polymarket-orderbook-resync/prod/gn",
		},
		Replication: ReplicationConfig{
			FeedSource:        "goldsky",
			FetchIntervalSec:  1,
			MaxTradeAgeSec:    300,
			CopyRatio:         0.2,
			RetryLimit:        3,
			BackoffIntervalMs: 1000,
			MinOrderSize:      5.0,
			TickSize:          0.001,
		},
		Execution: ExecutionConfig{
			Simulated:       false,
			RateLimitPerSec: 5,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polycopy",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Mode:     "replicate",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"replicate": true,
	"monitor":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validFeedSources = map[string]bool{
	"goldsky":   true,
	"websocket": true,
}

// Validate checks the configuration for internal consistency. It collects
// every problem rather than stopping at the first, so operators can fix a
// broken config in one pass.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: replicate, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Replication parameters.
	r := c.Replication
	if r.TargetActorAddress == "" {
		errs = append(errs, "replication: target_actor_address must not be empty")
	}
	if !validFeedSources[strings.ToLower(r.FeedSource)] {
		errs = append(errs, fmt.Sprintf("replication: unknown feed_source %q (valid: goldsky, websocket)", r.FeedSource))
	}
	if r.FetchIntervalSec <= 0 {
		errs = append(errs, "replication: fetch_interval_sec must be positive")
	}
	if r.MaxTradeAgeSec <= 0 {
		errs = append(errs, "replication: max_trade_age_sec must be positive")
	}
	if r.CopyRatio <= 0 || r.CopyRatio > 1 {
		errs = append(errs, fmt.Sprintf("replication: copy_ratio must be in (0, 1], got %g", r.CopyRatio))
	}
	if r.RetryLimit < 0 {
		errs = append(errs, "replication: retry_limit must be >= 0")
	}
	if r.BackoffIntervalMs <= 0 {
		errs = append(errs, "replication: backoff_interval_ms must be positive")
	}
	if r.MinOrderSize < 0 {
		errs = append(errs, "replication: min_order_size must be >= 0")
	}
	if r.TickSize <= 0 {
		errs = append(errs, "replication: tick_size must be positive")
	}

	// Wallet: live execution needs a signing key.
	if c.Mode == "replicate" && !c.Execution.Simulated {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for live execution")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Polymarket endpoints.
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if strings.ToLower(r.FeedSource) == "websocket" && c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty for the websocket feed")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0 (EOA), 1 (proxy), or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}

	// API creds: all three fields set together, or all empty (then derived).
	ak := c.Polymarket.ApiKey != ""
	as := c.Polymarket.ApiSecret != ""
	ap := c.Polymarket.ApiPassphrase != ""
	if (ak || as || ap) && !(ak && as && ap) {
		errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
	}

	// Goldsky feed.
	if strings.ToLower(r.FeedSource) == "goldsky" && c.Goldsky.GraphqlURL == "" {
		errs = append(errs, "goldsky: graphql_url must not be empty for the goldsky feed")
	}

	// Postgres: the ledger is required in replicate mode.
	if c.Mode == "replicate" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
	}

	// S3: when a bucket is set, the rest must be usable.
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty when a bucket is configured")
	}

	// Notify: token and chat ID go together.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if (tt || tc) && !(tt && tc) {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must both be set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
