// Package config defines the top-level configuration for the settlement
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/pipeline"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PARIMUTUEL_* environment variables.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Market   MarketConfig   `toml:"market"`
	Signer   SignerConfig   `toml:"signer"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// StorageConfig selects the journal backend.
type StorageConfig struct {
	// Backend is "memory" or "postgres". The memory backend loses every
	// market on restart and is meant for development.
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters. An empty Addr runs without
// Redis, using in-process locks, cache, bus and rate limiter.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	CacheTTL     duration `toml:"cache_ttl"`
	StreamMaxLen int      `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters. An empty Bucket
// disables archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// MarketConfig holds engine defaults and lifecycle settings.
type MarketConfig struct {
	DefaultFeeBps          int64    `toml:"default_fee_bps"`
	MinBet                 int64    `toml:"min_bet"`
	MaxBet                 int64    `toml:"max_bet"`
	MaxStakePerParticipant int64    `toml:"max_stake_per_participant"`
	AutoSettle             bool     `toml:"auto_settle"`
	SweepInterval          duration `toml:"sweep_interval"`
	VoidGrace              duration `toml:"void_grace"`
	PublishBuffer          int      `toml:"publish_buffer"`
	RestoreConcurrency     int      `toml:"restore_concurrency"`
}

// SignerConfig holds the operator key used to sign payout vouchers. With
// neither PrivateKey nor KeyFile set, vouchers are not issued.
type SignerConfig struct {
	PrivateKey string `toml:"private_key"`
	KeyFile    string `toml:"key_file"`
	Password   string `toml:"password"`
	ChainID    int64  `toml:"chain_id"`
}

// ArchiveConfig schedules journal archival to S3.
type ArchiveConfig struct {
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	APIKey         string   `toml:"api_key"`
	RateLimit      int      `toml:"rate_limit"`
	RateWindow     duration `toml:"rate_window"`
	AmountDecimals int32    `toml:"amount_decimals"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "parimutuel",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "parimutuel",
			CacheTTL:     duration{24 * time.Hour},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Market: MarketConfig{
			DefaultFeeBps:      0,
			MinBet:             1,
			AutoSettle:         true,
			SweepInterval:      duration{30 * time.Second},
			VoidGrace:          duration{72 * time.Hour},
			PublishBuffer:      1024,
			RestoreConcurrency: 8,
		},
		Signer: SignerConfig{ChainID: 1},
		Archive: ArchiveConfig{
			Cron:          "0 3 * * *",
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:      600,
			RateWindow:     duration{time.Minute},
			AmountDecimals: 2,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var eventKinds = map[string]bool{
	string(domain.EventMarketCreated):        true,
	string(domain.EventBetPlaced):            true,
	string(domain.EventMarketLocked):         true,
	string(domain.EventMarketResolved):       true,
	string(domain.EventMarketVoided):         true,
	string(domain.EventSettlementAuthorized): true,
	string(domain.EventWithdrawal):           true,
	string(domain.EventFeeClaimed):           true,
	string(domain.EventMarketHalted):         true,
	string(domain.EventMarketResumed):        true,
}

// ArchiveEnabled reports whether settled journals are archived to S3.
func (c *Config) ArchiveEnabled() bool {
	return c.S3.Bucket != "" && c.Storage.Backend == "postgres"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	switch c.Storage.Backend {
	case "memory":
		if mode == "worker" {
			errs = append(errs, "storage: worker mode needs the postgres backend")
		}
	case "postgres":
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: memory, postgres)", c.Storage.Backend))
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Market
	if c.Market.DefaultFeeBps < 0 || c.Market.DefaultFeeBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("market: default_fee_bps must be in [0, 10000), got %d", c.Market.DefaultFeeBps))
	}
	if c.Market.MinBet < 1 {
		errs = append(errs, "market: min_bet must be >= 1")
	}
	if c.Market.MaxBet != 0 && c.Market.MaxBet <= c.Market.MinBet {
		errs = append(errs, "market: max_bet must exceed min_bet when set")
	}
	if c.Market.MaxStakePerParticipant < 0 {
		errs = append(errs, "market: max_stake_per_participant must be >= 0")
	}
	if c.Market.SweepInterval.Duration <= 0 {
		errs = append(errs, "market: sweep_interval must be positive")
	}
	if c.Market.VoidGrace.Duration < 0 {
		errs = append(errs, "market: void_grace must be >= 0")
	}

	// Signer
	if c.Signer.KeyFile != "" && c.Signer.Password == "" {
		errs = append(errs, "signer: password is required when key_file is set")
	}
	if c.Signer.ChainID <= 0 {
		errs = append(errs, "signer: chain_id must be positive")
	}

	// S3 / archive
	if mode == "worker" && c.S3.Bucket == "" {
		errs = append(errs, "s3: worker mode archives to S3 and needs s3.bucket")
	}
	if c.S3.Bucket != "" {
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Storage.Backend != "postgres" {
			errs = append(errs, "s3: archival needs the postgres backend")
		}
		if err := pipeline.ValidateCron(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: cron: %v", err))
		}
		if c.Archive.RetentionDays < 0 {
			errs = append(errs, "archive: retention_days must be >= 0")
		}
	}

	// Server
	if mode != "worker" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
		if c.Server.AmountDecimals < 0 || c.Server.AmountDecimals > 18 {
			errs = append(errs, "server: amount_decimals must be 0-18")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, ev := range c.Notify.Events {
		if !eventKinds[ev] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", ev))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
