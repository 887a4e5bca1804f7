package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PARIMUTUEL_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PARIMUTUEL_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Storage.Backend, "PARIMUTUEL_STORAGE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PARIMUTUEL_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PARIMUTUEL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PARIMUTUEL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PARIMUTUEL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PARIMUTUEL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PARIMUTUEL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PARIMUTUEL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PARIMUTUEL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PARIMUTUEL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PARIMUTUEL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PARIMUTUEL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PARIMUTUEL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PARIMUTUEL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PARIMUTUEL_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "PARIMUTUEL_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PARIMUTUEL_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PARIMUTUEL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PARIMUTUEL_S3_REGION")
	setStr(&cfg.S3.Bucket, "PARIMUTUEL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PARIMUTUEL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PARIMUTUEL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PARIMUTUEL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PARIMUTUEL_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "PARIMUTUEL_S3_PREFIX")

	// ── Market ──
	setInt64(&cfg.Market.DefaultFeeBps, "PARIMUTUEL_MARKET_DEFAULT_FEE_BPS")
	setInt64(&cfg.Market.MinBet, "PARIMUTUEL_MARKET_MIN_BET")
	setInt64(&cfg.Market.MaxBet, "PARIMUTUEL_MARKET_MAX_BET")
	setInt64(&cfg.Market.MaxStakePerParticipant, "PARIMUTUEL_MARKET_MAX_STAKE_PER_PARTICIPANT")
	setBool(&cfg.Market.AutoSettle, "PARIMUTUEL_MARKET_AUTO_SETTLE")
	setDuration(&cfg.Market.SweepInterval, "PARIMUTUEL_MARKET_SWEEP_INTERVAL")
	setDuration(&cfg.Market.VoidGrace, "PARIMUTUEL_MARKET_VOID_GRACE")

	// ── Signer ──
	setStr(&cfg.Signer.PrivateKey, "PARIMUTUEL_SIGNER_PRIVATE_KEY")
	setStr(&cfg.Signer.KeyFile, "PARIMUTUEL_SIGNER_KEY_FILE")
	setStr(&cfg.Signer.Password, "PARIMUTUEL_SIGNER_PASSWORD")
	setInt64(&cfg.Signer.ChainID, "PARIMUTUEL_SIGNER_CHAIN_ID")

	// ── Archive ──
	setStr(&cfg.Archive.Cron, "PARIMUTUEL_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "PARIMUTUEL_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "PARIMUTUEL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PARIMUTUEL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PARIMUTUEL_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PARIMUTUEL_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PARIMUTUEL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PARIMUTUEL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PARIMUTUEL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PARIMUTUEL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PARIMUTUEL_MODE")
	setStr(&cfg.LogLevel, "PARIMUTUEL_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
