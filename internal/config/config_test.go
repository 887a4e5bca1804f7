package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
mode = "server"

[storage]
backend = "postgres"

[market]
default_fee_bps = 250
sweep_interval  = "5s"
void_grace      = "1h"

[server]
port = 9000
`)
	t.Setenv("PARIMUTUEL_SERVER_PORT", "9100")
	t.Setenv("PARIMUTUEL_MARKET_AUTO_SETTLE", "false")
	t.Setenv("PARIMUTUEL_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("PARIMUTUEL_SERVER_RATE_LIMIT", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "server" || cfg.Storage.Backend != "postgres" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Market.DefaultFeeBps != 250 || cfg.Market.SweepInterval.Duration != 5*time.Second || cfg.Market.VoidGrace.Duration != time.Hour {
		t.Fatalf("market = %+v", cfg.Market)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("env port override = %d", cfg.Server.Port)
	}
	if cfg.Market.AutoSettle {
		t.Fatal("env bool override not applied")
	}
	if got := cfg.Server.CORSOrigins; len(got) != 2 || got[1] != "https://b.example" {
		t.Fatalf("cors origins = %q", got)
	}
	if cfg.Server.RateLimit != 600 {
		t.Fatalf("unparsable env changed rate limit to %d", cfg.Server.RateLimit)
	}
	if cfg.Postgres.Host != "localhost" {
		t.Fatal("defaults lost for unset section")
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, "[market]\nsweep_interval = \"soon\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{
			name:   "unknown mode and level",
			mutate: func(c *Config) { c.Mode = "trade"; c.LogLevel = "loud" },
			want:   []string{`unknown mode "trade"`, `unknown log_level "loud"`},
		},
		{
			name:   "worker needs postgres and s3",
			mutate: func(c *Config) { c.Mode = "worker" },
			want:   []string{"worker mode needs the postgres backend", "needs s3.bucket"},
		},
		{
			name: "market limits",
			mutate: func(c *Config) {
				c.Market.DefaultFeeBps = 10_000
				c.Market.MinBet = 10
				c.Market.MaxBet = 10
			},
			want: []string{"default_fee_bps", "max_bet must exceed min_bet"},
		},
		{
			name: "archive cron",
			mutate: func(c *Config) {
				c.Storage.Backend = "postgres"
				c.S3.Bucket = "ledger"
				c.Archive.Cron = "every night"
			},
			want: []string{"archive: cron"},
		},
		{
			name: "signer key file without password",
			mutate: func(c *Config) {
				c.Signer.KeyFile = "operator.key"
			},
			want: []string{"signer: password is required"},
		},
		{
			name: "notify",
			mutate: func(c *Config) {
				c.Notify.TelegramToken = "t"
				c.Notify.Events = []string{"order_filled"}
			},
			want: []string{"telegram_chat_id must be set together", `unknown event "order_filled"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Signer.PrivateKey = "deadbeef"
	cfg.Server.APIKey = "key"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Notify.Events = []string{"market_halted"}

	out := RedactedConfig(&cfg)
	if out.Signer.PrivateKey != redacted || out.Server.APIKey != redacted || out.Postgres.DSN != redacted {
		t.Fatalf("secrets not redacted: %+v", out)
	}
	if out.Redis.Password != "" {
		t.Fatal("empty secret should stay empty")
	}
	out.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] != "market_halted" || cfg.Signer.PrivateKey != "deadbeef" {
		t.Fatal("redacted copy aliases the original")
	}
}
