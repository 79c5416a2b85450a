package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Instruments = []InstrumentConfig{{Symbol: "ES", SeriesIndex: 0, PointValue: 50, DefaultQuantity: 1}}
	return cfg
}

func TestDefaultsWithInstrumentValidate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Mode = "live" }, "unknown mode"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "unknown log_level"},
		{"no instruments", func(c *Config) { c.Instruments = nil }, "at least one instrument"},
		{"duplicate instrument", func(c *Config) {
			c.Instruments = append(c.Instruments, InstrumentConfig{Symbol: "ES", PointValue: 50})
		}, "duplicate symbol"},
		{"zero point value", func(c *Config) { c.Instruments[0].PointValue = 0 }, "point_value"},
		{"zero stop loss", func(c *Config) { c.Exit.StopLoss = 0 }, "stop_loss"},
		{"fraction above one", func(c *Config) { c.Exit.PullbackFraction = 1.5 }, "pullback_fraction"},
		{"divergence without threshold", func(c *Config) {
			c.Exit.EnableDivergence = true
			c.Exit.DivergenceThreshold = 0
		}, "divergence_threshold"},
		{"bad cron", func(c *Config) { c.Session.RolloverCron = "every day" }, "rollover_cron"},
		{"stale before refresh", func(c *Config) { c.Signals.StaleAfter = duration{time.Millisecond} }, "stale_after"},
		{"pool min above max", func(c *Config) { c.Postgres.PoolMinConns = 20 }, "pool_min_conns"},
		{"server port", func(c *Config) { c.Server.Port = 70000 }, "server: port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAppliesFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"

[engine]
bar_interval = "250ms"

[exit]
stop_loss = 25.5
age_exit_bars = 3

[[instruments]]
symbol = "NQ"
point_value = 20
default_quantity = 2
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EXITWATCH_EXIT_TAKE_PROFIT", "99")
	t.Setenv("EXITWATCH_REDIS_ADDR", "redis:6380")
	t.Setenv("EXITWATCH_NOTIFY_EVENTS", "exit_filled, engine_fault")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != "monitor" {
		t.Errorf("Mode = %q, want monitor", cfg.Mode)
	}
	if cfg.Engine.BarInterval.Duration != 250*time.Millisecond {
		t.Errorf("BarInterval = %v, want 250ms", cfg.Engine.BarInterval.Duration)
	}
	if cfg.Exit.StopLoss != 25.5 || cfg.Exit.AgeExitBars != 3 {
		t.Errorf("Exit = %+v, want stop_loss 25.5 and age 3", cfg.Exit)
	}
	if cfg.Exit.TakeProfit != 99 {
		t.Errorf("TakeProfit = %v, want env override 99", cfg.Exit.TakeProfit)
	}
	if cfg.Exit.PullbackFraction != 0.5 {
		t.Errorf("PullbackFraction = %v, want default 0.5", cfg.Exit.PullbackFraction)
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if got := strings.Join(cfg.Notify.Events, "|"); got != "exit_filled|engine_fault" {
		t.Errorf("Notify.Events = %q", got)
	}
	in, ok := cfg.Instrument("NQ")
	if !ok || in.PointValue != 20 || in.DefaultQuantity != 2 {
		t.Errorf("Instrument(NQ) = %+v, %v", in, ok)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pw"
	cfg.S3.SecretKey = "secret"
	cfg.Server.APIKey = "key"
	cfg.Notify.TelegramToken = ""

	out := RedactedConfig(&cfg)
	if out.Postgres.Password != redacted || out.S3.SecretKey != redacted || out.Server.APIKey != redacted {
		t.Errorf("secrets not redacted: %+v", out)
	}
	if out.Notify.TelegramToken != "" {
		t.Errorf("empty secret should stay empty, got %q", out.Notify.TelegramToken)
	}
	if cfg.Postgres.Password != "pw" {
		t.Errorf("original mutated: %q", cfg.Postgres.Password)
	}
	out.Instruments[0].Symbol = "changed"
	if cfg.Instruments[0].Symbol != "ES" {
		t.Errorf("instrument slice shared with redacted copy")
	}
}

func TestRedactedConfigURLs(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.DSN = "postgres://app:hunter2@db:5432/exitwatch?sslmode=require"
	cfg.Notify.DiscordWebhookURL = "https://discord.com/api/webhooks/1/abc"

	out := RedactedConfig(&cfg)
	if want := "postgres://app:***@db:5432/exitwatch?sslmode=require"; out.Postgres.DSN != want {
		t.Errorf("DSN = %q, want %q", out.Postgres.DSN, want)
	}
	if want := "https://discord.com/***"; out.Notify.DiscordWebhookURL != want {
		t.Errorf("webhook = %q, want %q", out.Notify.DiscordWebhookURL, want)
	}

	cfg.Postgres.DSN = "host=db password=hunter2"
	if got := RedactedConfig(&cfg).Postgres.DSN; got != redacted {
		t.Errorf("keyword DSN = %q, want fully redacted", got)
	}
}
