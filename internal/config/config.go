// Package config defines the top-level configuration for the exit monitor and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by EXITWATCH_* environment variables.
type Config struct {
	Session     SessionConfig      `toml:"session"`
	Engine      EngineConfig       `toml:"engine"`
	Exit        ExitConfig         `toml:"exit"`
	Instruments []InstrumentConfig `toml:"instruments"`
	Signals     SignalsConfig      `toml:"signals"`
	Feed        FeedConfig         `toml:"feed"`
	Postgres    PostgresConfig     `toml:"postgres"`
	Redis       RedisConfig        `toml:"redis"`
	S3          S3Config           `toml:"s3"`
	Server      ServerConfig       `toml:"server"`
	Notify      NotifyConfig       `toml:"notify"`
	Mode        string             `toml:"mode"`
	LogLevel    string             `toml:"log_level"`
}

// SessionConfig controls trading-session identity and rollover.
type SessionConfig struct {
	Label        string `toml:"label"`
	RolloverCron string `toml:"rollover_cron"`
	ArchiveOnEnd bool   `toml:"archive_on_end"`
}

// EngineConfig holds scheduler and executor timing parameters.
type EngineConfig struct {
	// BarInterval is how often the executor ticks and signals the scheduler.
	BarInterval  duration `toml:"bar_interval"`
	StartTimeout duration `toml:"start_timeout"`
	StopTimeout  duration `toml:"stop_timeout"`
	DedupWindow  duration `toml:"dedup_window"`
	LockTTL      duration `toml:"lock_ttl"`
}

// ExitConfig holds the exit-rule thresholds. Amounts are per unit of quantity
// and in account currency after point-value scaling.
type ExitConfig struct {
	StopLoss            float64 `toml:"stop_loss"`
	TakeProfit          float64 `toml:"take_profit"`
	SoftTarget          float64 `toml:"soft_target"`
	SoftMultiplier      float64 `toml:"soft_multiplier"`
	PullbackFraction    float64 `toml:"pullback_fraction"`
	DivergenceThreshold float64 `toml:"divergence_threshold"`
	AgeExitBars         int64   `toml:"age_exit_bars"`
	EnableProtective    bool    `toml:"enable_protective"`
	EnableDivergence    bool    `toml:"enable_divergence"`
	EnableAgeExit       bool    `toml:"enable_age_exit"`
}

// InstrumentConfig describes one tradable series.
type InstrumentConfig struct {
	Symbol          string  `toml:"symbol"`
	SeriesIndex     int     `toml:"series_index"`
	PointValue      float64 `toml:"point_value"`
	DefaultQuantity float64 `toml:"default_quantity"`
}

// FeedConfig selects where live quotes and entry intents come from. When
// WSURL is empty quotes are taken from the shared Redis quote cache only.
type FeedConfig struct {
	WSURL          string   `toml:"ws_url"`
	ReconnectDelay duration `toml:"reconnect_delay"`
	IntentBatch    int      `toml:"intent_batch"`
}

// SignalsConfig controls the in-memory divergence/confidence/band lookups.
type SignalsConfig struct {
	RefreshInterval duration `toml:"refresh_interval"`
	StaleAfter      duration `toml:"stale_after"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// KeyPrefix namespaces every key so several desks can share one server.
	KeyPrefix string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
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
	Enabled      bool     `toml:"enabled"`
	Port         int      `toml:"port"`
	APIKey       string   `toml:"api_key"`
	CORSOrigins  []string `toml:"cors_origins"`
	ExitRateMax  int      `toml:"exit_rate_max"`
	ExitRateSpan duration `toml:"exit_rate_span"`
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
		Session: SessionConfig{
			Label:        "default",
			RolloverCron: "0 22 * * 1-5",
			ArchiveOnEnd: true,
		},
		Engine: EngineConfig{
			BarInterval:  duration{time.Second},
			StartTimeout: duration{2 * time.Second},
			StopTimeout:  duration{5 * time.Second},
			DedupWindow:  duration{time.Minute},
			LockTTL:      duration{30 * time.Second},
		},
		Exit: ExitConfig{
			StopLoss:            50,
			TakeProfit:          150,
			SoftTarget:          30,
			SoftMultiplier:      1.0,
			PullbackFraction:    0.5,
			DivergenceThreshold: 2.0,
			AgeExitBars:         2,
			EnableProtective:    false,
			EnableDivergence:    false,
			EnableAgeExit:       true,
		},
		Signals: SignalsConfig{
			RefreshInterval: duration{2 * time.Second},
			StaleAfter:      duration{time.Minute},
		},
		Feed: FeedConfig{
			ReconnectDelay: duration{2 * time.Second},
			IntentBatch:    64,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "exitwatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			KeyPrefix:  "exitwatch",
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        true,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "exitwatch-sessions",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:      true,
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000"},
			ExitRateMax:  10,
			ExitRateSpan: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"exit_filled", "exit_rejected", "evaluation_fault", "engine_fault"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Session
	if strings.TrimSpace(c.Session.Label) == "" {
		errs = append(errs, "session: label must not be empty")
	}
	if c.Session.RolloverCron != "" {
		if _, err := cron.ParseStandard(c.Session.RolloverCron); err != nil {
			errs = append(errs, fmt.Sprintf("session: invalid rollover_cron %q: %v", c.Session.RolloverCron, err))
		}
	}

	// Engine
	if c.Engine.BarInterval.Duration <= 0 {
		errs = append(errs, "engine: bar_interval must be > 0")
	}
	if c.Engine.StartTimeout.Duration <= 0 {
		errs = append(errs, "engine: start_timeout must be > 0")
	}
	if c.Engine.StopTimeout.Duration <= 0 {
		errs = append(errs, "engine: stop_timeout must be > 0")
	}
	if c.Engine.LockTTL.Duration < time.Second {
		errs = append(errs, "engine: lock_ttl must be >= 1s")
	}

	// Exit rules
	if c.Exit.StopLoss <= 0 {
		errs = append(errs, "exit: stop_loss must be > 0")
	}
	if c.Exit.TakeProfit <= 0 {
		errs = append(errs, "exit: take_profit must be > 0")
	}
	if c.Exit.SoftTarget <= 0 {
		errs = append(errs, "exit: soft_target must be > 0")
	}
	if c.Exit.SoftMultiplier <= 0 {
		errs = append(errs, "exit: soft_multiplier must be > 0")
	}
	if c.Exit.PullbackFraction < 0 || c.Exit.PullbackFraction > 1 {
		errs = append(errs, fmt.Sprintf("exit: pullback_fraction must be within [0, 1], got %g", c.Exit.PullbackFraction))
	}
	if c.Exit.EnableDivergence && c.Exit.DivergenceThreshold <= 0 {
		errs = append(errs, "exit: divergence_threshold must be > 0 when divergence exits are enabled")
	}
	if c.Exit.EnableAgeExit && c.Exit.AgeExitBars < 1 {
		errs = append(errs, "exit: age_exit_bars must be >= 1 when age exits are enabled")
	}

	// Instruments
	if len(c.Instruments) == 0 {
		errs = append(errs, "instruments: at least one instrument must be configured")
	}
	seen := make(map[string]bool, len(c.Instruments))
	for i, in := range c.Instruments {
		if in.Symbol == "" {
			errs = append(errs, fmt.Sprintf("instruments[%d]: symbol must not be empty", i))
			continue
		}
		if seen[in.Symbol] {
			errs = append(errs, fmt.Sprintf("instruments[%d]: duplicate symbol %q", i, in.Symbol))
		}
		seen[in.Symbol] = true
		if in.PointValue <= 0 {
			errs = append(errs, fmt.Sprintf("instruments[%d]: point_value must be > 0", i))
		}
		if in.DefaultQuantity < 0 {
			errs = append(errs, fmt.Sprintf("instruments[%d]: default_quantity must be >= 0", i))
		}
	}

	// Signals
	if c.Signals.RefreshInterval.Duration <= 0 {
		errs = append(errs, "signals: refresh_interval must be > 0")
	}
	if c.Signals.StaleAfter.Duration < c.Signals.RefreshInterval.Duration {
		errs = append(errs, "signals: stale_after must be >= refresh_interval")
	}

	// Feed
	if c.Feed.IntentBatch <= 0 {
		errs = append(errs, "feed: intent_batch must be > 0")
	}
	if c.Feed.WSURL != "" && !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		errs = append(errs, "feed: ws_url must use ws:// or wss://")
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.ExitRateMax < 1 {
			errs = append(errs, "server: exit_rate_max must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Instrument returns the configuration for symbol.
func (c *Config) Instrument(symbol string) (InstrumentConfig, bool) {
	for _, in := range c.Instruments {
		if in.Symbol == symbol {
			return in, true
		}
	}
	return InstrumentConfig{}, false
}

// Symbols returns the configured instrument symbols in declaration order.
func (c *Config) Symbols() []string {
	out := make([]string, 0, len(c.Instruments))
	for _, in := range c.Instruments {
		out = append(out, in.Symbol)
	}
	return out
}
