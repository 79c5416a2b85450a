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
// built-in defaults, applies EXITWATCH_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known EXITWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Session ──
	setStr(&cfg.Session.Label, "EXITWATCH_SESSION_LABEL")
	setStr(&cfg.Session.RolloverCron, "EXITWATCH_SESSION_ROLLOVER_CRON")
	setBool(&cfg.Session.ArchiveOnEnd, "EXITWATCH_SESSION_ARCHIVE_ON_END")

	// ── Engine ──
	setDuration(&cfg.Engine.BarInterval, "EXITWATCH_ENGINE_BAR_INTERVAL")
	setDuration(&cfg.Engine.StartTimeout, "EXITWATCH_ENGINE_START_TIMEOUT")
	setDuration(&cfg.Engine.StopTimeout, "EXITWATCH_ENGINE_STOP_TIMEOUT")
	setDuration(&cfg.Engine.DedupWindow, "EXITWATCH_ENGINE_DEDUP_WINDOW")
	setDuration(&cfg.Engine.LockTTL, "EXITWATCH_ENGINE_LOCK_TTL")

	// ── Exit rules ──
	setFloat64(&cfg.Exit.StopLoss, "EXITWATCH_EXIT_STOP_LOSS")
	setFloat64(&cfg.Exit.TakeProfit, "EXITWATCH_EXIT_TAKE_PROFIT")
	setFloat64(&cfg.Exit.SoftTarget, "EXITWATCH_EXIT_SOFT_TARGET")
	setFloat64(&cfg.Exit.SoftMultiplier, "EXITWATCH_EXIT_SOFT_MULTIPLIER")
	setFloat64(&cfg.Exit.PullbackFraction, "EXITWATCH_EXIT_PULLBACK_FRACTION")
	setFloat64(&cfg.Exit.DivergenceThreshold, "EXITWATCH_EXIT_DIVERGENCE_THRESHOLD")
	setInt64(&cfg.Exit.AgeExitBars, "EXITWATCH_EXIT_AGE_EXIT_BARS")
	setBool(&cfg.Exit.EnableProtective, "EXITWATCH_EXIT_ENABLE_PROTECTIVE")
	setBool(&cfg.Exit.EnableDivergence, "EXITWATCH_EXIT_ENABLE_DIVERGENCE")
	setBool(&cfg.Exit.EnableAgeExit, "EXITWATCH_EXIT_ENABLE_AGE_EXIT")

	// ── Signals ──
	setDuration(&cfg.Signals.RefreshInterval, "EXITWATCH_SIGNALS_REFRESH_INTERVAL")
	setDuration(&cfg.Signals.StaleAfter, "EXITWATCH_SIGNALS_STALE_AFTER")

	// Feed
	setStr(&cfg.Feed.WSURL, "EXITWATCH_FEED_WS_URL")
	setDuration(&cfg.Feed.ReconnectDelay, "EXITWATCH_FEED_RECONNECT_DELAY")
	setInt(&cfg.Feed.IntentBatch, "EXITWATCH_FEED_INTENT_BATCH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "EXITWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "EXITWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "EXITWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "EXITWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "EXITWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "EXITWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "EXITWATCH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "EXITWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "EXITWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "EXITWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "EXITWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "EXITWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "EXITWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "EXITWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "EXITWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "EXITWATCH_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "EXITWATCH_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "EXITWATCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "EXITWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "EXITWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "EXITWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "EXITWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "EXITWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "EXITWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "EXITWATCH_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "EXITWATCH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "EXITWATCH_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "EXITWATCH_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "EXITWATCH_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.ExitRateMax, "EXITWATCH_SERVER_EXIT_RATE_MAX")
	setDuration(&cfg.Server.ExitRateSpan, "EXITWATCH_SERVER_EXIT_RATE_SPAN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "EXITWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "EXITWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "EXITWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "EXITWATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "EXITWATCH_MODE")
	setStr(&cfg.LogLevel, "EXITWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
