package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/exitwatch/internal/blob/s3"
	"github.com/alanyoungcy/exitwatch/internal/cache/redis"
	"github.com/alanyoungcy/exitwatch/internal/config"
	"github.com/alanyoungcy/exitwatch/internal/domain"
	"github.com/alanyoungcy/exitwatch/internal/notify"
	"github.com/alanyoungcy/exitwatch/internal/server/handler"
	"github.com/alanyoungcy/exitwatch/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the engine lifecycle
// needs. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	JournalStore domain.JournalStore
	AuditStore   domain.AuditStore

	// Caches
	QuoteCache  domain.QuoteCache
	ScoreCache  domain.ScoreCache
	RateLimiter domain.RateLimiter
	LockManager *redis.LockManager
	SignalBus   domain.SignalBus

	// Blob storage; nil when s3.enabled is false.
	BlobReader domain.BlobReader
	Archiver   domain.SessionArchiver

	// Notifications
	Notifier *notify.Notifier

	// Probes back the readiness endpoint, keyed by backend name.
	Probes map[string]handler.Probe
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Probes: make(map[string]handler.Probe)}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Probes["postgres"] = pgClient.Ping

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	db := pgClient.DB()
	deps.JournalStore = postgres.NewJournalStore(db)
	deps.AuditStore = postgres.NewAuditStore(db)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		Prefix:     cfg.Redis.KeyPrefix,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Probes["redis"] = redisClient.Ping

	deps.QuoteCache = redis.NewQuoteCache(redisClient)
	deps.ScoreCache = redis.NewScoreCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Probes["s3"] = s3Client.Health

		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		if cfg.Session.ArchiveOnEnd {
			deps.Archiver = s3blob.NewSessionArchiver(
				s3blob.NewWriter(s3Client),
				reader,
				deps.JournalStore,
				deps.AuditStore,
			)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
