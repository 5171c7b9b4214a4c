package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/polycopy/polycopy/internal/blob/s3"
	"github.com/polycopy/polycopy/internal/cache/redis"
	"github.com/polycopy/polycopy/internal/config"
	"github.com/polycopy/polycopy/internal/domain"
	"github.com/polycopy/polycopy/internal/ingest"
	"github.com/polycopy/polycopy/internal/notify"
	"github.com/polycopy/polycopy/internal/platform/polymarket"
	"github.com/polycopy/polycopy/internal/store/postgres"
)

// Dependencies bundles the infrastructure-level dependencies the application
// modes need to operate. Venue clients and the pipeline itself are built per
// mode in modes.go. Constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Ledger is the durable trade/copy-order store backing admission,
	// status transitions, and the feed resume point.
	Ledger domain.Ledger

	// Coordination primitives. Both are nil in monitor mode, which neither
	// executes orders nor runs recovery sweeps.
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Archiver persists raw fill batches to object storage; nil when no
	// bucket is configured.
	Archiver *ingest.Archiver

	// Resolver enriches fills with their market (condition) ID; nil when
	// no gamma host is configured.
	Resolver *ingest.MarketResolver

	// Notifier fans out pipeline events to the configured channels.
	Notifier *notify.Notifier
}

// needsRedis returns true for modes that execute orders and therefore need
// the distributed lock and rate limiter.
func needsRedis(mode string) bool {
	return mode == "replicate"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ledger ---
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.Ledger = postgres.NewLedgerStore(pgClient.Pool())

	// --- Redis (locks and rate limiting, execution modes only) ---
	if needsRedis(cfg.Mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		if cfg.Execution.RateLimitPerSec > 0 {
			deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Execution.RateLimitPerSec)
		}
	}

	// --- S3 raw-fill archive (only when a bucket is configured) ---
	if cfg.S3.Bucket != "" {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = ingest.NewArchiver(s3blob.NewWriter(s3Client), logger)
	}

	// --- Market resolver ---
	if cfg.Polymarket.GammaHost != "" {
		gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
		deps.Resolver = ingest.NewMarketResolver(gamma, logger)
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
