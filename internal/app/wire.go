package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/swapbot/internal/blob/s3"
	"github.com/alanyoungcy/swapbot/internal/cache/redis"
	"github.com/alanyoungcy/swapbot/internal/config"
	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/notify"
	"github.com/alanyoungcy/swapbot/internal/observability"
	"github.com/alanyoungcy/swapbot/internal/server/handler"
	"github.com/alanyoungcy/swapbot/internal/store/memory"
	"github.com/alanyoungcy/swapbot/internal/store/postgres"
)

// Dependencies bundles the infrastructure the engine runs on. Optional
// backends are nil interfaces when their section is disabled. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	TradeStore domain.TradeRecordStore
	AuditStore domain.AuditStore

	// Caches and coordination
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   *redis.SignalBus
	// PositionStore keeps open positions across restarts. Without Redis
	// they live only in memory.
	PositionStore domain.PositionStore

	// Blob storage
	Archiver *s3blob.Archiver

	// Observability and notifications
	Metrics  *observability.Metrics
	Notifier *notify.Notifier

	// Health lists the backends /api/health pings.
	Health map[string]handler.Pinger
}

// needsPersistence reports whether mode records trades.
func needsPersistence(mode string) bool {
	return mode != "scan"
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

	deps := &Dependencies{Health: map[string]handler.Pinger{}}
	mode := strings.ToLower(cfg.Mode)

	if cfg.Telemetry.MetricsEnabled {
		deps.Metrics = observability.NewMetrics(cfg.Telemetry.ServiceName)
	}

	// --- Trade journal: PostgreSQL, or in memory with an optional JSONL file ---
	var journal s3blob.TradeRecordSource
	if needsPersistence(mode) {
		if cfg.Postgres.Enabled {
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

			trades := postgres.NewTradeRecordStore(pgClient.Pool())
			deps.TradeStore = trades
			deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
			deps.Health["postgres"] = pgClient
			journal = trades
		} else {
			trades, err := memory.NewTradeRecordStore(cfg.Postgres.JournalPath)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: trade journal: %w", err)
			}
			closers = append(closers, func() { _ = trades.Close() })
			deps.TradeStore = trades
			journal = trades
			if cfg.Postgres.JournalPath == "" {
				logger.Warn("wire: trade journal is in memory only; daily caps reset on restart")
			}
		}
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
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

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Gateway.PriceCacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, redis.WithStreamMaxLen(cfg.Redis.StreamMaxLen))
		positionsKey := "swapbot:positions"
		if !cfg.LiveTrading() {
			positionsKey += ":dry-run"
		}
		deps.PositionStore = redis.NewPositionStore(redisClient, positionsKey)
		deps.Health["redis"] = redisClient
	}

	// --- S3 archive ---
	if cfg.S3.Enabled && journal != nil {
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
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), journal, deps.AuditStore, logger)
		deps.Health["s3"] = healthFunc(s3Client.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			notify.DefaultTelegramAPI,
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

// healthFunc adapts a context-taking check to handler.Pinger.
type healthFunc func(ctx context.Context) error

func (f healthFunc) Ping(ctx context.Context) error { return f(ctx) }

// archiveLoop exports trade records older than the retention window every
// interval, starting immediately.
func archiveLoop(ctx context.Context, archiver *s3blob.Archiver, retention, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		cutoff := s3blob.ArchiveCutoff(time.Now(), retention)
		n, err := archiver.ArchiveTradeRecords(ctx, cutoff)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.ErrorContext(ctx, "trade archive failed",
				slog.Time("before", cutoff),
				slog.String("error", err.Error()),
			)
		case n > 0:
			logger.InfoContext(ctx, "trade archive complete",
				slog.Time("before", cutoff),
				slog.Int64("records", n),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
