package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	s3blob "github.com/alanyoungcy/mirrorbot/internal/blob/s3"
	"github.com/alanyoungcy/mirrorbot/internal/cache/redis"
	"github.com/alanyoungcy/mirrorbot/internal/config"
	"github.com/alanyoungcy/mirrorbot/internal/domain"
	"github.com/alanyoungcy/mirrorbot/internal/notify"
	"github.com/alanyoungcy/mirrorbot/internal/platform/kalshi"
	"github.com/alanyoungcy/mirrorbot/internal/platform/manifold"
	"github.com/alanyoungcy/mirrorbot/internal/platform/metaculus"
	"github.com/alanyoungcy/mirrorbot/internal/service"
	"github.com/alanyoungcy/mirrorbot/internal/store/postgres"
)

// Dependencies bundles everything the CLI commands need to operate. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	MirrorStore     domain.MirrorStore
	ThirdPartyStore domain.ThirdPartyMirrorStore
	ManagramStore   domain.ManagramStore

	// Coordination
	LockManager   domain.LockManager
	QuotaReserver domain.QuotaReserver

	// Blob storage; nil unless archival is enabled.
	Archiver domain.Archiver

	// Platform clients and adapters
	Destination *manifold.Client
	Adapters    map[domain.Source]domain.SourceAdapter

	// Services
	Mirrors   *service.MirrorService
	Sync      *service.SyncService
	Managrams *service.ManagramService

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MirrorStore = postgres.NewMirrorStore(pool)
	deps.ThirdPartyStore = postgres.NewThirdPartyMirrorStore(pool)
	deps.ManagramStore = postgres.NewManagramStore(pool)

	// --- Redis ---
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
	deps.QuotaReserver = redis.NewQuotaReserver(redisClient, cfg.Redis.ReservationTTL.Duration)

	// --- S3 blob storage (only when archival is enabled) ---
	if cfg.Archive.Enabled {
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

		writer := s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(writer, deps.MirrorStore, deps.ManagramStore)
	}

	// --- Platform clients ---
	deps.Destination = manifold.NewClient(cfg.Manifold.ApiURL, cfg.Manifold.ClientURL, cfg.Manifold.ApiKey)

	deps.Adapters = make(map[domain.Source]domain.SourceAdapter)

	metaculusClient := metaculus.NewClient(cfg.Metaculus.BaseURL, cfg.Metaculus.ApiKey)
	deps.Adapters[domain.SourceMetaculus] = metaculus.NewAdapter(metaculusClient, metaculus.AdapterConfig{
		RequireOpen:         cfg.Metaculus.AutoFilter.RequireOpen,
		ExcludeGrouped:      cfg.Metaculus.AutoFilter.ExcludeGrouped,
		MaxAgeDays:          cfg.Metaculus.AutoFilter.MaxAgeDays,
		MinDaysToResolution: cfg.Metaculus.AutoFilter.MinDaysToResolution,
		MaxDaysToResolution: cfg.Metaculus.AutoFilter.MaxDaysToResolution,
		ListLimit:           cfg.Metaculus.ListLimit,
	})

	kalshiClient := kalshi.NewClient(cfg.Kalshi.BaseURL, cfg.Kalshi.ApiKeyID)
	if cfg.Kalshi.RsaPrivateKeyPath != "" {
		pemBytes, err := os.ReadFile(cfg.Kalshi.RsaPrivateKeyPath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: read kalshi key: %w", err)
		}
		if err := kalshiClient.SetRSAPrivateKey(pemBytes); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kalshi key: %w", err)
		}
	}
	deps.Adapters[domain.SourceKalshi] = kalshi.NewAdapter(kalshiClient, kalshi.AdapterConfig{
		RequireOpen:   cfg.Kalshi.AutoFilter.RequireOpen,
		ExcludeSeries: cfg.Kalshi.ExcludeSeries,
	})

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

	// --- Services ---
	quota := service.NewQuotaTracker(deps.MirrorStore, deps.QuotaReserver, map[domain.Source]int64{
		domain.SourceMetaculus: cfg.Metaculus.MaxClonesPerDay,
		domain.SourceKalshi:    cfg.Kalshi.MaxClonesPerDay,
	}, logger)

	policies := map[domain.Source]service.SourcePolicy{
		domain.SourceMetaculus: {
			AutoFilter:    cfg.Metaculus.AutoFilter,
			RequestFilter: cfg.Metaculus.RequestFilter,
			GroupIDs:      cfg.Metaculus.AddGroupIDs,
			FetchCriteria: cfg.Metaculus.FetchCriteria,
		},
		domain.SourceKalshi: {
			AutoFilter:    cfg.Kalshi.AutoFilter,
			RequestFilter: cfg.Kalshi.RequestFilter,
			GroupIDs:      cfg.Kalshi.AddGroupIDs,
		},
	}

	template := manifold.Template{
		DescriptionFooter:    cfg.Manifold.Template.DescriptionFooter,
		TitleRetainEndChars:  cfg.Manifold.Template.TitleRetainEndChars,
		MaxQuestionLength:    cfg.Manifold.Template.MaxQuestionLength,
		MaxDescriptionLength: cfg.Manifold.Template.MaxDescriptionLength,
	}

	deps.Mirrors = service.NewMirrorService(
		deps.Adapters,
		policies,
		template,
		deps.Destination,
		deps.MirrorStore,
		deps.ThirdPartyStore,
		quota,
		deps.LockManager,
		cfg.Redis.LockTTL.Duration,
		deps.Notifier,
		logger,
	)
	deps.Sync = service.NewSyncService(
		deps.Adapters,
		deps.Destination,
		deps.MirrorStore,
		deps.ThirdPartyStore,
		cfg.Manifold.UserID,
		deps.Notifier,
		logger,
	)
	deps.Managrams = service.NewManagramService(
		deps.Destination,
		deps.ManagramStore,
		deps.Mirrors,
		deps.Sync,
		cfg.Manifold.UserID,
		cfg.Manifold.Managrams.MinAmount,
		cfg.Manifold.Managrams.MirrorCost,
		deps.Notifier,
		logger,
	)

	return deps, cleanup, nil
}
