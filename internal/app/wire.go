package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/arbscan/internal/blob/s3"
	"github.com/alanyoungcy/arbscan/internal/cache/redis"
	"github.com/alanyoungcy/arbscan/internal/config"
	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/notify"
	"github.com/alanyoungcy/arbscan/internal/platform/cex"
	"github.com/alanyoungcy/arbscan/internal/platform/dexfeed"
	"github.com/alanyoungcy/arbscan/internal/platform/gasfee"
	"github.com/alanyoungcy/arbscan/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	SnapshotStore    domain.SnapshotStore
	OpportunityStore domain.OpportunityStore

	// Caches and cross-process coordination
	CatalogCache domain.CatalogCache
	QuoteCache   domain.QuoteCache
	SignalBus    domain.SignalBus
	CycleLocker  domain.CycleLocker
	RateLimiter  domain.RateLimiter

	// Blob storage (archive-enabled modes only)
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Market data
	Providers    map[string]domain.MarketDataProvider
	ProviderList []domain.MarketDataProvider // config order, drives discovery
	Feed         domain.TradeFeedProvider
	Chains       []string
	GasEstimator domain.GasEstimator

	// Notifications
	Notifier *notify.Notifier
	Alerter  *notify.OpportunityAlerter
}

// needsS3 returns true for modes that run the archive loop. Serve mode only
// reads history from Postgres and never touches cold storage.
func needsS3(mode string) bool {
	switch mode {
	case "detect", "full":
		return true
	default:
		return false
	}
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
	// Every mode needs the stores: detect/full persist detection output, serve
	// reads the history back out.
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

	pool := pgClient.Pool()
	deps.SnapshotStore = postgres.NewSnapshotStore(pool)
	deps.OpportunityStore = postgres.NewOpportunityStore(pool)

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

	deps.CatalogCache = redis.NewCatalogCache(redisClient)
	deps.QuoteCache = redis.NewQuoteCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.CycleLocker = redis.NewCycleLock(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- S3 blob storage (archive-enabled modes only) ---
	if needsS3(cfg.Mode) && cfg.Pipeline.ArchiveEnabled {
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
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.OpportunityStore, deps.SnapshotStore)
	}

	// --- Market data providers ---
	deps.Providers = make(map[string]domain.MarketDataProvider, len(cfg.Venues.CEX))
	for _, v := range cfg.Venues.CEX {
		client := cex.NewClient(v.ID, v.BaseURL, v.BulkQuote, cfg.Engine.QueryTimeout.Duration)
		deps.Providers[v.ID] = client
		deps.ProviderList = append(deps.ProviderList, client)
	}

	gasChains := make(map[string]gasfee.ChainParams, len(cfg.Venues.Chains))
	for _, ch := range cfg.Venues.Chains {
		deps.Chains = append(deps.Chains, ch.Name)
		gasChains[ch.Name] = gasfee.ChainParams{
			RPCURL:    ch.RPCURL,
			NativeUSD: ch.NativeUSD,
		}
	}

	if cfg.Feed.URL != "" {
		deps.Feed = dexfeed.NewClient(cfg.Feed.URL, cfg.Feed.APIKey, cfg.Engine.QueryTimeout.Duration)
	}

	gasEstimator := gasfee.New(gasfee.Config{
		Chains:             gasChains,
		AssumedNotionalUSD: cfg.Gas.AssumedNotionalUSD,
		GasUnitsPerSwap:    cfg.Gas.GasUnitsPerSwap,
		CacheTTL:           cfg.Gas.CacheTTL.Duration,
		FallbackPct:        cfg.Gas.FallbackPct,
	}, logger)
	closers = append(closers, gasEstimator.Close)
	deps.GasEstimator = gasEstimator

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
	if len(senders) > 0 {
		deps.Alerter = notify.NewOpportunityAlerter(deps.Notifier, cfg.Notify.MinNetProfitPct)
	}

	return deps, cleanup, nil
}
