package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"priceowl/scrapeworker/config"
	"priceowl/scrapeworker/internal/scraper"
	"priceowl/scrapeworker/logger"
	"priceowl/scrapeworker/services/cache"
	"priceowl/scrapeworker/services/ledger"
	"priceowl/scrapeworker/services/publisher"
	"priceowl/scrapeworker/services/repository"
	"priceowl/scrapeworker/services/worker"
)

func main() {
	godotenv.Load()

	logger.Init()
	log := logger.Default

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Dur("scrape_interval", cfg.ScrapeInterval).
		Msg("Starting scrape worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	services, err := initializeServices(ctx, &cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Cleanup()

	sources := scraper.LoadSources(&cfg)
	if len(sources) == 0 {
		log.Fatal().Msg("No sources configured, set <ID>_LISTING_URLS")
	}

	runners := buildRunners(&cfg, sources, services)
	log.Info().Int("sources", len(runners)).Msg("Sources configured")

	w := worker.NewWorker(runners, cfg.ScrapeInterval, services.Publisher)
	w.SetCleanup(services.Ledger, cfg.RunRetention)
	workerDone := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(workerDone)
	}()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
		<-workerDone
	case <-workerDone:
	}

	log.Info().Msg("Shutting down gracefully")
}

// buildRunners wires one coordinator per source, each owning its proxy
// pool and fetch client
func buildRunners(cfg *config.Config, sources []*scraper.Source, services *Services) []worker.Runner {
	var runners []worker.Runner
	for _, src := range sources {
		fetcher := scraper.NewFetchClient(src.ID, scraper.FetchOptions{
			Timeout:           cfg.RequestTimeout,
			MaxRetries:        cfg.MaxRetries,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Proxies:           scraper.NewProxyPool(cfg.Proxies),
			FixedHeaders:      src.FixedHeaders,
			Cache:             services.Cache,
		})
		runners = append(runners, scraper.NewRunCoordinator(src, cfg, scraper.CoordinatorDeps{
			Fetcher:   fetcher,
			Render:    services.Render,
			Repo:      services.Repo,
			Ledger:    services.Ledger,
			Publisher: services.Publisher,
		}))
	}
	return runners
}

// Services holds the shared infrastructure of the process
type Services struct {
	Pool      *pgxpool.Pool
	Repo      repository.Repository
	Ledger    ledger.Store
	Cache     cache.CacheService
	Publisher publisher.Publisher
	Render    *scraper.RenderClient
}

// Cleanup releases all held connections
func (s *Services) Cleanup() {
	if s.Render != nil {
		s.Render.Close()
	}
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}

func initializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	log := logger.Default
	services := &Services{}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		services.Pool = pool

		repo := repository.NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		store := ledger.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		services.Repo = repo
		services.Ledger = store
		log.Info().Msg("Connected to Postgres")
	} else {
		// Without a database the worker still runs, useful for local
		// smoke testing; nothing survives a restart
		services.Repo = repository.NewMemoryRepository()
		services.Ledger = ledger.NewMemoryStore()
		log.Warn().Msg("DATABASE_URL not set, using in-memory storage")
	}

	if cfg.MemcacheAddr != "" {
		services.Cache = cache.NewMemcacheService(cfg.MemcacheAddr)
		log.Info().Str("addr", cfg.MemcacheAddr).Msg("Connected to Memcache")
	}

	if cfg.RedisAddr != "" {
		services.Publisher = publisher.NewRedisPublisher(
			ctx,
			cfg.RedisAddr,
			cfg.RedisDB,
			cfg.RedisStream,
			cfg.RedisStreamCount,
			cfg.RedisStreamMaxLength,
		)
		log.Info().Str("addr", cfg.RedisAddr).Str("stream", cfg.RedisStream).
			Msg("Connected to Redis")
	}

	if render, err := scraper.NewRenderClient(cfg.RequestTimeout * 2); err != nil {
		log.Warn().Err(err).Msg("Browser unavailable, rendered sources will yield nothing")
	} else {
		services.Render = render
	}

	return services, nil
}
