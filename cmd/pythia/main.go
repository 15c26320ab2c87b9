package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/XavierBriggs/Pythia/adapters/theoddsapi"
	"github.com/XavierBriggs/Pythia/internal/api"
	"github.com/XavierBriggs/Pythia/internal/bets"
	"github.com/XavierBriggs/Pythia/internal/cache"
	"github.com/XavierBriggs/Pythia/internal/config"
	"github.com/XavierBriggs/Pythia/internal/logging"
	"github.com/XavierBriggs/Pythia/internal/sports"
	"github.com/XavierBriggs/Pythia/internal/updater"
	"github.com/XavierBriggs/Pythia/pkg/contracts"
)

func main() {
	configPath := flag.String("config", os.Getenv("PYTHIA_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, "pythia")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("pythia exited")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	// Cache backend
	store, closeCache, err := newCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	// Last-good payloads. Redis holds both sets under distinct keys; in
	// process they get their own budget so they never evict fresh entries.
	staleStore := store
	if cfg.Cache.Backend != "redis" {
		staleStore = newMemoryCache(cfg)
	}

	// The Odds API adapter
	client := theoddsapi.NewClient(cfg.OddsAPI.APIKey,
		theoddsapi.WithBaseURL(cfg.OddsAPI.BaseURL),
		theoddsapi.WithTimeout(cfg.OddsAPI.Timeout),
		theoddsapi.WithLogger(logger),
	)

	svc := sports.NewService(client, store, sports.Config{
		DefaultRegion:      cfg.Sports.DefaultRegion,
		DefaultMarkets:     cfg.Sports.DefaultMarkets,
		SportsTTL:          cfg.Sports.SportsTTL,
		OddsTTL:            cfg.Sports.OddsTTL,
		UpcomingTTL:        cfg.Sports.UpcomingTTL,
		StaleTTL:           cfg.Sports.StaleTTL,
		FetchTimeout:       cfg.Sports.FetchTimeout,
		FailureBackoff:     cfg.Sports.FailureBackoff,
		MaxUpcomingSports:  cfg.Sports.MaxUpcomingSports,
		MaxResultsPerSport: cfg.Sports.MaxResultsPerSport,
		FetchConcurrency:   cfg.Sports.FetchConcurrency,
	}, logger, sports.WithStaleCache(staleStore))

	// Odds updater backed by the Alexandria bet ledger
	var (
		oddsUpdater *updater.Updater
		refresh     api.RefreshController
	)
	if cfg.Updater.Enabled {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		repo, err := bets.Open(pingCtx, cfg.Database.DSN)
		cancel()
		if err != nil {
			return fmt.Errorf("connect to Alexandria: %w", err)
		}
		defer repo.Close()
		logger.Info().Msg("connected to Alexandria")

		oddsUpdater = updater.New(svc, repo, updater.Config{
			Region:       cfg.Sports.DefaultRegion,
			Markets:      cfg.Sports.DefaultMarkets,
			CallTimeout:  cfg.Updater.CallTimeout,
			ForceRefresh: cfg.Updater.ForceRefresh,
		}, logger)
		if err := oddsUpdater.Start(cfg.Updater.Schedule); err != nil {
			return fmt.Errorf("start odds updater: %w", err)
		}
		defer oddsUpdater.Stop()

		if cfg.Updater.RunOnStart {
			oddsUpdater.Trigger(ctx)
		}
		refresh = oddsUpdater
	} else {
		logger.Warn().Msg("odds updater disabled")
	}

	handler := api.NewHandler(svc, refresh, logger)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewRouter(handler, cfg.HTTP.CORSOrigins, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Str("cache", cfg.Cache.Backend).Msg("pythia listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	if oddsUpdater != nil {
		oddsUpdater.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info().Msg("pythia stopped")
	return nil
}

func newCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (contracts.Cache, func(), error) {
	if cfg.Cache.Backend != "redis" {
		return newMemoryCache(cfg), func() {}, nil
	}

	opts := &redis.Options{Addr: cfg.Redis.URL}
	if strings.HasPrefix(cfg.Redis.URL, "redis://") || strings.HasPrefix(cfg.Redis.URL, "rediss://") {
		parsed, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("connected to Redis")

	return cache.NewRedis(client, cfg.Redis.KeyPrefix, logger), func() { client.Close() }, nil
}

func newMemoryCache(cfg *config.Config) *cache.Memory {
	var opts []cache.MemoryOption
	if cfg.Cache.MaxEntries > 0 {
		opts = append(opts, cache.WithMaxEntries(cfg.Cache.MaxEntries))
	}
	return cache.NewMemory(opts...)
}
