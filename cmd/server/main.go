package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/agrimarket/bargaining-hub/internal/api/http"
	appNegotiation "github.com/agrimarket/bargaining-hub/internal/application/negotiation"
	appNotification "github.com/agrimarket/bargaining-hub/internal/application/notification"
	"github.com/agrimarket/bargaining-hub/internal/config"
	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
	"github.com/agrimarket/bargaining-hub/internal/domain/realtime"
	"github.com/agrimarket/bargaining-hub/internal/infrastructure/memory"
	"github.com/agrimarket/bargaining-hub/internal/infrastructure/metrics"
	"github.com/agrimarket/bargaining-hub/internal/infrastructure/postgres"
	"github.com/agrimarket/bargaining-hub/internal/infrastructure/redisbus"
	"github.com/agrimarket/bargaining-hub/internal/infrastructure/sse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := zerolog.New(os.Stdout).Level(cfg.Level()).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.Default()
	hub := sse.NewHub(cfg.SubscriptionBuffer, m, logger)
	defer hub.Stop()

	var background sync.WaitGroup
	goBackground := func(name string, fn func() error) {
		background.Add(1)
		go func() {
			defer background.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("loop", name).Msg("background loop stopped")
			}
		}()
	}

	// Commits publish to the broker; with redis every instance's hub is fed
	// by the relay so local sessions see remote writes.
	var publisher realtime.Publisher = hub
	if cfg.FanoutBackend == config.FanoutRedis {
		client := redisbus.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer client.Close()
		bus := redisbus.New(client, cfg.RedisChannelPrefix, logger)
		if err := bus.Ping(ctx); err != nil {
			logger.Fatal().Err(err).Msg("redis unavailable")
		}
		ready := make(chan struct{})
		goBackground("redis_relay", func() error { return bus.Run(ctx, hub, ready) })
		select {
		case <-ready:
		case <-ctx.Done():
			return
		}
		publisher = bus
	}

	var (
		repo     negotiation.Repository
		profiles negotiation.ProfileLookup
		listings negotiation.ListingLookup
	)
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("db error")
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
			logger.Fatal().Err(err).Msg("migration error")
		}
		repo = postgres.NewNegotiationRepository(pool, logger)
		dir := postgres.NewDirectoryRepository(pool)
		profiles, listings = dir, dir

		relay := postgres.NewOutboxRelay(pool, publisher, cfg.OutboxBatchSize, m, logger)
		goBackground("outbox_relay", func() error {
			relay.Run(ctx, cfg.OutboxPollInterval)
			return nil
		})
	default:
		repo = memory.NewNegotiationRepository(publisher, logger)
		dir := memory.NewDirectory()
		profiles, listings = dir, dir
	}
	logger.Info().
		Str("store", cfg.StoreBackend).
		Str("fanout", cfg.FanoutBackend).
		Msg("backends selected")

	negotiationSvc := appNegotiation.NewService(repo, profiles, listings, m, cfg.EnrichmentPlaceholder, logger)

	alerts := appNotification.NewMemorySink(cfg.AlertsPerUser)
	dispatcher, err := appNotification.NewDispatcher(hub, alerts, nil, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("notification rules")
	}
	dispatcher.SetBuffer(cfg.AlertDispatchBuffer)
	goBackground("notification_dispatcher", func() error { return dispatcher.Run(ctx) })

	apiServer := httpapi.NewServer(negotiationSvc, hub, alerts, cfg.ActionRatePerSecond, cfg.ActionRateBurst, logger)
	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: event streams stay open.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	// Closing subscriptions ends open streams so Shutdown does not wait on them.
	hub.Stop()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	background.Wait()
}
