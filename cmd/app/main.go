package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"app/internal/api/v1/router"
	"app/internal/config"
	"app/internal/consumer"
	"app/internal/events"
	"app/internal/logger"
	"app/internal/repository"

	"github.com/joho/godotenv"
)

func main() {
	logger := logger.New()

	// 1. Load configuration
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	// 2. Build router (and get DB connection, queue and notifier)
	r, db, q, notifier, err := router.New(cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to build router: %v", err)
	}
	defer db.Close()
	defer notifier.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Start queue housekeeping and the ingest consumer pool
	q.StartReaper(ctx, 5*time.Second)

	photoRepo := repository.NewPhotoRepository(db)
	ingestProc := consumer.NewIngestProcessor(photoRepo, logger)
	ingestFn := consumer.NewFunction(q, "ingest", cfg.IngestBatchSize, ingestProc, logger)
	dispatcher := consumer.NewDispatcher(ingestFn, cfg.IngestMaxConcurrency,
		time.Duration(cfg.IngestPollWaitSec)*time.Second, logger)
	go dispatcher.Run(ctx)

	// 4. Start the pull subscriber when a subscription is configured; push
	// deliveries arrive on /v1/notifications/storage either way.
	if cfg.PubSubSubscription != "" {
		eventRouter := events.NewRouter(events.DefaultRules(cfg.S3Bucket), q, logger)
		subscriber, err := events.NewSubscriber(ctx, cfg.GCPProjectID, cfg.PubSubSubscription, eventRouter, logger)
		if err != nil {
			logger.Fatal().Msgf("Failed to create event subscriber: %v", err)
		}
		defer subscriber.Close()
		go func() {
			if err := subscriber.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("Event subscriber stopped")
			}
		}()
	}

	// 5. Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 6. Start server in a goroutine
	go func() {
		logger.Info().Msgf("🚀 Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Msgf("Listen: %s\n", err)
		}
	}()

	// 7. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutdown signal received, exiting...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Msgf("Server forced to shutdown: %v", err)
	}
	logger.Info().Msg("Server shut down gracefully")
}
