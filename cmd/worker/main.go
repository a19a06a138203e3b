package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"app/internal/api/v1/router"
	"app/internal/config"
	"app/internal/consumer"
	"app/internal/logger"
	"app/internal/queue"
	"app/internal/repository"

	"github.com/joho/godotenv"
)

func main() {
	// Parse topic flag
	topic := flag.String("topic", "", "Model queue to consume: model1|model2|model3")
	flag.Parse()

	// Initialize logger
	logger := logger.New()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	settings, ok := cfg.Topics()[*topic]
	endpoint := cfg.ModelEndpoint(*topic)
	if !ok || endpoint == "" {
		logger.Fatal().Msgf("Invalid topic: %s", *topic)
	}

	// Initialize DB connection
	db, err := router.OpenDB(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB connection: %v", err)
	}
	defer db.Close()

	// Initialize queue client and repositories
	q := queue.NewPostgres(db, router.TopicConfigs(cfg), logger)
	analysisRepo := repository.NewAnalysisRepository(db)
	photoRepo := repository.NewPhotoRepository(db)

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Run the worker loop
	proc := consumer.NewModelProcessor(*topic, endpoint, analysisRepo, photoRepo,
		time.Duration(cfg.ModelRequestTimeoutSec)*time.Second, logger)
	w := consumer.NewWorker(q, *topic, settings.VisibilityTimeout, settings.PollWait, proc, logger)

	logger.Info().Msgf("Worker consuming topic %s", *topic)
	if err := w.Run(ctx); err != nil {
		logger.Fatal().Msgf("%s worker failed: %v", *topic, err)
	}

	logger.Info().Msgf("%s worker stopped gracefully", *topic)
}
