package router

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"app/internal/api/v1/handler"
	"app/internal/config"
	"app/internal/events"
	"app/internal/middleware"
	"app/internal/queue"
	"app/internal/repository"
	"app/internal/service"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsmiddleware "github.com/aws/smithy-go/middleware"
	"github.com/go-playground/validator/v10"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// New wires the API: database, S3, queue, event router, services and
// handlers. It returns the HTTP handler plus the DB, queue and notifier so
// the caller can run background loops and close cleanly.
func New(cfg *config.Config, logger zerolog.Logger) (http.Handler, *sql.DB, *queue.PostgresQueue, *events.PubSubNotifier, error) {
	logger.Info().Str("environment", cfg.Environment).Msg("Router initializing")

	// 1. Open DB connection (connection pooling)
	db, err := OpenDB(context.Background(), cfg, logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	// 2. Ensure relational and queue schemas exist
	if err := repository.EnsureSchema(context.Background(), db); err != nil {
		logger.Error().Err(err).Msg("Failed to ensure photo schema")
		return nil, nil, nil, nil, err
	}
	q := queue.NewPostgres(db, TopicConfigs(cfg), logger)
	if err := q.EnsureSchema(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Failed to ensure queue schema")
		return nil, nil, nil, nil, err
	}

	// 3. Initialize S3 client
	s3Config, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
		awsconfig.WithAPIOptions([]func(*awsmiddleware.Stack) error{removeDisableGzip()}),
	)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load S3 config")
		return nil, nil, nil, nil, err
	}
	s3Client := s3.NewFromConfig(s3Config, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3URL)
		o.UsePathStyle = true
	})

	// 4. Initialize validator
	validate := validator.New(validator.WithRequiredStructEnabled())

	// 5. Initialize Pub/Sub notifier and the event router
	notifier, err := events.NewPubSubNotifier(context.Background(), cfg.GCPProjectID, cfg.PubSubTopic)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create Pub/Sub notifier")
		return nil, nil, nil, nil, err
	}
	eventRouter := events.NewRouter(events.DefaultRules(cfg.S3Bucket), q, logger)

	// 6. Initialize repositories & services & handlers
	photoRepo := repository.NewPhotoRepository(db)
	analysisRepo := repository.NewAnalysisRepository(db)

	photoSvc := service.NewPhotoService(photoRepo, analysisRepo, s3Client, cfg.S3Bucket, notifier, logger)
	dlqSvc := service.NewDLQService(q, logger)

	photoHandler := handler.NewPhotoHandler(photoSvc, validate, logger)
	dlqHandler := handler.NewDLQHandler(dlqSvc, validate, logger)
	notificationHandler := handler.NewNotificationHandler(eventRouter, logger)

	// 7. Initialize middleware
	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret, logger)
	isLocalDev := cfg.PubSubEmulatorHost != ""
	pubsubAuthMiddleware := middleware.PubSubAuthMiddleware(isLocalDev, cfg.NotificationEndpointURL, cfg.PubSubPushServiceAccountEmail, logger)

	// 8. Create ServeMux router
	apiV1Mux := http.NewServeMux()
	photoHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	dlqHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	notificationHandler.RegisterRoutes(apiV1Mux, pubsubAuthMiddleware)

	mux := http.NewServeMux()
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	// 9. Apply CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(logger, c.Handler(mux)), db, q, notifier, nil
}

// TopicConfigs resolves the configured queue topics into queue settings.
func TopicConfigs(cfg *config.Config) map[string]queue.TopicConfig {
	topics := make(map[string]queue.TopicConfig)
	for name, s := range cfg.Topics() {
		topics[name] = queue.TopicConfig{
			Name:              name,
			VisibilityTimeout: s.VisibilityTimeout,
			Retention:         s.Retention,
			MaxReceiveCount:   s.MaxReceiveCount,
			DLQRetention:      s.DLQRetention,
		}
	}
	return topics
}

// OpenDB resolves the database password, builds the DSN and opens the pool.
// Both binaries connect through it so they agree on secret resolution and
// TLS settings.
func OpenDB(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*sql.DB, error) {
	password := cfg.DBPassword
	if cfg.DBPasswordSecret != "" {
		secrets, err := service.NewSecretManagerService(ctx)
		if err != nil {
			return nil, err
		}
		defer secrets.Close()
		password, err = secrets.AccessSecret(ctx, cfg.DBPasswordSecret)
		if err != nil {
			logger.Error().Err(err).Str("secret", cfg.DBPasswordSecret).Msg("Failed to resolve DB password")
			return nil, err
		}
	}

	db, err := sql.Open("pgx", dataSourceName(cfg, password))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open DB connection")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		logger.Error().Err(err).Msg("Failed to ping DB")
		return nil, err
	}
	logger.Info().Msg("Database connection successful")

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// dataSourceName keeps TLS on outside development.
func dataSourceName(cfg *config.Config, password string) string {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(cfg.DBUser), url.QueryEscape(password), cfg.DBHost, cfg.DBPort, cfg.DBName)
	if cfg.Environment == "development" {
		dsn += "?sslmode=disable"
	}
	return dsn
}

// removeDisableGzip is a workaround for S3 signature errors with some
// S3-compatible services.
// See: https://github.com/supabase/storage/issues/577
func removeDisableGzip() func(*awsmiddleware.Stack) error {
	return func(stack *awsmiddleware.Stack) error {
		// Only remove the middleware if it exists; presign operations inspect
		// the stack.
		if _, ok := stack.Finalize.Get("DisableAcceptEncodingGzip"); ok {
			_, err := stack.Finalize.Remove("DisableAcceptEncodingGzip")
			return err
		}
		return nil
	}
}
