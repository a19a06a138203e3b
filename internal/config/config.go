package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"development"`

	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	// When set, the DB password is fetched from GCP Secret Manager instead of
	// DB_PASSWORD. Expected format: projects/<project>/secrets/<name>.
	DBPasswordSecret string `envconfig:"DB_PASSWORD_SECRET"`
	GCPProjectID     string `envconfig:"GCP_PROJECT_ID"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	S3URL       string `envconfig:"S3_URL" required:"true"`
	S3Bucket    string `envconfig:"S3_BUCKET" required:"true"`
	S3Region    string `envconfig:"S3_REGION" required:"true"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY" required:"true"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY" required:"true"`

	// Pub/Sub event fabric for object-created notifications.
	PubSubTopic                   string `envconfig:"PUBSUB_STORAGE_TOPIC" default:"storage-events"`
	PubSubSubscription            string `envconfig:"PUBSUB_STORAGE_SUBSCRIPTION" default:"storage-events-router"`
	PubSubEmulatorHost            string `envconfig:"PUBSUB_EMULATOR_HOST"`
	PubSubPushServiceAccountEmail string `envconfig:"PUBSUB_PUSH_SERVICE_ACCOUNT_EMAIL"`
	NotificationEndpointURL       string `envconfig:"NOTIFICATION_ENDPOINT_URL"`

	// Ingest queue settings (primary queue, function consumers)
	IngestVisibilityTimeoutSec int `envconfig:"INGEST_VISIBILITY_TIMEOUT_SEC" default:"30"`
	IngestRetentionSec         int `envconfig:"INGEST_RETENTION_SEC" default:"345600"`
	IngestMaxReceiveCount      int `envconfig:"INGEST_MAX_RECEIVE_COUNT" default:"3"`
	IngestDLQRetentionSec      int `envconfig:"INGEST_DLQ_RETENTION_SEC" default:"1209600"`
	IngestPollWaitSec          int `envconfig:"INGEST_POLL_WAIT_SEC" default:"20"`
	IngestBatchSize            int `envconfig:"INGEST_BATCH_SIZE" default:"10"`
	IngestMaxConcurrency       int `envconfig:"INGEST_MAX_CONCURRENCY" default:"8"`

	// Model1 queue settings (containerized worker)
	Model1VisibilityTimeoutSec int    `envconfig:"MODEL1_VISIBILITY_TIMEOUT_SEC" default:"120"`
	Model1RetentionSec         int    `envconfig:"MODEL1_RETENTION_SEC" default:"345600"`
	Model1MaxReceiveCount      int    `envconfig:"MODEL1_MAX_RECEIVE_COUNT" default:"5"`
	Model1DLQRetentionSec      int    `envconfig:"MODEL1_DLQ_RETENTION_SEC" default:"1209600"`
	Model1PollWaitSec          int    `envconfig:"MODEL1_POLL_WAIT_SEC" default:"20"`
	Model1Endpoint             string `envconfig:"MODEL1_ENDPOINT" default:"http://localhost:9001/analyze"`

	// Model2 queue settings (containerized worker)
	Model2VisibilityTimeoutSec int    `envconfig:"MODEL2_VISIBILITY_TIMEOUT_SEC" default:"120"`
	Model2RetentionSec         int    `envconfig:"MODEL2_RETENTION_SEC" default:"345600"`
	Model2MaxReceiveCount      int    `envconfig:"MODEL2_MAX_RECEIVE_COUNT" default:"5"`
	Model2DLQRetentionSec      int    `envconfig:"MODEL2_DLQ_RETENTION_SEC" default:"1209600"`
	Model2PollWaitSec          int    `envconfig:"MODEL2_POLL_WAIT_SEC" default:"20"`
	Model2Endpoint             string `envconfig:"MODEL2_ENDPOINT" default:"http://localhost:9002/analyze"`

	// Model3 queue settings (containerized worker)
	Model3VisibilityTimeoutSec int    `envconfig:"MODEL3_VISIBILITY_TIMEOUT_SEC" default:"120"`
	Model3RetentionSec         int    `envconfig:"MODEL3_RETENTION_SEC" default:"345600"`
	Model3MaxReceiveCount      int    `envconfig:"MODEL3_MAX_RECEIVE_COUNT" default:"5"`
	Model3DLQRetentionSec      int    `envconfig:"MODEL3_DLQ_RETENTION_SEC" default:"1209600"`
	Model3PollWaitSec          int    `envconfig:"MODEL3_POLL_WAIT_SEC" default:"20"`
	Model3Endpoint             string `envconfig:"MODEL3_ENDPOINT" default:"http://localhost:9003/analyze"`

	ModelRequestTimeoutSec int `envconfig:"MODEL_REQUEST_TIMEOUT_SEC" default:"60"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TopicSettings is the resolved per-topic queue configuration.
type TopicSettings struct {
	VisibilityTimeout time.Duration
	Retention         time.Duration
	MaxReceiveCount   int
	DLQRetention      time.Duration
	PollWait          time.Duration
}

// Topics maps each queue topic to its settings. The topic set is fixed; a
// topic missing from this map is an invalid enqueue target.
func (c *Config) Topics() map[string]TopicSettings {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return map[string]TopicSettings{
		"ingest": {
			VisibilityTimeout: sec(c.IngestVisibilityTimeoutSec),
			Retention:         sec(c.IngestRetentionSec),
			MaxReceiveCount:   c.IngestMaxReceiveCount,
			DLQRetention:      sec(c.IngestDLQRetentionSec),
			PollWait:          sec(c.IngestPollWaitSec),
		},
		"model1": {
			VisibilityTimeout: sec(c.Model1VisibilityTimeoutSec),
			Retention:         sec(c.Model1RetentionSec),
			MaxReceiveCount:   c.Model1MaxReceiveCount,
			DLQRetention:      sec(c.Model1DLQRetentionSec),
			PollWait:          sec(c.Model1PollWaitSec),
		},
		"model2": {
			VisibilityTimeout: sec(c.Model2VisibilityTimeoutSec),
			Retention:         sec(c.Model2RetentionSec),
			MaxReceiveCount:   c.Model2MaxReceiveCount,
			DLQRetention:      sec(c.Model2DLQRetentionSec),
			PollWait:          sec(c.Model2PollWaitSec),
		},
		"model3": {
			VisibilityTimeout: sec(c.Model3VisibilityTimeoutSec),
			Retention:         sec(c.Model3RetentionSec),
			MaxReceiveCount:   c.Model3MaxReceiveCount,
			DLQRetention:      sec(c.Model3DLQRetentionSec),
			PollWait:          sec(c.Model3PollWaitSec),
		},
	}
}

// ModelEndpoint returns the inference endpoint for a model topic, or "" when
// the topic has no model behind it.
func (c *Config) ModelEndpoint(topic string) string {
	switch topic {
	case "model1":
		return c.Model1Endpoint
	case "model2":
		return c.Model2Endpoint
	case "model3":
		return c.Model3Endpoint
	}
	return ""
}
