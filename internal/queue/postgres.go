package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"app/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PostgresQueue implements Queue over two tables, queue_jobs and
// dead_letter_jobs. Receive claims rows with FOR UPDATE SKIP LOCKED so
// concurrent consumers across processes never lease the same row; everything
// else is plain row updates keyed by id and receipt.
type PostgresQueue struct {
	db     *sql.DB
	topics map[string]TopicConfig
	logger zerolog.Logger
}

func NewPostgres(db *sql.DB, topics map[string]TopicConfig, logger zerolog.Logger) *PostgresQueue {
	return &PostgresQueue{
		db:     db,
		topics: topics,
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

// EnsureSchema creates the queue tables when they do not exist yet.
func (q *PostgresQueue) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS queue_jobs (
    id            uuid PRIMARY KEY,
    topic         text NOT NULL,
    photo_id      text NOT NULL DEFAULT '',
    bucket        text NOT NULL,
    object_key    text NOT NULL,
    receive_count int  NOT NULL DEFAULT 0,
    enqueued_at   timestamptz NOT NULL DEFAULT now(),
    visible_after timestamptz NOT NULL DEFAULT now(),
    in_flight     boolean NOT NULL DEFAULT false,
    receipt       uuid
);
CREATE INDEX IF NOT EXISTS queue_jobs_claim_idx
    ON queue_jobs (topic, in_flight, visible_after);
CREATE TABLE IF NOT EXISTS dead_letter_jobs (
    id            uuid PRIMARY KEY,
    topic         text NOT NULL,
    photo_id      text NOT NULL DEFAULT '',
    bucket        text NOT NULL,
    object_key    text NOT NULL,
    failure_count int  NOT NULL,
    enqueued_at   timestamptz NOT NULL,
    arrival_time  timestamptz NOT NULL DEFAULT now()
);`
	if _, err := q.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("queue schema setup failed: %w", err)
	}
	return nil
}

// StartReaper periodically sweeps expired visibility windows so quarantine
// and redelivery happen even when no consumer is polling the topic.
func (q *PostgresQueue) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := q.sweep(ctx); err != nil {
					q.logger.Error().Err(err).Msg("Queue sweep failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (q *PostgresQueue) Enqueue(ctx context.Context, job *model.Job) error {
	cfg, ok := q.topics[job.Topic]
	if !ok {
		return ErrInvalidTopic
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	// ON CONFLICT makes producer retries idempotent.
	const insert = `
INSERT INTO queue_jobs (id, topic, photo_id, bucket, object_key)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`
	if _, err := q.db.ExecContext(ctx, insert, job.ID, cfg.Name, job.PhotoID, job.Bucket, job.ObjectKey); err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Receive(ctx context.Context, topic string, batchSize int, wait time.Duration) ([]*model.Job, error) {
	cfg, ok := q.topics[topic]
	if !ok {
		return nil, ErrInvalidTopic
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	deadline := time.Now().Add(wait)
	for {
		if err := q.sweepTopic(ctx, cfg); err != nil {
			return nil, err
		}
		jobs, err := q.claim(ctx, cfg, batchSize)
		if err != nil {
			return nil, err
		}
		if len(jobs) > 0 {
			return jobs, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		pause := pollInterval
		if remaining < pause {
			pause = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pause):
		}
	}
}

// claim atomically leases up to batchSize visible rows. SKIP LOCKED keeps
// concurrent receivers from blocking on or double-claiming the same rows.
func (q *PostgresQueue) claim(ctx context.Context, cfg TopicConfig, batchSize int) ([]*model.Job, error) {
	const lease = `
WITH candidates AS (
    SELECT id
    FROM queue_jobs
    WHERE topic = $1
      AND NOT in_flight
      AND visible_after <= now()
    ORDER BY enqueued_at
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE queue_jobs j
SET in_flight     = true,
    receive_count = j.receive_count + 1,
    visible_after = now() + make_interval(secs => $3),
    receipt       = gen_random_uuid()
FROM candidates c
WHERE j.id = c.id
RETURNING j.id, j.topic, j.photo_id, j.bucket, j.object_key,
          j.receive_count, j.enqueued_at, j.visible_after, j.receipt`
	rows, err := q.db.QueryContext(ctx, lease, cfg.Name, batchSize, cfg.VisibilityTimeout.Seconds())
	if err != nil {
		return nil, fmt.Errorf("receive failed: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		var j model.Job
		if err := rows.Scan(&j.ID, &j.Topic, &j.PhotoID, &j.Bucket, &j.ObjectKey,
			&j.ReceiveCount, &j.EnqueuedAt, &j.VisibleAfter, &j.ReceiptHandle); err != nil {
			return nil, fmt.Errorf("receive scan failed: %w", err)
		}
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("receive rows error: %w", err)
	}
	return jobs, nil
}

func (q *PostgresQueue) Acknowledge(ctx context.Context, jobID string) error {
	// Deleting an already-removed job affects zero rows, which is the
	// tolerated duplicate-ack case.
	if _, err := q.db.ExecContext(ctx, `DELETE FROM queue_jobs WHERE id = $1`, jobID); err != nil {
		return fmt.Errorf("acknowledge failed: %w", err)
	}
	return nil
}

func (q *PostgresQueue) ExtendVisibility(ctx context.Context, jobID, receiptHandle string, d time.Duration) error {
	// A lease whose visibility already lapsed is no longer owned, even if
	// the sweeper has not released the row yet.
	const extend = `
UPDATE queue_jobs
SET visible_after = now() + make_interval(secs => $3)
WHERE id = $1 AND receipt = $2 AND in_flight AND visible_after > now()`
	res, err := q.db.ExecContext(ctx, extend, jobID, receiptHandle, d.Seconds())
	if err != nil {
		return fmt.Errorf("extend visibility failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("extend visibility failed: %w", err)
	}
	if n == 0 {
		return ErrUnknownJob
	}
	return nil
}

func (q *PostgresQueue) DeadLetters(ctx context.Context) ([]*model.DeadLetterEntry, error) {
	const list = `
SELECT id, topic, photo_id, bucket, object_key, failure_count, enqueued_at, arrival_time
FROM dead_letter_jobs
ORDER BY arrival_time`
	rows, err := q.db.QueryContext(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("dead-letter list failed: %w", err)
	}
	defer rows.Close()

	var out []*model.DeadLetterEntry
	for rows.Next() {
		var e model.DeadLetterEntry
		if err := rows.Scan(&e.Job.ID, &e.Job.Topic, &e.Job.PhotoID, &e.Job.Bucket,
			&e.Job.ObjectKey, &e.FailureCount, &e.Job.EnqueuedAt, &e.ArrivalTime); err != nil {
			return nil, fmt.Errorf("dead-letter scan failed: %w", err)
		}
		e.Job.ReceiveCount = e.FailureCount
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dead-letter rows error: %w", err)
	}
	return out, nil
}

func (q *PostgresQueue) Requeue(ctx context.Context, jobID, targetTopic string) error {
	cfg, ok := q.topics[targetTopic]
	if !ok {
		return ErrInvalidTopic
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("requeue failed: %w", err)
	}
	defer tx.Rollback()

	var photoID, bucket, objectKey string
	err = tx.QueryRowContext(ctx,
		`DELETE FROM dead_letter_jobs WHERE id = $1 RETURNING photo_id, bucket, object_key`,
		jobID).Scan(&photoID, &bucket, &objectKey)
	if err == sql.ErrNoRows {
		return ErrUnknownJob
	}
	if err != nil {
		return fmt.Errorf("requeue failed: %w", err)
	}

	// A live job with this id may already exist when the producer re-sent
	// the same object after quarantine; the dead-letter entry is still
	// consumed and the live job stands in for the requeue.
	const insert = `
INSERT INTO queue_jobs (id, topic, photo_id, bucket, object_key)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, insert, jobID, cfg.Name, photoID, bucket, objectKey); err != nil {
		return fmt.Errorf("requeue failed: %w", err)
	}
	return tx.Commit()
}

func (q *PostgresQueue) sweep(ctx context.Context) error {
	for _, cfg := range q.topics {
		if err := q.sweepTopic(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}

// sweepTopic applies the redelivery policy at visibility expiry: exhausted
// jobs move to dead_letter_jobs, the rest become visible again, and jobs past
// retention are dropped.
func (q *PostgresQueue) sweepTopic(ctx context.Context, cfg TopicConfig) error {
	const quarantine = `
WITH moved AS (
    DELETE FROM queue_jobs
    WHERE topic = $1
      AND in_flight
      AND visible_after <= now()
      AND receive_count >= $2
    RETURNING id, topic, photo_id, bucket, object_key, receive_count, enqueued_at
)
INSERT INTO dead_letter_jobs (id, topic, photo_id, bucket, object_key, failure_count, enqueued_at)
SELECT id, topic, photo_id, bucket, object_key, receive_count, enqueued_at FROM moved`
	res, err := q.db.ExecContext(ctx, quarantine, cfg.Name, cfg.MaxReceiveCount)
	if err != nil {
		return fmt.Errorf("quarantine sweep failed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		q.logger.Warn().Str("topic", cfg.Name).Int64("count", n).
			Msg("Jobs exhausted retries, moved to dead-letter store")
	}

	const release = `
UPDATE queue_jobs
SET in_flight = false, receipt = NULL
WHERE topic = $1
  AND in_flight
  AND visible_after <= now()
  AND receive_count < $2`
	if _, err := q.db.ExecContext(ctx, release, cfg.Name, cfg.MaxReceiveCount); err != nil {
		return fmt.Errorf("release sweep failed: %w", err)
	}

	const expire = `
DELETE FROM queue_jobs
WHERE topic = $1
  AND NOT in_flight
  AND enqueued_at < now() - make_interval(secs => $2)`
	if _, err := q.db.ExecContext(ctx, expire, cfg.Name, cfg.Retention.Seconds()); err != nil {
		return fmt.Errorf("retention sweep failed: %w", err)
	}

	const expireDead = `
DELETE FROM dead_letter_jobs
WHERE topic = $1
  AND arrival_time < now() - make_interval(secs => $2)`
	if _, err := q.db.ExecContext(ctx, expireDead, cfg.Name, cfg.DLQRetention.Seconds()); err != nil {
		return fmt.Errorf("dead-letter retention sweep failed: %w", err)
	}
	return nil
}
