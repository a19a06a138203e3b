package queue

import (
	"context"
	"errors"
	"time"

	"app/internal/model"
)

var (
	// ErrInvalidTopic is returned when a job targets a topic outside the
	// configured set. This is a hard failure for the caller.
	ErrInvalidTopic = errors.New("queue: invalid topic")

	// ErrUnknownJob is returned when the caller no longer owns a job: it was
	// acknowledged, redelivered to another consumer, or dead-lettered. Callers
	// must abandon the job rather than treat this as a fault.
	ErrUnknownJob = errors.New("queue: unknown job")
)

// TopicConfig is the per-topic delivery policy, resolved once at startup.
type TopicConfig struct {
	Name              string
	VisibilityTimeout time.Duration
	Retention         time.Duration
	MaxReceiveCount   int
	DLQRetention      time.Duration
}

// Queue is an at-least-once message store parameterized by topic.
//
// Delivery semantics: Receive hides a job for the topic's visibility timeout
// and increments its receive count. A job that is not acknowledged before the
// timeout becomes visible again, unless its receive count has reached the
// topic's max receive count, in which case it is moved (not copied) to the
// dead-letter store. The exhaustion check happens at timeout expiry, not at
// receive time, so a job can be delivered exactly MaxReceiveCount times
// before quarantine.
//
// Duplicate delivery is inherent to the contract; all downstream writes must
// be idempotent on the job id.
type Queue interface {
	// Enqueue makes the job immediately visible on its topic. Re-enqueueing
	// an id that is already live is a no-op, so publishers may retry blindly.
	Enqueue(ctx context.Context, job *model.Job) error

	// Receive returns up to batchSize visible jobs from the topic, long-polling
	// up to wait when none are visible. An empty result is a normal pollable
	// condition, not an error.
	Receive(ctx context.Context, topic string, batchSize int, wait time.Duration) ([]*model.Job, error)

	// Acknowledge permanently removes the job. Acknowledging a job that is
	// already gone is a no-op: overlapping visibility windows make duplicate
	// acks unavoidable.
	Acknowledge(ctx context.Context, jobID string) error

	// ExtendVisibility pushes the job's visibility deadline d into the future.
	// The receipt handle from the delivering Receive is required; a stale
	// handle yields ErrUnknownJob.
	ExtendVisibility(ctx context.Context, jobID, receiptHandle string, d time.Duration) error

	// DeadLetters lists quarantined jobs, oldest first.
	DeadLetters(ctx context.Context) ([]*model.DeadLetterEntry, error)

	// Requeue moves a dead-lettered job back onto a live topic with its
	// receive count reset to zero.
	Requeue(ctx context.Context, jobID, targetTopic string) error
}
