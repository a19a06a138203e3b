package consumer

import (
	"context"
	"errors"
	"time"

	"app/internal/model"
	"app/internal/queue"

	"github.com/rs/zerolog"
)

// Worker is the containerized consumer: a long-running receive-process-
// acknowledge loop bound to one topic. While a job is being processed a
// heartbeat goroutine extends its visibility at half the timeout, so slow
// jobs are not redelivered to another worker while this one is still alive.
// A worker that dies simply stops heartbeating and the queue takes the job
// back without any explicit cancel.
type Worker struct {
	q          queue.Queue
	topic      string
	visibility time.Duration
	pollWait   time.Duration
	proc       Processor
	logger     zerolog.Logger
}

func NewWorker(q queue.Queue, topic string, visibility, pollWait time.Duration, proc Processor, logger zerolog.Logger) *Worker {
	return &Worker{
		q:          q,
		topic:      topic,
		visibility: visibility,
		pollWait:   pollWait,
		proc:       proc,
		logger:     logger.With().Str("component", "worker").Str("topic", topic).Logger(),
	}
}

// Run loops until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Msg("Worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Worker shutting down")
			return nil
		default:
		}

		jobs, err := w.q.Receive(ctx, w.topic, 1, w.pollWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error().Err(err).Msg("Receive failed")
			time.Sleep(time.Second)
			continue
		}
		for _, job := range jobs {
			w.handle(ctx, job)
		}
	}
}

func (w *Worker) handle(ctx context.Context, job *model.Job) {
	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hbDone := make(chan struct{})
	go w.heartbeat(procCtx, cancel, job, hbDone)

	err := w.process(procCtx, job)
	cancel()
	<-hbDone

	if err != nil {
		// Never acknowledge a failed job; the timeout drives redelivery and
		// exhaustion quarantines deterministic failures on its own.
		w.logger.Warn().Err(err).Str("job_id", job.ID).
			Int("receive_count", job.ReceiveCount).
			Msg("Processing failed, leaving job for redelivery")
		return
	}
	if err := w.q.Acknowledge(ctx, job.ID); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to acknowledge job")
		return
	}
	w.logger.Info().Str("job_id", job.ID).Msg("Job processed")
}

// heartbeat extends the job's visibility until processing finishes. A stale
// receipt means the queue already handed the job to someone else; the only
// correct reaction is to stop working on it, which the idempotent result
// store makes safe even if processing had partially completed.
func (w *Worker) heartbeat(ctx context.Context, cancel context.CancelFunc, job *model.Job, done chan<- struct{}) {
	defer close(done)
	interval := w.visibility / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.q.ExtendVisibility(ctx, job.ID, job.ReceiptHandle, w.visibility)
			if err == nil {
				continue
			}
			if errors.Is(err, queue.ErrUnknownJob) {
				w.logger.Warn().Str("job_id", job.ID).
					Msg("Lost ownership of job, abandoning processing")
				cancel()
				return
			}
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Heartbeat failed")
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, job *model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{val: r}
			w.logger.Error().Interface("panic", r).Str("job_id", job.ID).
				Msg("Processor panicked")
		}
	}()
	return w.proc.Process(ctx, job)
}
