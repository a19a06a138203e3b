package consumer

import (
	"context"
	"time"

	"app/internal/model"
	"app/internal/queue"

	"github.com/rs/zerolog"
)

// Function is the serverless-style consumer: one invocation receives one
// batch, processes it, and exits. It keeps no state between invocations, so
// a crash mid-batch simply leaves the unacknowledged jobs to redeliver.
type Function struct {
	q         queue.Queue
	topic     string
	batchSize int
	proc      Processor
	logger    zerolog.Logger
}

func NewFunction(q queue.Queue, topic string, batchSize int, proc Processor, logger zerolog.Logger) *Function {
	return &Function{
		q:         q,
		topic:     topic,
		batchSize: batchSize,
		proc:      proc,
		logger:    logger.With().Str("component", "function").Str("topic", topic).Logger(),
	}
}

// Invoke processes a single batch and returns how many jobs were
// acknowledged. Failed jobs are never acknowledged; the visibility timeout
// drives their redelivery.
func (f *Function) Invoke(ctx context.Context, wait time.Duration) (int, error) {
	jobs, err := f.q.Receive(ctx, f.topic, f.batchSize, wait)
	if err != nil {
		return 0, err
	}
	acked := 0
	for _, job := range jobs {
		if err := f.process(ctx, job); err != nil {
			f.logger.Warn().Err(err).Str("job_id", job.ID).
				Int("receive_count", job.ReceiveCount).
				Msg("Processing failed, leaving job for redelivery")
			continue
		}
		if err := f.q.Acknowledge(ctx, job.ID); err != nil {
			f.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to acknowledge job")
			continue
		}
		acked++
	}
	return acked, nil
}

// process shields the invocation from panics in the processor; a panic is a
// failure, so the job stays unacknowledged.
func (f *Function) process(ctx context.Context, job *model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{val: r}
			f.logger.Error().Interface("panic", r).Str("job_id", job.ID).
				Msg("Processor panicked")
		}
	}()
	return f.proc.Process(ctx, job)
}

type panicError struct{ val any }

func (e *panicError) Error() string { return "processor panicked" }

// Dispatcher emulates an elastic pool of Function invocations: it keeps up to
// maxConcurrency invocations running, each long-polling for its own batch.
type Dispatcher struct {
	fn             *Function
	maxConcurrency int
	pollWait       time.Duration
	logger         zerolog.Logger
}

func NewDispatcher(fn *Function, maxConcurrency int, pollWait time.Duration, logger zerolog.Logger) *Dispatcher {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Dispatcher{
		fn:             fn,
		maxConcurrency: maxConcurrency,
		pollWait:       pollWait,
		logger:         logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Run blocks until ctx is cancelled, continuously launching invocations.
func (d *Dispatcher) Run(ctx context.Context) {
	sem := make(chan struct{}, d.maxConcurrency)
	for {
		select {
		case <-ctx.Done():
			// Drain: wait for in-flight invocations to finish.
			for i := 0; i < d.maxConcurrency; i++ {
				sem <- struct{}{}
			}
			return
		case sem <- struct{}{}:
			go func() {
				defer func() { <-sem }()
				if _, err := d.fn.Invoke(ctx, d.pollWait); err != nil && ctx.Err() == nil {
					d.logger.Error().Err(err).Msg("Invocation failed")
					time.Sleep(time.Second)
				}
			}()
		}
	}
}
