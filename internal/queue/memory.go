package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"app/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const pollInterval = 100 * time.Millisecond

type memEntry struct {
	job      model.Job
	inFlight bool
}

// MemoryQueue is the single-process Queue implementation. It is the
// authoritative reference for the delivery semantics and backs local
// development and tests; PostgresQueue provides the same contract across
// processes.
type MemoryQueue struct {
	mu     sync.Mutex
	topics map[string]TopicConfig
	jobs   map[string]map[string]*memEntry // topic -> job id -> entry
	index  map[string]string               // job id -> topic
	dead   map[string]*model.DeadLetterEntry
	notify map[string]chan struct{}
	logger zerolog.Logger
}

func NewMemory(topics map[string]TopicConfig, logger zerolog.Logger) *MemoryQueue {
	q := &MemoryQueue{
		topics: topics,
		jobs:   make(map[string]map[string]*memEntry, len(topics)),
		index:  make(map[string]string),
		dead:   make(map[string]*model.DeadLetterEntry),
		notify: make(map[string]chan struct{}, len(topics)),
		logger: logger.With().Str("component", "queue").Logger(),
	}
	for name := range topics {
		q.jobs[name] = make(map[string]*memEntry)
		q.notify[name] = make(chan struct{}, 1)
	}
	return q
}

// StartSweeper drives redelivery and dead-letter moves for idle topics. The
// sweep also runs inline on every queue operation, so the ticker only matters
// when nothing is polling.
func (q *MemoryQueue) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.mu.Lock()
				q.sweep(time.Now())
				q.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *model.Job) error {
	cfg, ok := q.topics[job.Topic]
	if !ok {
		return ErrInvalidTopic
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	q.sweep(now)

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, exists := q.index[job.ID]; exists {
		// Idempotent publish: the producer retried an id that is still live.
		return nil
	}

	j := *job
	j.ReceiveCount = 0
	j.EnqueuedAt = now
	j.VisibleAfter = now
	j.ReceiptHandle = ""
	q.jobs[cfg.Name][j.ID] = &memEntry{job: j}
	q.index[j.ID] = cfg.Name
	q.signal(cfg.Name)
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, topic string, batchSize int, wait time.Duration) ([]*model.Job, error) {
	if _, ok := q.topics[topic]; !ok {
		return nil, ErrInvalidTopic
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	deadline := time.Now().Add(wait)
	for {
		if jobs := q.claim(topic, batchSize); len(jobs) > 0 {
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
		case <-q.notify[topic]:
		case <-time.After(pause):
		}
	}
}

func (q *MemoryQueue) claim(topic string, batchSize int) []*model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	q.sweep(now)

	cfg := q.topics[topic]
	var visible []*memEntry
	for _, e := range q.jobs[topic] {
		if !e.inFlight && !e.job.VisibleAfter.After(now) {
			visible = append(visible, e)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		return visible[i].job.EnqueuedAt.Before(visible[j].job.EnqueuedAt)
	})
	if len(visible) > batchSize {
		visible = visible[:batchSize]
	}

	out := make([]*model.Job, 0, len(visible))
	for _, e := range visible {
		e.inFlight = true
		e.job.ReceiveCount++
		e.job.VisibleAfter = now.Add(cfg.VisibilityTimeout)
		e.job.ReceiptHandle = uuid.NewString()
		j := e.job
		out = append(out, &j)
	}
	return out
}

func (q *MemoryQueue) Acknowledge(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sweep(time.Now())

	topic, ok := q.index[jobID]
	if !ok {
		// Duplicate ack from an overlapping visibility window; tolerated.
		return nil
	}
	delete(q.jobs[topic], jobID)
	delete(q.index, jobID)
	return nil
}

func (q *MemoryQueue) ExtendVisibility(ctx context.Context, jobID, receiptHandle string, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	q.sweep(now)

	topic, ok := q.index[jobID]
	if !ok {
		return ErrUnknownJob
	}
	e := q.jobs[topic][jobID]
	if !e.inFlight || e.job.ReceiptHandle != receiptHandle {
		return ErrUnknownJob
	}
	e.job.VisibleAfter = now.Add(d)
	return nil
}

func (q *MemoryQueue) DeadLetters(ctx context.Context) ([]*model.DeadLetterEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sweep(time.Now())

	out := make([]*model.DeadLetterEntry, 0, len(q.dead))
	for _, e := range q.dead {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArrivalTime.Before(out[j].ArrivalTime) })
	return out, nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, jobID, targetTopic string) error {
	cfg, ok := q.topics[targetTopic]
	if !ok {
		return ErrInvalidTopic
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	q.sweep(now)

	entry, ok := q.dead[jobID]
	if !ok {
		return ErrUnknownJob
	}
	if _, live := q.index[jobID]; live {
		// The producer re-sent the same object after quarantine, so a live
		// job already stands in for this id. Consume the dead-letter entry
		// and leave the live job alone.
		delete(q.dead, jobID)
		return nil
	}
	j := entry.Job
	j.Topic = cfg.Name
	j.ReceiveCount = 0
	j.EnqueuedAt = now
	j.VisibleAfter = now
	j.ReceiptHandle = ""
	q.jobs[cfg.Name][j.ID] = &memEntry{job: j}
	q.index[j.ID] = cfg.Name
	delete(q.dead, jobID)
	q.signal(cfg.Name)
	return nil
}

// sweep applies redelivery, quarantine, and retention. Callers hold q.mu.
func (q *MemoryQueue) sweep(now time.Time) {
	for topic, entries := range q.jobs {
		cfg := q.topics[topic]
		released := false
		for id, e := range entries {
			if e.inFlight && !e.job.VisibleAfter.After(now) {
				if e.job.ReceiveCount >= cfg.MaxReceiveCount {
					// Moved, not copied: the live entry is gone and the
					// receive count is frozen in the dead-letter record.
					q.dead[id] = &model.DeadLetterEntry{
						Job:          e.job,
						FailureCount: e.job.ReceiveCount,
						ArrivalTime:  now,
					}
					delete(entries, id)
					delete(q.index, id)
					q.logger.Warn().Str("job_id", id).Str("topic", topic).
						Int("failure_count", e.job.ReceiveCount).
						Msg("Job exhausted retries, moved to dead-letter store")
					continue
				}
				e.inFlight = false
				e.job.ReceiptHandle = ""
				released = true
			}
			if !e.inFlight && cfg.Retention > 0 && now.Sub(e.job.EnqueuedAt) > cfg.Retention {
				delete(entries, id)
				delete(q.index, id)
				q.logger.Debug().Str("job_id", id).Str("topic", topic).
					Msg("Job dropped after retention expiry")
			}
		}
		if released {
			q.signal(topic)
		}
	}
	for id, e := range q.dead {
		cfg, ok := q.topics[e.Job.Topic]
		if ok && cfg.DLQRetention > 0 && now.Sub(e.ArrivalTime) > cfg.DLQRetention {
			delete(q.dead, id)
		}
	}
}

func (q *MemoryQueue) signal(topic string) {
	select {
	case q.notify[topic] <- struct{}{}:
	default:
	}
}
