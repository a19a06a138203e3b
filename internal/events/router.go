package events

import (
	"context"
	"strings"

	"app/internal/model"
	"app/internal/queue"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ObjectCreated is the storage-creation notification consumed by the router.
type ObjectCreated struct {
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	PhotoID string `json:"photo_id"`
}

// Rule matches storage notifications to a queue topic. Empty fields match
// everything, mirroring pattern rules that only constrain some attributes.
type Rule struct {
	Name        string
	Bucket      string
	KeyPrefix   string
	TargetTopic string
}

func (r Rule) matches(ev ObjectCreated) bool {
	if r.Bucket != "" && r.Bucket != ev.Bucket {
		return false
	}
	if r.KeyPrefix != "" && !strings.HasPrefix(ev.Key, r.KeyPrefix) {
		return false
	}
	return true
}

// Router fans storage notifications out to queue topics. Every matching rule
// produces its own job, so one upload can feed several model queues; an event
// matching no rule is dropped, which is a configuration property rather than
// a runtime fault.
type Router struct {
	rules  []Rule
	q      queue.Queue
	logger zerolog.Logger
}

func NewRouter(rules []Rule, q queue.Queue, logger zerolog.Logger) *Router {
	return &Router{
		rules:  rules,
		q:      q,
		logger: logger.With().Str("component", "event-router").Logger(),
	}
}

// HandleObjectCreated enqueues one job per matching rule and returns how many
// were enqueued. Zero matches is not an error.
//
// Job ids are derived from the object and target topic, so a redelivered
// notification re-enqueues into the same ids and the queue's id idempotency
// absorbs the duplicates.
func (r *Router) HandleObjectCreated(ctx context.Context, ev ObjectCreated) (int, error) {
	enqueued := 0
	for _, rule := range r.rules {
		if !rule.matches(ev) {
			continue
		}
		job := &model.Job{
			ID:        jobID(ev, rule.TargetTopic),
			Topic:     rule.TargetTopic,
			PhotoID:   ev.PhotoID,
			Bucket:    ev.Bucket,
			ObjectKey: ev.Key,
		}
		if err := r.q.Enqueue(ctx, job); err != nil {
			return enqueued, err
		}
		enqueued++
		r.logger.Debug().
			Str("rule", rule.Name).
			Str("topic", rule.TargetTopic).
			Str("job_id", job.ID).
			Str("key", ev.Key).
			Msg("Storage event routed")
	}
	if enqueued == 0 {
		r.logger.Info().Str("bucket", ev.Bucket).Str("key", ev.Key).
			Msg("Storage event matched no routing rule, dropping")
	}
	return enqueued, nil
}

func jobID(ev ObjectCreated, topic string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(ev.Bucket+"/"+ev.Key+"#"+topic)).String()
}

// DefaultRules routes every object landing under uploads/ to the ingest
// queue and to each model queue.
func DefaultRules(bucket string) []Rule {
	return []Rule{
		{Name: "ingest-uploads", Bucket: bucket, KeyPrefix: "uploads/", TargetTopic: "ingest"},
		{Name: "model1-uploads", Bucket: bucket, KeyPrefix: "uploads/", TargetTopic: "model1"},
		{Name: "model2-uploads", Bucket: bucket, KeyPrefix: "uploads/", TargetTopic: "model2"},
		{Name: "model3-uploads", Bucket: bucket, KeyPrefix: "uploads/", TargetTopic: "model3"},
	}
}
