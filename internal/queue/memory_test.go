package queue

import (
	"context"
	"testing"
	"time"

	"app/internal/model"

	"github.com/rs/zerolog"
)

func testTopics(visibility time.Duration, maxReceive int) map[string]TopicConfig {
	return map[string]TopicConfig{
		"ingest": {
			Name:              "ingest",
			VisibilityTimeout: visibility,
			Retention:         time.Hour,
			MaxReceiveCount:   maxReceive,
			DLQRetention:      time.Hour,
		},
		"model1": {
			Name:              "model1",
			VisibilityTimeout: visibility,
			Retention:         time.Hour,
			MaxReceiveCount:   maxReceive,
			DLQRetention:      time.Hour,
		},
	}
}

func newTestQueue(visibility time.Duration, maxReceive int) *MemoryQueue {
	return NewMemory(testTopics(visibility, maxReceive), zerolog.Nop())
}

func testJob(topic string) *model.Job {
	return &model.Job{Topic: topic, PhotoID: "photo-1", Bucket: "photos", ObjectKey: "uploads/photo-1"}
}

func TestEnqueueInvalidTopic(t *testing.T) {
	q := newTestQueue(time.Second, 3)
	err := q.Enqueue(context.Background(), testJob("nope"))
	if err != ErrInvalidTopic {
		t.Fatalf("expected ErrInvalidTopic, got %v", err)
	}
}

func TestReceiveEmptyIsNotError(t *testing.T) {
	q := newTestQueue(time.Second, 3)
	jobs, err := q.Receive(context.Background(), "ingest", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(jobs))
	}
}

func TestReceiveHidesJobUntilTimeout(t *testing.T) {
	q := newTestQueue(50*time.Millisecond, 3)
	ctx := context.Background()
	if err := q.Enqueue(ctx, testJob("ingest")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	jobs, err := q.Receive(ctx, "ingest", 1, 0)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("first receive: jobs=%d err=%v", len(jobs), err)
	}
	if jobs[0].ReceiveCount != 1 {
		t.Fatalf("expected receive_count 1, got %d", jobs[0].ReceiveCount)
	}
	if jobs[0].ReceiptHandle == "" {
		t.Fatal("expected a receipt handle")
	}

	// Still hidden inside the visibility window.
	again, err := q.Receive(ctx, "ingest", 1, 0)
	if err != nil {
		t.Fatalf("second receive: %v", err)
	}
	if len(again) != 0 {
		t.Fatal("job should be invisible while in flight")
	}

	// Unacknowledged: becomes visible again after the timeout.
	time.Sleep(80 * time.Millisecond)
	redelivered, err := q.Receive(ctx, "ingest", 1, 0)
	if err != nil || len(redelivered) != 1 {
		t.Fatalf("redelivery: jobs=%d err=%v", len(redelivered), err)
	}
	if redelivered[0].ReceiveCount != 2 {
		t.Fatalf("expected receive_count 2 after redelivery, got %d", redelivered[0].ReceiveCount)
	}
}

func TestAcknowledgeRemovesAndDuplicateAckIsNoop(t *testing.T) {
	q := newTestQueue(50*time.Millisecond, 3)
	ctx := context.Background()
	if err := q.Enqueue(ctx, testJob("ingest")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs, _ := q.Receive(ctx, "ingest", 1, 0)
	if len(jobs) != 1 {
		t.Fatal("expected one job")
	}

	if err := q.Acknowledge(ctx, jobs[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := q.Acknowledge(ctx, jobs[0].ID); err != nil {
		t.Fatalf("duplicate ack should be a no-op, got %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	redelivered, _ := q.Receive(ctx, "ingest", 1, 0)
	if len(redelivered) != 0 {
		t.Fatal("acknowledged job must not be redelivered")
	}
}

// A job that fails maxReceiveCount consecutive deliveries is moved to the
// dead-letter store at the final timeout expiry, with its receive count
// frozen at exactly maxReceiveCount, never above it.
func TestExhaustedJobMovesToDeadLetter(t *testing.T) {
	const maxReceive = 3
	q := newTestQueue(30*time.Millisecond, maxReceive)
	ctx := context.Background()
	if err := q.Enqueue(ctx, testJob("ingest")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var jobID string
	for attempt := 1; attempt <= maxReceive; attempt++ {
		jobs, err := q.Receive(ctx, "ingest", 1, time.Second)
		if err != nil || len(jobs) != 1 {
			t.Fatalf("attempt %d: jobs=%d err=%v", attempt, len(jobs), err)
		}
		if jobs[0].ReceiveCount != attempt {
			t.Fatalf("attempt %d: receive_count %d", attempt, jobs[0].ReceiveCount)
		}
		if jobs[0].ReceiveCount > maxReceive {
			t.Fatalf("receive_count %d exceeded max %d in live queue", jobs[0].ReceiveCount, maxReceive)
		}
		jobID = jobs[0].ID
		// Never acknowledge: simulate a processing failure.
		time.Sleep(50 * time.Millisecond)
	}

	// After the final expiry the job must be quarantined, not redelivered.
	jobs, err := q.Receive(ctx, "ingest", 1, 0)
	if err != nil {
		t.Fatalf("receive after exhaustion: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatal("exhausted job must not be redelivered")
	}

	dead, err := q.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead-letter entry, got %d", len(dead))
	}
	if dead[0].Job.ID != jobID {
		t.Fatalf("dead-letter entry has wrong job id %s", dead[0].Job.ID)
	}
	if dead[0].FailureCount != maxReceive {
		t.Fatalf("failure_count %d, want %d", dead[0].FailureCount, maxReceive)
	}
}

func TestExtendVisibility(t *testing.T) {
	q := newTestQueue(40*time.Millisecond, 5)
	ctx := context.Background()
	if err := q.Enqueue(ctx, testJob("model1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs, _ := q.Receive(ctx, "model1", 1, 0)
	if len(jobs) != 1 {
		t.Fatal("expected one job")
	}

	// Heartbeat before expiry keeps the job hidden past the original window.
	time.Sleep(20 * time.Millisecond)
	if err := q.ExtendVisibility(ctx, jobs[0].ID, jobs[0].ReceiptHandle, 200*time.Millisecond); err != nil {
		t.Fatalf("extend: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if again, _ := q.Receive(ctx, "model1", 1, 0); len(again) != 0 {
		t.Fatal("extended job must stay invisible")
	}

	if err := q.Acknowledge(ctx, jobs[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := q.ExtendVisibility(ctx, jobs[0].ID, jobs[0].ReceiptHandle, time.Second); err != ErrUnknownJob {
		t.Fatalf("extend after ack: want ErrUnknownJob, got %v", err)
	}
}

// After a visibility race the first receiver's receipt is stale: its extend
// must fail so it abandons the job instead of fighting the new owner.
func TestStaleReceiptAfterRedelivery(t *testing.T) {
	q := newTestQueue(30*time.Millisecond, 5)
	ctx := context.Background()
	if err := q.Enqueue(ctx, testJob("model1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, _ := q.Receive(ctx, "model1", 1, 0)
	if len(first) != 1 {
		t.Fatal("expected one job")
	}
	time.Sleep(50 * time.Millisecond)
	second, _ := q.Receive(ctx, "model1", 1, 0)
	if len(second) != 1 {
		t.Fatal("expected redelivery")
	}

	err := q.ExtendVisibility(ctx, first[0].ID, first[0].ReceiptHandle, time.Second)
	if err != ErrUnknownJob {
		t.Fatalf("stale extend: want ErrUnknownJob, got %v", err)
	}
	if err := q.ExtendVisibility(ctx, second[0].ID, second[0].ReceiptHandle, time.Second); err != nil {
		t.Fatalf("current owner extend: %v", err)
	}
}

func TestRequeueResetsReceiveCount(t *testing.T) {
	q := newTestQueue(20*time.Millisecond, 1)
	ctx := context.Background()
	if err := q.Enqueue(ctx, testJob("model1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs, _ := q.Receive(ctx, "model1", 1, 0)
	if len(jobs) != 1 {
		t.Fatal("expected one job")
	}
	jobID := jobs[0].ID

	time.Sleep(40 * time.Millisecond)
	dead, _ := q.DeadLetters(ctx)
	if len(dead) != 1 {
		t.Fatalf("expected quarantine, got %d entries", len(dead))
	}

	if err := q.Requeue(ctx, jobID, "model1"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	dead, _ = q.DeadLetters(ctx)
	if len(dead) != 0 {
		t.Fatal("requeued job must leave the dead-letter store")
	}

	jobs, _ = q.Receive(ctx, "model1", 1, 0)
	if len(jobs) != 1 {
		t.Fatal("requeued job must be receivable")
	}
	if jobs[0].ReceiveCount != 1 {
		t.Fatalf("receive_count after requeue: got %d, want 1 (reset to 0 then one delivery)", jobs[0].ReceiveCount)
	}

	// Successful processing this time: ack removes it for good.
	if err := q.Acknowledge(ctx, jobID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if dead, _ = q.DeadLetters(ctx); len(dead) != 0 {
		t.Fatal("acknowledged job must not reappear in the dead-letter store")
	}
}

func TestRequeueWithLiveDuplicateConsumesDeadLetter(t *testing.T) {
	q := newTestQueue(20*time.Millisecond, 1)
	ctx := context.Background()
	if err := q.Enqueue(ctx, testJob("model1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs, _ := q.Receive(ctx, "model1", 1, 0)
	if len(jobs) != 1 {
		t.Fatal("expected one job")
	}
	jobID := jobs[0].ID

	time.Sleep(40 * time.Millisecond)
	if dead, _ := q.DeadLetters(ctx); len(dead) != 1 {
		t.Fatalf("expected quarantine, got %d entries", len(dead))
	}

	// The producer re-sends the same object, so the same id goes live again
	// before the operator requeues the dead letter.
	fresh := testJob("model1")
	fresh.ID = jobID
	if err := q.Enqueue(ctx, fresh); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}

	if err := q.Requeue(ctx, jobID, "model1"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if dead, _ := q.DeadLetters(ctx); len(dead) != 0 {
		t.Fatal("requeue must consume the dead-letter entry")
	}

	jobs, _ = q.Receive(ctx, "model1", 10, 0)
	if len(jobs) != 1 {
		t.Fatalf("want exactly one live job, got %d", len(jobs))
	}
	if jobs[0].ReceiveCount != 1 {
		t.Fatalf("live job must keep its own delivery state, got receive_count %d", jobs[0].ReceiveCount)
	}
}

func TestRequeueUnknownJob(t *testing.T) {
	q := newTestQueue(time.Second, 3)
	if err := q.Requeue(context.Background(), "missing", "model1"); err != ErrUnknownJob {
		t.Fatalf("want ErrUnknownJob, got %v", err)
	}
	if err := q.Requeue(context.Background(), "missing", "bogus"); err != ErrInvalidTopic {
		t.Fatalf("want ErrInvalidTopic, got %v", err)
	}
}

func TestEnqueueSameIDIsIdempotent(t *testing.T) {
	q := newTestQueue(time.Second, 3)
	ctx := context.Background()
	j := testJob("ingest")
	j.ID = "fixed-id"
	if err := q.Enqueue(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, j); err != nil {
		t.Fatalf("retry enqueue: %v", err)
	}
	jobs, _ := q.Receive(ctx, "ingest", 10, 0)
	if len(jobs) != 1 {
		t.Fatalf("expected a single live job, got %d", len(jobs))
	}
}

func TestLongPollWakesOnEnqueue(t *testing.T) {
	q := newTestQueue(time.Second, 3)
	ctx := context.Background()

	done := make(chan []*model.Job, 1)
	go func() {
		jobs, _ := q.Receive(ctx, "ingest", 1, 2*time.Second)
		done <- jobs
	}()

	time.Sleep(30 * time.Millisecond)
	if err := q.Enqueue(ctx, testJob("ingest")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case jobs := <-done:
		if len(jobs) != 1 {
			t.Fatalf("long poll returned %d jobs", len(jobs))
		}
	case <-time.After(time.Second):
		t.Fatal("long poll did not wake on enqueue")
	}
}

func TestRetentionExpiryDropsUnclaimedJobs(t *testing.T) {
	topics := testTopics(time.Second, 3)
	cfg := topics["ingest"]
	cfg.Retention = 30 * time.Millisecond
	topics["ingest"] = cfg
	q := NewMemory(topics, zerolog.Nop())
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob("ingest")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	jobs, err := q.Receive(ctx, "ingest", 1, 0)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatal("job past retention must be dropped silently")
	}
	if dead, _ := q.DeadLetters(ctx); len(dead) != 0 {
		t.Fatal("retention expiry must not dead-letter the job")
	}
}
