package consumer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"app/internal/model"
	"app/internal/queue"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

func consumerTopics(visibility time.Duration, maxReceive int) map[string]queue.TopicConfig {
	topics := make(map[string]queue.TopicConfig)
	for _, name := range []string{"ingest", "model1"} {
		topics[name] = queue.TopicConfig{
			Name:              name,
			VisibilityTimeout: visibility,
			Retention:         time.Hour,
			MaxReceiveCount:   maxReceive,
			DLQRetention:      time.Hour,
		}
	}
	return topics
}

func enqueue(t *testing.T, q queue.Queue, topic, photoID string) string {
	t.Helper()
	job := &model.Job{Topic: topic, PhotoID: photoID, Bucket: "photos", ObjectKey: "uploads/" + photoID}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job.ID
}

func TestFunctionAcksOnlySuccesses(t *testing.T) {
	q := queue.NewMemory(consumerTopics(50*time.Millisecond, 5), zerolog.Nop())
	ctx := context.Background()
	enqueue(t, q, "ingest", "good")
	badID := enqueue(t, q, "ingest", "bad")

	proc := ProcessorFunc(func(ctx context.Context, job *model.Job) error {
		if job.PhotoID == "bad" {
			return errors.New("downstream timeout")
		}
		return nil
	})
	fn := NewFunction(q, "ingest", 10, proc, zerolog.Nop())

	acked, err := fn.Invoke(ctx, 0)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if acked != 1 {
		t.Fatalf("expected 1 ack, got %d", acked)
	}

	// Only the failed job comes back after the visibility timeout.
	time.Sleep(80 * time.Millisecond)
	jobs, err := q.Receive(ctx, "ingest", 10, 0)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 redelivered job, got %d", len(jobs))
	}
	if jobs[0].ID != badID {
		t.Fatalf("wrong job redelivered: %s", jobs[0].ID)
	}
	if jobs[0].ReceiveCount != 2 {
		t.Fatalf("receive_count %d, want 2", jobs[0].ReceiveCount)
	}
}

func TestFunctionSurvivesProcessorPanic(t *testing.T) {
	q := queue.NewMemory(consumerTopics(30*time.Millisecond, 5), zerolog.Nop())
	enqueue(t, q, "ingest", "p1")

	proc := ProcessorFunc(func(ctx context.Context, job *model.Job) error {
		panic("boom")
	})
	fn := NewFunction(q, "ingest", 1, proc, zerolog.Nop())

	acked, err := fn.Invoke(context.Background(), 0)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if acked != 0 {
		t.Fatal("panicked job must not be acknowledged")
	}

	time.Sleep(50 * time.Millisecond)
	jobs, _ := q.Receive(context.Background(), "ingest", 1, 0)
	if len(jobs) != 1 {
		t.Fatal("panicked job must be redelivered")
	}
}

// Two consumers hold the same job after a visibility race; both process it,
// the relational store keeps exactly one record.
func TestVisibilityRaceProducesOneRecord(t *testing.T) {
	q := queue.NewMemory(consumerTopics(30*time.Millisecond, 5), zerolog.Nop())
	results := repository.NewMemoryAnalysisRepository()
	ctx := context.Background()
	enqueue(t, q, "model1", "raced")

	proc := ProcessorFunc(func(ctx context.Context, job *model.Job) error {
		_, err := results.SaveResult(ctx, &model.Analysis{
			JobID:   job.ID,
			PhotoID: job.PhotoID,
			Model:   "model1",
			Outcome: "success",
		})
		return err
	})

	first, _ := q.Receive(ctx, "model1", 1, 0)
	if len(first) != 1 {
		t.Fatal("expected one job")
	}
	time.Sleep(50 * time.Millisecond) // first consumer stalls past its window
	second, _ := q.Receive(ctx, "model1", 1, 0)
	if len(second) != 1 {
		t.Fatal("expected redelivery during the race")
	}

	if err := proc.Process(ctx, second[0]); err != nil {
		t.Fatalf("second consumer: %v", err)
	}
	if err := proc.Process(ctx, first[0]); err != nil {
		t.Fatalf("first consumer: %v", err)
	}
	if err := q.Acknowledge(ctx, second[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := q.Acknowledge(ctx, first[0].ID); err != nil {
		t.Fatalf("duplicate ack: %v", err)
	}

	all, _ := results.ListByPhotoID(ctx, "raced")
	if len(all) != 1 {
		t.Fatalf("expected exactly one stored record, got %d", len(all))
	}
}

func TestModelProcessor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"labels":["cat","tree"]}`))
	}))
	defer srv.Close()

	results := repository.NewMemoryAnalysisRepository()
	p := NewModelProcessor("model1", srv.URL, results, nil, time.Second, zerolog.Nop())
	job := &model.Job{ID: "job-1", Topic: "model1", PhotoID: "photo-1", Bucket: "photos", ObjectKey: "uploads/photo-1"}

	if err := p.Process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _ := results.GetByJobID(context.Background(), "job-1")
	if got == nil || got.Result != `{"labels":["cat","tree"]}` {
		t.Fatalf("unexpected stored result: %+v", got)
	}

	// Second delivery of the same job is a clean no-op.
	if err := p.Process(context.Background(), job); err != nil {
		t.Fatalf("duplicate process: %v", err)
	}
	all, _ := results.ListByPhotoID(context.Background(), "photo-1")
	if len(all) != 1 {
		t.Fatalf("expected one record after duplicate processing, got %d", len(all))
	}
}

func TestModelProcessorPropagatesServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	results := repository.NewMemoryAnalysisRepository()
	p := NewModelProcessor("model1", srv.URL, results, nil, time.Second, zerolog.Nop())
	job := &model.Job{ID: "job-2", Topic: "model1", PhotoID: "photo-2"}

	if err := p.Process(context.Background(), job); err == nil {
		t.Fatal("expected error from failing model service")
	}
	if got, _ := results.GetByJobID(context.Background(), "job-2"); got != nil {
		t.Fatal("failed processing must not store a result")
	}
}

// A slow job outlives its visibility timeout but the worker's heartbeat keeps
// extending it, so no second delivery happens.
func TestWorkerHeartbeatPreventsRedelivery(t *testing.T) {
	q := queue.NewMemory(consumerTopics(60*time.Millisecond, 5), zerolog.Nop())
	enqueue(t, q, "model1", "slow")

	var invocations int32
	proc := ProcessorFunc(func(ctx context.Context, job *model.Job) error {
		atomic.AddInt32(&invocations, 1)
		select {
		case <-time.After(150 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(q, "model1", 60*time.Millisecond, 50*time.Millisecond, proc, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(400 * time.Millisecond)
	cancel()
	<-done

	if n := atomic.LoadInt32(&invocations); n != 1 {
		t.Fatalf("expected exactly one invocation, got %d", n)
	}
	jobs, _ := q.Receive(context.Background(), "model1", 1, 0)
	if len(jobs) != 0 {
		t.Fatal("acknowledged job must not be redelivered")
	}
	dead, _ := q.DeadLetters(context.Background())
	if len(dead) != 0 {
		t.Fatal("successful job must not be dead-lettered")
	}
}

// When the queue hands the job to someone else, the heartbeat sees a stale
// receipt and cancels the in-progress processing.
func TestWorkerAbandonsOnLostOwnership(t *testing.T) {
	q := queue.NewMemory(consumerTopics(50*time.Millisecond, 5), zerolog.Nop())
	enqueue(t, q, "model1", "stolen")

	started := make(chan string, 1)
	cancelled := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, job *model.Job) error {
		started <- job.ID
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWorker(q, "model1", 50*time.Millisecond, 50*time.Millisecond, proc, zerolog.Nop())
	go w.Run(ctx)

	var jobID string
	select {
	case jobID = <-started:
	case <-time.After(time.Second):
		t.Fatal("worker never picked up the job")
	}

	// Simulate loss of ownership: the job disappears under the worker.
	if err := q.Acknowledge(context.Background(), jobID); err != nil {
		t.Fatalf("external ack: %v", err)
	}

	// The heartbeat fires at visibility/2 and finds a stale receipt.
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("processor was never cancelled after losing ownership")
	}
}
