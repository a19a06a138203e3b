package repository

import (
	"context"
	"testing"

	"app/internal/model"
)

func TestSaveResultIsIdempotentOnJobID(t *testing.T) {
	repo := NewMemoryAnalysisRepository()
	ctx := context.Background()

	first := &model.Analysis{JobID: "job-1", PhotoID: "photo-1", Model: "model1", Outcome: "success", Result: `{"labels":["cat"]}`}
	inserted, err := repo.SaveResult(ctx, first)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !inserted {
		t.Fatal("first write must insert")
	}

	// Duplicate delivery of the same job: the second write is a no-op.
	dup := &model.Analysis{JobID: "job-1", PhotoID: "photo-1", Model: "model1", Outcome: "success", Result: `{"labels":["dog"]}`}
	inserted, err = repo.SaveResult(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate save: %v", err)
	}
	if inserted {
		t.Fatal("duplicate write must not insert")
	}

	got, err := repo.GetByJobID(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected a stored result")
	}
	if got.Result != `{"labels":["cat"]}` {
		t.Fatalf("duplicate overwrote the original result: %s", got.Result)
	}

	all, err := repo.ListByPhotoID(ctx, "photo-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(all))
	}
}
