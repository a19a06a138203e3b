package repository

import (
	"context"
	"sync"

	"app/internal/model"

	"github.com/google/uuid"
)

// MemoryAnalysisRepository keeps results in a map, honoring the same
// one-row-per-job-id semantics as the Postgres implementation. It exists for
// tests and local runs without a database.
type MemoryAnalysisRepository struct {
	mu      sync.Mutex
	byJobID map[string]model.Analysis
}

func NewMemoryAnalysisRepository() *MemoryAnalysisRepository {
	return &MemoryAnalysisRepository{byJobID: make(map[string]model.Analysis)}
}

func (r *MemoryAnalysisRepository) SaveResult(ctx context.Context, a *model.Analysis) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byJobID[a.JobID]; exists {
		return false, nil
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	r.byJobID[a.JobID] = *a
	return true, nil
}

func (r *MemoryAnalysisRepository) GetByJobID(ctx context.Context, jobID string) (*model.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byJobID[jobID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *MemoryAnalysisRepository) ListByPhotoID(ctx context.Context, photoID string) ([]model.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Analysis
	for _, a := range r.byJobID {
		if a.PhotoID == photoID {
			out = append(out, a)
		}
	}
	return out, nil
}
