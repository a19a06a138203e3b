package repository

import (
	"context"
	"database/sql"
	"fmt"

	"app/internal/model"

	"github.com/google/uuid"
)

// AnalysisRepository persists model processing results. SaveResult must be
// idempotent on job id: the queue delivers at least once, so the same job
// will be written more than once under retries and visibility races.
type AnalysisRepository interface {
	// SaveResult stores the result for a job. It reports false when a row for
	// the job id already exists, in which case the store is left untouched.
	SaveResult(ctx context.Context, a *model.Analysis) (bool, error)
	GetByJobID(ctx context.Context, jobID string) (*model.Analysis, error)
	ListByPhotoID(ctx context.Context, photoID string) ([]model.Analysis, error)
}

type analysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) AnalysisRepository {
	return &analysisRepository{db: db}
}

func (r *analysisRepository) SaveResult(ctx context.Context, a *model.Analysis) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	query := `
		INSERT INTO photo_analyses (id, job_id, photo_id, model, outcome, result)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, a.ID, a.JobID, a.PhotoID, a.Model, a.Outcome, a.Result)
	if err != nil {
		return false, fmt.Errorf("failed to insert analysis: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n > 0, nil
}

func (r *analysisRepository) GetByJobID(ctx context.Context, jobID string) (*model.Analysis, error) {
	query := `
		SELECT id, job_id, photo_id, model, outcome, result, created_at
		FROM photo_analyses
		WHERE job_id = $1
	`
	row := r.db.QueryRowContext(ctx, query, jobID)
	var a model.Analysis
	if err := row.Scan(&a.ID, &a.JobID, &a.PhotoID, &a.Model, &a.Outcome, &a.Result, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query analysis: %w", err)
	}
	return &a, nil
}

func (r *analysisRepository) ListByPhotoID(ctx context.Context, photoID string) ([]model.Analysis, error) {
	query := `
		SELECT id, job_id, photo_id, model, outcome, result, created_at
		FROM photo_analyses
		WHERE photo_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, photoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var out []model.Analysis
	for rows.Next() {
		var a model.Analysis
		if err := rows.Scan(&a.ID, &a.JobID, &a.PhotoID, &a.Model, &a.Outcome, &a.Result, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan analysis row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}
