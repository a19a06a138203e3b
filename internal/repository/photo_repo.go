package repository

import (
	"context"
	"database/sql"
	"fmt"

	"app/internal/model"

	"github.com/google/uuid"
)

type PhotoRepository interface {
	CreatePhoto(ctx context.Context, p *model.Photo) (*model.Photo, error)
	GetPhotoByID(ctx context.Context, photoID string) (*model.Photo, error)
	UpdatePhotoStatus(ctx context.Context, photoID, status string) error
	UpdatePhoto(ctx context.Context, p *model.Photo) error
}

type photoRepository struct {
	db *sql.DB
}

func NewPhotoRepository(db *sql.DB) PhotoRepository {
	return &photoRepository{db: db}
}

func (r *photoRepository) CreatePhoto(ctx context.Context, p *model.Photo) (*model.Photo, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	query := `
		INSERT INTO photos (id, user_id, title, storage_path, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, p.ID, p.UserID, p.Title, p.StoragePath, p.Status).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert photo: %w", err)
	}
	return p, nil
}

func (r *photoRepository) GetPhotoByID(ctx context.Context, photoID string) (*model.Photo, error) {
	query := `
		SELECT id, user_id, title, storage_path, status, created_at, updated_at
		FROM photos
		WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, photoID)
	var p model.Photo
	if err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.StoragePath, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query photo: %w", err)
	}
	return &p, nil
}

func (r *photoRepository) UpdatePhotoStatus(ctx context.Context, photoID, status string) error {
	query := `UPDATE photos SET status = $1, updated_at = now() WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, status, photoID); err != nil {
		return fmt.Errorf("failed to update photo status: %w", err)
	}
	return nil
}

func (r *photoRepository) UpdatePhoto(ctx context.Context, p *model.Photo) error {
	query := `
		UPDATE photos
		SET title = $1, storage_path = $2, status = $3, updated_at = now()
		WHERE id = $4
	`
	if _, err := r.db.ExecContext(ctx, query, p.Title, p.StoragePath, p.Status, p.ID); err != nil {
		return fmt.Errorf("failed to update photo: %w", err)
	}
	return nil
}
