package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the relational tables when they do not exist yet.
// The unique constraint on photo_analyses.job_id is what makes result writes
// idempotent under at-least-once delivery.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS photos (
    id           uuid PRIMARY KEY,
    user_id      text NOT NULL,
    title        text NOT NULL,
    storage_path text NOT NULL DEFAULT '',
    status       text NOT NULL,
    created_at   timestamptz NOT NULL DEFAULT now(),
    updated_at   timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS photo_analyses (
    id         uuid PRIMARY KEY,
    job_id     uuid NOT NULL UNIQUE,
    photo_id   text NOT NULL,
    model      text NOT NULL,
    outcome    text NOT NULL,
    result     text NOT NULL DEFAULT '',
    created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS photo_analyses_photo_idx ON photo_analyses (photo_id);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("repository schema setup failed: %w", err)
	}
	return nil
}
