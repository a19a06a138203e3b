package model

import "time"

// Photo statuses follow the upload lifecycle: a record is created before the
// object exists in storage and moves to processing once the pipeline is
// notified.
const (
	PhotoStatusUploading  = "uploading"
	PhotoStatusProcessing = "processing"
	PhotoStatusAnalyzed   = "analyzed"
	PhotoStatusFailed     = "failed"
)

// Photo is the relational record for an uploaded object.
type Photo struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	Title       string    `db:"title"`
	StoragePath string    `db:"storage_path"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Analysis is the processing result one model produced for one job. Rows are
// keyed by job id so that duplicate delivery of the same job cannot create a
// second row.
type Analysis struct {
	ID        string    `db:"id"`
	JobID     string    `db:"job_id"`
	PhotoID   string    `db:"photo_id"`
	Model     string    `db:"model"`
	Outcome   string    `db:"outcome"`
	Result    string    `db:"result"` // JSON string from the model service
	CreatedAt time.Time `db:"created_at"`
}
