package dto

import "time"

// PhotoUploadRequestDTO is the request body to initiate a photo upload.
type PhotoUploadRequestDTO struct {
	Filename string `json:"filename" validate:"required,min=1,max=255"`
}

// PhotoUploadResponseDTO is returned when an upload slot is provisioned.
type PhotoUploadResponseDTO struct {
	PhotoID   string `json:"photo_id"`
	UploadURL string `json:"upload_url"`
	Status    string `json:"status"`
}

// PhotoResponseDTO is returned for a single photo
type PhotoResponseDTO struct {
	PhotoID     string    `json:"photo_id"`
	Title       string    `json:"title"`
	StoragePath string    `json:"storage_path"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AnalysisResponseDTO is one model's stored result for a photo.
type AnalysisResponseDTO struct {
	JobID     string    `json:"job_id"`
	PhotoID   string    `json:"photo_id"`
	Model     string    `json:"model"`
	Outcome   string    `json:"outcome"`
	Result    string    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
}
