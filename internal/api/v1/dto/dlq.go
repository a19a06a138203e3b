package dto

import "time"

// DeadLetterResponseDTO is one quarantined job as shown to operators.
type DeadLetterResponseDTO struct {
	JobID        string    `json:"job_id"`
	Topic        string    `json:"topic"`
	PhotoID      string    `json:"photo_id"`
	Bucket       string    `json:"bucket"`
	ObjectKey    string    `json:"object_key"`
	FailureCount int       `json:"failure_count"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	ArrivalTime  time.Time `json:"arrival_time"`
}

// RequeueRequestDTO asks for a quarantined job to be moved back onto a live
// topic.
type RequeueRequestDTO struct {
	TargetTopic string `json:"target_topic" validate:"required"`
}
