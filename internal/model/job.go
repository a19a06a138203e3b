package model

import "time"

// Job is a unit of work routed to a queue topic. The payload is a reference
// to the source object in storage, never the object content itself.
type Job struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	PhotoID   string `json:"photo_id"`
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"object_key"`

	// ReceiveCount is the number of times the job has been delivered. It is
	// incremented by Receive, never by Enqueue, and is frozen once the job is
	// moved to the dead-letter store.
	ReceiveCount int       `json:"receive_count"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	VisibleAfter time.Time `json:"visible_after"`

	// ReceiptHandle identifies one delivery of the job. It is stamped by
	// Receive and required to extend visibility; a stale handle means the job
	// was redelivered to someone else.
	ReceiptHandle string `json:"-"`
}
