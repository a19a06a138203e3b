package model

import "time"

// DeadLetterEntry represents a job quarantined after exhausting its retry
// budget. Entries are read-only to consumers; only Requeue moves them back
// into a live queue.
type DeadLetterEntry struct {
	Job          Job       `json:"job"`
	FailureCount int       `json:"failure_count"`
	ArrivalTime  time.Time `json:"arrival_time"`
}
