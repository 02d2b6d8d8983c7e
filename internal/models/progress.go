package models

import (
	"encoding/json"
	"time"
)

// JobProgressRecord is the latest-known progress snapshot for one job,
// persisted so a reconnecting subscriber can recover state it missed.
type JobProgressRecord struct {
	JobID     string          `json:"job_id"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ProgressPayload is the JSON body published on a job's notification channel
// and stored as the JobProgressRecord payload. Field names and shapes are
// bit-exact with the HTTP layer's documented wire contract.
type ProgressPayload struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Progress  Progress  `json:"progress"`
	Timestamp string    `json:"timestamp"` // ISO-8601 UTC, no offset ("naive UTC")
	Result    any       `json:"result,omitempty"`
}

// NaiveUTCTimestamp formats t the way the wire contract expects: ISO-8601 in
// UTC with no trailing timezone offset.
func NaiveUTCTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000")
}
