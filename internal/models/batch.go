package models

import (
	"encoding/json"
	"time"
)

// BatchStatus is the lifecycle status of a JobBatch.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "PENDING"
	BatchStatusRunning   BatchStatus = "RUNNING"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusFailed    BatchStatus = "FAILED"
	BatchStatusCancelled BatchStatus = "CANCELLED"
)

// IsTerminal reports whether the status ends a batch's lifecycle.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed || s == BatchStatusCancelled
}

// JobBatch is one contiguous slice of work items belonging to a Job run.
// Batch indices within a job form 0..TotalBatches-1 without gaps; a batch
// may be claimed by at most one worker.
type JobBatch struct {
	ID            string          `json:"id"`
	ParentJobID   string          `json:"parent_job_id"`
	CatalogID     string          `json:"catalog_id,omitempty"`
	JobType       string          `json:"job_type"`
	BatchNumber   int             `json:"batch_number"`
	TotalBatches  int             `json:"total_batches"`
	Status        BatchStatus     `json:"status"`
	WorkItems     json.RawMessage `json:"work_items"`
	ItemsCount    int             `json:"items_count"`
	WorkerID      string          `json:"worker_id,omitempty"`
	ProcessedCount int            `json:"processed_count"`
	SuccessCount  int             `json:"success_count"`
	ErrorCount    int             `json:"error_count"`
	SkippedCount  int             `json:"skipped_count"`
	Results       json.RawMessage `json:"results,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// BatchCounters are the per-batch outcome counts written at completion.
type BatchCounters struct {
	ProcessedCount int
	SuccessCount   int
	ErrorCount     int
	SkippedCount   int
}

// AggregateProgress summarizes all batches belonging to one Job run, computed
// via a single grouped query over JobBatch rows.
type AggregateProgress struct {
	TotalBatches     int `json:"total_batches"`
	CompletedBatches int `json:"completed_batches"`
	FailedBatches    int `json:"failed_batches"`
	TotalItems       int `json:"total_items"`
	SuccessItems     int `json:"success_items"`
	ErrorItems       int `json:"error_items"`
}
