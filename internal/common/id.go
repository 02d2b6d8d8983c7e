package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job identifier with the "job_" prefix.
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewBatchID generates a unique job-batch identifier with the "batch_" prefix.
func NewBatchID() string {
	return "batch_" + uuid.New().String()
}

// NewWorkerID generates a short identifier for a worker goroutine, used to
// mark which worker claimed a batch.
func NewWorkerID() string {
	return "worker_" + uuid.New().String()[:8]
}
