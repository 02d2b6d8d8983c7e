// Package interfaces declares the contracts the job execution core's
// components expose to each other, so the Controller, Batch Manager, and
// built-in job definitions can be tested against in-memory fakes without a
// live Postgres instance.
package interfaces

import (
	"context"
	"time"

	"github.com/irjudson/lumina/internal/models"
)

// JobStore is the persistence boundary over Job and JobBatch records.
type JobStore interface {
	CreateJob(ctx context.Context, jobType, catalogID string, params models.Params) (*models.Job, error)
	UpdateJob(ctx context.Context, jobID string, update models.JobUpdate) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error)

	CreateBatches(ctx context.Context, parentJobID, catalogID, jobType string, workItems [][]models.WorkItem) ([]*models.JobBatch, error)
	ClaimBatch(ctx context.Context, batchID, workerID string) (*models.JobBatch, error)
	CompleteBatch(ctx context.Context, batchID string, counters models.BatchCounters, results map[string]any) error
	FailBatch(ctx context.Context, batchID string, errorMessage string) error

	AggregateProgress(ctx context.Context, parentJobID string) (models.AggregateProgress, error)
	IsCancelled(ctx context.Context, jobID string) (bool, error)

	Close() error
}

// ProgressChannel publishes soft-real-time progress and keeps a persistent
// last-known snapshot. Implementations MUST swallow and log their own
// errors: publish operations must never abort the caller.
type ProgressChannel interface {
	PublishProgress(ctx context.Context, jobID string, status models.JobStatus, current, total int, message string, extra map[string]any)
	PublishCompletion(ctx context.Context, jobID string, status models.JobStatus, result map[string]any, errMsg string)
	GetLastProgress(ctx context.Context, jobID string) (*models.ProgressPayload, error)
	Subscribe(ctx context.Context, jobID string) (Subscriber, error)
	CleanupOld(ctx context.Context, maxAge time.Duration) (int, error)
}

// Subscriber is a durable handle listening on one job's progress channel.
type Subscriber interface {
	// NextMessage returns the next emitted payload, or nil on timeout.
	NextMessage(ctx context.Context, timeout time.Duration) (*models.ProgressPayload, error)
	Close() error
}

// WorkerPool is a bounded pool that executes arbitrary job closures.
type WorkerPool interface {
	Submit(jobID string, fn func(ctx context.Context) error) (Handle, error)
	Active() []string
	Shutdown(wait bool, timeout time.Duration)
}

// Handle represents one submitted unit of work.
type Handle interface {
	Cancel() bool
	Done() <-chan struct{}
	Err() error
}

// JobDefinitionRegistry is a process-wide, read-only-after-init mapping from
// job-type name to JobDefinition.
type JobDefinitionRegistry interface {
	Register(def models.JobDefinition) error
	Get(name string) (models.JobDefinition, bool)
	ListNames() []string
}
