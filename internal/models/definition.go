package models

import (
	"context"
	"encoding/json"
	"time"
)

// WorkItem is one opaque unit of work discovered by a job definition. The
// persisted work_items column stores a JSON array of these.
type WorkItem json.RawMessage

// MarshalJSON/UnmarshalJSON are not needed beyond the RawMessage behavior;
// WorkItem is deliberately a thin alias so job definitions can decode their
// own concrete item shape (a file path, an image id, ...) from it.

// ItemResult is the outcome of processing one WorkItem.
type ItemResult struct {
	Item  WorkItem
	Error error
}

// BatchResult is what a job definition's process step contributes for one
// batch, before the framework folds it into BatchCounters.
type BatchResult struct {
	SuccessCount int
	ErrorCount   int
	SkippedCount int
	Errors       []ItemError
	Output       map[string]any
}

// ItemError records a single per-item failure, never propagated past the
// batch boundary.
type ItemError struct {
	Item  string `json:"item"`
	Error string `json:"error"`
}

// Params is the arbitrary keyed data captured at job submission.
type Params map[string]any

// JobDefinition is the in-process (not persisted) contract a job type
// implements: discover enumerates work, process runs once per item,
// finalize aggregates batch outputs.
type JobDefinition interface {
	// Name is the registered job-type string, matched against Job.Type.
	Name() string

	// Discover enumerates work items for one catalog. An empty result creates
	// no batches: Finalize runs with no batch results and the run ends with a
	// "no items" SUCCESS.
	Discover(ctx context.Context, catalogID string, params Params) ([]WorkItem, error)

	// Process handles one work item within a claimed batch.
	Process(ctx context.Context, item WorkItem, catalogID string, params Params) (map[string]any, error)

	// Finalize is invoked once, after every batch future has settled, with
	// the accumulated per-batch results. May be nil if the definition has no
	// aggregation step.
	Finalize(ctx context.Context, batchResults []BatchResult, catalogID string, params Params) (map[string]any, error)

	// DefaultBatchSize and DefaultMaxWorkers seed the Controller's batching
	// and dispatch decisions when params do not override them.
	DefaultBatchSize() int
	DefaultMaxWorkers() int

	// RetryOnFailure/MaxRetries govern per-item retry inside a batch driver.
	RetryOnFailure() bool
	MaxRetries() int

	// Timeout is the optional per-batch deadline; zero means "use the
	// controller's default per-job deadline only."
	Timeout() time.Duration
}
