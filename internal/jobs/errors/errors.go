// Package errors defines the sentinel error taxonomy for the job execution
// core, matched by callers with errors.Is/errors.As rather than string
// comparison.
package errors

import "errors"

var (
	// ErrUnknownJobType is raised at Controller startup when no definition is
	// registered under the Job's type.
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrJobNotFound is raised by Job Store get/cancel when the id does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrCannotCancelTerminal is raised when cancelling a Job already in a
	// terminal status.
	ErrCannotCancelTerminal = errors.New("cannot cancel a terminal job")

	// ErrJobCancelled unwinds a batch driver when cancellation is observed
	// before or during item processing. The batch is recorded FAILED through
	// FailBatch (no CANCELLED batch status is written); the job itself ends
	// FAILURE with "Job cancelled by user".
	ErrJobCancelled = errors.New("Job cancelled by user")

	// ErrBatchAlreadyClaimed is returned by claim_batch when another worker
	// already holds the batch. Not an error upstream: the driver returns a
	// "skipped" outcome.
	ErrBatchAlreadyClaimed = errors.New("batch already claimed")

	// ErrTransientStore is returned by the store's retry wrapper when an
	// operation still fails with a transient error after all retries are used.
	ErrTransientStore = errors.New("transient store error")

	// ErrFatalJob wraps any uncaught panic recovered inside the Controller's
	// job run. A panicking run is not retried.
	ErrFatalJob = errors.New("fatal job error")

	// ErrTimeout is raised by the per-job deadline watcher. A per-batch
	// deadline marks the batch FAILED with "timed out" without this error.
	ErrTimeout = errors.New("Job timed out")

	// ErrDuplicateName is raised by the registry when registering a job type
	// that is already present.
	ErrDuplicateName = errors.New("job type already registered")

	// ErrInvalidParams is raised at Submit when the caller's catalog id or
	// parameters fail struct validation before any Job Store mutation.
	ErrInvalidParams = errors.New("invalid job submission parameters")
)
