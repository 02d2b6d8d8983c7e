// Package controller implements the Job Controller (spec §4.6): it
// orchestrates one job run end to end — startup, discovery, batching,
// dispatch to the Worker Pool, aggregation, finalization, the auto-requeue
// decision, and the terminal publish — plus external cancel/get/list/health
// entrypoints.
//
// Grounded in the teacher's internal/jobs/job_definition_orchestrator.go and
// internal/jobs/service.go for the submit/run/cancel shape, generalized from
// a fixed crawler pipeline into one driven by the pluggable JobDefinition
// registry.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/irjudson/lumina/internal/common"
	"github.com/irjudson/lumina/internal/interfaces"
	"github.com/irjudson/lumina/internal/jobs/batch"
	joberrors "github.com/irjudson/lumina/internal/jobs/errors"
	"github.com/irjudson/lumina/internal/jobs/store"
	"github.com/irjudson/lumina/internal/models"
)

// validate is shared across submissions; validator.Validate is safe for
// concurrent use once constructed.
var validate = validator.New()

// submission is the struct validator.v10 checks a Submit call against
// before any Job Store mutation: every built-in job type is catalog-scoped,
// and an explicit batch_size override must be positive.
type submission struct {
	CatalogID string `validate:"required"`
	BatchSize int    `validate:"omitempty,gt=0"`
}

// Controller is the process-wide orchestrator for all job types registered
// in its JobDefinitionRegistry.
type Controller struct {
	store    interfaces.JobStore
	progress interfaces.ProgressChannel
	pool     interfaces.WorkerPool
	registry interfaces.JobDefinitionRegistry
	batches  *batch.Manager
	logger   arbor.ILogger

	jobTimeout       time.Duration
	maxRetries       int
	retryDelay       time.Duration
	failureThreshold int

	mu      sync.Mutex
	handles map[string]interfaces.Handle
}

// New constructs a Controller. jobTimeout/maxRetries/retryDelay/
// failureThreshold come from common.JobsConfig.
func New(
	jobStore interfaces.JobStore,
	progressChannel interfaces.ProgressChannel,
	pool interfaces.WorkerPool,
	registry interfaces.JobDefinitionRegistry,
	logger arbor.ILogger,
	cfg common.JobsConfig,
) *Controller {
	jobTimeout := time.Duration(cfg.JobTimeoutSeconds) * time.Second
	if jobTimeout <= 0 {
		jobTimeout = time.Duration(common.DefaultJobTimeoutSeconds) * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = common.DefaultJobMaxRetries
	}
	retryDelay := cfg.RetryBaseDelay
	if retryDelay <= 0 {
		retryDelay = common.DefaultRetryDelay
	}
	threshold := cfg.ConsecutiveFailureThreshold
	if threshold <= 0 {
		threshold = common.DefaultConsecutiveFailureLimit
	}

	return &Controller{
		store:            jobStore,
		progress:         progressChannel,
		pool:             pool,
		registry:         registry,
		batches:          batch.New(jobStore, progressChannel, logger),
		logger:           logger,
		jobTimeout:       jobTimeout,
		maxRetries:       maxRetries,
		retryDelay:       retryDelay,
		failureThreshold: threshold,
		handles:          make(map[string]interfaces.Handle),
	}
}

// Submit creates a Job row and dispatches its run to the Worker Pool,
// returning immediately with the freshly created (PENDING) Job.
func (c *Controller) Submit(ctx context.Context, jobType, catalogID string, params models.Params) (*models.Job, error) {
	if _, ok := c.registry.Get(jobType); !ok {
		return nil, fmt.Errorf("%w: %q", joberrors.ErrUnknownJobType, jobType)
	}

	batchSize := 0
	if v, ok := params["batch_size"].(float64); ok {
		batchSize = int(v)
	}
	if err := validate.Struct(submission{CatalogID: catalogID, BatchSize: batchSize}); err != nil {
		return nil, fmt.Errorf("%w: %s", joberrors.ErrInvalidParams, err.Error())
	}

	job, err := c.store.CreateJob(ctx, jobType, catalogID, params)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	handle, err := c.pool.Submit(job.ID, func(runCtx context.Context) error {
		return c.run(runCtx, job.ID, catalogID, jobType, params)
	})
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}

	c.mu.Lock()
	c.handles[job.ID] = handle
	c.mu.Unlock()

	return job, nil
}

// Get returns the current state of one job.
func (c *Controller) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return c.store.GetJob(ctx, jobID)
}

// List returns jobs matching filter.
func (c *Controller) List(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	return c.store.ListJobs(ctx, filter)
}

// Cancel requests cancellation of a non-terminal job. Returns
// ErrCannotCancelTerminal if the job has already ended.
func (c *Controller) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status.IsTerminal() {
		return false, joberrors.ErrCannotCancelTerminal
	}

	failure := models.JobStatusFailure
	errMsg := joberrors.ErrJobCancelled.Error()
	if err := c.store.UpdateJob(ctx, jobID, models.JobUpdate{Status: &failure, Error: &errMsg}); err != nil {
		return false, fmt.Errorf("mark job cancelled: %w", err)
	}
	c.progress.PublishCompletion(ctx, jobID, models.JobStatusFailure, nil, errMsg)

	c.mu.Lock()
	handle, ok := c.handles[jobID]
	c.mu.Unlock()
	if ok {
		handle.Cancel()
	}

	return true, nil
}

// HealthProbe reports the Controller's liveness, preserving the wire-exact
// shape the HTTP layer expects.
func (c *Controller) HealthProbe() map[string]string {
	return map[string]string{"status": "healthy", "backend": "goroutine-pool"}
}

// run executes the full lifecycle for one job. Invoked as the Worker Pool
// closure submitted by Submit (and, on auto-requeue, again for the fresh
// job it creates).
func (c *Controller) run(ctx context.Context, jobID, catalogID, jobType string, params models.Params) error {
	ctx, cancel := context.WithTimeout(ctx, c.jobTimeout)
	defer cancel()

	def, ok := c.registry.Get(jobType)
	if !ok {
		return fmt.Errorf("%w: %q", joberrors.ErrUnknownJobType, jobType)
	}

	defer func() {
		if r := recover(); r != nil {
			stack := common.GetStackTrace()
			c.logger.Error().Interface("panic", r).Str("job_id", jobID).Str("stack", stack).Msg("job run panicked")
			errMsg := fmt.Sprintf("%v: %v", joberrors.ErrFatalJob, r)
			failure := models.JobStatusFailure
			_ = c.store.UpdateJob(context.Background(), jobID, models.JobUpdate{Status: &failure, Error: &errMsg})
			c.progress.PublishCompletion(context.Background(), jobID, models.JobStatusFailure, nil, errMsg)
		}
	}()

	// 1. Startup.
	progressStatus := models.JobStatusProgress
	if err := c.store.UpdateJob(ctx, jobID, models.JobUpdate{Status: &progressStatus}); err != nil {
		return fmt.Errorf("startup transition: %w", err)
	}
	c.progress.PublishProgress(ctx, jobID, models.JobStatusProgress, 0, 0, "starting", nil)

	if err := watchTimeout(ctx, c.jobTimeout, c.logger, func() {
		c.timeoutJob(jobID)
	}); err != nil {
		return err
	}

	// 2. Discovery.
	items, err := def.Discover(ctx, catalogID, params)
	if err != nil {
		return c.failJob(ctx, jobID, fmt.Errorf("discover: %w", err))
	}
	if len(items) == 0 {
		finalResult := baseAggregateResult(nil, 0)
		if extra, ferr := def.Finalize(ctx, nil, catalogID, params); ferr == nil && extra != nil {
			for k, v := range extra {
				finalResult[k] = v
			}
		} else if ferr != nil {
			c.logger.Warn().Err(ferr).Str("job_id", jobID).Msg("finalize failed, continuing with partial result")
		}

		finalResult["status"] = "completed"
		finalResult["message"] = "no items"
		success := models.JobStatusSuccess
		resultJSON := mustMarshal(finalResult)
		if err := c.store.UpdateJob(ctx, jobID, models.JobUpdate{Status: &success, Result: resultJSON}); err != nil {
			return fmt.Errorf("empty-discovery transition: %w", err)
		}
		c.progress.PublishCompletion(ctx, jobID, models.JobStatusSuccess, finalResult, "")
		return nil
	}

	// 3. Batching.
	batchSize := def.DefaultBatchSize()
	if v, ok := params["batch_size"].(float64); ok && v > 0 {
		batchSize = int(v)
	}
	workItemBatches := chunkItems(items, batchSize)

	c.progress.PublishProgress(ctx, jobID, models.JobStatusProgress, 0, len(items), "batching", map[string]any{"phase": "batching"})

	batches, err := c.batches.CreateBatches(ctx, jobID, catalogID, jobType, workItemBatches)
	if err != nil {
		return c.failJob(ctx, jobID, fmt.Errorf("create batches: %w", err))
	}

	// 4. Dispatch.
	maxWorkers := def.DefaultMaxWorkers()
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	type batchOutcome struct {
		result models.BatchResult
		failed bool
	}

	outcomes := make([]batchOutcome, len(batches))
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxWorkers)

	for i, b := range batches {
		wg.Add(1)
		idx := i
		batch := b
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			outcome, failed := c.runBatchDriver(ctx, batch, def, catalogID, params)
			outcomes[idx] = batchOutcome{result: outcome, failed: failed}
		}()
	}
	wg.Wait()

	// 5. Aggregate.
	var batchResults []models.BatchResult
	failedBatches := 0
	for _, o := range outcomes {
		batchResults = append(batchResults, o.result)
		if o.failed {
			failedBatches++
		}
	}

	// 6. Finalize.
	finalResult := baseAggregateResult(batchResults, len(items))
	if extra, ferr := def.Finalize(ctx, batchResults, catalogID, params); ferr == nil && extra != nil {
		for k, v := range extra {
			finalResult[k] = v
		}
	} else if ferr != nil {
		c.logger.Warn().Err(ferr).Str("job_id", jobID).Msg("finalize failed, continuing with partial result")
	}

	// 7. Decision.
	if failedBatches >= c.failureThreshold {
		reason := fmt.Sprintf("auto-requeued: %d batch failures", failedBatches)

		requeueParams := make(models.Params, len(params))
		for k, v := range params {
			requeueParams[k] = v
		}
		if _, ok := requeueParams["tag_mode"]; ok {
			requeueParams["tag_mode"] = "untagged_only"
		}

		newJob, submitErr := c.Submit(ctx, jobType, catalogID, requeueParams)
		finalResult["status"] = "requeued"
		finalResult["failed_batches"] = failedBatches
		if submitErr != nil {
			c.logger.Error().Err(submitErr).Str("job_id", jobID).Msg("auto-requeue submit failed")
		} else {
			finalResult["requeued_job_id"] = newJob.ID
		}

		failure := models.JobStatusFailure
		resultJSON := mustMarshal(finalResult)
		if err := c.store.UpdateJob(ctx, jobID, models.JobUpdate{Status: &failure, Error: &reason, Result: resultJSON}); err != nil {
			return fmt.Errorf("auto-requeue transition: %w", err)
		}
		c.progress.PublishCompletion(ctx, jobID, models.JobStatusFailure, finalResult, reason)
		return nil
	}

	success := models.JobStatusSuccess
	if failedBatches == 0 {
		finalResult["status"] = "completed"
	} else {
		finalResult["status"] = "completed_with_errors"
	}
	resultJSON := mustMarshal(finalResult)

	if err := c.store.UpdateJob(ctx, jobID, models.JobUpdate{Status: &success, Result: resultJSON}); err != nil {
		return fmt.Errorf("terminal transition: %w", err)
	}

	// 8. Publish.
	c.progress.PublishCompletion(ctx, jobID, models.JobStatusSuccess, finalResult, "")

	return nil
}

func (c *Controller) timeoutJob(jobID string) {
	ctx := context.Background()
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil || job.Status.IsTerminal() {
		return
	}
	failure := models.JobStatusFailure
	msg := fmt.Sprintf("%v after %d seconds", joberrors.ErrTimeout, int(c.jobTimeout.Seconds()))
	_ = c.store.UpdateJob(ctx, jobID, models.JobUpdate{Status: &failure, Error: &msg})
	c.progress.PublishCompletion(ctx, jobID, models.JobStatusFailure, nil, msg)

	c.mu.Lock()
	handle, ok := c.handles[jobID]
	c.mu.Unlock()
	if ok {
		handle.Cancel()
	}
}

func (c *Controller) failJob(ctx context.Context, jobID string, cause error) error {
	failure := models.JobStatusFailure
	msg := cause.Error()
	if err := c.store.UpdateJob(ctx, jobID, models.JobUpdate{Status: &failure, Error: &msg}); err != nil {
		c.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to persist job failure")
	}
	c.progress.PublishCompletion(ctx, jobID, models.JobStatusFailure, nil, msg)
	return cause
}

// runBatchDriver is the batch driver contract run inside one Worker Pool
// slot: claim, check cancellation, process every item, and settle the batch.
func (c *Controller) runBatchDriver(ctx context.Context, b *models.JobBatch, def models.JobDefinition, catalogID string, params models.Params) (models.BatchResult, bool) {
	workerID := common.NewWorkerID()

	batchCtx := ctx
	var batchCancel context.CancelFunc
	if def.Timeout() > 0 {
		batchCtx, batchCancel = context.WithTimeout(ctx, def.Timeout())
		defer batchCancel()
	}

	claimed, err := c.batches.ClaimBatch(batchCtx, b.ID, workerID)
	if err != nil {
		if errors.Is(err, joberrors.ErrBatchAlreadyClaimed) {
			return models.BatchResult{}, false
		}
		return models.BatchResult{ErrorCount: 1, Errors: []models.ItemError{{Item: b.ID, Error: err.Error()}}}, true
	}

	if cancelled, _ := c.batches.IsCancelled(batchCtx, b.ParentJobID); cancelled {
		_ = c.batches.FailBatch(batchCtx, claimed, joberrors.ErrJobCancelled.Error())
		return models.BatchResult{}, true
	}

	var items []models.WorkItem
	if err := json.Unmarshal(claimed.WorkItems, &items); err != nil {
		_ = c.batches.FailBatch(batchCtx, claimed, fmt.Sprintf("decode work items: %v", err))
		return models.BatchResult{}, true
	}

	result := models.BatchResult{Output: map[string]any{}}
	for _, item := range items {
		select {
		case <-batchCtx.Done():
			_ = c.batches.FailBatch(batchCtx, claimed, "timed out")
			return result, true
		default:
		}

		out, perr := c.processWithRetry(batchCtx, def, item, catalogID, params)
		if perr != nil {
			result.ErrorCount++
			result.Errors = append(result.Errors, models.ItemError{Item: string(item), Error: perr.Error()})
			continue
		}
		result.SuccessCount++
		for k, v := range out {
			result.Output[k] = v
		}
	}

	counters := models.BatchCounters{
		ProcessedCount: result.SuccessCount + result.ErrorCount,
		SuccessCount:   result.SuccessCount,
		ErrorCount:     result.ErrorCount,
	}

	if err := c.batches.CompleteBatch(batchCtx, claimed, counters, result.Output); err != nil {
		_ = c.batches.FailBatch(batchCtx, claimed, err.Error())
		return result, true
	}

	return result, result.ErrorCount > 0 && result.SuccessCount == 0
}

func (c *Controller) processWithRetry(ctx context.Context, def models.JobDefinition, item models.WorkItem, catalogID string, params models.Params) (map[string]any, error) {
	if !def.RetryOnFailure() {
		return def.Process(ctx, item, catalogID, params)
	}

	maxRetries := def.MaxRetries()
	if maxRetries <= 0 {
		maxRetries = c.maxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		out, err := def.Process(ctx, item, catalogID, params)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !store.IsTransient(err) {
			return nil, err
		}
		if attempt > maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelay * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

func watchTimeout(ctx context.Context, timeout time.Duration, logger arbor.ILogger, onExpire func()) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	go func() {
		<-ctx.Done()
		if ctx.Err() == context.DeadlineExceeded {
			onExpire()
		}
	}()
	return nil
}

// chunkItems splits items into consecutive slices of at most batchSize,
// preserving order; batch indices cover 0..len(result)-1 without gaps.
func chunkItems(items []models.WorkItem, batchSize int) [][]models.WorkItem {
	if batchSize <= 0 {
		batchSize = len(items)
	}
	if batchSize <= 0 {
		return nil
	}
	batches := make([][]models.WorkItem, 0, (len(items)+batchSize-1)/batchSize)
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}

// baseAggregateResult builds the framework-level aggregate dict the
// Controller always produces before merging a definition's Finalize output,
// mirroring original_source/lumina/jobs/framework.py's JobExecutor.run (and
// its _empty_result for the zero-item case).
func baseAggregateResult(batchResults []models.BatchResult, totalItems int) map[string]any {
	successCount := 0
	errorCount := 0
	errs := make([]models.ItemError, 0)
	for _, br := range batchResults {
		successCount += br.SuccessCount
		errorCount += br.ErrorCount
		errs = append(errs, br.Errors...)
	}
	return map[string]any{
		"success_count": successCount,
		"error_count":   errorCount,
		"total_items":   totalItems,
		"errors":        errs,
	}
}

// mustMarshal marshals v to JSON for storage in a Job's result column,
// falling back to an empty object if v is somehow unmarshalable (it never
// is, for the plain map[string]any values the controller builds).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
