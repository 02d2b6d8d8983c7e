// Package batch implements the Batch Manager (spec §4.5): a facade over the
// Job Store and Progress Channel that the Controller and batch drivers use to
// create, claim, and settle JobBatch rows, publishing progress after every
// state change.
//
// Grounded in the teacher's internal/jobs/manager.go, which plays the same
// role (a facade sitting between the queue/executor layer and persistence,
// publishing an event after every status write) for its crawler job tree.
package batch

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/irjudson/lumina/internal/interfaces"
	"github.com/irjudson/lumina/internal/models"
)

// Manager wraps a JobStore and ProgressChannel to provide the batch
// lifecycle operations the Controller's dispatch loop needs.
type Manager struct {
	store    interfaces.JobStore
	progress interfaces.ProgressChannel
	logger   arbor.ILogger
}

// New constructs a Manager over the given store and progress channel.
func New(store interfaces.JobStore, progress interfaces.ProgressChannel, logger arbor.ILogger) *Manager {
	return &Manager{store: store, progress: progress, logger: logger}
}

// CreateBatches persists one batch per slice of workItems (the caller has
// already split the items), and publishes
// an initial PROGRESS update reflecting 0/total.
func (m *Manager) CreateBatches(ctx context.Context, parentJobID, catalogID, jobType string, workItems [][]models.WorkItem) ([]*models.JobBatch, error) {
	batches, err := m.store.CreateBatches(ctx, parentJobID, catalogID, jobType, workItems)
	if err != nil {
		return nil, fmt.Errorf("create batches: %w", err)
	}

	total := 0
	for _, items := range workItems {
		total += len(items)
	}
	m.progress.PublishProgress(ctx, parentJobID, models.JobStatusProgress, 0, total, fmt.Sprintf("dispatching %d batches", len(batches)), nil)

	return batches, nil
}

// ClaimBatch attempts to atomically transition one PENDING batch to RUNNING
// for workerID.
func (m *Manager) ClaimBatch(ctx context.Context, batchID, workerID string) (*models.JobBatch, error) {
	return m.store.ClaimBatch(ctx, batchID, workerID)
}

// CompleteBatch marks a batch COMPLETED and republishes the parent job's
// aggregate progress.
func (m *Manager) CompleteBatch(ctx context.Context, batch *models.JobBatch, counters models.BatchCounters, results map[string]any) error {
	if err := m.store.CompleteBatch(ctx, batch.ID, counters, results); err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}
	return m.republishAggregate(ctx, batch.ParentJobID)
}

// FailBatch marks a batch FAILED and republishes the parent job's aggregate
// progress.
func (m *Manager) FailBatch(ctx context.Context, batch *models.JobBatch, errorMessage string) error {
	if err := m.store.FailBatch(ctx, batch.ID, errorMessage); err != nil {
		return fmt.Errorf("fail batch: %w", err)
	}
	return m.republishAggregate(ctx, batch.ParentJobID)
}

func (m *Manager) republishAggregate(ctx context.Context, parentJobID string) error {
	agg, err := m.store.AggregateProgress(ctx, parentJobID)
	if err != nil {
		return fmt.Errorf("aggregate progress: %w", err)
	}

	processed := agg.SuccessItems + agg.ErrorItems
	m.progress.PublishProgress(ctx, parentJobID, models.JobStatusProgress, processed, agg.TotalItems,
		fmt.Sprintf("%d/%d batches complete", agg.CompletedBatches+agg.FailedBatches, agg.TotalBatches), nil)

	return nil
}

// GetProgress returns the current aggregate progress for a job run.
func (m *Manager) GetProgress(ctx context.Context, parentJobID string) (models.AggregateProgress, error) {
	return m.store.AggregateProgress(ctx, parentJobID)
}

// IsCancelled reports whether the job run has been cancelled.
func (m *Manager) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	return m.store.IsCancelled(ctx, jobID)
}
