package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/irjudson/lumina/internal/common"
	"github.com/irjudson/lumina/internal/interfaces"
	joberrors "github.com/irjudson/lumina/internal/jobs/errors"
	"github.com/irjudson/lumina/internal/models"
)

// badgerJob and badgerBatch are the badgerhold-stored row shapes. badgerhold
// indexes struct fields directly, so these mirror models.Job/models.JobBatch
// with an ID field badgerhold uses as primary key.
type badgerJob struct {
	models.Job
}

type badgerBatch struct {
	models.JobBatch
}

// BadgerStore is the embedded, single-host JobStore backend, grounded in the
// teacher's internal/storage/badger/job_storage.go and connection.go.
// Selected when config.Storage.Type == "badger" — the offline/single-host
// alternative to PostgresStore.
type BadgerStore struct {
	store  *badgerhold.Store
	logger arbor.ILogger

	// mu serializes the read-modify-write sequences badgerhold requires for
	// conditional updates (ClaimBatch's PENDING->RUNNING transition has no
	// atomic "UPDATE ... WHERE" equivalent here).
	mu sync.Mutex
}

// NewBadgerStore opens (creating if absent) the embedded database at
// cfg.Path.
func NewBadgerStore(cfg common.BadgerConfig, logger arbor.ILogger) (*BadgerStore, error) {
	if cfg.ResetOnStartup {
		if _, err := os.Stat(cfg.Path); err == nil {
			logger.Debug().Str("path", cfg.Path).Msg("deleting existing badger database (reset_on_startup=true)")
			if err := os.RemoveAll(cfg.Path); err != nil {
				logger.Warn().Err(err).Str("path", cfg.Path).Msg("failed to delete badger database directory")
			}
		}
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create badger directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = cfg.Path
	options.ValueDir = cfg.Path
	options.Logger = nil

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	return &BadgerStore{store: db, logger: logger}, nil
}

// Close releases the embedded database.
func (s *BadgerStore) Close() error {
	return s.store.Close()
}

func (s *BadgerStore) CreateJob(ctx context.Context, jobType, catalogID string, params models.Params) (*models.Job, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:         common.NewJobID(),
		CatalogID:  catalogID,
		Type:       jobType,
		Status:     models.JobStatusPending,
		Parameters: paramsJSON,
		Progress:   models.ComputeProgress(0, 0, "", ""),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.Insert(job.ID, badgerJob{Job: *job}); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (s *BadgerStore) UpdateJob(ctx context.Context, jobID string, update models.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored badgerJob
	if err := s.store.Get(jobID, &stored); err != nil {
		if err == badgerhold.ErrNotFound {
			return joberrors.ErrJobNotFound
		}
		return err
	}

	if update.Status != nil {
		stored.Status = *update.Status
		if update.Status.IsTerminal() {
			now := time.Now().UTC()
			stored.CompletedAt = &now
		}
	}
	if update.Progress != nil {
		stored.Progress = *update.Progress
	}
	if update.Result != nil {
		stored.Result = update.Result
	}
	if update.Error != nil {
		stored.Error = *update.Error
	}
	stored.UpdatedAt = time.Now().UTC()

	return s.store.Update(jobID, stored)
}

func (s *BadgerStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var stored badgerJob
	if err := s.store.Get(jobID, &stored); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, joberrors.ErrJobNotFound
		}
		return nil, err
	}
	job := stored.Job
	return &job, nil
}

func (s *BadgerStore) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")
	if filter.CatalogID != "" {
		query = query.And("CatalogID").Eq(filter.CatalogID)
	}

	var stored []badgerJob
	if err := s.store.Find(&stored, query); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	sort.Slice(stored, func(i, j int) bool {
		return stored[i].CreatedAt.After(stored[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(stored) > limit {
		stored = stored[:limit]
	}

	jobs := make([]*models.Job, len(stored))
	for i := range stored {
		j := stored[i].Job
		jobs[i] = &j
	}
	return jobs, nil
}

func (s *BadgerStore) CreateBatches(ctx context.Context, parentJobID, catalogID, jobType string, workItems [][]models.WorkItem) ([]*models.JobBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(workItems)
	now := time.Now().UTC()
	batches := make([]*models.JobBatch, 0, total)

	for i, items := range workItems {
		itemsJSON, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("marshal work items: %w", err)
		}

		batch := &models.JobBatch{
			ID:           common.NewBatchID(),
			ParentJobID:  parentJobID,
			CatalogID:    catalogID,
			JobType:      jobType,
			BatchNumber:  i,
			TotalBatches: total,
			Status:       models.BatchStatusPending,
			WorkItems:    itemsJSON,
			ItemsCount:   len(items),
			UpdatedAt:    now,
		}

		if err := s.store.Insert(batch.ID, badgerBatch{JobBatch: *batch}); err != nil {
			return nil, fmt.Errorf("insert batch %d: %w", i, err)
		}
		batches = append(batches, batch)
	}

	return batches, nil
}

func (s *BadgerStore) ClaimBatch(ctx context.Context, batchID, workerID string) (*models.JobBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored badgerBatch
	if err := s.store.Get(batchID, &stored); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, joberrors.ErrBatchAlreadyClaimed
		}
		return nil, err
	}
	if stored.Status != models.BatchStatusPending {
		return nil, joberrors.ErrBatchAlreadyClaimed
	}

	now := time.Now().UTC()
	stored.Status = models.BatchStatusRunning
	stored.WorkerID = workerID
	stored.StartedAt = &now
	stored.UpdatedAt = now

	if err := s.store.Update(batchID, stored); err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}

	batch := stored.JobBatch
	return &batch, nil
}

func (s *BadgerStore) CompleteBatch(ctx context.Context, batchID string, counters models.BatchCounters, results map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored badgerBatch
	if err := s.store.Get(batchID, &stored); err != nil {
		if err == badgerhold.ErrNotFound {
			return joberrors.ErrBatchAlreadyClaimed
		}
		return err
	}

	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal batch results: %w", err)
	}

	now := time.Now().UTC()
	stored.Status = models.BatchStatusCompleted
	stored.ProcessedCount = counters.ProcessedCount
	stored.SuccessCount = counters.SuccessCount
	stored.ErrorCount = counters.ErrorCount
	stored.SkippedCount = counters.SkippedCount
	stored.Results = resultsJSON
	stored.CompletedAt = &now
	stored.UpdatedAt = now

	return s.store.Update(batchID, stored)
}

func (s *BadgerStore) FailBatch(ctx context.Context, batchID string, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored badgerBatch
	if err := s.store.Get(batchID, &stored); err != nil {
		if err == badgerhold.ErrNotFound {
			return joberrors.ErrBatchAlreadyClaimed
		}
		return err
	}

	now := time.Now().UTC()
	stored.Status = models.BatchStatusFailed
	stored.ErrorMessage = errorMessage
	stored.CompletedAt = &now
	stored.UpdatedAt = now

	return s.store.Update(batchID, stored)
}

func (s *BadgerStore) AggregateProgress(ctx context.Context, parentJobID string) (models.AggregateProgress, error) {
	var agg models.AggregateProgress

	var batches []badgerBatch
	if err := s.store.Find(&batches, badgerhold.Where("ParentJobID").Eq(parentJobID)); err != nil {
		return agg, fmt.Errorf("aggregate progress: %w", err)
	}

	agg.TotalBatches = len(batches)
	for _, b := range batches {
		switch b.Status {
		case models.BatchStatusCompleted:
			agg.CompletedBatches++
		case models.BatchStatusFailed:
			agg.FailedBatches++
		}
		agg.TotalItems += b.ItemsCount
		agg.SuccessItems += b.SuccessCount
		agg.ErrorItems += b.ErrorCount
	}

	return agg, nil
}

func (s *BadgerStore) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	var stored badgerJob
	if err := s.store.Get(jobID, &stored); err != nil {
		if err == badgerhold.ErrNotFound {
			return false, joberrors.ErrJobNotFound
		}
		return false, err
	}
	return stored.Status == models.JobStatusFailure, nil
}

var _ interfaces.JobStore = (*BadgerStore)(nil)
