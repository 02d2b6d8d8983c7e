// Package store implements the Job Store (spec §4.2): persistent Job and
// JobBatch records, state transitions, and parameter storage, against either
// a Postgres backend (this file, grounded in
// pcraw4d-business-verification/internal/database/postgres.go for
// connection/transaction idioms) or an embedded Badger backend (badger.go).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/ternarybob/arbor"

	"github.com/irjudson/lumina/internal/common"
	"github.com/irjudson/lumina/internal/interfaces"
	joberrors "github.com/irjudson/lumina/internal/jobs/errors"
	"github.com/irjudson/lumina/internal/models"
)

// PostgresStore is the Postgres-backed interfaces.JobStore implementation.
type PostgresStore struct {
	db         *sql.DB
	logger     arbor.ILogger
	maxRetries int
	retryDelay time.Duration
}

// NewPostgresStore opens a connection pool to Postgres, applies the schema,
// and returns a ready-to-use store.
func NewPostgresStore(ctx context.Context, cfg common.PostgresConfig, logger arbor.ILogger) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != "" {
		if d, err := time.ParseDuration(cfg.ConnMaxLifetime); err == nil {
			db.SetConnMaxLifetime(d)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &PostgresStore{
		db:         db,
		logger:     logger,
		maxRetries: common.DefaultJobMaxRetries,
		retryDelay: common.DefaultRetryDelay,
	}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection pool so the Progress Channel can share
// it instead of opening a second pool against the same database.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) withRetry(ctx context.Context, op func() error) error {
	return retryWithBackoff(ctx, s.logger, s.maxRetries, s.retryDelay, op)
}

// CreateJob inserts a new Job row in PENDING status with an empty progress
// snapshot.
func (s *PostgresStore) CreateJob(ctx context.Context, jobType, catalogID string, params models.Params) (*models.Job, error) {
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

	progressJSON, _ := json.Marshal(job.Progress)

	err = s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO jobs (id, catalog_id, type, status, parameters, progress, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, job.ID, nullableString(job.CatalogID), job.Type, string(job.Status), paramsJSON, progressJSON, job.CreatedAt, job.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return job, nil
}

// UpdateJob applies a partial update to an existing Job row, setting
// completed_at iff the status transitions to a terminal value.
func (s *PostgresStore) UpdateJob(ctx context.Context, jobID string, update models.JobUpdate) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var currentStatus string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&currentStatus); err != nil {
			if err == sql.ErrNoRows {
				return joberrors.ErrJobNotFound
			}
			return err
		}

		setClauses := []string{"updated_at = $1"}
		args := []any{time.Now().UTC()}
		argN := 2

		if update.Status != nil {
			setClauses = append(setClauses, fmt.Sprintf("status = $%d", argN))
			args = append(args, string(*update.Status))
			argN++
			if update.Status.IsTerminal() {
				setClauses = append(setClauses, fmt.Sprintf("completed_at = $%d", argN))
				args = append(args, time.Now().UTC())
				argN++
			}
		}
		if update.Progress != nil {
			progressJSON, _ := json.Marshal(*update.Progress)
			setClauses = append(setClauses, fmt.Sprintf("progress = $%d", argN))
			args = append(args, progressJSON)
			argN++
		}
		if update.Result != nil {
			setClauses = append(setClauses, fmt.Sprintf("result = $%d", argN))
			args = append(args, []byte(update.Result))
			argN++
		}
		if update.Error != nil {
			setClauses = append(setClauses, fmt.Sprintf("error = $%d", argN))
			args = append(args, *update.Error)
			argN++
		}

		query := "UPDATE jobs SET "
		for i, clause := range setClauses {
			if i > 0 {
				query += ", "
			}
			query += clause
		}
		query += fmt.Sprintf(" WHERE id = $%d", argN)
		args = append(args, jobID)

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}

		return tx.Commit()
	})
}

// GetJob returns the Job row for jobID, or ErrJobNotFound.
func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	var catalogID sql.NullString
	var paramsJSON, progressJSON, resultJSON []byte
	var errMsg sql.NullString
	var completedAt sql.NullTime
	var statusStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, catalog_id, type, status, parameters, progress, result, error, created_at, updated_at, completed_at
		FROM jobs WHERE id = $1
	`, jobID).Scan(&job.ID, &catalogID, &job.Type, &statusStr, &paramsJSON, &progressJSON, &resultJSON, &errMsg, &job.CreatedAt, &job.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, joberrors.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	job.Status = models.JobStatus(statusStr)
	job.CatalogID = catalogID.String
	job.Parameters = paramsJSON
	job.Result = resultJSON
	job.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if len(progressJSON) > 0 {
		_ = json.Unmarshal(progressJSON, &job.Progress)
	}

	return &job, nil
}

// ListJobs returns jobs matching filter, newest first.
func (s *PostgresStore) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if filter.CatalogID != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, catalog_id, type, status, parameters, progress, result, error, created_at, updated_at, completed_at
			FROM jobs WHERE catalog_id = $1 ORDER BY created_at DESC LIMIT $2
		`, filter.CatalogID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, catalog_id, type, status, parameters, progress, result, error, created_at, updated_at, completed_at
			FROM jobs ORDER BY created_at DESC LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var job models.Job
		var catalogID sql.NullString
		var paramsJSON, progressJSON, resultJSON []byte
		var errMsg sql.NullString
		var completedAt sql.NullTime
		var statusStr string

		if err := rows.Scan(&job.ID, &catalogID, &job.Type, &statusStr, &paramsJSON, &progressJSON, &resultJSON, &errMsg, &job.CreatedAt, &job.UpdatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		job.Status = models.JobStatus(statusStr)
		job.CatalogID = catalogID.String
		job.Parameters = paramsJSON
		job.Result = resultJSON
		job.Error = errMsg.String
		if completedAt.Valid {
			t := completedAt.Time
			job.CompletedAt = &t
		}
		if len(progressJSON) > 0 {
			_ = json.Unmarshal(progressJSON, &job.Progress)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// CreateBatches atomically inserts one JobBatch row per slice in workItems,
// all with PENDING status and the same total_batches.
func (s *PostgresStore) CreateBatches(ctx context.Context, parentJobID, catalogID, jobType string, workItems [][]models.WorkItem) ([]*models.JobBatch, error) {
	total := len(workItems)
	batches := make([]*models.JobBatch, 0, total)
	now := time.Now().UTC()

	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		batches = batches[:0]
		for i, items := range workItems {
			itemsJSON, err := json.Marshal(items)
			if err != nil {
				return fmt.Errorf("marshal work items: %w", err)
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

			_, err = tx.ExecContext(ctx, `
				INSERT INTO job_batches (id, parent_job_id, catalog_id, job_type, batch_number, total_batches, status, work_items, items_count, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			`, batch.ID, nullableString(batch.CatalogID), batch.JobType, batch.BatchNumber, batch.TotalBatches, string(batch.Status), itemsJSON, batch.ItemsCount, now)
			if err != nil {
				return fmt.Errorf("insert batch %d: %w", i, err)
			}

			batches = append(batches, batch)
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	return batches, nil
}

// ClaimBatch atomically transitions one batch from PENDING to RUNNING,
// returning the batch payload, or ErrBatchAlreadyClaimed if it was not
// claimable.
func (s *PostgresStore) ClaimBatch(ctx context.Context, batchID, workerID string) (*models.JobBatch, error) {
	var batch models.JobBatch
	var catalogID, batchWorkerID, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime
	var resultsJSON []byte
	var statusStr string

	err := s.withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
			UPDATE job_batches
			SET status = 'RUNNING', worker_id = $1, started_at = $2, updated_at = $2
			WHERE id = $3 AND status = 'PENDING'
			RETURNING id, parent_job_id, catalog_id, job_type, batch_number, total_batches, status,
				work_items, items_count, worker_id, processed_count, success_count, error_count,
				skipped_count, results, error_message, started_at, completed_at, updated_at
		`, workerID, time.Now().UTC(), batchID)

		return row.Scan(
			&batch.ID, &batch.ParentJobID, &catalogID, &batch.JobType, &batch.BatchNumber, &batch.TotalBatches,
			&statusStr, &batch.WorkItems, &batch.ItemsCount, &batchWorkerID, &batch.ProcessedCount,
			&batch.SuccessCount, &batch.ErrorCount, &batch.SkippedCount, &resultsJSON, &errMsg,
			&startedAt, &completedAt, &batch.UpdatedAt,
		)
	})
	if err == sql.ErrNoRows {
		return nil, joberrors.ErrBatchAlreadyClaimed
	}
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}

	batch.Status = models.BatchStatus(statusStr)
	batch.CatalogID = catalogID.String
	batch.WorkerID = batchWorkerID.String
	batch.ErrorMessage = errMsg.String
	batch.Results = resultsJSON
	if startedAt.Valid {
		t := startedAt.Time
		batch.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		batch.CompletedAt = &t
	}

	return &batch, nil
}

// CompleteBatch transitions RUNNING -> COMPLETED, writing counters and
// aggregated results.
func (s *PostgresStore) CompleteBatch(ctx context.Context, batchID string, counters models.BatchCounters, results map[string]any) error {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal batch results: %w", err)
	}

	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE job_batches
			SET status = 'COMPLETED', processed_count = $1, success_count = $2, error_count = $3,
				skipped_count = $4, results = $5, completed_at = $6, updated_at = $6
			WHERE id = $7
		`, counters.ProcessedCount, counters.SuccessCount, counters.ErrorCount, counters.SkippedCount,
			resultsJSON, time.Now().UTC(), batchID)
		return err
	})
}

// FailBatch transitions RUNNING -> FAILED, recording the error message.
func (s *PostgresStore) FailBatch(ctx context.Context, batchID string, errorMessage string) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE job_batches
			SET status = 'FAILED', error_message = $1, completed_at = $2, updated_at = $2
			WHERE id = $3
		`, errorMessage, time.Now().UTC(), batchID)
		return err
	})
}

// AggregateProgress computes the aggregate over all batches of one job run
// via a single grouped query.
func (s *PostgresStore) AggregateProgress(ctx context.Context, parentJobID string) (models.AggregateProgress, error) {
	var agg models.AggregateProgress

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'COMPLETED'),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COALESCE(SUM(items_count), 0),
			COALESCE(SUM(success_count), 0),
			COALESCE(SUM(error_count), 0)
		FROM job_batches WHERE parent_job_id = $1
	`, parentJobID).Scan(&agg.TotalBatches, &agg.CompletedBatches, &agg.FailedBatches, &agg.TotalItems, &agg.SuccessItems, &agg.ErrorItems)
	if err != nil {
		return agg, fmt.Errorf("aggregate progress: %w", err)
	}

	return agg, nil
}

// IsCancelled reports whether the parent Job row is in a terminal FAILURE
// status (the core's encoding of "cancelled").
func (s *PostgresStore) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, joberrors.ErrJobNotFound
	}
	if err != nil {
		return false, err
	}
	return models.JobStatus(status) == models.JobStatusFailure, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ interfaces.JobStore = (*PostgresStore)(nil)
