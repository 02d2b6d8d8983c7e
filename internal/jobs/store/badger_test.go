package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/irjudson/lumina/internal/common"
	joberrors "github.com/irjudson/lumina/internal/jobs/errors"
	"github.com/irjudson/lumina/internal/models"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	dir, err := os.MkdirTemp("", "lumina-badger-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := NewBadgerStore(common.BadgerConfig{Path: dir + "/jobs"}, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadgerStore_CreateAndGetJob(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "scan", "catalog-1", models.Params{"tag_mode": "all"})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)

	fetched, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, fetched.ID)
	assert.Equal(t, "catalog-1", fetched.CatalogID)
}

func TestBadgerStore_GetJob_NotFound(t *testing.T) {
	s := newTestBadgerStore(t)
	_, err := s.GetJob(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, joberrors.ErrJobNotFound)
}

func TestBadgerStore_UpdateJob_SetsCompletedAtOnTerminalStatus(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "scan", "catalog-1", models.Params{})
	require.NoError(t, err)

	success := models.JobStatusSuccess
	require.NoError(t, s.UpdateJob(ctx, job.ID, models.JobUpdate{Status: &success}))

	fetched, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, fetched.Status)
	require.NotNil(t, fetched.CompletedAt)
}

func TestBadgerStore_ClaimBatch_OnlyOneWorkerSucceeds(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "scan", "catalog-1", models.Params{})
	require.NoError(t, err)

	batches, err := s.CreateBatches(ctx, job.ID, "catalog-1", "scan", [][]models.WorkItem{
		{models.WorkItem(`"item-1"`)},
	})
	require.NoError(t, err)
	require.Len(t, batches, 1)

	claimed, err := s.ClaimBatch(ctx, batches[0].ID, "worker-a")
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusRunning, claimed.Status)

	_, err = s.ClaimBatch(ctx, batches[0].ID, "worker-b")
	assert.ErrorIs(t, err, joberrors.ErrBatchAlreadyClaimed)
}

func TestBadgerStore_AggregateProgress(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "scan", "catalog-1", models.Params{})
	require.NoError(t, err)

	batches, err := s.CreateBatches(ctx, job.ID, "catalog-1", "scan", [][]models.WorkItem{
		{models.WorkItem(`"a"`)},
		{models.WorkItem(`"b"`)},
	})
	require.NoError(t, err)

	b0, err := s.ClaimBatch(ctx, batches[0].ID, "worker-a")
	require.NoError(t, err)
	require.NoError(t, s.CompleteBatch(ctx, b0.ID, models.BatchCounters{ProcessedCount: 1, SuccessCount: 1}, nil))

	b1, err := s.ClaimBatch(ctx, batches[1].ID, "worker-a")
	require.NoError(t, err)
	require.NoError(t, s.FailBatch(ctx, b1.ID, "boom"))

	agg, err := s.AggregateProgress(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.TotalBatches)
	assert.Equal(t, 1, agg.CompletedBatches)
	assert.Equal(t, 1, agg.FailedBatches)
	assert.Equal(t, 1, agg.SuccessItems)
}

func TestBadgerStore_IsCancelled(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "scan", "catalog-1", models.Params{})
	require.NoError(t, err)

	cancelled, err := s.IsCancelled(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	failure := models.JobStatusFailure
	require.NoError(t, s.UpdateJob(ctx, job.ID, models.JobUpdate{Status: &failure}))

	cancelled, err = s.IsCancelled(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
}
