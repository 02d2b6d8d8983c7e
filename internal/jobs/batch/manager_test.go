package batch

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/irjudson/lumina/internal/common"
	"github.com/irjudson/lumina/internal/jobs/progress"
	"github.com/irjudson/lumina/internal/jobs/store"
	"github.com/irjudson/lumina/internal/models"
)

func newTestManager(t *testing.T) (*Manager, *models.Job) {
	t.Helper()
	dir, err := os.MkdirTemp("", "lumina-batch-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := store.NewBadgerStore(common.BadgerConfig{Path: dir + "/jobs"}, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	pc := progress.NewMemoryChannel()
	m := New(s, pc, arbor.NewLogger())

	job, err := s.CreateJob(context.Background(), "scan", "catalog-1", models.Params{})
	require.NoError(t, err)

	return m, job
}

func TestManager_CreateBatches_PublishesInitialProgress(t *testing.T) {
	m, job := newTestManager(t)
	ctx := context.Background()

	batches, err := m.CreateBatches(ctx, job.ID, "catalog-1", "scan", [][]models.WorkItem{
		{models.WorkItem(`"a"`), models.WorkItem(`"b"`)},
		{models.WorkItem(`"c"`)},
	})
	require.NoError(t, err)
	assert.Len(t, batches, 2)

	last, err := m.progress.GetLastProgress(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 3, last.Progress.Total)
}

func TestManager_CompleteBatch_RepublishesAggregate(t *testing.T) {
	m, job := newTestManager(t)
	ctx := context.Background()

	batches, err := m.CreateBatches(ctx, job.ID, "catalog-1", "scan", [][]models.WorkItem{
		{models.WorkItem(`"a"`)},
	})
	require.NoError(t, err)

	claimed, err := m.ClaimBatch(ctx, batches[0].ID, "worker-1")
	require.NoError(t, err)

	require.NoError(t, m.CompleteBatch(ctx, claimed, models.BatchCounters{ProcessedCount: 1, SuccessCount: 1}, nil))

	agg, err := m.GetProgress(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.CompletedBatches)
	assert.Equal(t, 1, agg.SuccessItems)

	last, err := m.progress.GetLastProgress(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Progress.Current)
}

func TestManager_FailBatch_RepublishesAggregate(t *testing.T) {
	m, job := newTestManager(t)
	ctx := context.Background()

	batches, err := m.CreateBatches(ctx, job.ID, "catalog-1", "scan", [][]models.WorkItem{
		{models.WorkItem(`"a"`)},
	})
	require.NoError(t, err)

	claimed, err := m.ClaimBatch(ctx, batches[0].ID, "worker-1")
	require.NoError(t, err)

	require.NoError(t, m.FailBatch(ctx, claimed, "boom"))

	agg, err := m.GetProgress(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.FailedBatches)
}

func TestManager_IsCancelled(t *testing.T) {
	m, job := newTestManager(t)
	ctx := context.Background()

	cancelled, err := m.IsCancelled(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}
