package housekeeping

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/irjudson/lumina/internal/common"
	"github.com/irjudson/lumina/internal/jobs/progress"
	"github.com/irjudson/lumina/internal/jobs/store"
	"github.com/irjudson/lumina/internal/models"
)

func newTestScheduler(t *testing.T, cleanupSchedule string) (*Scheduler, *store.BadgerStore, *progress.MemoryChannel) {
	t.Helper()
	dir, err := os.MkdirTemp("", "lumina-housekeeping-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := store.NewBadgerStore(common.BadgerConfig{Path: dir + "/jobs"}, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	pc := progress.NewMemoryChannel()

	sched, err := New(s, pc, arbor.NewLogger(), cleanupSchedule, 20*time.Millisecond)
	require.NoError(t, err)

	return sched, s, pc
}

func TestNew_RejectsInvalidSchedule(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewBadgerStore(common.BadgerConfig{Path: dir + "/jobs"}, arbor.NewLogger())
	require.NoError(t, err)
	defer s.Close()

	_, err = New(s, progress.NewMemoryChannel(), arbor.NewLogger(), "not a cron expression", time.Hour)
	require.Error(t, err)
}

func TestNew_RejectsTooFrequentSchedule(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewBadgerStore(common.BadgerConfig{Path: dir + "/jobs"}, arbor.NewLogger())
	require.NoError(t, err)
	defer s.Close()

	_, err = New(s, progress.NewMemoryChannel(), arbor.NewLogger(), "0 * * * * *", time.Hour)
	require.Error(t, err)
}

func TestRunCleanup_PrunesOldSnapshots(t *testing.T) {
	sched, _, pc := newTestScheduler(t, "0 0 0 * * *")

	pc.PublishProgress(context.Background(), "job-old", models.JobStatusProgress, 1, 2, "", nil)
	time.Sleep(30 * time.Millisecond)

	sched.runCleanup()

	last, err := pc.GetLastProgress(context.Background(), "job-old")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestRunCleanup_KeepsFreshSnapshots(t *testing.T) {
	sched, _, pc := newTestScheduler(t, "0 0 0 * * *")

	pc.PublishProgress(context.Background(), "job-fresh", models.JobStatusProgress, 1, 2, "", nil)

	sched.runCleanup()

	last, err := pc.GetLastProgress(context.Background(), "job-fresh")
	require.NoError(t, err)
	require.NotNil(t, last)
}

func TestRunStaleSweep_FailsStuckProgressJobs(t *testing.T) {
	sched, s, pc := newTestScheduler(t, "0 0 0 * * *")
	sched.staleAfter = 20 * time.Millisecond
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "scan", "catalog-1", models.Params{})
	require.NoError(t, err)

	progressStatus := models.JobStatusProgress
	require.NoError(t, s.UpdateJob(ctx, job.ID, models.JobUpdate{Status: &progressStatus}))

	time.Sleep(30 * time.Millisecond)
	sched.runStaleSweep()

	final, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailure, final.Status)

	last, err := pc.GetLastProgress(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, models.JobStatusFailure, last.Status)
}

func TestRunStaleSweep_LeavesRecentProgressJobsAlone(t *testing.T) {
	sched, s, _ := newTestScheduler(t, "0 0 0 * * *")
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "scan", "catalog-1", models.Params{})
	require.NoError(t, err)

	progressStatus := models.JobStatusProgress
	require.NoError(t, s.UpdateJob(ctx, job.ID, models.JobUpdate{Status: &progressStatus}))

	sched.runStaleSweep()

	final, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProgress, final.Status)
}

func TestRunStaleSweep_IgnoresTerminalJobs(t *testing.T) {
	sched, s, _ := newTestScheduler(t, "0 0 0 * * *")
	sched.staleAfter = 20 * time.Millisecond
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "scan", "catalog-1", models.Params{})
	require.NoError(t, err)

	successStatus := models.JobStatusSuccess
	require.NoError(t, s.UpdateJob(ctx, job.ID, models.JobUpdate{Status: &successStatus}))

	time.Sleep(30 * time.Millisecond)
	sched.runStaleSweep()

	final, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, final.Status)
}
