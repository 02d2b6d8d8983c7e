package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/irjudson/lumina/internal/common"
	"github.com/irjudson/lumina/internal/jobs/progress"
	"github.com/irjudson/lumina/internal/jobs/registry"
	"github.com/irjudson/lumina/internal/jobs/store"
	"github.com/irjudson/lumina/internal/models"
	"github.com/irjudson/lumina/internal/worker"
)

// fakeDefinition is an in-process, configurable models.JobDefinition used to
// drive the Controller's lifecycle without any real filesystem or catalog.
type fakeDefinition struct {
	name       string
	items      []models.WorkItem
	discoverFn func(ctx context.Context, catalogID string, params models.Params) ([]models.WorkItem, error)
	failItems  map[string]bool
	batchSize  int
	maxWorkers int
}

func newFakeDefinition(name string, n int) *fakeDefinition {
	items := make([]models.WorkItem, n)
	for i := range items {
		items[i] = models.WorkItem(fmt.Sprintf(`"item-%d"`, i))
	}
	return &fakeDefinition{name: name, items: items, batchSize: 2, maxWorkers: 2}
}

func (f *fakeDefinition) Name() string { return f.name }

func (f *fakeDefinition) Discover(ctx context.Context, catalogID string, params models.Params) ([]models.WorkItem, error) {
	if f.discoverFn != nil {
		return f.discoverFn(ctx, catalogID, params)
	}
	return f.items, nil
}

func (f *fakeDefinition) Process(ctx context.Context, item models.WorkItem, catalogID string, params models.Params) (map[string]any, error) {
	if f.failItems[string(item)] {
		return nil, fmt.Errorf("processing failed for %s", string(item))
	}
	return map[string]any{"processed": string(item)}, nil
}

func (f *fakeDefinition) Finalize(ctx context.Context, batchResults []models.BatchResult, catalogID string, params models.Params) (map[string]any, error) {
	total := 0
	for _, r := range batchResults {
		total += r.SuccessCount
	}
	return map[string]any{"finalized_success": total}, nil
}

func (f *fakeDefinition) DefaultBatchSize() int  { return f.batchSize }
func (f *fakeDefinition) DefaultMaxWorkers() int { return f.maxWorkers }
func (f *fakeDefinition) RetryOnFailure() bool   { return false }
func (f *fakeDefinition) MaxRetries() int        { return 0 }
func (f *fakeDefinition) Timeout() time.Duration { return 0 }

var _ models.JobDefinition = (*fakeDefinition)(nil)

func newTestController(t *testing.T, defs ...*fakeDefinition) *Controller {
	t.Helper()
	dir, err := os.MkdirTemp("", "lumina-controller-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := store.NewBadgerStore(common.BadgerConfig{Path: dir + "/jobs"}, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	pc := progress.NewMemoryChannel()
	pool := worker.New(arbor.NewLogger(), 4)
	pool.Start()
	t.Cleanup(func() { pool.Shutdown(false, 0) })

	reg := registry.New()
	for _, d := range defs {
		require.NoError(t, reg.Register(d))
	}

	cfg := common.JobsConfig{
		JobTimeoutSeconds:           5,
		MaxRetries:                  1,
		RetryBaseDelay:              10 * time.Millisecond,
		ConsecutiveFailureThreshold: 3,
	}

	return New(s, pc, pool, reg, arbor.NewLogger(), cfg)
}

func waitForTerminal(t *testing.T, c *Controller, jobID string, timeout time.Duration) *models.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := c.Get(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal status within %s", jobID, timeout)
	return nil
}

func TestController_Submit_UnknownJobType(t *testing.T) {
	c := newTestController(t)
	_, err := c.Submit(context.Background(), "does_not_exist", "catalog-1", nil)
	require.Error(t, err)
}

func TestController_Submit_EmptyDiscoveryEndsSuccess(t *testing.T) {
	def := newFakeDefinition("empty", 0)
	c := newTestController(t, def)

	job, err := c.Submit(context.Background(), "empty", "catalog-1", models.Params{})
	require.NoError(t, err)

	final := waitForTerminal(t, c, job.ID, time.Second)
	assert.Equal(t, models.JobStatusSuccess, final.Status)
}

func TestController_Submit_EmptyDiscoveryStillRunsFinalize(t *testing.T) {
	def := newFakeDefinition("empty_finalize", 0)
	c := newTestController(t, def)

	job, err := c.Submit(context.Background(), "empty_finalize", "catalog-1", models.Params{})
	require.NoError(t, err)

	final := waitForTerminal(t, c, job.ID, time.Second)
	assert.Equal(t, models.JobStatusSuccess, final.Status)

	var result map[string]any
	require.NoError(t, json.Unmarshal(final.Result, &result))
	assert.EqualValues(t, 0, result["success_count"])
	assert.EqualValues(t, 0, result["error_count"])
	assert.EqualValues(t, 0, result["total_items"])
	assert.EqualValues(t, []any{}, result["errors"])
	assert.EqualValues(t, 0, result["finalized_success"])
	assert.Equal(t, "completed", result["status"])
}

func TestController_Submit_ResultAggregatesSuccessAndErrorCounts(t *testing.T) {
	def := &fakeDefinition{
		name:       "mixed_outcomes",
		items:      []models.WorkItem{models.WorkItem(`"good"`), models.WorkItem(`"bad"`), models.WorkItem(`"good2"`)},
		failItems:  map[string]bool{`"bad"`: true},
		batchSize:  10,
		maxWorkers: 1,
	}
	c := newTestController(t, def)

	job, err := c.Submit(context.Background(), "mixed_outcomes", "catalog-1", models.Params{})
	require.NoError(t, err)

	final := waitForTerminal(t, c, job.ID, 2*time.Second)
	assert.Equal(t, models.JobStatusSuccess, final.Status)

	var result map[string]any
	require.NoError(t, json.Unmarshal(final.Result, &result))
	assert.EqualValues(t, 2, result["success_count"])
	assert.EqualValues(t, 1, result["error_count"])
	assert.EqualValues(t, 3, result["total_items"])
	errs, ok := result["errors"].([]any)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, `"bad"`, errs[0].(map[string]any)["item"])
	assert.Equal(t, "completed", result["status"])
}

func TestController_Submit_AutoRequeuePersistsResultOnOriginalJob(t *testing.T) {
	def := &fakeDefinition{
		name:       "requeue_me",
		items:      newFakeDefinition("", 4).items,
		failItems:  map[string]bool{`"item-0"`: true, `"item-1"`: true, `"item-2"`: true},
		batchSize:  1,
		maxWorkers: 4,
	}
	c := newTestController(t, def)

	job, err := c.Submit(context.Background(), "requeue_me", "catalog-1", models.Params{})
	require.NoError(t, err)

	final := waitForTerminal(t, c, job.ID, 2*time.Second)
	assert.Equal(t, models.JobStatusFailure, final.Status)

	var result map[string]any
	require.NoError(t, json.Unmarshal(final.Result, &result))
	assert.Equal(t, "requeued", result["status"])
	assert.EqualValues(t, 3, result["failed_batches"])
	requeuedID, ok := result["requeued_job_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, requeuedID)

	requeued, err := c.Get(context.Background(), requeuedID)
	require.NoError(t, err)
	assert.Equal(t, "requeue_me", requeued.Type)
}

func TestController_Submit_RunsAllItemsToSuccess(t *testing.T) {
	def := newFakeDefinition("scan_ok", 5)
	c := newTestController(t, def)

	job, err := c.Submit(context.Background(), "scan_ok", "catalog-1", models.Params{})
	require.NoError(t, err)

	final := waitForTerminal(t, c, job.ID, 2*time.Second)
	assert.Equal(t, models.JobStatusSuccess, final.Status)
	require.NotNil(t, final.Result)
}

func TestController_Submit_PartialFailureCompletesWithErrors(t *testing.T) {
	def := newFakeDefinition("scan_partial", 4)
	def.batchSize = 4
	def.failItems = map[string]bool{`"item-0"`: true}
	c := newTestController(t, def)

	job, err := c.Submit(context.Background(), "scan_partial", "catalog-1", models.Params{})
	require.NoError(t, err)

	final := waitForTerminal(t, c, job.ID, 2*time.Second)
	assert.Equal(t, models.JobStatusSuccess, final.Status)
}

func TestController_Cancel_TerminatesNonTerminalJob(t *testing.T) {
	def := newFakeDefinition("cancel_me", 1)
	def.discoverFn = func(ctx context.Context, catalogID string, params models.Params) ([]models.WorkItem, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c := newTestController(t, def)

	job, err := c.Submit(context.Background(), "cancel_me", "catalog-1", models.Params{})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	ok, err := c.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	final, err := c.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailure, final.Status)
}

func TestController_Cancel_RejectsTerminalJob(t *testing.T) {
	def := newFakeDefinition("already_done", 0)
	c := newTestController(t, def)

	job, err := c.Submit(context.Background(), "already_done", "catalog-1", models.Params{})
	require.NoError(t, err)
	waitForTerminal(t, c, job.ID, time.Second)

	_, err = c.Cancel(context.Background(), job.ID)
	require.Error(t, err)
}

func TestController_Submit_RejectsMissingCatalogID(t *testing.T) {
	def := newFakeDefinition("needs_catalog", 0)
	c := newTestController(t, def)

	_, err := c.Submit(context.Background(), "needs_catalog", "", models.Params{})
	require.Error(t, err)
}

func TestController_Submit_RejectsNegativeBatchSize(t *testing.T) {
	def := newFakeDefinition("bad_batch_size", 0)
	c := newTestController(t, def)

	_, err := c.Submit(context.Background(), "bad_batch_size", "catalog-1", models.Params{"batch_size": float64(-10)})
	require.Error(t, err)
}

func TestController_HealthProbe(t *testing.T) {
	c := newTestController(t)
	assert.Equal(t, map[string]string{"status": "healthy", "backend": "goroutine-pool"}, c.HealthProbe())
}
