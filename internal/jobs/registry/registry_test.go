package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	joberrors "github.com/irjudson/lumina/internal/jobs/errors"
	"github.com/irjudson/lumina/internal/models"
)

type stubDefinition struct{ name string }

func (s *stubDefinition) Name() string { return s.name }
func (s *stubDefinition) Discover(ctx context.Context, catalogID string, params models.Params) ([]models.WorkItem, error) {
	return nil, nil
}
func (s *stubDefinition) Process(ctx context.Context, item models.WorkItem, catalogID string, params models.Params) (map[string]any, error) {
	return nil, nil
}
func (s *stubDefinition) Finalize(ctx context.Context, batchResults []models.BatchResult, catalogID string, params models.Params) (map[string]any, error) {
	return nil, nil
}
func (s *stubDefinition) DefaultBatchSize() int  { return 100 }
func (s *stubDefinition) DefaultMaxWorkers() int { return 4 }
func (s *stubDefinition) RetryOnFailure() bool   { return false }
func (s *stubDefinition) MaxRetries() int        { return 0 }
func (s *stubDefinition) Timeout() time.Duration { return 0 }

var _ models.JobDefinition = (*stubDefinition)(nil)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubDefinition{name: "scan"}))

	def, ok := r.Get("scan")
	require.True(t, ok)
	assert.Equal(t, "scan", def.Name())
}

func TestRegistry_Get_UnknownReturnsFalse(t *testing.T) {
	r := New()
	_, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestRegistry_Register_DuplicateNameRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubDefinition{name: "scan"}))

	err := r.Register(&stubDefinition{name: "scan"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, joberrors.ErrDuplicateName))
}

func TestRegistry_ListNames_Sorted(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubDefinition{name: "scan"}))
	require.NoError(t, r.Register(&stubDefinition{name: "auto_tag"}))
	require.NoError(t, r.Register(&stubDefinition{name: "detect_bursts"}))

	assert.Equal(t, []string{"auto_tag", "detect_bursts", "scan"}, r.ListNames())
}
