package definitions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irjudson/lumina/internal/catalog"
)

func TestDetectBurstsDefinition_DiscoverReturnsImagesWithCaptureTime(t *testing.T) {
	store := newFakeCatalogStore()
	now := time.Now()
	_, err := store.UpsertScannedImage(context.Background(), catalog.Image{CatalogID: "cat-1", Path: "a.jpg", CapturedAt: &now})
	require.NoError(t, err)
	_, err = store.UpsertScannedImage(context.Background(), catalog.Image{CatalogID: "cat-1", Path: "b.jpg"})
	require.NoError(t, err)

	def := &DetectBurstsDefinition{Store: store}
	items, err := def.Discover(context.Background(), "cat-1", nil)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDetectBurstsDefinition_FinalizeDetectsBurst(t *testing.T) {
	store := newFakeCatalogStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * 300 * time.Millisecond)
		_, err := store.UpsertScannedImage(context.Background(), catalog.Image{
			CatalogID: "cat-1", Path: fmt.Sprintf("a%d.jpg", i), CameraMake: "canon", CapturedAt: &ts,
		})
		require.NoError(t, err)
	}

	def := &DetectBurstsDefinition{Store: store}
	result, err := def.Finalize(context.Background(), nil, "cat-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result["bursts_detected"])
	require.Len(t, store.bursts, 1)
	assert.Equal(t, "canon", store.bursts[0].Camera)
}
