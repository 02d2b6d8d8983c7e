package definitions

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/models"
)

func writePNG(t *testing.T, path string, fill color.Gray) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetGray(x, y, fill)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestDetectDuplicatesDefinition_DiscoverReturnsImagesMissingHash(t *testing.T) {
	store := newFakeCatalogStore()
	hashed, err := store.UpsertScannedImage(context.Background(), catalog.Image{CatalogID: "cat-1", Path: "a.png"})
	require.NoError(t, err)
	require.NoError(t, store.SaveHashes(context.Background(), hashed.ID, "x", "y", "z"))
	_, err = store.UpsertScannedImage(context.Background(), catalog.Image{CatalogID: "cat-1", Path: "b.png"})
	require.NoError(t, err)

	def := &DetectDuplicatesDefinition{Store: store}
	items, err := def.Discover(context.Background(), "cat-1", nil)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDetectDuplicatesDefinition_ProcessComputesHashes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "solid.png")
	writePNG(t, path, color.Gray{Y: 200})

	store := newFakeCatalogStore()
	img, err := store.UpsertScannedImage(context.Background(), catalog.Image{CatalogID: "cat-1", Path: path})
	require.NoError(t, err)

	def := &DetectDuplicatesDefinition{Store: store}
	item := models.WorkItem([]byte(`{"image_id":"` + img.ID + `","path":"` + path + `"}`))

	out, err := def.Process(context.Background(), item, "cat-1", nil)
	require.NoError(t, err)
	assert.Len(t, out["dhash"], 16)

	updated, err := store.ImagesWithHashes(context.Background(), "cat-1")
	require.NoError(t, err)
	require.Len(t, updated, 1)
}

func TestDetectDuplicatesDefinition_FinalizeGroupsExactMatches(t *testing.T) {
	store := newFakeCatalogStore()
	a, err := store.UpsertScannedImage(context.Background(), catalog.Image{CatalogID: "cat-1", Path: "a.png", Checksum: "sum1"})
	require.NoError(t, err)
	b, err := store.UpsertScannedImage(context.Background(), catalog.Image{CatalogID: "cat-1", Path: "b.png", Checksum: "sum1"})
	require.NoError(t, err)
	require.NoError(t, store.SaveHashes(context.Background(), a.ID, "0000000000000000", "x", "y"))
	require.NoError(t, store.SaveHashes(context.Background(), b.ID, "ffffffffffffffff", "x", "y"))

	def := &DetectDuplicatesDefinition{Store: store}
	result, err := def.Finalize(context.Background(), nil, "cat-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result["exact_groups"])
	require.Len(t, store.duplicateGroups, 1)
	assert.Equal(t, catalog.DuplicateKindExact, store.duplicateGroups[0].Kind)
}
