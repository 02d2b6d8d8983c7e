package definitions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/models"
)

func TestScanDefinition_DiscoverFindsMediaFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "photo.jpg"), []byte("fake-jpeg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("fake-mp4"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not media"), 0o644))

	store := newFakeCatalogStore()
	store.sourceDirs["cat-1"] = []string{dir}
	def := &ScanDefinition{Store: store}

	items, err := def.Discover(context.Background(), "cat-1", nil)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestScanDefinition_ProcessHashesAndClassifies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("fake-jpeg-bytes"), 0o644))

	store := newFakeCatalogStore()
	def := &ScanDefinition{Store: store}

	items, err := def.Discover(context.Background(), "cat-1", nil)
	require.NoError(t, err)
	require.Empty(t, items) // no source dirs registered

	raw, err := jsonMarshalScanItem(path)
	require.NoError(t, err)

	out, err := def.Process(context.Background(), raw, "cat-1", models.Params{})
	require.NoError(t, err)
	assert.Equal(t, "image", out["file_type"])
	assert.NotEmpty(t, out["image_id"])

	totalImages, _, totalSize, err := store.ScanTotals(context.Background(), "cat-1")
	require.NoError(t, err)
	assert.Equal(t, 1, totalImages)
	assert.Equal(t, int64(len("fake-jpeg-bytes")), totalSize)
}

func TestScanDefinition_FinalizeReportsTotals(t *testing.T) {
	store := newFakeCatalogStore()
	def := &ScanDefinition{Store: store}

	_, err := store.UpsertScannedImage(context.Background(), catalog.Image{CatalogID: "cat-1", Path: "a.jpg", FileType: "image", SizeBytes: 100})
	require.NoError(t, err)
	_, err = store.UpsertScannedImage(context.Background(), catalog.Image{CatalogID: "cat-1", Path: "b.mp4", FileType: "video", SizeBytes: 200})
	require.NoError(t, err)

	result, err := def.Finalize(context.Background(), []models.BatchResult{{SuccessCount: 2}}, "cat-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result["total_files"])
	assert.Equal(t, 1, result["total_images"])
	assert.Equal(t, 1, result["total_videos"])
	assert.Equal(t, int64(300), result["total_size_bytes"])
}

func jsonMarshalScanItem(path string) (models.WorkItem, error) {
	return models.WorkItem([]byte(`{"path":"` + path + `"}`)), nil
}
