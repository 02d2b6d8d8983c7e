package definitions

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/irjudson/lumina/internal/analysis/duplicates"
	"github.com/irjudson/lumina/internal/analysis/hashing"
	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/models"
)

// defaultSimilarityThreshold is the maximum Hamming distance between two
// perceptual hashes for images to be considered similar.
const defaultSimilarityThreshold = 5

// DetectDuplicatesDefinition computes perceptual hashes for images lacking
// one, then groups images by exact checksum match and by perceptual
// similarity.
//
// Grounded in original_source/lumina/analysis/hashing.py and
// original_source/lumina/analysis/duplicates.py.
type DetectDuplicatesDefinition struct {
	Store catalog.Store
}

var _ models.JobDefinition = (*DetectDuplicatesDefinition)(nil)

func (d *DetectDuplicatesDefinition) Name() string { return "detect_duplicates" }

type duplicateWorkItem struct {
	ImageID string `json:"image_id"`
	Path    string `json:"path"`
}

// Discover returns every image in the catalog that has no dHash yet.
func (d *DetectDuplicatesDefinition) Discover(ctx context.Context, catalogID string, params models.Params) ([]models.WorkItem, error) {
	images, err := d.Store.ImagesMissingHash(ctx, catalogID)
	if err != nil {
		return nil, fmt.Errorf("list images missing hash: %w", err)
	}

	items := make([]models.WorkItem, 0, len(images))
	for _, img := range images {
		raw, err := json.Marshal(duplicateWorkItem{ImageID: img.ID, Path: img.Path})
		if err != nil {
			return nil, err
		}
		items = append(items, models.WorkItem(raw))
	}
	return items, nil
}

// Process decodes one image file and computes its three perceptual hashes.
func (d *DetectDuplicatesDefinition) Process(ctx context.Context, item models.WorkItem, catalogID string, params models.Params) (map[string]any, error) {
	var work duplicateWorkItem
	if err := json.Unmarshal(item, &work); err != nil {
		return nil, fmt.Errorf("decode work item: %w", err)
	}

	f, err := os.Open(work.Path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", work.Path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", work.Path, err)
	}

	dhash, ahash, whash, err := hashing.ComputeAll(img)
	if err != nil {
		return nil, fmt.Errorf("compute hashes: %w", err)
	}

	if err := d.Store.SaveHashes(ctx, work.ImageID, dhash, ahash, whash); err != nil {
		return nil, fmt.Errorf("save hashes: %w", err)
	}

	return map[string]any{"image_id": work.ImageID, "dhash": dhash}, nil
}

// Finalize reads back every hashed image in the catalog, groups them by
// exact checksum and by perceptual similarity, and persists the resulting
// duplicate groups.
func (d *DetectDuplicatesDefinition) Finalize(ctx context.Context, batchResults []models.BatchResult, catalogID string, params models.Params) (map[string]any, error) {
	images, err := d.Store.ImagesWithHashes(ctx, catalogID)
	if err != nil {
		return nil, fmt.Errorf("list images with hashes: %w", err)
	}

	analysisImages := make([]duplicates.Image, len(images))
	for i, img := range images {
		analysisImages[i] = duplicates.Image{
			ID:           img.ID,
			Checksum:     img.Checksum,
			DHash:        img.DHash,
			AHash:        img.AHash,
			WHash:        img.WHash,
			SizeBytes:    img.SizeBytes,
			QualityScore: img.QualityScore,
		}
	}

	threshold := defaultSimilarityThreshold
	if v, ok := params["similarity_threshold"].(float64); ok && v > 0 {
		threshold = int(v)
	}

	exactGroups := duplicates.GroupByExactMatch(analysisImages)
	similarGroups, err := duplicates.GroupBySimilarity(analysisImages, func(img duplicates.Image) string { return img.DHash }, threshold)
	if err != nil {
		return nil, fmt.Errorf("group by similarity: %w", err)
	}

	byID := make(map[string]duplicates.Image, len(analysisImages))
	for _, img := range analysisImages {
		byID[img.ID] = img
	}

	var toSave []catalog.DuplicateGroup
	for _, g := range append(append([]duplicates.Group{}, exactGroups...), similarGroups...) {
		members := make([]duplicates.Image, len(g.ImageIDs))
		for i, id := range g.ImageIDs {
			members[i] = byID[id]
		}
		primary, err := duplicates.SelectPrimaryImage(members)
		if err != nil {
			continue
		}

		kind := catalog.DuplicateKindSimilar
		if g.SimilarityType == duplicates.SimilarityExact {
			kind = catalog.DuplicateKindExact
		}
		toSave = append(toSave, catalog.DuplicateGroup{
			CatalogID:      catalogID,
			Kind:           kind,
			ImageIDs:       g.ImageIDs,
			Confidence:     g.Confidence,
			PrimaryImageID: primary,
		})
	}

	if err := d.Store.SaveDuplicateGroups(ctx, toSave); err != nil {
		return nil, fmt.Errorf("save duplicate groups: %w", err)
	}

	return map[string]any{
		"exact_groups":      len(exactGroups),
		"similarity_groups": len(similarGroups),
		"total_groups":      len(toSave),
	}, nil
}

func (d *DetectDuplicatesDefinition) DefaultBatchSize() int  { return 1000 }
func (d *DetectDuplicatesDefinition) DefaultMaxWorkers() int { return 4 }
func (d *DetectDuplicatesDefinition) RetryOnFailure() bool   { return true }
func (d *DetectDuplicatesDefinition) MaxRetries() int        { return 2 }
func (d *DetectDuplicatesDefinition) Timeout() time.Duration { return 0 }
