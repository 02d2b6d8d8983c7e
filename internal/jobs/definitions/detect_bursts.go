package definitions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/irjudson/lumina/internal/analysis/bursts"
	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/models"
)

const (
	defaultBurstGapThreshold = time.Second
	defaultBurstMinSize      = 3
	defaultBurstMinDuration  = 500 * time.Millisecond
)

// DetectBurstsDefinition is a single-pass job: discover returns every image
// with a reliable capture time, and the whole detection algorithm runs
// against that full sorted list inside finalize, since burst membership
// depends on neighboring images that might land in different batches.
// Batching here exists only for restart/progress tracking, not for
// partitioning the algorithm itself.
//
// Grounded in original_source/lumina/analysis/bursts.py's detect_bursts,
// _find_sequences, and _make_burst.
type DetectBurstsDefinition struct {
	Store catalog.Store
}

var _ models.JobDefinition = (*DetectBurstsDefinition)(nil)

func (d *DetectBurstsDefinition) Name() string { return "detect_bursts" }

type burstWorkItem struct {
	ImageID string `json:"image_id"`
}

// Discover returns every image with a reliable capture time.
func (d *DetectBurstsDefinition) Discover(ctx context.Context, catalogID string, params models.Params) ([]models.WorkItem, error) {
	images, err := d.Store.ImagesWithCaptureTime(ctx, catalogID)
	if err != nil {
		return nil, fmt.Errorf("list images with capture time: %w", err)
	}

	items := make([]models.WorkItem, 0, len(images))
	for _, img := range images {
		raw, err := json.Marshal(burstWorkItem{ImageID: img.ID})
		if err != nil {
			return nil, err
		}
		items = append(items, models.WorkItem(raw))
	}
	return items, nil
}

// Process is a no-op confirming the item decodes; the real work happens in
// Finalize, which has visibility across all batches at once.
func (d *DetectBurstsDefinition) Process(ctx context.Context, item models.WorkItem, catalogID string, params models.Params) (map[string]any, error) {
	var work burstWorkItem
	if err := json.Unmarshal(item, &work); err != nil {
		return nil, fmt.Errorf("decode work item: %w", err)
	}
	return map[string]any{"image_id": work.ImageID}, nil
}

// Finalize re-reads every image with a capture time for the catalog (not
// just the items in batchResults, since bursts spanning a batch boundary
// need both sides) and runs the full burst-detection algorithm.
func (d *DetectBurstsDefinition) Finalize(ctx context.Context, batchResults []models.BatchResult, catalogID string, params models.Params) (map[string]any, error) {
	images, err := d.Store.ImagesWithCaptureTime(ctx, catalogID)
	if err != nil {
		return nil, fmt.Errorf("list images with capture time: %w", err)
	}

	gapThreshold := defaultBurstGapThreshold
	if v, ok := params["gap_threshold_seconds"].(float64); ok && v > 0 {
		gapThreshold = time.Duration(v * float64(time.Second))
	}
	minSize := defaultBurstMinSize
	if v, ok := params["min_size"].(float64); ok && v > 0 {
		minSize = int(v)
	}
	minDuration := defaultBurstMinDuration
	if v, ok := params["min_duration_seconds"].(float64); ok && v > 0 {
		minDuration = time.Duration(v * float64(time.Second))
	}

	analysisImages := make([]bursts.Image, len(images))
	for i, img := range images {
		analysisImages[i] = bursts.Image{
			ID:           img.ID,
			Camera:       img.CameraMake,
			CapturedAt:   img.CapturedAt,
			QualityScore: img.QualityScore,
		}
	}

	detected := bursts.DetectBursts(analysisImages, gapThreshold, minSize, minDuration)

	toSave := make([]catalog.Burst, len(detected))
	for i, b := range detected {
		toSave[i] = catalog.Burst{
			CatalogID:       catalogID,
			ImageIDs:        b.ImageIDs,
			StartTime:       b.StartTime,
			EndTime:         b.EndTime,
			DurationSeconds: b.DurationSeconds,
			Camera:          b.Camera,
		}
	}

	if err := d.Store.SaveBursts(ctx, toSave); err != nil {
		return nil, fmt.Errorf("save bursts: %w", err)
	}

	return map[string]any{"bursts_detected": len(detected)}, nil
}

func (d *DetectBurstsDefinition) DefaultBatchSize() int  { return 1000 }
func (d *DetectBurstsDefinition) DefaultMaxWorkers() int { return 4 }
func (d *DetectBurstsDefinition) RetryOnFailure() bool   { return false }
func (d *DetectBurstsDefinition) MaxRetries() int        { return 0 }
func (d *DetectBurstsDefinition) Timeout() time.Duration { return 0 }
