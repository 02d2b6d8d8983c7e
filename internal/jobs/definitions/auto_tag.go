package definitions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/inference"
	"github.com/irjudson/lumina/internal/models"
)

// AutoTagDefinition tags images using a selectable inference backend
// (local heuristic, Gemini, or Claude). Inference-bound, so its default max
// worker count is 1 — the Controller's auto-requeue mechanism, not internal
// parallelism, is what keeps a stalled backend from blocking progress
// forever (see original_source/lumina/jobs/parallel_tagging.py's
// Auto-Recovery note).
//
// Process is strictly per-item under this framework's JobDefinition
// contract (there is no batch-granularity hook besides Finalize), so the
// "true batch mode" the original's OpenCLIP backend used is represented
// here only as the local backend choosing not to rate-limit; every backend
// still processes one item at a time. Remote backends are throttled via
// the factory's golang.org/x/time/rate limiter, matching
// internal/services/navexa/client.go's usage.
type AutoTagDefinition struct {
	Store    catalog.Store
	Provider *inference.ProviderFactory

	mu      sync.Mutex
	taggers map[inference.Backend]inference.Tagger
}

var _ models.JobDefinition = (*AutoTagDefinition)(nil)

func (d *AutoTagDefinition) Name() string { return "auto_tag" }

type autoTagWorkItem struct {
	ImageID string `json:"image_id"`
	Path    string `json:"path"`
}

// Discover returns images missing tags when tag_mode is "untagged_only"
// (the default), or every image in the catalog when tag_mode is "all".
func (d *AutoTagDefinition) Discover(ctx context.Context, catalogID string, params models.Params) ([]models.WorkItem, error) {
	untaggedOnly := true
	if mode, ok := params["tag_mode"].(string); ok && mode == "all" {
		untaggedOnly = false
	}

	images, err := d.Store.ImagesForTagging(ctx, catalogID, untaggedOnly)
	if err != nil {
		return nil, fmt.Errorf("list images for tagging: %w", err)
	}

	items := make([]models.WorkItem, 0, len(images))
	for _, img := range images {
		raw, err := json.Marshal(autoTagWorkItem{ImageID: img.ID, Path: img.Path})
		if err != nil {
			return nil, err
		}
		items = append(items, models.WorkItem(raw))
	}
	return items, nil
}

// Process tags one image via the configured backend and persists the
// result.
func (d *AutoTagDefinition) Process(ctx context.Context, item models.WorkItem, catalogID string, params models.Params) (map[string]any, error) {
	var work autoTagWorkItem
	if err := json.Unmarshal(item, &work); err != nil {
		return nil, fmt.Errorf("decode work item: %w", err)
	}

	backend := inference.BackendLocal
	if v, ok := params["backend"].(string); ok && v != "" {
		backend = inference.Backend(v)
	}
	threshold := 0.25
	if v, ok := params["threshold"].(float64); ok && v > 0 {
		threshold = v
	}
	maxTags := 10
	if v, ok := params["max_tags"].(float64); ok && v > 0 {
		maxTags = int(v)
	}

	tagger, err := d.tagger(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("load %s tagger: %w", backend, err)
	}

	tags, err := tagger.TagImage(ctx, work.Path, threshold, maxTags)
	if err != nil {
		return nil, fmt.Errorf("tag image: %w", err)
	}
	if len(tags) == 0 {
		return map[string]any{"image_id": work.ImageID, "tags_written": 0}, nil
	}

	imageTags := make([]catalog.ImageTag, len(tags))
	for i, t := range tags {
		imageTags[i] = catalog.ImageTag{ImageID: work.ImageID, TagName: t.Name, Confidence: t.Confidence, Source: catalog.TagSource(backend)}
	}
	if err := d.Store.SaveTags(ctx, work.ImageID, imageTags); err != nil {
		return nil, fmt.Errorf("save tags: %w", err)
	}

	return map[string]any{"image_id": work.ImageID, "tags_written": len(tags)}, nil
}

// Finalize reports how many images this run tagged.
func (d *AutoTagDefinition) Finalize(ctx context.Context, batchResults []models.BatchResult, catalogID string, params models.Params) (map[string]any, error) {
	var imagesTagged int
	for _, br := range batchResults {
		imagesTagged += br.SuccessCount
	}
	return map[string]any{"images_tagged": imagesTagged}, nil
}

func (d *AutoTagDefinition) DefaultBatchSize() int  { return 500 }
func (d *AutoTagDefinition) DefaultMaxWorkers() int { return 1 }
func (d *AutoTagDefinition) RetryOnFailure() bool   { return true }
func (d *AutoTagDefinition) MaxRetries() int        { return 2 }
func (d *AutoTagDefinition) Timeout() time.Duration { return 0 }

// tagger lazily acquires and caches one Tagger per backend for the
// lifetime of this definition instance, releasing it only on Close.
func (d *AutoTagDefinition) tagger(ctx context.Context, backend inference.Backend) (inference.Tagger, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.taggers == nil {
		d.taggers = make(map[inference.Backend]inference.Tagger)
	}
	if t, ok := d.taggers[backend]; ok {
		return t, nil
	}

	t, err := d.Provider.Get(ctx, backend)
	if err != nil {
		return nil, err
	}
	d.taggers[backend] = t
	return t, nil
}

// Close releases any cached inference backends. Not part of JobDefinition;
// called by the process that owns this definition's lifetime (cmd/lumina's
// shutdown path).
func (d *AutoTagDefinition) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.taggers {
		_ = t.Close()
	}
	return d.Provider.Close()
}
