package definitions

import (
	"context"
	"fmt"
	"sync"

	"github.com/irjudson/lumina/internal/catalog"
)

// fakeCatalogStore is an in-memory catalog.Store for exercising the built-in
// job definitions without a live Postgres instance.
type fakeCatalogStore struct {
	mu         sync.Mutex
	sourceDirs map[string][]string
	images     map[string]*catalog.Image
	nextID     int

	duplicateGroups []catalog.DuplicateGroup
	bursts          []catalog.Burst
	tags            map[string][]catalog.ImageTag
}

func newFakeCatalogStore() *fakeCatalogStore {
	return &fakeCatalogStore{
		sourceDirs: make(map[string][]string),
		images:     make(map[string]*catalog.Image),
		tags:       make(map[string][]catalog.ImageTag),
	}
}

var _ catalog.Store = (*fakeCatalogStore)(nil)

func (s *fakeCatalogStore) Close() error { return nil }

func (s *fakeCatalogStore) SourceDirs(ctx context.Context, catalogID string) ([]string, error) {
	return s.sourceDirs[catalogID], nil
}

func (s *fakeCatalogStore) UpsertScannedImage(ctx context.Context, img catalog.Image) (*catalog.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.images {
		if existing.CatalogID == img.CatalogID && existing.Path == img.Path {
			*existing = img
			return existing, nil
		}
	}

	s.nextID++
	img.ID = fmt.Sprintf("img-%d", s.nextID)
	stored := img
	s.images[img.ID] = &stored
	return &stored, nil
}

func (s *fakeCatalogStore) ImagesMissingHash(ctx context.Context, catalogID string) ([]catalog.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.Image
	for _, img := range s.images {
		if img.CatalogID == catalogID && img.DHash == "" {
			out = append(out, *img)
		}
	}
	return out, nil
}

func (s *fakeCatalogStore) SaveHashes(ctx context.Context, imageID, dhash, ahash, whash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[imageID]
	if !ok {
		return fmt.Errorf("image %q not found", imageID)
	}
	img.DHash, img.AHash, img.WHash = dhash, ahash, whash
	return nil
}

func (s *fakeCatalogStore) ImagesWithHashes(ctx context.Context, catalogID string) ([]catalog.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.Image
	for _, img := range s.images {
		if img.CatalogID == catalogID && img.DHash != "" {
			out = append(out, *img)
		}
	}
	return out, nil
}

func (s *fakeCatalogStore) SaveDuplicateGroups(ctx context.Context, groups []catalog.DuplicateGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duplicateGroups = append(s.duplicateGroups, groups...)
	return nil
}

func (s *fakeCatalogStore) ImagesWithCaptureTime(ctx context.Context, catalogID string) ([]catalog.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.Image
	for _, img := range s.images {
		if img.CatalogID == catalogID && img.CapturedAt != nil {
			out = append(out, *img)
		}
	}
	return out, nil
}

func (s *fakeCatalogStore) SaveBursts(ctx context.Context, bursts []catalog.Burst) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bursts = append(s.bursts, bursts...)
	return nil
}

func (s *fakeCatalogStore) ImagesForTagging(ctx context.Context, catalogID string, untaggedOnly bool) ([]catalog.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.Image
	for _, img := range s.images {
		if img.CatalogID != catalogID {
			continue
		}
		if untaggedOnly && len(s.tags[img.ID]) > 0 {
			continue
		}
		out = append(out, *img)
	}
	return out, nil
}

func (s *fakeCatalogStore) SaveTags(ctx context.Context, imageID string, tags []catalog.ImageTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[imageID] = append(s.tags[imageID], tags...)
	return nil
}

func (s *fakeCatalogStore) ScanTotals(ctx context.Context, catalogID string) (totalImages, totalVideos int, totalSizeBytes int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, img := range s.images {
		if img.CatalogID != catalogID {
			continue
		}
		totalSizeBytes += img.SizeBytes
		switch img.FileType {
		case "image", "raw":
			totalImages++
		case "video":
			totalVideos++
		}
	}
	return totalImages, totalVideos, totalSizeBytes, nil
}
