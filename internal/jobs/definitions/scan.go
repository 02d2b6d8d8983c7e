// Package definitions provides the built-in JobDefinition implementations:
// scan, detect_duplicates, detect_bursts, and auto_tag.
package definitions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/models"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".heic": true, ".heif": true,
	".tif": true, ".tiff": true, ".bmp": true, ".webp": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".m4v": true,
}

var rawExtensions = map[string]bool{
	".cr2": true, ".cr3": true, ".nef": true, ".arw": true, ".dng": true, ".raf": true,
}

// ScanDefinition discovers media files under a catalog's configured source
// directories, computes a content digest and basic metadata for each, and
// upserts an images row per file.
//
// Grounded in original_source's ImageScanner usage inside scan_analyze_job:
// discover walks the source tree for known media extensions, process
// content-hashes and classifies one file, finalize reports aggregate counts.
type ScanDefinition struct {
	Store catalog.Store
}

var _ models.JobDefinition = (*ScanDefinition)(nil)

func (d *ScanDefinition) Name() string { return "scan" }

type scanWorkItem struct {
	Path string `json:"path"`
}

// Discover walks every configured source directory and returns one work
// item per file with a recognized media extension.
func (d *ScanDefinition) Discover(ctx context.Context, catalogID string, params models.Params) ([]models.WorkItem, error) {
	dirs, err := d.Store.SourceDirs(ctx, catalogID)
	if err != nil {
		return nil, fmt.Errorf("list source dirs: %w", err)
	}

	var items []models.WorkItem
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				return nil
			}
			if classifyFileType(path) == "" {
				return nil
			}

			raw, err := json.Marshal(scanWorkItem{Path: path})
			if err != nil {
				return err
			}
			items = append(items, models.WorkItem(raw))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %q: %w", dir, err)
		}
	}
	return items, nil
}

// Process content-hashes one file, stats its size, classifies it by
// extension, and upserts the resulting images row.
func (d *ScanDefinition) Process(ctx context.Context, item models.WorkItem, catalogID string, params models.Params) (map[string]any, error) {
	var work scanWorkItem
	if err := json.Unmarshal(item, &work); err != nil {
		return nil, fmt.Errorf("decode work item: %w", err)
	}

	f, err := os.Open(work.Path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", work.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", work.Path, err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash %q: %w", work.Path, err)
	}
	checksum := hex.EncodeToString(h.Sum(nil))

	fileType := classifyFileType(work.Path)
	img := catalog.Image{
		CatalogID: catalogID,
		Path:      work.Path,
		Checksum:  checksum,
		SizeBytes: info.Size(),
		FileType:  fileType,
	}
	if capturedAt, cameraMake, cameraModel, lat, lon, ok := extractEXIF(work.Path); ok {
		img.CapturedAt = &capturedAt
		img.CameraMake = cameraMake
		img.CameraModel = cameraModel
		img.GPSLatitude = lat
		img.GPSLongitude = lon
	}

	saved, err := d.Store.UpsertScannedImage(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("upsert image: %w", err)
	}

	return map[string]any{
		"image_id":  saved.ID,
		"file_type": fileType,
	}, nil
}

// Finalize reports total_files as the number of files this run processed;
// the image, video and size totals cover every image stored for the catalog.
// Per-item process() output only survives in a batch's merged Output map
// on a last-write-wins basis, so totals are read back from the store
// instead of folded from batchResults.
func (d *ScanDefinition) Finalize(ctx context.Context, batchResults []models.BatchResult, catalogID string, params models.Params) (map[string]any, error) {
	var totalFiles int
	for _, br := range batchResults {
		totalFiles += br.SuccessCount
	}

	totalImages, totalVideos, totalSizeBytes, err := d.Store.ScanTotals(ctx, catalogID)
	if err != nil {
		return nil, fmt.Errorf("scan totals: %w", err)
	}

	return map[string]any{
		"total_files":      totalFiles,
		"total_images":     totalImages,
		"total_videos":     totalVideos,
		"total_size_bytes": totalSizeBytes,
	}, nil
}

func (d *ScanDefinition) DefaultBatchSize() int  { return 500 }
func (d *ScanDefinition) DefaultMaxWorkers() int { return 4 }
func (d *ScanDefinition) RetryOnFailure() bool   { return true }
func (d *ScanDefinition) MaxRetries() int        { return 2 }
func (d *ScanDefinition) Timeout() time.Duration { return 0 }

func classifyFileType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case imageExtensions[ext]:
		return "image"
	case videoExtensions[ext]:
		return "video"
	case rawExtensions[ext]:
		return "raw"
	default:
		return ""
	}
}

// extractEXIF is a best-effort metadata extraction hook. No EXIF parsing
// library appears anywhere in the example corpus this module was grounded
// on, so this falls back to the file's modification time as a capture-time
// heuristic rather than pulling in an ungrounded third-party dependency;
// camera make/model/GPS are left unset when no richer source is wired in.
func extractEXIF(path string) (capturedAt time.Time, cameraMake, cameraModel string, lat, lon *float64, ok bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, "", "", nil, nil, false
	}
	return info.ModTime(), "", "", nil, nil, true
}
