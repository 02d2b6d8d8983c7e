// Package catalog's store.go implements the Postgres-backed read/write
// surface the built-in job definitions use, following the same
// database/sql + lib/pq idiom as internal/jobs/store/postgres.go.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/ternarybob/arbor"

	"github.com/irjudson/lumina/internal/common"
)

// Store is the persistence boundary the built-in job definitions use to
// read and write catalog domain tables.
type Store interface {
	SourceDirs(ctx context.Context, catalogID string) ([]string, error)
	UpsertScannedImage(ctx context.Context, img Image) (*Image, error)

	ImagesMissingHash(ctx context.Context, catalogID string) ([]Image, error)
	SaveHashes(ctx context.Context, imageID, dhash, ahash, whash string) error
	ImagesWithHashes(ctx context.Context, catalogID string) ([]Image, error)
	SaveDuplicateGroups(ctx context.Context, groups []DuplicateGroup) error

	ImagesWithCaptureTime(ctx context.Context, catalogID string) ([]Image, error)
	SaveBursts(ctx context.Context, bursts []Burst) error

	ImagesForTagging(ctx context.Context, catalogID string, untaggedOnly bool) ([]Image, error)
	SaveTags(ctx context.Context, imageID string, tags []ImageTag) error

	ScanTotals(ctx context.Context, catalogID string) (totalImages, totalVideos int, totalSizeBytes int64, err error)

	Close() error
}

// PostgresStore is the Postgres-backed Store implementation.
type PostgresStore struct {
	db     *sql.DB
	logger arbor.ILogger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore opens a connection pool against the same Postgres
// configuration the Job Store uses and applies the catalog schema.
func NewPostgresStore(ctx context.Context, cfg common.PostgresConfig, logger arbor.ILogger) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// NewPostgresStoreFromDB wraps an already-open connection pool, so the
// catalog store can share the Job Store's pool instead of opening a second
// one against the same database.
func NewPostgresStoreFromDB(db *sql.DB, logger arbor.ILogger) (*PostgresStore, error) {
	return &PostgresStore{db: db, logger: logger}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// SourceDirs returns the configured media source directories for a catalog.
func (s *PostgresStore) SourceDirs(ctx context.Context, catalogID string) ([]string, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT source_dirs FROM catalogs WHERE id = $1`, catalogID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("catalog %q not found", catalogID)
	}
	if err != nil {
		return nil, fmt.Errorf("query source dirs: %w", err)
	}

	var dirs []string
	if err := json.Unmarshal(raw, &dirs); err != nil {
		return nil, fmt.Errorf("decode source dirs: %w", err)
	}
	return dirs, nil
}

// UpsertScannedImage inserts or updates an image row keyed by
// (catalog_id, path), as produced by the scan job's per-item process step.
func (s *PostgresStore) UpsertScannedImage(ctx context.Context, img Image) (*Image, error) {
	if img.ID == "" {
		img.ID = common.NewJobID()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO images (id, catalog_id, path, checksum, size_bytes, file_type, captured_at, camera_make, camera_model, gps_latitude, gps_longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (catalog_id, path) DO UPDATE SET
			checksum = EXCLUDED.checksum,
			size_bytes = EXCLUDED.size_bytes,
			file_type = EXCLUDED.file_type,
			captured_at = EXCLUDED.captured_at,
			camera_make = EXCLUDED.camera_make,
			camera_model = EXCLUDED.camera_model,
			gps_latitude = EXCLUDED.gps_latitude,
			gps_longitude = EXCLUDED.gps_longitude
	`, img.ID, img.CatalogID, img.Path, nullableString(img.Checksum), img.SizeBytes, img.FileType,
		img.CapturedAt, nullableString(img.CameraMake), nullableString(img.CameraModel), img.GPSLatitude, img.GPSLongitude)
	if err != nil {
		return nil, fmt.Errorf("upsert image: %w", err)
	}
	return &img, nil
}

// ImagesMissingHash returns images in a catalog with no perceptual hash yet
// computed, for the detect_duplicates job's discover step.
func (s *PostgresStore) ImagesMissingHash(ctx context.Context, catalogID string) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, catalog_id, path FROM images WHERE catalog_id = $1 AND dhash IS NULL
	`, catalogID)
	if err != nil {
		return nil, fmt.Errorf("query images missing hash: %w", err)
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ID, &img.CatalogID, &img.Path); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// SaveHashes writes the computed dHash/aHash/wHash for one image.
func (s *PostgresStore) SaveHashes(ctx context.Context, imageID, dhash, ahash, whash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE images SET dhash = $1, ahash = $2, whash = $3 WHERE id = $4
	`, dhash, ahash, whash, imageID)
	if err != nil {
		return fmt.Errorf("save hashes: %w", err)
	}
	return nil
}

// ImagesWithHashes returns every image in a catalog that has a perceptual
// hash, for the detect_duplicates job's finalize step.
func (s *PostgresStore) ImagesWithHashes(ctx context.Context, catalogID string) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, catalog_id, checksum, dhash, ahash, whash, size_bytes, quality_score
		FROM images WHERE catalog_id = $1 AND dhash IS NOT NULL
	`, catalogID)
	if err != nil {
		return nil, fmt.Errorf("query images with hashes: %w", err)
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		var checksum, dhash, ahash, whash sql.NullString
		if err := rows.Scan(&img.ID, &img.CatalogID, &checksum, &dhash, &ahash, &whash, &img.SizeBytes, &img.QualityScore); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		img.Checksum, img.DHash, img.AHash, img.WHash = checksum.String, dhash.String, ahash.String, whash.String
		images = append(images, img)
	}
	return images, rows.Err()
}

// SaveDuplicateGroups inserts the groups the detect_duplicates job's
// finalize step computed. Groups already stored for the catalog are left in
// place.
func (s *PostgresStore) SaveDuplicateGroups(ctx context.Context, groups []DuplicateGroup) error {
	if len(groups) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, g := range groups {
		if g.ID == "" {
			g.ID = common.NewJobID()
		}
		idsJSON, err := json.Marshal(g.ImageIDs)
		if err != nil {
			return fmt.Errorf("marshal image ids: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO duplicate_groups (id, catalog_id, kind, image_ids, confidence, primary_image_id)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, g.ID, g.CatalogID, string(g.Kind), idsJSON, g.Confidence, nullableString(g.PrimaryImageID))
		if err != nil {
			return fmt.Errorf("insert duplicate group: %w", err)
		}
	}
	return tx.Commit()
}

// ImagesWithCaptureTime returns every image in a catalog with a reliable
// capture timestamp, for the detect_bursts job's discover step.
func (s *PostgresStore) ImagesWithCaptureTime(ctx context.Context, catalogID string) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, catalog_id, camera_make, captured_at, quality_score
		FROM images WHERE catalog_id = $1 AND captured_at IS NOT NULL
	`, catalogID)
	if err != nil {
		return nil, fmt.Errorf("query images with capture time: %w", err)
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		var captured sql.NullTime
		if err := rows.Scan(&img.ID, &img.CatalogID, &img.CameraMake, &captured, &img.QualityScore); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		if captured.Valid {
			t := captured.Time
			img.CapturedAt = &t
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// SaveBursts persists the bursts the detect_bursts job detected, and stamps
// each member image's burst_id/burst_seq.
func (s *PostgresStore) SaveBursts(ctx context.Context, bursts []Burst) error {
	if len(bursts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, b := range bursts {
		if b.ID == "" {
			b.ID = common.NewJobID()
		}
		idsJSON, err := json.Marshal(b.ImageIDs)
		if err != nil {
			return fmt.Errorf("marshal image ids: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bursts (id, catalog_id, image_ids, start_time, end_time, duration_seconds, camera)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, b.ID, b.CatalogID, idsJSON, b.StartTime, b.EndTime, b.DurationSeconds, nullableString(b.Camera))
		if err != nil {
			return fmt.Errorf("insert burst: %w", err)
		}

		for seq, imageID := range b.ImageIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE images SET burst_id = $1, burst_seq = $2 WHERE id = $3`, b.ID, seq, imageID); err != nil {
				return fmt.Errorf("stamp burst member: %w", err)
			}
		}
	}
	return tx.Commit()
}

// ImagesForTagging returns candidate images for the auto_tag job's discover
// step: every image when untaggedOnly is false, or only images with no
// image_tags rows when true.
func (s *PostgresStore) ImagesForTagging(ctx context.Context, catalogID string, untaggedOnly bool) ([]Image, error) {
	query := `SELECT id, catalog_id, path FROM images WHERE catalog_id = $1`
	if untaggedOnly {
		query += ` AND id NOT IN (SELECT image_id FROM image_tags)`
	}

	rows, err := s.db.QueryContext(ctx, query, catalogID)
	if err != nil {
		return nil, fmt.Errorf("query images for tagging: %w", err)
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ID, &img.CatalogID, &img.Path); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// SaveTags upserts tag assignments for one image, one row per (image, tag
// name); existing assignments whose tag is not in tags are left in place.
func (s *PostgresStore) SaveTags(ctx context.Context, imageID string, tags []ImageTag) error {
	if len(tags) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tags (id, name) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`, common.NewJobID(), tag.TagName); err != nil {
			return fmt.Errorf("upsert tag: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO image_tags (image_id, tag_name, confidence, source)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (image_id, tag_name) DO UPDATE SET confidence = EXCLUDED.confidence, source = EXCLUDED.source
		`, imageID, tag.TagName, tag.Confidence, string(tag.Source))
		if err != nil {
			return fmt.Errorf("insert image tag: %w", err)
		}
	}
	return tx.Commit()
}

// ScanTotals reports aggregate counters over every image the scan job has
// written for a catalog, for the scan job's finalize step.
func (s *PostgresStore) ScanTotals(ctx context.Context, catalogID string) (totalImages, totalVideos int, totalSizeBytes int64, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_type, COUNT(*), COALESCE(SUM(size_bytes), 0) FROM images
		WHERE catalog_id = $1 GROUP BY file_type
	`, catalogID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("query scan totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fileType string
		var count int
		var size int64
		if err := rows.Scan(&fileType, &count, &size); err != nil {
			return 0, 0, 0, fmt.Errorf("scan totals row: %w", err)
		}
		totalSizeBytes += size
		switch fileType {
		case "image", "raw":
			totalImages += count
		case "video":
			totalVideos += count
		}
	}
	return totalImages, totalVideos, totalSizeBytes, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
