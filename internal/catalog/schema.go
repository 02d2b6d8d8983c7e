package catalog

// schemaDDL creates the catalog domain tables the built-in job definitions
// write through to. These are not owned by the job execution core; they
// exist here only because scan, detect_duplicates, detect_bursts, and
// auto_tag need somewhere concrete to read and write.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS catalogs (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	source_dirs  JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS images (
	id             TEXT PRIMARY KEY,
	catalog_id     TEXT NOT NULL REFERENCES catalogs(id),
	path           TEXT NOT NULL,
	checksum       TEXT,
	size_bytes     BIGINT NOT NULL DEFAULT 0,
	file_type      TEXT NOT NULL DEFAULT '',
	captured_at    TIMESTAMPTZ,
	camera_make    TEXT,
	camera_model   TEXT,
	gps_latitude   DOUBLE PRECISION,
	gps_longitude  DOUBLE PRECISION,
	dhash          TEXT,
	ahash          TEXT,
	whash          TEXT,
	burst_id       TEXT,
	burst_seq      INTEGER,
	quality_score  INTEGER NOT NULL DEFAULT 0,
	confidence     INTEGER NOT NULL DEFAULT 0,
	UNIQUE (catalog_id, path)
);

CREATE INDEX IF NOT EXISTS idx_images_catalog ON images (catalog_id);
CREATE INDEX IF NOT EXISTS idx_images_missing_hash ON images (catalog_id) WHERE dhash IS NULL;

CREATE TABLE IF NOT EXISTS duplicate_groups (
	id                TEXT PRIMARY KEY,
	catalog_id        TEXT NOT NULL REFERENCES catalogs(id),
	kind              TEXT NOT NULL,
	image_ids         JSONB NOT NULL,
	confidence        INTEGER NOT NULL,
	primary_image_id  TEXT
);

CREATE TABLE IF NOT EXISTS bursts (
	id                TEXT PRIMARY KEY,
	catalog_id        TEXT NOT NULL REFERENCES catalogs(id),
	image_ids         JSONB NOT NULL,
	start_time        TIMESTAMPTZ NOT NULL,
	end_time          TIMESTAMPTZ NOT NULL,
	duration_seconds  DOUBLE PRECISION NOT NULL,
	camera            TEXT
);

CREATE TABLE IF NOT EXISTS tags (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS image_tags (
	image_id    TEXT NOT NULL REFERENCES images(id),
	tag_name    TEXT NOT NULL,
	confidence  INTEGER NOT NULL DEFAULT 0,
	source      TEXT NOT NULL,
	PRIMARY KEY (image_id, tag_name)
);
`
