package store

// schemaDDL creates the three tables the core owns: jobs, job_batches, and
// job_progress. No other table is mutated by the core itself (spec §6).
const schemaDDL = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	catalog_id    TEXT,
	type          TEXT NOT NULL,
	status        TEXT NOT NULL,
	parameters    JSONB,
	progress      JSONB,
	result        JSONB,
	error         TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_catalog_created ON jobs (catalog_id, created_at DESC);

CREATE TABLE IF NOT EXISTS job_batches (
	id               TEXT PRIMARY KEY,
	parent_job_id    TEXT NOT NULL REFERENCES jobs(id),
	catalog_id       TEXT,
	job_type         TEXT NOT NULL,
	batch_number     INTEGER NOT NULL,
	total_batches    INTEGER NOT NULL,
	status           TEXT NOT NULL,
	work_items       JSONB NOT NULL,
	items_count      INTEGER NOT NULL,
	worker_id        TEXT,
	processed_count  INTEGER NOT NULL DEFAULT 0,
	success_count    INTEGER NOT NULL DEFAULT 0,
	error_count      INTEGER NOT NULL DEFAULT 0,
	skipped_count    INTEGER NOT NULL DEFAULT 0,
	results          JSONB,
	error_message    TEXT,
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_batches_parent ON job_batches (parent_job_id);

CREATE TABLE IF NOT EXISTS job_progress (
	job_id      TEXT PRIMARY KEY,
	payload     JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
`
