package store

import "database/sql"

// Schema is the complete discovery schema.
const Schema = `
-- Validated storefronts. identity_url is the sole "already known" key.
CREATE TABLE IF NOT EXISTS stores (
    id                        TEXT PRIMARY KEY,
    identity_url              TEXT NOT NULL UNIQUE,
    display_name              TEXT NOT NULL DEFAULT '',
    country                   TEXT NOT NULL DEFAULT '',
    theme                     TEXT NOT NULL DEFAULT '',
    business_model            TEXT NOT NULL DEFAULT 'unclassified',
    business_model_confidence REAL NOT NULL DEFAULT 0,
    tags                      TEXT NOT NULL DEFAULT '[]',
    product_count             INTEGER NOT NULL DEFAULT 0,
    is_active                 INTEGER NOT NULL DEFAULT 1,
    source_name               TEXT NOT NULL DEFAULT '',
    first_seen_at             INTEGER NOT NULL,
    last_validated_at         INTEGER NOT NULL,
    retry_count               INTEGER NOT NULL DEFAULT 0,
    next_retry_at             INTEGER,
    tags_locked               INTEGER NOT NULL DEFAULT 0,
    reclassify_count          INTEGER NOT NULL DEFAULT 0,
    revisions                 INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_stores_retry ON stores(next_retry_at) WHERE next_retry_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_stores_validated ON stores(last_validated_at);

-- Run history: one row per discovery cycle.
CREATE TABLE IF NOT EXISTS runs (
    id               TEXT PRIMARY KEY,
    cadence          TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'running',
    started_at       INTEGER NOT NULL,
    finished_at      INTEGER,
    total_candidates INTEGER NOT NULL DEFAULT 0,
    total_new        INTEGER NOT NULL DEFAULT 0,
    total_refreshed  INTEGER NOT NULL DEFAULT 0,
    total_rejected   INTEGER NOT NULL DEFAULT 0,
    total_deferred   INTEGER NOT NULL DEFAULT 0,
    total_errors     INTEGER NOT NULL DEFAULT 0,
    per_source_json  TEXT NOT NULL DEFAULT '{}',
    per_stage_json   TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

-- Durable rejection log for operator inspection.
CREATE TABLE IF NOT EXISTS rejections (
    id           TEXT PRIMARY KEY,
    run_id       TEXT NOT NULL,
    identity_url TEXT NOT NULL,
    source_name  TEXT NOT NULL DEFAULT '',
    stage        TEXT NOT NULL,
    reason       TEXT NOT NULL DEFAULT '',
    rejected_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rejections_run ON rejections(run_id);
CREATE INDEX IF NOT EXISTS idx_rejections_time ON rejections(rejected_at DESC);

-- Per-adapter cursor and backoff bookkeeping, persisted across runs.
CREATE TABLE IF NOT EXISTS adapter_state (
    source_name   TEXT PRIMARY KEY,
    cursor        TEXT NOT NULL DEFAULT '',
    window_start  INTEGER NOT NULL DEFAULT 0,
    request_count INTEGER NOT NULL DEFAULT 0,
    backoff_until INTEGER NOT NULL DEFAULT 0,
    backoff_ms    INTEGER NOT NULL DEFAULT 0,
    updated_at    INTEGER NOT NULL
);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
