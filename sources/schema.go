package sources

import "database/sql"

// Schema is the registry schema: sources, their weight records, the rolling
// performance history, and the adjustment log.
const Schema = `
-- Monitored feed sources
CREATE TABLE IF NOT EXISTS sources (
    id           TEXT PRIMARY KEY,
    url          TEXT NOT NULL,
    name         TEXT NOT NULL DEFAULT '',
    category     TEXT NOT NULL DEFAULT 'other',
    priority     INTEGER NOT NULL DEFAULT 5,
    success_rate REAL NOT NULL DEFAULT 1.0,
    error_count  INTEGER NOT NULL DEFAULT 0,
    refresh_rate INTEGER NOT NULL DEFAULT 30,
    active       INTEGER NOT NULL DEFAULT 1,
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sources_url_unique ON sources(url);
CREATE INDEX IF NOT EXISTS idx_sources_active ON sources(active, priority DESC);

-- Per-source priority weight record (one row per source)
CREATE TABLE IF NOT EXISTS priority_weights (
    source_id          TEXT PRIMARY KEY REFERENCES sources(id) ON DELETE CASCADE,
    relevance_score    REAL NOT NULL DEFAULT 0.5,
    timeliness         REAL NOT NULL DEFAULT 0.5,
    source_reliability REAL NOT NULL DEFAULT 0.7,
    content_quality    REAL NOT NULL DEFAULT 0.5,
    market_impact      REAL NOT NULL DEFAULT 0.5,
    updated_at         INTEGER NOT NULL
);

-- Rolling performance history (capped at 50 rows per source)
CREATE TABLE IF NOT EXISTS performance_history (
    id               TEXT PRIMARY KEY,
    source_id        TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
    success          INTEGER NOT NULL,
    response_time_ms INTEGER NOT NULL DEFAULT 0,
    quality_score    REAL NOT NULL DEFAULT 0,
    error_message    TEXT NOT NULL DEFAULT '',
    recorded_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_perf_source_time ON performance_history(source_id, recorded_at DESC);

-- Priority adjustment log
CREATE TABLE IF NOT EXISTS priority_adjustments (
    id                TEXT PRIMARY KEY,
    source_id         TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
    old_priority      INTEGER NOT NULL,
    new_priority      INTEGER NOT NULL,
    reason            TEXT NOT NULL DEFAULT '',
    adjustment_factor REAL NOT NULL DEFAULT 1.0,
    created_at        INTEGER NOT NULL,
    valid_until       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_adjustments_source ON priority_adjustments(source_id, created_at DESC);
`

// ApplySchema creates all registry tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
