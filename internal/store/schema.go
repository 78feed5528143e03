package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// VectorDimensions is the embedding width the vec_findings table is
// declared with.
const VectorDimensions = 768

const schemaVersion = 3

const ddl = `
CREATE TABLE IF NOT EXISTS findings (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    repo_state_hash   TEXT NOT NULL DEFAULT '',
    file_path         TEXT NOT NULL,
    pattern_type      TEXT NOT NULL,
    line_number       INTEGER NOT NULL,
    code_snippet      TEXT NOT NULL DEFAULT '',
    severity          TEXT NOT NULL,
    embedding         BLOB,
    file_hash         TEXT NOT NULL DEFAULT '',
    stale             INTEGER NOT NULL DEFAULT 0,
    detected_at       INTEGER NOT NULL,
    UNIQUE (file_path, pattern_type, line_number)
);

CREATE INDEX IF NOT EXISTS idx_findings_file ON findings(file_path);
CREATE INDEX IF NOT EXISTS idx_findings_type ON findings(pattern_type);
CREATE INDEX IF NOT EXISTS idx_findings_detected ON findings(detected_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS relations (
    source_id     INTEGER NOT NULL REFERENCES findings(id) ON DELETE CASCADE,
    target_id     INTEGER NOT NULL REFERENCES findings(id) ON DELETE CASCADE,
    relation_type TEXT NOT NULL,
    confidence    REAL NOT NULL DEFAULT 1.0,
    created_at    INTEGER NOT NULL,
    PRIMARY KEY (source_id, target_id, relation_type)
);

CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target_id);

CREATE TABLE IF NOT EXISTS file_snapshots (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    file_path      TEXT NOT NULL,
    file_hash      TEXT NOT NULL,
    total_patterns INTEGER NOT NULL DEFAULT 0,
    critical       INTEGER NOT NULL DEFAULT 0,
    high           INTEGER NOT NULL DEFAULT 0,
    medium         INTEGER NOT NULL DEFAULT 0,
    low            INTEGER NOT NULL DEFAULT 0,
    analyzed_at    INTEGER NOT NULL,
    UNIQUE (file_path, file_hash)
);

CREATE TABLE IF NOT EXISTS snapshot_findings (
    snapshot_id  INTEGER NOT NULL REFERENCES file_snapshots(id) ON DELETE CASCADE,
    pattern_type TEXT NOT NULL,
    line_number  INTEGER NOT NULL,
    severity     TEXT NOT NULL,
    finding_id   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_snapshot_findings ON snapshot_findings(snapshot_id);

CREATE TABLE IF NOT EXISTS analysis_runs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id          TEXT NOT NULL UNIQUE,
    repo_state_hash TEXT NOT NULL DEFAULT '',
    files           INTEGER NOT NULL DEFAULT 0,
    patterns        INTEGER NOT NULL DEFAULT 0,
    duration_ms     INTEGER NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS annotations (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    finding_id INTEGER,
    file_path  TEXT,
    tag        TEXT NOT NULL DEFAULT '',
    note       TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_annotations_finding ON annotations(finding_id);
CREATE INDEX IF NOT EXISTS idx_annotations_file ON annotations(file_path);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

var vecDDL = fmt.Sprintf(`
CREATE VIRTUAL TABLE IF NOT EXISTS vec_findings USING vec0(
    finding_id INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);
`, VectorDimensions)

// column is an additive migration: columns introduced after the first
// schema are added in place so older databases keep opening.
type column struct {
	table, name, def string
}

var migrations = []column{
	{"findings", "function_name", "TEXT NOT NULL DEFAULT ''"},
	{"findings", "generation", "INTEGER NOT NULL DEFAULT 1"},
	{"findings", "first_detected_at", "INTEGER NOT NULL DEFAULT 0"},
	{"file_snapshots", "last_analyzed_at", "INTEGER NOT NULL DEFAULT 0"},
}

func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	if _, err := db.ExecContext(ctx, vecDDL); err != nil {
		return fmt.Errorf("create vector table: %w", err)
	}

	for _, m := range migrations {
		ok, err := columnExists(ctx, db, m.table, m.name)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.name, m.def)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", m.table, m.name, err)
		}
	}
	if _, err := db.ExecContext(ctx,
		"UPDATE file_snapshots SET last_analyzed_at = analyzed_at WHERE last_analyzed_at = 0"); err != nil {
		return fmt.Errorf("backfill last_analyzed_at: %w", err)
	}

	_, err := db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES ('schema_version', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		strconv.Itoa(schemaVersion),
	)
	return err
}

func columnExists(ctx context.Context, db *sql.DB, table, name string) (bool, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notNull, pk int
		var colName, colType string
		var dflt any
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if colName == name {
			return true, nil
		}
	}
	return false, rows.Err()
}
