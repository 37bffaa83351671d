// Package store provides the embedded durable store for the Tracefold
// engine: a single SQLite file holding events, pattern annotations, and
// periodic stats snapshots.
package store

// CreateEventsTableSQL creates the core events table. The UNIQUE constraint
// on content_hash is the dedup backstop: a second insertion of the same
// logical event is absorbed inside the commit transaction, never an error.
const CreateEventsTableSQL = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp REAL NOT NULL,
    event_type TEXT NOT NULL,
    action TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    payload BLOB NOT NULL,
    payload_codec INTEGER NOT NULL DEFAULT 0,
    content_hash TEXT NOT NULL UNIQUE,
    processed INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
)`

// CreateAnnotationsTableSQL creates the pattern annotations table.
// Annotations reference events; they are cascade-deleted by the retention
// sweeper together with their parent event.
const CreateAnnotationsTableSQL = `
CREATE TABLE IF NOT EXISTS annotations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id INTEGER NOT NULL,
    pattern_type TEXT NOT NULL,
    confidence REAL NOT NULL,
    origin_label TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (event_id) REFERENCES events(id)
)`

// CreateStatsSnapshotsTableSQL creates the stats snapshots table. Rows are
// written only by the housekeeping task and are immutable once written.
const CreateStatsSnapshotsTableSQL = `
CREATE TABLE IF NOT EXISTS stats_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp REAL NOT NULL,
    total_events INTEGER NOT NULL,
    events_per_second REAL NOT NULL,
    storage_size_bytes INTEGER NOT NULL
)`

// CreateIndexesSQL creates the secondary indexes required by the read and
// retention paths. content_hash already carries an implicit unique index.
var CreateIndexesSQL = []string{
	// Range scans for the query interface and the retention sweeper.
	`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,

	// Categorical filtering.
	`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_events_source ON events(source)`,

	// Annotation lookups and cascade deletes.
	`CREATE INDEX IF NOT EXISTS idx_annotations_event ON annotations(event_id)`,

	// Latest-snapshot lookups.
	`CREATE INDEX IF NOT EXISTS idx_stats_timestamp ON stats_snapshots(timestamp)`,
}

// AllSchemaSQL returns all schema statements in creation order.
func AllSchemaSQL() []string {
	stmts := []string{
		CreateEventsTableSQL,
		CreateAnnotationsTableSQL,
		CreateStatsSnapshotsTableSQL,
	}
	return append(stmts, CreateIndexesSQL...)
}
