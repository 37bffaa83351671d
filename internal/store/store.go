package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tracefold/tracefold/internal/codec"
	"github.com/tracefold/tracefold/internal/errors"
	"github.com/tracefold/tracefold/pkg/types"
)

// Store is the SQLite-backed durable store. The write path is owned by a
// single connection (the batch writer and the retention sweeper serialize
// their transactions on writeMu); readers use an independent read-only pool
// that sees WAL snapshots and never waits on the writer.
type Store struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	codec  *codec.Codec

	writeMu sync.Mutex

	insertEventStmt *sql.Stmt
}

// Open opens (or creates) the store at dbPath. WAL journal mode gives
// crash-consistent commits: a transaction not confirmed before a crash is
// discarded entirely when the file is next opened.
func Open(dbPath string, payloadCodec *codec.Codec) (*Store, error) {
	// Write connection: single writer, WAL mode, incremental auto-vacuum so
	// the retention sweeper can reclaim space without a full VACUUM.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=on&_auto_vacuum=incremental")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:     db,
		dbPath: dbPath,
		codec:  payloadCodec,
	}

	// Initialize schema on the write connection; this also forces the
	// connection open so a read-only pool can attach below.
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to initialize schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	insertStmt, err := db.Prepare(`
		INSERT INTO events (timestamp, event_type, action, source, payload, payload_codec, content_hash, processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(content_hash) DO NOTHING`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("store: failed to prepare insert statement: %w", err)
	}
	s.insertEventStmt = insertStmt

	return s, nil
}

// initSchema creates all required tables and indexes.
func (s *Store) initSchema() error {
	for _, stmt := range AllSchemaSQL() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Path returns the store file path.
func (s *Store) Path() string {
	return s.dbPath
}

// CommitBatch commits a batch of events in a single atomic transaction.
// Deduplication happens inside the transaction: an event whose content_hash
// is already stored is absorbed as a no-op, leaving the existing row's id
// and timestamp untouched. On success, store-assigned ids are written back
// into the inserted events. Either every non-duplicate event in the batch
// becomes visible or none do.
func (s *Store) CommitBatch(ctx context.Context, events []types.Event) (inserted, duplicates int, err error) {
	if len(events) == 0 {
		return 0, 0, errors.NewValidationError(errors.CodeEmptyBatch, "empty batch")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, errors.NewStoreError(errors.CodeWriteFailed, "failed to begin batch transaction", err)
	}
	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, s.insertEventStmt)
	now := time.Now().Unix()

	for i := range events {
		ev := &events[i]
		res, err := stmt.ExecContext(ctx,
			ev.Timestamp, ev.EventType, ev.Action, ev.Source,
			ev.Payload, int(ev.PayloadEncoding), ev.ContentHash, now,
		)
		if err != nil {
			return 0, 0, errors.NewStoreError(errors.CodeWriteFailed, "failed to insert event", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return 0, 0, errors.NewStoreError(errors.CodeWriteFailed, "failed to read rows affected", err)
		}
		if affected == 0 {
			duplicates++
			continue
		}
		inserted++
		if id, err := res.LastInsertId(); err == nil {
			ev.ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, errors.NewStoreError(errors.CodeWriteFailed, "failed to commit batch", err)
	}

	return inserted, duplicates, nil
}

// MarkProcessed flags the given events as analyzed by a downstream consumer.
// Unknown ids are ignored.
func (s *Store) MarkProcessed(ctx context.Context, eventIDs []int64) error {
	if len(eventIDs) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStoreError(errors.CodeWriteFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "UPDATE events SET processed = 1 WHERE id = ?")
	if err != nil {
		return errors.NewStoreError(errors.CodeWriteFailed, "failed to prepare update", err)
	}
	defer stmt.Close()

	for _, id := range eventIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return errors.NewStoreError(errors.CodeWriteFailed, "failed to mark event processed", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStoreError(errors.CodeWriteFailed, "failed to commit processed flags", err)
	}
	return nil
}

// InsertAnnotation stores a pattern annotation referencing an existing
// event and returns its id.
func (s *Store) InsertAnnotation(ctx context.Context, a types.PatternAnnotation) (int64, error) {
	if a.Confidence < 0.0 || a.Confidence > 1.0 {
		return 0, errors.NewValidationError(errors.CodeInvalidEvent,
			fmt.Sprintf("confidence %v outside [0.0, 1.0]", a.Confidence))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO annotations (event_id, pattern_type, confidence, origin_label, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		a.EventID, a.PatternType, a.Confidence, a.OriginLabel, time.Now().Unix(),
	)
	if err != nil {
		return 0, errors.NewStoreError(errors.CodeWriteFailed, "failed to insert annotation", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.NewStoreError(errors.CodeWriteFailed, "failed to read annotation id", err)
	}
	return id, nil
}

// AnnotationsForEvent returns all annotations referencing the given event,
// oldest first.
func (s *Store) AnnotationsForEvent(ctx context.Context, eventID int64) ([]types.PatternAnnotation, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, event_id, pattern_type, confidence, origin_label
		 FROM annotations WHERE event_id = ? ORDER BY id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query annotations: %w", err)
	}
	defer rows.Close()

	annotations := []types.PatternAnnotation{}
	for rows.Next() {
		var a types.PatternAnnotation
		if err := rows.Scan(&a.ID, &a.EventID, &a.PatternType, &a.Confidence, &a.OriginLabel); err != nil {
			return nil, fmt.Errorf("store: failed to scan annotation: %w", err)
		}
		annotations = append(annotations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating annotations: %w", err)
	}
	return annotations, nil
}

// InsertStatsSnapshot appends a stats snapshot row.
func (s *Store) InsertStatsSnapshot(ctx context.Context, snap types.StatsSnapshot) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stats_snapshots (timestamp, total_events, events_per_second, storage_size_bytes)
		 VALUES (?, ?, ?, ?)`,
		snap.Timestamp, snap.TotalEvents, snap.EventsPerSecond, snap.StorageSizeBytes,
	)
	if err != nil {
		return errors.NewStoreError(errors.CodeWriteFailed, "failed to insert stats snapshot", err)
	}
	return nil
}

// LatestStatsSnapshot returns the most recent snapshot, or nil when the
// housekeeping task has not written one yet.
func (s *Store) LatestStatsSnapshot(ctx context.Context) (*types.StatsSnapshot, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT id, timestamp, total_events, events_per_second, storage_size_bytes
		 FROM stats_snapshots ORDER BY timestamp DESC, id DESC LIMIT 1`)

	var snap types.StatsSnapshot
	err := row.Scan(&snap.ID, &snap.Timestamp, &snap.TotalEvents, &snap.EventsPerSecond, &snap.StorageSizeBytes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to scan stats snapshot: %w", err)
	}
	return &snap, nil
}

// TotalEvents returns the number of stored events.
func (s *Store) TotalEvents(ctx context.Context) (int64, error) {
	var count int64
	if err := s.readDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0, fmt.Errorf("store: failed to count events: %w", err)
	}
	return count, nil
}

// StorageSizeBytes returns the current size of the store file as reported
// by SQLite's page accounting. Runs on the read pool so stats never queue
// behind an in-flight batch commit or sweep chunk.
func (s *Store) StorageSizeBytes(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.readDB.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("store: failed to read page_count: %w", err)
	}
	if err := s.readDB.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("store: failed to read page_size: %w", err)
	}
	return pageCount * pageSize, nil
}

// Close closes both connection pools.
func (s *Store) Close() error {
	if s.insertEventStmt != nil {
		s.insertEventStmt.Close()
	}
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil {
			s.db.Close()
			return err
		}
	}
	return s.db.Close()
}
