package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/tracefold/tracefold/internal/errors"
)

// SweepResult reports what a DeleteBefore pass removed.
type SweepResult struct {
	EventsDeleted      int64
	AnnotationsDeleted int64
	Chunks             int
}

// DeleteBefore removes all events with timestamp < cutoff, and their
// annotations, in chunks of at most chunkSize rows. Each chunk is its own
// short write transaction so the write lock is never held for longer than
// one chunk — ingestion proceeds between chunks.
func (s *Store) DeleteBefore(ctx context.Context, cutoff float64, chunkSize int) (SweepResult, error) {
	if chunkSize <= 0 {
		chunkSize = 500
	}

	var result SweepResult
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		n, na, err := s.deleteChunk(ctx, cutoff, chunkSize)
		if err != nil {
			return result, err
		}
		if n == 0 {
			return result, nil
		}
		result.EventsDeleted += n
		result.AnnotationsDeleted += na
		result.Chunks++
	}
}

// deleteChunk deletes one chunk of expired events and their annotations in
// a single transaction. Returns the number of events and annotations
// removed.
func (s *Store) deleteChunk(ctx context.Context, cutoff float64, chunkSize int) (int64, int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, errors.NewStoreError(errors.CodeWriteFailed, "failed to begin sweep transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT id FROM events WHERE timestamp < ? ORDER BY timestamp ASC LIMIT ?",
		cutoff, chunkSize)
	if err != nil {
		return 0, 0, errors.NewStoreError(errors.CodeWriteFailed, "failed to select expired events", err)
	}

	var ids []interface{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, 0, errors.NewStoreError(errors.CodeWriteFailed, "failed to scan expired event id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, 0, errors.NewStoreError(errors.CodeWriteFailed, "error iterating expired events", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return 0, 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	// Annotations cascade with their parent events.
	annRes, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM annotations WHERE event_id IN (%s)", placeholders), ids...)
	if err != nil {
		return 0, 0, errors.NewStoreError(errors.CodeWriteFailed, "failed to delete expired annotations", err)
	}
	annotationsDeleted, _ := annRes.RowsAffected()

	evRes, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM events WHERE id IN (%s)", placeholders), ids...)
	if err != nil {
		return 0, 0, errors.NewStoreError(errors.CodeWriteFailed, "failed to delete expired events", err)
	}
	eventsDeleted, _ := evRes.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, errors.NewStoreError(errors.CodeWriteFailed, "failed to commit sweep chunk", err)
	}

	return eventsDeleted, annotationsDeleted, nil
}

// ReclaimSpace returns freed pages to the filesystem via incremental vacuum
// and truncates the WAL. Called by the sweeper after a deletion pass.
func (s *Store) ReclaimSpace(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, "PRAGMA incremental_vacuum"); err != nil {
		return errors.NewStoreError(errors.CodeWriteFailed, "incremental vacuum failed", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.NewStoreError(errors.CodeWriteFailed, "wal checkpoint failed", err)
	}
	return nil
}

// CheckConsistency verifies store integrity via SQLite's quick_check.
// Opening the database has already discarded any transaction that was not
// confirmed before the last shutdown; this verifies what remains is sound.
func (s *Store) CheckConsistency(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "PRAGMA quick_check")
	if err != nil {
		return errors.NewRecoveryError(errors.CodeCorruptStore, "quick_check failed to run", err)
	}
	defer rows.Close()

	var findings []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return errors.NewRecoveryError(errors.CodeCorruptStore, "quick_check scan failed", err)
		}
		if line != "ok" {
			findings = append(findings, line)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.NewRecoveryError(errors.CodeCorruptStore, "quick_check iteration failed", err)
	}

	if len(findings) > 0 {
		return errors.NewRecoveryError(errors.CodeCorruptStore,
			fmt.Sprintf("store failed integrity check: %s", strings.Join(findings, "; ")), nil)
	}
	return nil
}
