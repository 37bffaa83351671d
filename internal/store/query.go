package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tracefold/tracefold/internal/errors"
	"github.com/tracefold/tracefold/pkg/types"
)

// DefaultQueryLimit caps result sets when the caller does not set one.
const DefaultQueryLimit = 1000

// Filter describes a read-side event query. All supplied predicates are
// combined with AND semantics; the time range is half-open,
// start <= timestamp < end.
type Filter struct {
	// Start is the inclusive lower timestamp bound (nil = unbounded).
	Start *float64

	// End is the exclusive upper timestamp bound (nil = unbounded).
	End *float64

	// EventType filters on the event type when non-empty.
	EventType string

	// Source filters on the producer when non-empty.
	Source string

	// Limit truncates the result set; zero means DefaultQueryLimit.
	Limit int
}

// Select returns events matching the filter, ordered by timestamp
// ascending. Payloads are decompressed before being returned. A query that
// matches nothing returns an empty slice, not an error.
//
// Select runs on the read-only pool: it observes a consistent WAL snapshot
// and never blocks on, or is blocked by, an in-flight batch commit.
func (s *Store) Select(ctx context.Context, f Filter) ([]types.Event, error) {
	if f.Limit < 0 {
		return nil, errors.NewQueryError(errors.CodeBadFilter, fmt.Sprintf("negative limit %d", f.Limit))
	}
	limit := f.Limit
	if limit == 0 {
		limit = DefaultQueryLimit
	}

	query := `SELECT id, timestamp, event_type, action, source, payload, payload_codec, content_hash, processed
	          FROM events WHERE 1=1`
	var args []interface{}

	if f.Start != nil {
		query += " AND timestamp >= ?"
		args = append(args, *f.Start)
	}
	if f.End != nil {
		query += " AND timestamp < ?"
		args = append(args, *f.End)
	}
	if f.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, f.EventType)
	}
	if f.Source != "" {
		query += " AND source = ?"
		args = append(args, f.Source)
	}
	query += " ORDER BY timestamp ASC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query events: %w", err)
	}
	defer rows.Close()

	events := []types.Event{}
	for rows.Next() {
		var ev types.Event
		var codecTag int
		var processed int
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.EventType, &ev.Action, &ev.Source,
			&ev.Payload, &codecTag, &ev.ContentHash, &processed); err != nil {
			return nil, fmt.Errorf("store: failed to scan event: %w", err)
		}

		raw, err := s.codec.Decode(ev.Payload, types.PayloadEncoding(codecTag))
		if err != nil {
			return nil, fmt.Errorf("store: event %d payload: %w", ev.ID, err)
		}
		ev.Payload = raw
		ev.PayloadEncoding = types.EncodingRaw
		ev.Processed = processed != 0

		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating events: %w", err)
	}

	return events, nil
}

// GetEventByHash returns the stored event with the given content hash, or
// nil when absent. Used by tests and by collaborators verifying dedup.
func (s *Store) GetEventByHash(ctx context.Context, contentHash string) (*types.Event, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT id, timestamp, event_type, action, source, payload, payload_codec, content_hash, processed
		 FROM events WHERE content_hash = ?`, contentHash)

	var ev types.Event
	var codecTag, processed int
	err := row.Scan(&ev.ID, &ev.Timestamp, &ev.EventType, &ev.Action, &ev.Source,
		&ev.Payload, &codecTag, &ev.ContentHash, &processed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to scan event by hash: %w", err)
	}

	raw, err := s.codec.Decode(ev.Payload, types.PayloadEncoding(codecTag))
	if err != nil {
		return nil, fmt.Errorf("store: event %d payload: %w", ev.ID, err)
	}
	ev.Payload = raw
	ev.PayloadEncoding = types.EncodingRaw
	ev.Processed = processed != 0
	return &ev, nil
}

// PayloadEncodingOf returns the on-disk encoding tag for an event without
// decoding the payload. Used to verify the compression marker.
func (s *Store) PayloadEncodingOf(ctx context.Context, eventID int64) (types.PayloadEncoding, error) {
	var codecTag int
	err := s.readDB.QueryRowContext(ctx,
		"SELECT payload_codec FROM events WHERE id = ?", eventID).Scan(&codecTag)
	if err != nil {
		return 0, fmt.Errorf("store: failed to read payload codec: %w", err)
	}
	return types.PayloadEncoding(codecTag), nil
}
