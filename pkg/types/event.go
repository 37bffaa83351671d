// Package types provides core data types for the Tracefold event persistence engine.
package types

import "encoding/json"

// PayloadEncoding tags how an event payload is stored on disk.
// The tag is persisted next to the bytes so readers never have to
// guess from content.
type PayloadEncoding int

const (
	// EncodingRaw means the payload bytes are stored as-is.
	EncodingRaw PayloadEncoding = 0

	// EncodingSnappy means the payload bytes are snappy-compressed.
	EncodingSnappy PayloadEncoding = 1
)

// String returns the encoding name for logs and dumps.
func (e PayloadEncoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingSnappy:
		return "snappy"
	default:
		return "unknown"
	}
}

// Valid reports whether the encoding is one of the defined tags.
func (e PayloadEncoding) Valid() bool {
	return e == EncodingRaw || e == EncodingSnappy
}

// Event is the atomic unit of observation.
//
// ID is assigned by the durable store at commit time and is zero until then.
// ContentHash is derived from the semantic fields by the dedup key builder
// before the event enters the ingestion queue.
type Event struct {
	// ID is the store-assigned monotonically increasing identifier.
	ID int64 `json:"id,omitempty"`

	// Timestamp is producer-assigned, in floating-point seconds since epoch.
	Timestamp float64 `json:"timestamp"`

	// EventType categorizes the event (e.g., "file_op", "app_switch").
	EventType string `json:"event_type"`

	// Action is the specific operation within the type (e.g., "created", "moved").
	Action string `json:"action"`

	// Source identifies the producer that observed the event.
	Source string `json:"source"`

	// Payload holds the serialized structured data of the event.
	Payload []byte `json:"payload"`

	// PayloadEncoding records whether Payload is raw or compressed.
	PayloadEncoding PayloadEncoding `json:"payload_encoding"`

	// ContentHash is the dedup fingerprint over the semantic fields.
	ContentHash string `json:"content_hash"`

	// Processed is set by downstream consumers once the event has been analyzed.
	Processed bool `json:"processed"`
}

// PatternAnnotation is an enrichment created by an analysis consumer,
// linked to a stored event by ID.
type PatternAnnotation struct {
	// ID is the store-assigned annotation identifier.
	ID int64 `json:"id,omitempty"`

	// EventID references the annotated event.
	EventID int64 `json:"event_id"`

	// PatternType names the detected pattern.
	PatternType string `json:"pattern_type"`

	// Confidence is the producer's confidence in [0.0, 1.0].
	Confidence float64 `json:"confidence"`

	// OriginLabel identifies which consumer created the annotation.
	OriginLabel string `json:"origin_label"`
}

// StatsSnapshot is a periodic aggregate row written by the housekeeping
// task. Snapshots are immutable once written.
type StatsSnapshot struct {
	ID               int64   `json:"id,omitempty"`
	Timestamp        float64 `json:"timestamp"`
	TotalEvents      int64   `json:"total_events"`
	EventsPerSecond  float64 `json:"events_per_second"`
	StorageSizeBytes int64   `json:"storage_size_bytes"`
}

// MarshalPayload serializes an arbitrary value into payload bytes.
// Producers that already hold serialized bytes can set Payload directly.
func MarshalPayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
