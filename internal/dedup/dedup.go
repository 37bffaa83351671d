// Package dedup derives stable content fingerprints for events.
//
// Two events with identical (event_type, action, source, payload) whose
// timestamps fall in the same coarse time bucket produce the same
// fingerprint; events differing in any field do not. The fingerprint is
// computed before an event enters the ingestion queue, so it must stay in
// the microsecond range: a single murmur3 128-bit pass over a
// length-prefixed framing of the fields.
package dedup

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"github.com/spaolacci/murmur3"
)

// DefaultBucket is the dedup time-bucket granularity used when none is
// configured. The bucket width is deliberately a runtime parameter: same
// second versus same millisecond is a policy choice, not a constant.
const DefaultBucket = time.Second

// Builder computes dedup fingerprints with a fixed bucket granularity.
type Builder struct {
	bucket time.Duration
}

// NewBuilder creates a Builder. A non-positive bucket falls back to
// DefaultBucket.
func NewBuilder(bucket time.Duration) *Builder {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	return &Builder{bucket: bucket}
}

// Bucket returns the configured bucket granularity.
func (b *Builder) Bucket() time.Duration {
	return b.bucket
}

// Key returns the 32-character hex fingerprint over the event's semantic
// fields and truncated timestamp bucket. It has no side effects.
func (b *Builder) Key(eventType, action, source string, payload []byte, ts float64) string {
	h := murmur3.New128()

	writeField(h, []byte(eventType))
	writeField(h, []byte(action))
	writeField(h, []byte(source))
	writeField(h, payload)

	var bucketBuf [8]byte
	binary.BigEndian.PutUint64(bucketBuf[:], uint64(b.bucketOf(ts)))
	h.Write(bucketBuf[:])

	h1, h2 := h.Sum128()
	var out [16]byte
	binary.BigEndian.PutUint64(out[0:8], h1)
	binary.BigEndian.PutUint64(out[8:16], h2)
	return hex.EncodeToString(out[:])
}

// bucketOf truncates a floating-point epoch timestamp to its bucket index.
func (b *Builder) bucketOf(ts float64) int64 {
	ns := int64(math.Floor(ts * float64(time.Second)))
	return ns / int64(b.bucket)
}

// writeField writes a length-prefixed field so that adjacent fields cannot
// alias each other (e.g. "ab"+"c" vs "a"+"bc").
func writeField(h interface{ Write([]byte) (int, error) }, field []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(field)))
	h.Write(lenBuf[:])
	h.Write(field)
}
