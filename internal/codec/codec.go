// Package codec provides selective snappy compression for event payloads.
//
// Payloads are compressed only above a configurable size threshold, and only
// when compression actually shrinks the bytes. The chosen encoding is
// returned as an explicit tag that the store persists next to the payload,
// so Decode never has to guess.
package codec

import (
	"github.com/golang/snappy"

	"github.com/tracefold/tracefold/internal/errors"
	"github.com/tracefold/tracefold/pkg/types"
)

// DefaultThreshold is the payload size in bytes above which compression is
// attempted.
const DefaultThreshold = 1024

// Codec encodes and decodes event payloads.
type Codec struct {
	threshold int
}

// New creates a Codec with the given compression threshold. A negative
// threshold falls back to DefaultThreshold; zero compresses everything.
func New(threshold int) *Codec {
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	return &Codec{threshold: threshold}
}

// Threshold returns the configured compression threshold.
func (c *Codec) Threshold() int {
	return c.threshold
}

// Encode returns the bytes to store and their encoding tag. Payloads at or
// below the threshold are stored raw. A compressed form that is not smaller
// than the input falls back to raw — compression never loses an event.
func (c *Codec) Encode(raw []byte) ([]byte, types.PayloadEncoding) {
	if len(raw) <= c.threshold {
		return raw, types.EncodingRaw
	}
	compressed := snappy.Encode(nil, raw)
	if len(compressed) >= len(raw) {
		return raw, types.EncodingRaw
	}
	return compressed, types.EncodingSnappy
}

// Decode inverts Encode for the given encoding tag. Raw payloads are
// returned as-is; a snappy payload that fails to decompress indicates
// on-disk corruption.
func (c *Codec) Decode(data []byte, enc types.PayloadEncoding) ([]byte, error) {
	switch enc {
	case types.EncodingRaw:
		return data, nil
	case types.EncodingSnappy:
		raw, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, errors.NewStoreError(errors.CodePayloadCorrupt, "snappy decompress failed", err)
		}
		return raw, nil
	default:
		return nil, errors.NewStoreError(errors.CodePayloadCorrupt, "unknown payload encoding", nil)
	}
}
