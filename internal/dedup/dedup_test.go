package dedup

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBuilder_Deterministic(t *testing.T) {
	b := NewBuilder(time.Second)

	k1 := b.Key("file_op", "created", "fs_watcher", []byte(`{"path":"/tmp/a"}`), 1700000000.25)
	k2 := b.Key("file_op", "created", "fs_watcher", []byte(`{"path":"/tmp/a"}`), 1700000000.25)

	if k1 != k2 {
		t.Errorf("identical inputs produced different keys: %s vs %s", k1, k2)
	}
	if len(k1) != 32 {
		t.Errorf("key length mismatch: got %d, want 32", len(k1))
	}
}

func TestBuilder_FieldSensitivity(t *testing.T) {
	b := NewBuilder(time.Second)
	base := b.Key("file_op", "created", "fs_watcher", []byte("payload"), 1700000000.0)

	cases := []struct {
		name      string
		eventType string
		action    string
		source    string
		payload   []byte
	}{
		{"event_type", "app_switch", "created", "fs_watcher", []byte("payload")},
		{"action", "file_op", "deleted", "fs_watcher", []byte("payload")},
		{"source", "file_op", "created", "app_monitor", []byte("payload")},
		{"payload", "file_op", "created", "fs_watcher", []byte("other")},
	}

	for _, tc := range cases {
		got := b.Key(tc.eventType, tc.action, tc.source, tc.payload, 1700000000.0)
		if got == base {
			t.Errorf("changing %s did not change the key", tc.name)
		}
	}
}

func TestBuilder_FieldFraming(t *testing.T) {
	b := NewBuilder(time.Second)

	// Adjacent fields must not alias even when their concatenation matches.
	k1 := b.Key("ab", "c", "s", nil, 1700000000.0)
	k2 := b.Key("a", "bc", "s", nil, 1700000000.0)
	if k1 == k2 {
		t.Error("field boundary shift produced a colliding key")
	}
}

func TestBuilder_TimeBucket(t *testing.T) {
	b := NewBuilder(time.Second)

	same1 := b.Key("file_op", "created", "fs", []byte("p"), 1700000000.10)
	same2 := b.Key("file_op", "created", "fs", []byte("p"), 1700000000.90)
	if same1 != same2 {
		t.Error("timestamps in the same second bucket produced different keys")
	}

	next := b.Key("file_op", "created", "fs", []byte("p"), 1700000001.10)
	if next == same1 {
		t.Error("timestamps in adjacent buckets produced the same key")
	}
}

func TestBuilder_MillisecondBucket(t *testing.T) {
	b := NewBuilder(time.Millisecond)

	k1 := b.Key("file_op", "created", "fs", []byte("p"), 1700000000.0101)
	k2 := b.Key("file_op", "created", "fs", []byte("p"), 1700000000.0109)
	k3 := b.Key("file_op", "created", "fs", []byte("p"), 1700000000.0121)

	if k1 != k2 {
		t.Error("timestamps in the same millisecond bucket produced different keys")
	}
	if k1 == k3 {
		t.Error("timestamps two milliseconds apart produced the same key")
	}
}

func TestBuilder_DefaultBucket(t *testing.T) {
	b := NewBuilder(0)
	if b.Bucket() != DefaultBucket {
		t.Errorf("bucket fallback mismatch: got %s, want %s", b.Bucket(), DefaultBucket)
	}
}

// TestProperty_KeyStability validates that the fingerprint is a pure
// function of its inputs and always fixed-length.
func TestProperty_KeyStability(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("same inputs always yield the same fixed-length key", prop.ForAll(
		func(eventType, action, source string, payload []byte, ts int64) bool {
			b := NewBuilder(time.Second)
			tsf := float64(ts)
			k1 := b.Key(eventType, action, source, payload, tsf)
			k2 := b.Key(eventType, action, source, payload, tsf)
			return k1 == k2 && len(k1) == 32
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.SliceOf(gen.UInt8()),
		gen.Int64Range(0, 2000000000),
	))

	properties.Property("payload change always changes the key", prop.ForAll(
		func(payload []byte, ts int64) bool {
			b := NewBuilder(time.Second)
			tsf := float64(ts)
			k1 := b.Key("t", "a", "s", payload, tsf)
			k2 := b.Key("t", "a", "s", append(append([]byte{}, payload...), 0x01), tsf)
			return k1 != k2
		},
		gen.SliceOf(gen.UInt8()),
		gen.Int64Range(0, 2000000000),
	))

	properties.TestingRun(t)
}
