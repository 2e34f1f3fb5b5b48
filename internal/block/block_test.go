package block_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jmerrifield20/chronochain/internal/block"
	"github.com/jmerrifield20/chronochain/internal/codec"
	"github.com/jmerrifield20/chronochain/internal/digest"
)

var h = digest.Default()

func TestMake_derivesDigest(t *testing.T) {
	b := block.Make(h, 0, 1000, []byte("a"), digest.Zero)
	want := h.Sum(codec.Encode(codec.Fields{Index: 0, Timestamp: 1000, Payload: []byte("a")}))
	if b.Digest() != want {
		t.Errorf("Digest(): got %s, want %s", b.Digest(), want)
	}
	if b.Recompute(h) != b.Digest() {
		t.Error("Recompute disagrees with Digest on a fresh block")
	}
	if !b.IsGenesis() {
		t.Error("index 0 block should report IsGenesis")
	}
}

func TestMake_copiesPayload(t *testing.T) {
	p := []byte("abc")
	b := block.Make(h, 0, 0, p, digest.Zero)
	p[0] = 'X'
	if string(b.Payload()) != "abc" {
		t.Errorf("block payload changed with caller slice: %q", b.Payload())
	}
	out := b.Payload()
	out[0] = 'Y'
	if string(b.Payload()) != "abc" {
		t.Errorf("block payload changed through accessor: %q", b.Payload())
	}
}

func TestMarshal_roundTrip(t *testing.T) {
	b := block.Make(h, 3, 42, []byte("payload"), h.Sum([]byte("prev")))
	raw := b.Marshal()
	if len(raw) != b.Size() {
		t.Errorf("Size(): got %d, marshalled %d", b.Size(), len(raw))
	}
	back, err := block.Unmarshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back.Marshal(), raw) {
		t.Error("Unmarshal(Marshal(b)) is not byte-identical")
	}
	if back.Digest() != b.Digest() || back.Index() != 3 || back.Timestamp() != 42 {
		t.Errorf("restored block differs: %v", back)
	}
}

func TestUnmarshal_keepsStoredDigest(t *testing.T) {
	b := block.Make(h, 1, 1, []byte("x"), digest.Zero)
	raw := b.Marshal()
	raw[len(raw)-1] ^= 0xff
	back, err := block.Unmarshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if back.Digest() == back.Recompute(h) {
		t.Error("tampered digest should not match recomputed digest")
	}
}

func TestUnmarshal_truncated(t *testing.T) {
	raw := block.Make(h, 1, 1, []byte("xyz"), digest.Zero).Marshal()
	for _, n := range []int{0, 10, len(raw) - 1} {
		if _, err := block.Unmarshal(raw[:n]); !errors.Is(err, codec.ErrTruncated) {
			t.Errorf("Unmarshal(%d bytes): expected ErrTruncated, got %v", n, err)
		}
	}
}

func TestMarshalJSON(t *testing.T) {
	b := block.Make(h, 0, 1_700_000_000_000, []byte("a"), digest.Zero)
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["digest"] != b.Digest().String() {
		t.Errorf("digest field: got %v", m["digest"])
	}
	if m["prev_digest"] != digest.Zero.String() {
		t.Errorf("prev_digest field: got %v", m["prev_digest"])
	}
}
