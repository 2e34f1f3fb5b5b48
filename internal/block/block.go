// Package block implements the immutable, hash-linked chain entry.
package block

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmerrifield20/chronochain/internal/codec"
	"github.com/jmerrifield20/chronochain/internal/digest"
)

// Block is a single chain entry. All fields are unexported: a Block is a
// read-only value once constructed, and Payload returns a copy.
type Block struct {
	index     uint64
	timestamp int64
	payload   []byte
	prev      digest.Digest
	digest    digest.Digest
}

// Make builds a new block and derives its digest from the other fields.
// It is the only way to obtain a block whose digest is computed locally.
// payload must not exceed codec.MaxPayload; Make panics otherwise.
func Make(h digest.Hasher, index uint64, timestamp int64, payload []byte, prev digest.Digest) Block {
	b := Block{
		index:     index,
		timestamp: timestamp,
		payload:   append([]byte(nil), payload...),
		prev:      prev,
	}
	b.digest = b.Recompute(h)
	return b
}

func (b Block) fields() codec.Fields {
	return codec.Fields{
		Index:      b.index,
		Timestamp:  b.timestamp,
		PrevDigest: b.prev,
		Payload:    b.payload,
	}
}

// Recompute returns the digest the block's fields hash to under h. For an
// untampered block it equals Digest().
func (b Block) Recompute(h digest.Hasher) digest.Digest {
	return h.Sum(codec.Encode(b.fields()))
}

// Index is the block's position in its chain.
func (b Block) Index() uint64 { return b.index }

// Timestamp is milliseconds since the Unix epoch.
func (b Block) Timestamp() int64 { return b.timestamp }

// PrevDigest is the digest of the preceding block, or digest.Zero for genesis.
func (b Block) PrevDigest() digest.Digest { return b.prev }

// Digest is the digest the block was stored with.
func (b Block) Digest() digest.Digest { return b.digest }

func (b Block) PayloadLen() int { return len(b.payload) }

// Time returns Timestamp as a UTC time.
func (b Block) Time() time.Time { return time.UnixMilli(b.timestamp).UTC() }

// IsGenesis reports whether b is the first block of its chain.
func (b Block) IsGenesis() bool { return b.index == 0 }

// Payload returns a copy of the payload; the block's own bytes never escape.
func (b Block) Payload() []byte { return append([]byte(nil), b.payload...) }

func (b Block) String() string {
	return fmt.Sprintf("block #%d %s", b.index, b.digest)
}

// Size returns the length of Marshal's output.
func (b Block) Size() int {
	return codec.HeaderSize + len(b.payload) + digest.Size
}

// Marshal returns the stored form of b: its canonical bytes followed by the digest.
func (b Block) Marshal() []byte {
	buf := make([]byte, 0, b.Size())
	buf = codec.AppendEncode(buf, b.fields())
	return append(buf, b.digest[:]...)
}

// Unmarshal restores a stored block. The digest is taken from data as-is and
// is not checked against the other fields; integrity is the validator's job.
func Unmarshal(data []byte) (Block, error) {
	if len(data) < codec.HeaderSize+digest.Size {
		return Block{}, &codec.Error{Offset: len(data), Err: codec.ErrTruncated, Detail: "stored block shorter than header and digest"}
	}
	body := data[:len(data)-digest.Size]
	f, err := codec.Decode(body)
	if err != nil {
		return Block{}, err
	}
	b := Block{
		index:     f.Index,
		timestamp: f.Timestamp,
		payload:   f.Payload,
		prev:      f.PrevDigest,
	}
	copy(b.digest[:], data[len(body):])
	return b, nil
}

type blockJSON struct {
	Index      uint64        `json:"index"`
	Timestamp  int64         `json:"timestamp"`
	Time       time.Time     `json:"time"`
	Payload    []byte        `json:"payload"`
	PrevDigest digest.Digest `json:"prev_digest"`
	Digest     digest.Digest `json:"digest"`
}

// MarshalJSON renders the block for API and CLI output. There is no
// UnmarshalJSON: blocks enter the process only through Make or Unmarshal.
func (b Block) MarshalJSON() ([]byte, error) {
	return json.Marshal(blockJSON{
		Index:      b.index,
		Timestamp:  b.timestamp,
		Time:       b.Time(),
		Payload:    b.payload,
		PrevDigest: b.prev,
		Digest:     b.digest,
	})
}
