// Package codec defines the canonical byte form of a block's fields.
//
// The encoding is fixed-width and length-prefixed, so two distinct field
// tuples never share an encoding:
//
//	index      uint64, big endian
//	timestamp  int64,  big endian (milliseconds since the Unix epoch)
//	prev       [32]byte
//	length     uint32, big endian
//	payload    [length]byte
//
// The same bytes are hashed to produce a block digest and written to storage.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jmerrifield20/chronochain/internal/digest"
)

const (
	indexSize     = 8
	timestampSize = 8
	lengthSize    = 4

	// HeaderSize is the number of bytes that precede the payload.
	HeaderSize = indexSize + timestampSize + digest.Size + lengthSize

	// MaxPayload bounds a single payload.
	MaxPayload = 16 << 20
)

var (
	ErrTruncated = errors.New("truncated input")
	ErrMalformed = errors.New("malformed input")
)

// Error is returned by Decode and by the stream readers built on it.
type Error struct {
	Offset int
	Err    error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("codec: %v at offset %d", e.Err, e.Offset)
	}
	return fmt.Sprintf("codec: %v at offset %d: %s", e.Err, e.Offset, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Fields are the hashed contents of a block.
type Fields struct {
	Index      uint64
	Timestamp  int64
	PrevDigest digest.Digest
	Payload    []byte
}

// Size returns the encoded length of f.
func (f Fields) Size() int {
	return HeaderSize + len(f.Payload)
}

// Encode returns the canonical bytes for f. It panics if f.Payload is longer
// than MaxPayload; callers that accept payloads from outside check first.
func Encode(f Fields) []byte {
	return AppendEncode(make([]byte, 0, f.Size()), f)
}

// AppendEncode appends the canonical bytes for f to dst. It has the same
// payload limit as Encode.
func AppendEncode(dst []byte, f Fields) []byte {
	if len(f.Payload) > MaxPayload {
		panic(fmt.Sprintf("codec: payload of %d bytes exceeds %d", len(f.Payload), MaxPayload))
	}
	dst = binary.BigEndian.AppendUint64(dst, f.Index)
	dst = binary.BigEndian.AppendUint64(dst, uint64(f.Timestamp))
	dst = append(dst, f.PrevDigest[:]...)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(f.Payload)))
	return append(dst, f.Payload...)
}

// Decode is the exact inverse of Encode. The returned payload does not alias data.
func Decode(data []byte) (Fields, error) {
	f, n, err := decodePrefix(data)
	if err != nil {
		return Fields{}, err
	}
	if n != len(data) {
		return Fields{}, &Error{Offset: n, Err: ErrMalformed, Detail: fmt.Sprintf("%d trailing bytes", len(data)-n)}
	}
	return f, nil
}

// DecodePrefix decodes one record from the front of data and reports how many
// bytes it consumed. Trailing bytes are left for the caller.
func DecodePrefix(data []byte) (Fields, int, error) {
	return decodePrefix(data)
}

func decodePrefix(data []byte) (Fields, int, error) {
	var f Fields
	if len(data) < HeaderSize {
		return f, 0, &Error{Offset: len(data), Err: ErrTruncated, Detail: fmt.Sprintf("header needs %d bytes", HeaderSize)}
	}
	off := 0
	f.Index = binary.BigEndian.Uint64(data[off:])
	off += indexSize
	f.Timestamp = int64(binary.BigEndian.Uint64(data[off:]))
	off += timestampSize
	copy(f.PrevDigest[:], data[off:off+digest.Size])
	off += digest.Size
	n := binary.BigEndian.Uint32(data[off:])
	off += lengthSize

	if n > MaxPayload {
		return Fields{}, 0, &Error{Offset: off - lengthSize, Err: ErrMalformed, Detail: fmt.Sprintf("payload length %d exceeds %d", n, MaxPayload)}
	}
	if len(data)-off < int(n) {
		return Fields{}, 0, &Error{Offset: len(data), Err: ErrTruncated, Detail: fmt.Sprintf("payload needs %d bytes, have %d", n, len(data)-off)}
	}
	f.Payload = make([]byte, n)
	copy(f.Payload, data[off:off+int(n)])
	off += int(n)
	return f, off, nil
}
