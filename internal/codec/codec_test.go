package codec_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/jmerrifield20/chronochain/internal/codec"
	"github.com/jmerrifield20/chronochain/internal/digest"
)

func sample() codec.Fields {
	return codec.Fields{
		Index:      7,
		Timestamp:  1_700_000_000_123,
		PrevDigest: digest.Default().Sum([]byte("prev")),
		Payload:    []byte("hello"),
	}
}

func TestEncode_layout(t *testing.T) {
	f := sample()
	b := codec.Encode(f)
	if len(b) != codec.HeaderSize+len(f.Payload) {
		t.Fatalf("encoded length: got %d, want %d", len(b), codec.HeaderSize+len(f.Payload))
	}
	if b[7] != 7 {
		t.Errorf("index low byte: got %d, want 7", b[7])
	}
	if !bytes.Equal(b[codec.HeaderSize:], f.Payload) {
		t.Errorf("payload tail: got %q", b[codec.HeaderSize:])
	}
}

func TestDecode_inverse(t *testing.T) {
	for _, f := range []codec.Fields{
		sample(),
		{},
		{Index: 1<<64 - 1, Timestamp: -1, Payload: []byte{}},
	} {
		got, err := codec.Decode(codec.Encode(f))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.Index != f.Index || got.Timestamp != f.Timestamp || got.PrevDigest != f.PrevDigest || !bytes.Equal(got.Payload, f.Payload) {
			t.Errorf("Decode(Encode(%+v)) = %+v", f, got)
		}
	}
}

// Field boundaries are unambiguous: moving bytes between fields changes the encoding.
func TestEncode_injective(t *testing.T) {
	a := codec.Fields{Index: 1, Timestamp: 2, Payload: []byte("ab")}
	b := codec.Fields{Index: 1, Timestamp: 2, Payload: []byte("a")}
	c := codec.Fields{Index: 1, Timestamp: 3, Payload: []byte("ab")}
	ea, eb, ec := codec.Encode(a), codec.Encode(b), codec.Encode(c)
	if bytes.Equal(ea, eb) || bytes.Equal(ea, ec) || bytes.Equal(eb, ec) {
		t.Error("distinct fields produced equal encodings")
	}
}

func TestDecode_truncated(t *testing.T) {
	full := codec.Encode(sample())
	for _, n := range []int{0, 1, codec.HeaderSize - 1, codec.HeaderSize, len(full) - 1} {
		_, err := codec.Decode(full[:n])
		if !errors.Is(err, codec.ErrTruncated) {
			t.Errorf("Decode(%d bytes): expected ErrTruncated, got %v", n, err)
		}
		var cerr *codec.Error
		if !errors.As(err, &cerr) {
			t.Errorf("Decode(%d bytes): expected *codec.Error, got %T", n, err)
		}
	}
}

func TestDecode_trailingBytes(t *testing.T) {
	b := append(codec.Encode(sample()), 0x00)
	if _, err := codec.Decode(b); !errors.Is(err, codec.ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestDecode_oversizeLength(t *testing.T) {
	b := codec.Encode(codec.Fields{})
	b[codec.HeaderSize-4] = 0xff
	if _, err := codec.Decode(b); !errors.Is(err, codec.ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestEncode_payloadLimit(t *testing.T) {
	max := codec.Encode(codec.Fields{Payload: make([]byte, codec.MaxPayload)})
	if f, err := codec.Decode(max); err != nil || len(f.Payload) != codec.MaxPayload {
		t.Fatalf("payload at the limit: len %d, err %v", len(f.Payload), err)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected Encode to panic on a payload over MaxPayload")
		}
	}()
	codec.Encode(codec.Fields{Payload: make([]byte, codec.MaxPayload+1)})
}

func TestDecodePrefix_consumed(t *testing.T) {
	one := codec.Encode(sample())
	two := append(append([]byte{}, one...), one...)
	_, n, err := codec.DecodePrefix(two)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(one) {
		t.Errorf("consumed: got %d, want %d", n, len(one))
	}
}

func TestDecode_doesNotAlias(t *testing.T) {
	b := codec.Encode(sample())
	f, err := codec.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	b[codec.HeaderSize] = 'X'
	if f.Payload[0] != 'h' {
		t.Error("decoded payload aliases the input buffer")
	}
}
