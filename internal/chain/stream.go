package chain

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/jmerrifield20/chronochain/internal/block"
	"github.com/jmerrifield20/chronochain/internal/codec"
	"github.com/jmerrifield20/chronochain/internal/digest"
)

// Persisted stream layout:
//
//	magic     "CHRN"
//	version   uint8
//	algorithm uint8
//	count     uint64, big endian
//	count times:
//	  length  uint32, big endian
//	  block   [length]byte (block.Marshal)
const (
	streamVersion    = 1
	streamHeaderSize = 4 + 1 + 1 + 8
	maxStoredBlock   = codec.HeaderSize + codec.MaxPayload + digest.Size
)

var streamMagic = [4]byte{'C', 'H', 'R', 'N'}

// WriteTo writes a point-in-time snapshot of the chain to w.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	blocks := s.Blocks()
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	var hdr [streamHeaderSize]byte
	copy(hdr[:4], streamMagic[:])
	hdr[4] = streamVersion
	hdr[5] = byte(s.hasher.Algorithm())
	binary.BigEndian.PutUint64(hdr[6:], uint64(len(blocks)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return cw.n, fmt.Errorf("write header: %w", err)
	}

	var lenBuf [4]byte
	for _, b := range blocks {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(b.Size()))
		if _, err := bw.Write(lenBuf[:]); err != nil {
			return cw.n, fmt.Errorf("write block %d: %w", b.Index(), err)
		}
		if _, err := bw.Write(b.Marshal()); err != nil {
			return cw.n, fmt.Errorf("write block %d: %w", b.Index(), err)
		}
	}
	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("flush: %w", err)
	}
	return cw.n, nil
}

// Read decodes a chain written by WriteTo. The hash algorithm is taken from
// the stream header. Read does not validate the chain. Malformed or
// truncated input yields a *codec.Error; other errors come from r.
func Read(r io.Reader, opts ...Option) (*Store, error) {
	br := bufio.NewReader(r)
	off := 0

	var hdr [streamHeaderSize]byte
	if err := readFull(br, hdr[:], off); err != nil {
		return nil, err
	}
	if [4]byte(hdr[:4]) != streamMagic {
		return nil, &codec.Error{Offset: 0, Err: codec.ErrMalformed, Detail: "bad magic"}
	}
	if hdr[4] != streamVersion {
		return nil, &codec.Error{Offset: 4, Err: codec.ErrMalformed, Detail: fmt.Sprintf("unsupported version %d", hdr[4])}
	}
	h, err := digest.New(digest.Algorithm(hdr[5]))
	if err != nil {
		return nil, &codec.Error{Offset: 5, Err: codec.ErrMalformed, Detail: err.Error()}
	}
	count := binary.BigEndian.Uint64(hdr[6:])
	off += streamHeaderSize

	var blocks []block.Block
	var lenBuf [4]byte
	for i := uint64(0); i < count; i++ {
		if err := readFull(br, lenBuf[:], off); err != nil {
			return nil, err
		}
		off += len(lenBuf)
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > maxStoredBlock {
			return nil, &codec.Error{Offset: off - len(lenBuf), Err: codec.ErrMalformed, Detail: fmt.Sprintf("block %d length %d exceeds %d", i, n, maxStoredBlock)}
		}
		raw := make([]byte, n)
		if err := readFull(br, raw, off); err != nil {
			return nil, err
		}
		b, err := block.Unmarshal(raw)
		if err != nil {
			var cerr *codec.Error
			if errors.As(err, &cerr) {
				cerr.Offset += off
			}
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		off += int(n)
		blocks = append(blocks, b)
	}

	if _, err := br.ReadByte(); err == nil {
		return nil, &codec.Error{Offset: off, Err: codec.ErrMalformed, Detail: "trailing data after last block"}
	} else if !errors.Is(err, io.EOF) {
		return nil, err
	}

	return FromBlocks(h, blocks, opts...), nil
}

func readFull(r io.Reader, buf []byte, off int) error {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &codec.Error{Offset: off + n, Err: codec.ErrTruncated, Detail: fmt.Sprintf("need %d bytes", len(buf))}
	}
	return err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
