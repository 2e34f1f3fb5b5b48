// Package chain implements the append-only Chain Store.
//
// A Store owns an ordered sequence of blocks, indexed by position and by
// digest. Appends are serialised under a
// single writer lock so that index assignment and previous-digest linkage are
// computed and committed together; readers take a shared lock and only ever
// see fully constructed blocks.
package chain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmerrifield20/chronochain/internal/block"
	"github.com/jmerrifield20/chronochain/internal/codec"
	"github.com/jmerrifield20/chronochain/internal/digest"
)

var (
	// ErrNotFound is returned by Get for an index outside the chain.
	ErrNotFound = errors.New("block not found")

	// ErrCapacity is returned by Append when the configured bound is reached.
	ErrCapacity = errors.New("chain capacity exceeded")
)

// Option configures a Store.
type Option func(*Store)

// WithMaxBlocks bounds the chain length. Zero means unbounded.
func WithMaxBlocks(n uint64) Option {
	return func(s *Store) { s.maxBlocks = n }
}

// WithClock replaces the wall clock used to timestamp appends. The function
// returns milliseconds since the Unix epoch.
func WithClock(now func() int64) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is an in-memory chain of blocks. The zero value is not usable; call New.
type Store struct {
	mu        sync.RWMutex
	hasher    digest.Hasher
	blocks    []block.Block
	byDigest  map[digest.Digest]uint64
	maxBlocks uint64
	now       func() int64
}

// New creates an empty Store that hashes with h.
func New(h digest.Hasher, opts ...Option) *Store {
	if h == nil {
		h = digest.Default()
	}
	s := &Store{
		hasher:   h,
		byDigest: make(map[digest.Digest]uint64),
		now:      func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromBlocks restores a Store from previously persisted blocks. The blocks are
// taken as-is; run the validator to certify them.
func FromBlocks(h digest.Hasher, blocks []block.Block, opts ...Option) *Store {
	s := New(h, opts...)
	s.blocks = append(make([]block.Block, 0, len(blocks)), blocks...)
	for i, b := range s.blocks {
		s.index(uint64(i), b)
	}
	return s
}

// Hasher returns the hash function the chain is built with.
func (s *Store) Hasher() digest.Hasher {
	return s.hasher
}

// MaxBlocks returns the configured bound, or zero when unbounded.
func (s *Store) MaxBlocks() uint64 {
	return s.maxBlocks
}

// Append timestamps payload, links it to the current tip and stores the new
// block. The timestamp never goes backwards: a clock reading earlier than the
// tip's timestamp is raised to it.
func (s *Store) Append(payload []byte) (block.Block, error) {
	if len(payload) > codec.MaxPayload {
		return block.Block{}, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrCapacity, len(payload), codec.MaxPayload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := uint64(len(s.blocks))
	if s.maxBlocks > 0 && n >= s.maxBlocks {
		return block.Block{}, fmt.Errorf("%w: chain holds %d of %d blocks", ErrCapacity, n, s.maxBlocks)
	}

	ts := s.now()
	prev := digest.Zero
	if n > 0 {
		tip := s.blocks[n-1]
		prev = tip.Digest()
		if ts < tip.Timestamp() {
			ts = tip.Timestamp()
		}
	}

	b := block.Make(s.hasher, n, ts, payload, prev)
	s.blocks = append(s.blocks, b)
	s.index(n, b)
	return b, nil
}

// index records b's digest. A digest already present keeps its first
// position; duplicates only occur in tampered chains. Callers hold s.mu.
func (s *Store) index(pos uint64, b block.Block) {
	if _, ok := s.byDigest[b.Digest()]; !ok {
		s.byDigest[b.Digest()] = pos
	}
}

// Get returns the block at index.
func (s *Store) Get(index uint64) (block.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index >= uint64(len(s.blocks)) {
		return block.Block{}, fmt.Errorf("%w: index %d, chain length %d", ErrNotFound, index, len(s.blocks))
	}
	return s.blocks[index], nil
}

// ByDigest returns the block whose stored digest is d.
func (s *Store) ByDigest(d digest.Digest) (block.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.byDigest[d]
	if !ok {
		return block.Block{}, fmt.Errorf("%w: digest %s", ErrNotFound, d)
	}
	return s.blocks[pos], nil
}

// Len returns the number of stored blocks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}

// Last returns the most recent block, or false on an empty chain.
func (s *Store) Last() (block.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.blocks) == 0 {
		return block.Block{}, false
	}
	return s.blocks[len(s.blocks)-1], true
}

// Tip returns the digest of the most recent block, or digest.Zero.
func (s *Store) Tip() digest.Digest {
	if b, ok := s.Last(); ok {
		return b.Digest()
	}
	return digest.Zero
}

// Blocks returns a snapshot of the chain in index order. Appends made after
// the call are not reflected in the returned slice.
func (s *Store) Blocks() []block.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]block.Block(nil), s.blocks...)
}

// Range returns the blocks whose timestamps fall within [from, to], in index order.
// The scan is linear so it stays correct on chains that have not been validated.
func (s *Store) Range(from, to int64) []block.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []block.Block
	for _, b := range s.blocks {
		if b.Timestamp() >= from && b.Timestamp() <= to {
			out = append(out, b)
		}
	}
	return out
}
