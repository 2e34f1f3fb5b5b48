// Package ledger is the facade external callers use to work with a chain.
//
// A Ledger moves through a small lifecycle:
//
//	Uninitialized --Create--> New    --+
//	Uninitialized --Open----> Loaded --+--> (Append | Validate | Query)* --Close--> Closed
//
// Open never validates; call Validate explicitly. Close saves the chain
// through the storage backend and is terminal for the instance.
package ledger

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/chronochain/internal/block"
	"github.com/jmerrifield20/chronochain/internal/chain"
	"github.com/jmerrifield20/chronochain/internal/digest"
	"github.com/jmerrifield20/chronochain/internal/logging"
	"github.com/jmerrifield20/chronochain/internal/metrics"
	"github.com/jmerrifield20/chronochain/internal/storage"
	"github.com/jmerrifield20/chronochain/internal/validator"
	"go.uber.org/zap"
)

// State is a point in the ledger lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateNew
	StateLoaded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateNew:
		return "new"
	case StateLoaded:
		return "loaded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithHasher sets the hash function for chains created by Create. Loaded
// chains keep the algorithm they were persisted with.
func WithHasher(h digest.Hasher) Option {
	return func(l *Ledger) { l.hasher = h }
}

// WithChainOptions passes options to the underlying chain store.
func WithChainOptions(opts ...chain.Option) Option {
	return func(l *Ledger) { l.chainOpts = append(l.chainOpts, opts...) }
}

// Ledger wraps a chain store with lifecycle, persistence, logging and metrics.
type Ledger struct {
	mu        sync.RWMutex
	id        uuid.UUID
	state     State
	store     *chain.Store
	backend   storage.Backend
	hasher    digest.Hasher
	chainOpts []chain.Option
	logger    *zap.Logger
}

// New returns an Uninitialized ledger. backend may be nil for a purely
// in-memory ledger that cannot be opened from, and whose Close saves nothing.
func New(backend storage.Backend, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		id:      uuid.New(),
		backend: backend,
		hasher:  digest.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.OrNop(logger).With(zap.String("ledger_id", l.id.String()))
	return l
}

// ID identifies this ledger instance in logs and API responses.
func (l *Ledger) ID() uuid.UUID { return l.id }

// State returns the current lifecycle state.
func (l *Ledger) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Create starts a fresh, empty chain.
func (l *Ledger) Create(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkUninitialized(); err != nil {
		return opErr("create", err)
	}
	l.store = chain.New(l.hasher, l.chainOpts...)
	l.state = StateNew
	metrics.SetChainLength(0)
	l.logger.Info("ledger created", zap.Stringer("algorithm", l.hasher.Algorithm()))
	return nil
}

// Open loads the persisted chain from the backend without validating it.
func (l *Ledger) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkUninitialized(); err != nil {
		return opErr("open", err)
	}
	if l.backend == nil {
		return opErr("open", ErrNoBackend)
	}

	start := time.Now()
	s, err := l.backend.Load(ctx, l.chainOpts...)
	metrics.RecordStorage(l.backend.Driver(), "load", time.Since(start), err)
	if err != nil {
		return opErr("open", err)
	}

	if s.Hasher().Algorithm() != l.hasher.Algorithm() {
		l.logger.Warn("persisted chain uses a different digest algorithm than configured",
			zap.Stringer("persisted", s.Hasher().Algorithm()),
			zap.Stringer("configured", l.hasher.Algorithm()),
		)
	}
	l.store = s
	l.state = StateLoaded
	metrics.SetChainLength(s.Len())
	l.logger.Info("ledger loaded",
		zap.String("driver", l.backend.Driver()),
		zap.Int("blocks", s.Len()),
		zap.Stringer("tip", s.Tip()),
	)
	return nil
}

// OpenOrCreate opens the persisted chain, or creates a new one when the
// backend holds none.
func (l *Ledger) OpenOrCreate(ctx context.Context) error {
	err := l.Open(ctx)
	if errors.Is(err, storage.ErrNoChain) {
		return l.Create(ctx)
	}
	return err
}

func (l *Ledger) checkUninitialized() error {
	switch l.state {
	case StateUninitialized:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrAlreadyOpen
	}
}

// open returns the store if the ledger is New or Loaded. Callers hold l.mu.
func (l *Ledger) open() (*chain.Store, error) {
	switch l.state {
	case StateNew, StateLoaded:
		return l.store, nil
	case StateClosed:
		return nil, ErrClosed
	default:
		return nil, ErrNotOpen
	}
}

// Append adds payload as a new block and returns it.
func (l *Ledger) Append(ctx context.Context, payload []byte) (block.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, err := l.open()
	if err != nil {
		return block.Block{}, opErr("append", err)
	}
	if err := ctx.Err(); err != nil {
		return block.Block{}, opErr("append", err)
	}

	b, err := s.Append(payload)
	if err != nil {
		metrics.RecordAppendFailure(string(KindOf(err)))
		return block.Block{}, opErrAt("append", uint64(s.Len()), err)
	}
	metrics.RecordAppend(int(b.Index()) + 1)
	l.logger.Debug("block appended",
		zap.Uint64("index", b.Index()),
		zap.Stringer("digest", b.Digest()),
		zap.Int("payload_bytes", b.PayloadLen()),
	)
	return b, nil
}

// Get returns the block at index.
func (l *Ledger) Get(ctx context.Context, index uint64) (block.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, err := l.open()
	if err != nil {
		return block.Block{}, opErrAt("get", index, err)
	}
	b, err := s.Get(index)
	if err != nil {
		return block.Block{}, opErrAt("get", index, err)
	}
	return b, nil
}

// ByDigest returns the block with digest d.
func (l *Ledger) ByDigest(ctx context.Context, d digest.Digest) (block.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, err := l.open()
	if err != nil {
		return block.Block{}, opErr("by_digest", err)
	}
	b, err := s.ByDigest(d)
	if err != nil {
		return block.Block{}, opErr("by_digest", err)
	}
	return b, nil
}

// Len returns the number of blocks.
func (l *Ledger) Len(ctx context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, err := l.open()
	if err != nil {
		return 0, opErr("len", err)
	}
	return s.Len(), nil
}

// Last returns the most recent block; ok is false on an empty chain.
func (l *Ledger) Last(ctx context.Context) (b block.Block, ok bool, err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, err := l.open()
	if err != nil {
		return block.Block{}, false, opErr("last", err)
	}
	b, ok = s.Last()
	return b, ok, nil
}

// Range returns the blocks timestamped within [from, to].
func (l *Ledger) Range(ctx context.Context, from, to time.Time) ([]block.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, err := l.open()
	if err != nil {
		return nil, opErr("range", err)
	}
	return s.Range(from.UnixMilli(), to.UnixMilli()), nil
}

// Validate runs a full validation pass over a snapshot of the chain. The
// returned error reports misuse (for example a closed ledger) only; integrity
// problems are described by the Result.
func (l *Ledger) Validate(ctx context.Context) (validator.Result, error) {
	l.mu.RLock()
	s, err := l.open()
	l.mu.RUnlock()
	if err != nil {
		return validator.Result{}, opErr("validate", err)
	}

	start := time.Now()
	res := validator.Validate(ctx, s.Blocks(), s.Hasher())
	elapsed := time.Since(start)

	switch {
	case res.Valid:
		metrics.RecordValidation("valid", elapsed)
		l.logger.Debug("chain validated", zap.Int("blocks", res.Length), zap.Duration("elapsed", elapsed))
	case res.Interrupted:
		metrics.RecordValidation("interrupted", elapsed)
		l.logger.Info("chain validation interrupted", zap.Int("checked", res.Checked), zap.Error(res.Err()))
	default:
		metrics.RecordValidation("invalid", elapsed)
		l.logger.Warn("chain integrity check FAILED",
			zap.Uint64("index", res.Failure.Index),
			zap.String("reason", string(res.Failure.Reason)),
			zap.String("expected", res.Failure.Expected),
			zap.String("found", res.Failure.Found),
		)
	}
	return res, nil
}

// Steps returns a lazy validation pass over a snapshot of the chain, one step
// per block, so a caller can stop early on very long chains.
func (l *Ledger) Steps(ctx context.Context) (iter.Seq[validator.Step], error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, err := l.open()
	if err != nil {
		return nil, opErr("steps", err)
	}
	return validator.Steps(s.Blocks(), s.Hasher()), nil
}

// Info is a summary of the ledger for display.
type Info struct {
	ID        uuid.UUID     `json:"id"`
	State     string        `json:"state"`
	Driver    string        `json:"driver,omitempty"`
	Algorithm string        `json:"algorithm"`
	Length    int           `json:"length"`
	MaxBlocks uint64        `json:"max_blocks,omitempty"`
	Tip       digest.Digest `json:"tip"`
}

// Info summarises the ledger.
func (l *Ledger) Info(ctx context.Context) (Info, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, err := l.open()
	if err != nil {
		return Info{}, opErr("info", err)
	}
	info := Info{
		ID:        l.id,
		State:     l.state.String(),
		Algorithm: s.Hasher().Algorithm().String(),
		Length:    s.Len(),
		MaxBlocks: s.MaxBlocks(),
		Tip:       s.Tip(),
	}
	if l.backend != nil {
		info.Driver = l.backend.Driver()
	}
	return info, nil
}

// Close saves the chain through the backend and moves the ledger to Closed.
// If the save fails the ledger stays open so the caller may retry.
func (l *Ledger) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.open()
	if err != nil {
		return opErr("close", err)
	}

	if l.backend != nil {
		start := time.Now()
		err := l.backend.Save(ctx, s)
		metrics.RecordStorage(l.backend.Driver(), "save", time.Since(start), err)
		if err != nil {
			l.logger.Error("ledger save failed", zap.Error(err))
			return opErr("close", err)
		}
		l.logger.Info("ledger saved",
			zap.String("driver", l.backend.Driver()),
			zap.Int("blocks", s.Len()),
			zap.Stringer("tip", s.Tip()),
		)
	}
	l.store = nil
	l.state = StateClosed
	return nil
}
