package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmerrifield20/chronochain/internal/chain"
	"github.com/jmerrifield20/chronochain/internal/codec"
	"github.com/jmerrifield20/chronochain/internal/storage"
	"github.com/jmerrifield20/chronochain/internal/validator"
)

var (
	ErrNotOpen     = errors.New("ledger is not open")
	ErrAlreadyOpen = errors.New("ledger is already open")
	ErrClosed      = errors.New("ledger is closed")
	ErrNoBackend   = errors.New("ledger has no storage backend")
)

// OpError wraps a lower-level error with the ledger operation that produced
// it and, where one applies, the affected block index.
type OpError struct {
	Op       string
	Index    uint64
	HasIndex bool
	Err      error
}

func (e *OpError) Error() string {
	if e.HasIndex {
		return fmt.Sprintf("ledger %s (index %d): %v", e.Op, e.Index, e.Err)
	}
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

func opErrAt(op string, index uint64, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Index: index, HasIndex: true, Err: err}
}

// Kind classifies an error for reporting.
type Kind string

const (
	KindCodec      Kind = "codec"
	KindCapacity   Kind = "capacity"
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindIO         Kind = "io"
	KindState      Kind = "state"
	KindCanceled   Kind = "canceled"
	KindUnknown    Kind = "unknown"
)

// KindOf returns the kind of the innermost recognised error in err's chain.
func KindOf(err error) Kind {
	var (
		cerr  *codec.Error
		ioErr *storage.IOError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cerr):
		return KindCodec
	case errors.Is(err, chain.ErrCapacity):
		return KindCapacity
	case errors.Is(err, chain.ErrNotFound), errors.Is(err, storage.ErrNoChain):
		return KindNotFound
	case errors.Is(err, validator.ErrInvalid):
		return KindValidation
	case errors.As(err, &ioErr):
		return KindIO
	case errors.Is(err, ErrNotOpen), errors.Is(err, ErrAlreadyOpen), errors.Is(err, ErrClosed), errors.Is(err, ErrNoBackend):
		return KindState
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}
