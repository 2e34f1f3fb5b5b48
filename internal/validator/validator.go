// Package validator proves the integrity and ordering of a chain.
//
// Validation walks the blocks in order and, for each one, checks that the
// stored digest recomputes from the stored fields, that the index is
// contiguous, that the previous digest links to the predecessor and that the
// timestamp has not gone backwards. The first violation is reported with the
// position, the violated invariant and the expected and found values.
// A detected violation is a result, not an error return: callers decide policy.
package validator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"

	"github.com/jmerrifield20/chronochain/internal/block"
	"github.com/jmerrifield20/chronochain/internal/digest"
)

// Reason names the invariant a block violated.
type Reason string

const (
	DigestMismatch      Reason = "digest_mismatch"
	IndexGap            Reason = "index_gap"
	BrokenLink          Reason = "broken_link"
	TimestampRegression Reason = "timestamp_regression"
)

// ErrInvalid matches every *Error with errors.Is.
var ErrInvalid = errors.New("chain validation failed")

// Error describes the first point at which a chain fails validation.
type Error struct {
	Index    uint64 `json:"index"`
	Reason   Reason `json:"reason"`
	Expected string `json:"expected"`
	Found    string `json:"found"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("block %d: %s: expected %s, found %s", e.Index, e.Reason, e.Expected, e.Found)
}

func (e *Error) Is(target error) bool { return target == ErrInvalid }

// Step is the outcome of checking one block.
type Step struct {
	Block block.Block
	Err   *Error
}

// OK reports whether the block passed every check.
func (s Step) OK() bool { return s.Err == nil }

// Result summarises a validation pass.
type Result struct {
	Valid       bool   `json:"valid"`
	Length      int    `json:"length"`
	Checked     int    `json:"checked"`
	Failure     *Error `json:"failure,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`

	cause error
}

// Err returns the failure as an error, the context error for an interrupted
// pass, or nil for a valid chain.
func (r Result) Err() error {
	switch {
	case r.Failure != nil:
		return r.Failure
	case r.Interrupted:
		return r.cause
	default:
		return nil
	}
}

// Steps lazily checks blocks in order, yielding one Step per block. Iteration
// ends after the first failing step, or earlier if the caller stops ranging.
func Steps(blocks []block.Block, h digest.Hasher) iter.Seq[Step] {
	return func(yield func(Step) bool) {
		for i, b := range blocks {
			var prev *block.Block
			if i > 0 {
				prev = &blocks[i-1]
			}
			step := Step{Block: b, Err: check(uint64(i), b, prev, h)}
			if !yield(step) || step.Err != nil {
				return
			}
		}
	}
}

// checkInterval is how many blocks Validate checks between context polls.
const checkInterval = 256

// Validate checks every block and reports the first violation. An empty chain
// is valid. Cancelling ctx stops the pass with Interrupted set.
func Validate(ctx context.Context, blocks []block.Block, h digest.Hasher) Result {
	res := Result{Length: len(blocks)}
	for step := range Steps(blocks, h) {
		if res.Checked%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				res.Interrupted = true
				res.cause = err
				return res
			}
		}
		res.Checked++
		if !step.OK() {
			res.Failure = step.Err
			return res
		}
	}
	res.Valid = true
	return res
}

func check(pos uint64, b block.Block, prev *block.Block, h digest.Hasher) *Error {
	if got := b.Recompute(h); got != b.Digest() {
		return &Error{Index: pos, Reason: DigestMismatch, Expected: got.String(), Found: b.Digest().String()}
	}
	if b.Index() != pos {
		return &Error{Index: pos, Reason: IndexGap, Expected: strconv.FormatUint(pos, 10), Found: strconv.FormatUint(b.Index(), 10)}
	}

	wantPrev := digest.Zero
	if prev != nil {
		wantPrev = prev.Digest()
	}
	if b.PrevDigest() != wantPrev {
		return &Error{Index: pos, Reason: BrokenLink, Expected: wantPrev.String(), Found: b.PrevDigest().String()}
	}

	if prev != nil && b.Timestamp() < prev.Timestamp() {
		return &Error{
			Index:    pos,
			Reason:   TimestampRegression,
			Expected: ">= " + strconv.FormatInt(prev.Timestamp(), 10),
			Found:    strconv.FormatInt(b.Timestamp(), 10),
		}
	}
	return nil
}
