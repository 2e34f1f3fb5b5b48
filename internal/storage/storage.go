// Package storage persists whole chains as point-in-time snapshots.
//
// Three backends implement Backend:
//   - File: a single stream file written atomically via rename.
//   - LevelDB: an embedded key/value store, one key per block.
//   - Postgres: durable rows written in one advisory-locked transaction.
//
// Loading never validates; pass the result to the validator.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmerrifield20/chronochain/internal/block"
	"github.com/jmerrifield20/chronochain/internal/chain"
	"github.com/jmerrifield20/chronochain/internal/config"
	"go.uber.org/zap"
)

// ErrNoChain is returned by Load when nothing has been persisted yet.
var ErrNoChain = errors.New("no persisted chain")

// Backend saves and restores complete chains.
type Backend interface {
	// Load restores the persisted chain. opts configure the returned store.
	Load(ctx context.Context, opts ...chain.Option) (*chain.Store, error)

	// Save replaces the persisted chain with a snapshot of s.
	Save(ctx context.Context, s *chain.Store) error

	// Driver names the backend for logs and metrics.
	Driver() string

	// Close releases the backend's resources.
	Close() error
}

// maxPrealloc caps how many blocks Load reserves room for up front. Counts
// come from persisted metadata and are only trusted once the blocks are read.
const maxPrealloc = 1 << 16

func blockBuffer(count uint64) []block.Block {
	return make([]block.Block, 0, min(count, maxPrealloc))
}

// IOError reports a failure of the underlying persistence medium.
type IOError struct {
	Op       string
	Location string
	Err      error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Location, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Open returns the backend selected by cfg.Storage.Driver.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, error) {
	switch cfg.Storage.Driver {
	case "file":
		return NewFile(cfg.Storage.Path, logger), nil
	case "leveldb":
		return OpenLevelDB(cfg.Storage.Path, logger)
	case "postgres":
		return OpenPostgres(ctx, cfg.Database.URL, cfg.Database.Chain, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
