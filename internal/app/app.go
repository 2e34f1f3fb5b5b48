// Package app wires configuration, storage and the ledger together for the
// chronochain binary.
package app

import (
	"context"
	"fmt"

	"github.com/jmerrifield20/chronochain/internal/chain"
	"github.com/jmerrifield20/chronochain/internal/config"
	"github.com/jmerrifield20/chronochain/internal/digest"
	"github.com/jmerrifield20/chronochain/internal/ledger"
	"github.com/jmerrifield20/chronochain/internal/logging"
	"github.com/jmerrifield20/chronochain/internal/storage"
	"github.com/jmerrifield20/chronochain/internal/validator"
	"go.uber.org/zap"
)

// samplePayloads seed a chain that Run finds empty.
var samplePayloads = []string{"a", "b", "c"}

// Options control a Run.
type Options struct {
	Verbose bool
	// Config defaults to config.Default() when nil.
	Config *config.Config
	// Logger defaults to one built from Verbose and Config.Log when nil.
	Logger *zap.Logger
}

// NewLedger returns an uninitialized ledger over backend, configured with
// the digest algorithm and capacity from cfg.
func NewLedger(cfg *config.Config, backend storage.Backend, logger *zap.Logger) (*ledger.Ledger, error) {
	alg, err := digest.Parse(cfg.Ledger.Algorithm)
	if err != nil {
		return nil, err
	}
	h, err := digest.New(alg)
	if err != nil {
		return nil, err
	}
	var chainOpts []chain.Option
	if cfg.Ledger.MaxBlocks > 0 {
		chainOpts = append(chainOpts, chain.WithMaxBlocks(cfg.Ledger.MaxBlocks))
	}
	return ledger.New(backend, logger, ledger.WithHasher(h), ledger.WithChainOptions(chainOpts...)), nil
}

// Run opens the configured chain, seeding it with a sample of three blocks
// if none is persisted yet. It validates the chain, saves it, loads it back
// and validates it again. Any failure is returned with its kind intact.
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		lg, err := logging.New(opts.Verbose, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}
		defer lg.Sync() //nolint:errcheck
		logger = lg
	}

	backend, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	// ── Build or load, then certify ──────────────────────────────────────────
	l, err := NewLedger(cfg, backend, logger)
	if err != nil {
		return err
	}
	if err := l.OpenOrCreate(ctx); err != nil {
		return err
	}
	if l.State() == ledger.StateNew {
		for _, p := range samplePayloads {
			if _, err := l.Append(ctx, []byte(p)); err != nil {
				return err
			}
		}
		logger.Info("seeded new chain", zap.Int("blocks", len(samplePayloads)))
	}
	if err := validate(ctx, l); err != nil {
		return err
	}
	if err := l.Close(ctx); err != nil {
		return err
	}

	// ── Reload what was saved and certify it again ───────────────────────────
	reloaded, err := NewLedger(cfg, backend, logger)
	if err != nil {
		return err
	}
	if err := reloaded.Open(ctx); err != nil {
		return err
	}
	if err := validate(ctx, reloaded); err != nil {
		return err
	}
	info, err := reloaded.Info(ctx)
	if err != nil {
		return err
	}
	logger.Info("chain verified",
		zap.String("driver", info.Driver),
		zap.String("algorithm", info.Algorithm),
		zap.Int("blocks", info.Length),
		zap.Stringer("tip", info.Tip),
	)
	return nil
}

// validate turns an unsuccessful validation Result into an error.
func validate(ctx context.Context, l *ledger.Ledger) error {
	res, err := l.Validate(ctx)
	if err != nil {
		return err
	}
	return ResultError(res)
}

// ResultError returns nil for a valid Result and otherwise an error that
// carries the failing index and reason, or the interruption cause.
func ResultError(res validator.Result) error {
	cause := res.Err()
	if cause == nil {
		return nil
	}
	if res.Failure != nil {
		return &ledger.OpError{Op: "validate", Index: res.Failure.Index, HasIndex: true, Err: cause}
	}
	return &ledger.OpError{Op: "validate", Err: fmt.Errorf("after %d of %d blocks: %w", res.Checked, res.Length, cause)}
}
