package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jmerrifield20/chronochain/internal/chain"
	"github.com/jmerrifield20/chronochain/internal/codec"
	"github.com/jmerrifield20/chronochain/internal/logging"
	"go.uber.org/zap"
)

// File stores a chain in a single file using the chain stream format.
type File struct {
	path   string
	logger *zap.Logger
}

// NewFile returns a File backend for path. Nothing is touched until Load or Save.
func NewFile(path string, logger *zap.Logger) *File {
	return &File{path: path, logger: logging.OrNop(logger)}
}

func (f *File) Driver() string { return "file" }
func (f *File) Close() error   { return nil }

// Path returns the chain file location.
func (f *File) Path() string { return f.path }

// Load implements Backend.
func (f *File) Load(ctx context.Context, opts ...chain.Option) (*chain.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoChain
		}
		return nil, &IOError{Op: "open", Location: f.path, Err: err}
	}
	defer fh.Close()

	s, err := chain.Read(fh, opts...)
	if err != nil {
		var cerr *codec.Error
		if errors.As(err, &cerr) {
			return nil, err
		}
		return nil, &IOError{Op: "read", Location: f.path, Err: err}
	}
	f.logger.Debug("chain file loaded", zap.String("path", f.path), zap.Int("blocks", s.Len()))
	return s, nil
}

// Save implements Backend. The chain is written to a temporary file in the
// same directory, synced and renamed over the target, so a failed save never
// leaves a partial chain file behind.
func (f *File) Save(ctx context.Context, s *chain.Store) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IOError{Op: "mkdir", Location: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return &IOError{Op: "create", Location: dir, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	n, err := s.WriteTo(tmp)
	if err != nil {
		return &IOError{Op: "write", Location: tmp.Name(), Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &IOError{Op: "sync", Location: tmp.Name(), Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "close", Location: tmp.Name(), Err: err}
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return &IOError{Op: "rename", Location: f.path, Err: err}
	}
	committed = true

	f.logger.Debug("chain file saved", zap.String("path", f.path), zap.Int64("bytes", n))
	return nil
}
