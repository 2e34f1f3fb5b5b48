package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jmerrifield20/chronochain/internal/block"
	"github.com/jmerrifield20/chronochain/internal/chain"
	"github.com/jmerrifield20/chronochain/internal/codec"
	"github.com/jmerrifield20/chronochain/internal/digest"
	"github.com/jmerrifield20/chronochain/internal/logging"
	"github.com/syndtr/goleveldb/leveldb"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"
)

// key layout
//
//	0x00 "META"        -> version uint8 | algorithm uint8 | count uint64
//	'B' index(uint64)  -> block.Marshal()
var metaKey = []byte{0x00, 'M', 'E', 'T', 'A'}

const (
	blockPrefix     = 'B'
	levelDBVersion  = 1
	levelDBMetaSize = 1 + 1 + 8
)

// LevelDB stores a chain in an embedded LevelDB database, one key per block.
type LevelDB struct {
	db     *leveldb.DB
	path   string
	logger *zap.Logger
}

// OpenLevelDB opens or creates the database directory at path.
func OpenLevelDB(path string, logger *zap.Logger) (*LevelDB, error) {
	opt := &ldb_opt.Options{
		ErrorIfExist:   false,
		ErrorIfMissing: false,
	}
	db, err := leveldb.OpenFile(path, opt)
	if err != nil {
		return nil, &IOError{Op: "open", Location: path, Err: err}
	}
	return &LevelDB{db: db, path: path, logger: logging.OrNop(logger)}, nil
}

func (l *LevelDB) Driver() string { return "leveldb" }

// Close implements Backend.
func (l *LevelDB) Close() error {
	if err := l.db.Close(); err != nil {
		return &IOError{Op: "close", Location: l.path, Err: err}
	}
	return nil
}

func blockKey(index uint64) []byte {
	key := make([]byte, 9)
	key[0] = blockPrefix
	binary.BigEndian.PutUint64(key[1:], index)
	return key
}

// Load implements Backend.
func (l *LevelDB) Load(ctx context.Context, opts ...chain.Option) (*chain.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := l.db.GetSnapshot()
	if err != nil {
		return nil, &IOError{Op: "snapshot", Location: l.path, Err: err}
	}
	defer snap.Release()

	meta, err := snap.Get(metaKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNoChain
	} else if err != nil {
		return nil, &IOError{Op: "get meta", Location: l.path, Err: err}
	}
	if len(meta) != levelDBMetaSize || meta[0] != levelDBVersion {
		return nil, &codec.Error{Err: codec.ErrMalformed, Detail: fmt.Sprintf("leveldb meta record of %d bytes", len(meta))}
	}
	h, err := digest.New(digest.Algorithm(meta[1]))
	if err != nil {
		return nil, &codec.Error{Offset: 1, Err: codec.ErrMalformed, Detail: err.Error()}
	}
	count := binary.BigEndian.Uint64(meta[2:])

	iter := snap.NewIterator(util.BytesPrefix([]byte{blockPrefix}), nil)
	defer iter.Release()

	blocks := blockBuffer(count)
	for iter.Next() {
		// iter.Value is only valid until the next call to Next; Unmarshal copies.
		b, err := block.Unmarshal(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("leveldb key %x: %w", iter.Key(), err)
		}
		blocks = append(blocks, b)
	}
	if err := iter.Error(); err != nil {
		return nil, &IOError{Op: "iterate", Location: l.path, Err: err}
	}
	if uint64(len(blocks)) != count {
		return nil, &codec.Error{Err: codec.ErrTruncated, Detail: fmt.Sprintf("meta records %d blocks, found %d", count, len(blocks))}
	}

	l.logger.Debug("leveldb chain loaded", zap.String("path", l.path), zap.Int("blocks", len(blocks)))
	return chain.FromBlocks(h, blocks, opts...), nil
}

// Save implements Backend. Stale block keys are deleted and the new snapshot
// is written in a single synced batch.
func (l *LevelDB) Save(ctx context.Context, s *chain.Store) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	blocks := s.Blocks()
	batch := new(leveldb.Batch)

	iter := l.db.NewIterator(util.BytesPrefix([]byte{blockPrefix}), nil)
	for iter.Next() {
		key := iter.Key()
		if len(key) == 9 && binary.BigEndian.Uint64(key[1:]) < uint64(len(blocks)) {
			continue
		}
		batch.Delete(append([]byte(nil), key...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return &IOError{Op: "iterate", Location: l.path, Err: err}
	}

	for i, b := range blocks {
		batch.Put(blockKey(uint64(i)), b.Marshal())
	}
	meta := make([]byte, levelDBMetaSize)
	meta[0] = levelDBVersion
	meta[1] = byte(s.Hasher().Algorithm())
	binary.BigEndian.PutUint64(meta[2:], uint64(len(blocks)))
	batch.Put(metaKey, meta)

	if err := l.db.Write(batch, &ldb_opt.WriteOptions{Sync: true}); err != nil {
		return &IOError{Op: "write batch", Location: l.path, Err: err}
	}
	l.logger.Debug("leveldb chain saved", zap.String("path", l.path), zap.Int("blocks", len(blocks)))
	return nil
}
