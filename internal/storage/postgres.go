package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/chronochain/internal/block"
	"github.com/jmerrifield20/chronochain/internal/chain"
	"github.com/jmerrifield20/chronochain/internal/codec"
	"github.com/jmerrifield20/chronochain/internal/digest"
	"github.com/jmerrifield20/chronochain/internal/logging"
	"go.uber.org/zap"
)

// advisoryLockKey serialises concurrent saves of any chain across processes.
// The value is arbitrary but must be the same for every writer.
const advisoryLockKey = int64(1_159_876_543)

const schema = `
CREATE TABLE IF NOT EXISTS chain_meta (
	chain     TEXT        PRIMARY KEY,
	algorithm SMALLINT    NOT NULL,
	length    BIGINT      NOT NULL,
	saved_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS chain_blocks (
	chain  TEXT   NOT NULL REFERENCES chain_meta (chain) ON DELETE CASCADE,
	idx    BIGINT NOT NULL,
	ts     BIGINT NOT NULL,
	digest BYTEA  NOT NULL,
	raw    BYTEA  NOT NULL,
	PRIMARY KEY (chain, idx)
);`

// Postgres persists named chains to PostgreSQL. Several chains may share a
// database; each is identified by its name.
type Postgres struct {
	pool   *pgxpool.Pool
	chain  string
	owned  bool
	logger *zap.Logger
}

// NewPostgres returns a Postgres backend for the named chain on an existing
// pool. The caller keeps ownership of the pool.
func NewPostgres(pool *pgxpool.Pool, chainName string, logger *zap.Logger) *Postgres {
	return &Postgres{pool: pool, chain: chainName, logger: logging.OrNop(logger)}
}

// OpenPostgres connects to url, checks the connection and creates the schema
// if needed. Close releases the pool.
func OpenPostgres(ctx context.Context, url, chainName string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, &IOError{Op: "connect", Location: "postgres", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &IOError{Op: "ping", Location: "postgres", Err: err}
	}
	p := NewPostgres(pool, chainName, logger)
	p.owned = true
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Migrate creates the chain tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return &IOError{Op: "migrate", Location: "postgres", Err: err}
	}
	return nil
}

func (p *Postgres) Driver() string { return "postgres" }

// Close implements Backend.
func (p *Postgres) Close() error {
	if p.owned {
		p.pool.Close()
	}
	return nil
}

// Load implements Backend. It streams all rows of the chain in index order.
func (p *Postgres) Load(ctx context.Context, opts ...chain.Option) (*chain.Store, error) {
	var alg int16
	var length int64
	if err := p.pool.QueryRow(ctx,
		"SELECT algorithm, length FROM chain_meta WHERE chain = $1", p.chain,
	).Scan(&alg, &length); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoChain
		}
		return nil, &IOError{Op: "read meta", Location: p.chain, Err: err}
	}
	if length < 0 {
		return nil, &codec.Error{Err: codec.ErrMalformed, Detail: fmt.Sprintf("chain_meta.length %d", length)}
	}
	h, err := digest.New(digest.Algorithm(alg))
	if err != nil {
		return nil, &codec.Error{Err: codec.ErrMalformed, Detail: err.Error()}
	}

	rows, err := p.pool.Query(ctx,
		"SELECT raw FROM chain_blocks WHERE chain = $1 ORDER BY idx ASC", p.chain,
	)
	if err != nil {
		return nil, &IOError{Op: "query blocks", Location: p.chain, Err: err}
	}
	defer rows.Close()

	blocks := blockBuffer(uint64(length))
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, &IOError{Op: "scan block", Location: p.chain, Err: err}
		}
		b, err := block.Unmarshal(raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(blocks), err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, &IOError{Op: "query blocks", Location: p.chain, Err: err}
	}
	if int64(len(blocks)) != length {
		return nil, &codec.Error{Err: codec.ErrTruncated, Detail: fmt.Sprintf("meta records %d blocks, found %d", length, len(blocks))}
	}

	p.logger.Debug("postgres chain loaded", zap.String("chain", p.chain), zap.Int("blocks", len(blocks)))
	return chain.FromBlocks(h, blocks, opts...), nil
}

// Save implements Backend. It takes a transaction-scoped advisory lock,
// replaces the chain's rows with a bulk COPY and commits.
func (p *Postgres) Save(ctx context.Context, s *chain.Store) error {
	blocks := s.Blocks()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return &IOError{Op: "begin tx", Location: p.chain, Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return &IOError{Op: "acquire advisory lock", Location: p.chain, Err: err}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO chain_meta (chain, algorithm, length, saved_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (chain) DO UPDATE
		 SET algorithm = EXCLUDED.algorithm, length = EXCLUDED.length, saved_at = EXCLUDED.saved_at`,
		p.chain, int16(s.Hasher().Algorithm()), int64(len(blocks)), time.Now().UTC(),
	); err != nil {
		return &IOError{Op: "upsert meta", Location: p.chain, Err: err}
	}

	if _, err := tx.Exec(ctx, "DELETE FROM chain_blocks WHERE chain = $1", p.chain); err != nil {
		return &IOError{Op: "delete blocks", Location: p.chain, Err: err}
	}

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"chain_blocks"},
		[]string{"chain", "idx", "ts", "digest", "raw"},
		pgx.CopyFromSlice(len(blocks), func(i int) ([]any, error) {
			b := blocks[i]
			d := b.Digest()
			return []any{p.chain, int64(i), b.Timestamp(), d[:], b.Marshal()}, nil
		}),
	)
	if err != nil {
		return &IOError{Op: "copy blocks", Location: p.chain, Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &IOError{Op: "commit", Location: p.chain, Err: err}
	}

	p.logger.Debug("postgres chain saved",
		zap.String("chain", p.chain),
		zap.Int64("blocks", copied),
	)
	return nil
}
