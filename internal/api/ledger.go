// Package api serves a read-only HTTP view of a ledger.
package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/chronochain/internal/block"
	"github.com/jmerrifield20/chronochain/internal/chain"
	"github.com/jmerrifield20/chronochain/internal/digest"
	"github.com/jmerrifield20/chronochain/internal/ledger"
	"github.com/jmerrifield20/chronochain/internal/validator"
	"go.uber.org/zap"
)

// Ledger is the subset of *ledger.Ledger the handlers need.
type Ledger interface {
	Info(ctx context.Context) (ledger.Info, error)
	Get(ctx context.Context, index uint64) (block.Block, error)
	ByDigest(ctx context.Context, d digest.Digest) (block.Block, error)
	Range(ctx context.Context, from, to time.Time) ([]block.Block, error)
	Validate(ctx context.Context) (validator.Result, error)
}

// LedgerHandler exposes read-only HTTP endpoints for a ledger.
type LedgerHandler struct {
	ledger Ledger
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(l Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
		l.GET("/blocks", h.ListBlocks)
		l.GET("/blocks/:idx", h.GetBlock)
		l.GET("/blocks/by-digest/:digest", h.GetBlockByDigest)
	}
}

// Overview handles GET /ledger and returns the chain length, tip digest and algorithm.
func (h *LedgerHandler) Overview(c *gin.Context) {
	info, err := h.ledger.Info(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger Info", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// Verify handles GET /ledger/verify. It walks the full chain and reports integrity.
// An invalid chain is still a 200: the report is the payload.
func (h *LedgerHandler) Verify(c *gin.Context) {
	res, err := h.ledger.Validate(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger Validate", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
		return
	}
	if res.Interrupted {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "validation interrupted"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetBlock handles GET /ledger/blocks/:idx and returns a single block.
func (h *LedgerHandler) GetBlock(c *gin.Context) {
	idx, err := strconv.ParseUint(c.Param("idx"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	b, err := h.ledger.Get(c.Request.Context(), idx)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
			return
		}
		h.logger.Error("ledger Get", zap.Uint64("index", idx), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
		return
	}
	c.JSON(http.StatusOK, b)
}

// GetBlockByDigest handles GET /ledger/blocks/by-digest/:digest and returns
// the block with that hex-encoded digest.
func (h *LedgerHandler) GetBlockByDigest(c *gin.Context) {
	var d digest.Digest
	if err := d.UnmarshalText([]byte(c.Param("digest"))); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "digest must be 64 hex characters"})
		return
	}

	b, err := h.ledger.ByDigest(c.Request.Context(), d)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
			return
		}
		h.logger.Error("ledger ByDigest", zap.Stringer("digest", d), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
		return
	}
	c.JSON(http.StatusOK, b)
}

// ListBlocks handles GET /ledger/blocks?since=...&until=... and returns
// the blocks timestamped within the bounds. Bounds accept any format dateparse
// understands; either may be omitted.
func (h *LedgerHandler) ListBlocks(c *gin.Context) {
	from := time.UnixMilli(math.MinInt64)
	to := time.UnixMilli(math.MaxInt64)

	if s := c.Query("since"); s != "" {
		t, err := dateparse.ParseAny(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since: " + err.Error()})
			return
		}
		from = t
	}
	if s := c.Query("until"); s != "" {
		t, err := dateparse.ParseAny(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid until: " + err.Error()})
			return
		}
		to = t
	}

	blocks, err := h.ledger.Range(c.Request.Context(), from, to)
	if err != nil {
		h.logger.Error("ledger Range", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
		return
	}
	if blocks == nil {
		blocks = []block.Block{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(blocks), "blocks": blocks})
}
