package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/thanhnp/chain-bridge/internal/api/middleware"
	"github.com/thanhnp/chain-bridge/internal/bootstrap"
	"github.com/thanhnp/chain-bridge/internal/models"
)

// BlockHandler handles block and pending pool API requests
type BlockHandler struct {
	network *bootstrap.Network
}

// NewBlockHandler creates a new BlockHandler
func NewBlockHandler(network *bootstrap.Network) *BlockHandler {
	return &BlockHandler{
		network: network,
	}
}

func parseNumber(c *gin.Context) (uint64, bool) {
	n, err := strconv.ParseUint(c.Param("number"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid block number"})
		return 0, false
	}
	return n, true
}

// GetByNumber returns a block by its number
// GET /api/v1/chains/:chain/blocks/:number
func (h *BlockHandler) GetByNumber(c *gin.Context) {
	number, ok := parseNumber(c)
	if !ok {
		return
	}
	l, err := h.network.Ledger(middleware.ChainFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	block, err := l.Block(number)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, block)
}

// GetByHash returns a block by its hash
// GET /api/v1/chains/:chain/blocks/hash/:hash
func (h *BlockHandler) GetByHash(c *gin.Context) {
	hash, err := models.ParseHash(c.Param("hash"))
	if err != nil {
		badRequest(c, err)
		return
	}
	l, err := h.network.Ledger(middleware.ChainFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	block, err := l.BlockByHash(hash)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, block)
}

// GetLatest returns the latest block
// GET /api/v1/chains/:chain/blocks/latest
func (h *BlockHandler) GetLatest(c *gin.Context) {
	l, err := h.network.Ledger(middleware.ChainFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, l.LatestBlock())
}

// List returns blocks starting at ?from (default 0), at most ?limit (default 100)
// GET /api/v1/chains/:chain/blocks
func (h *BlockHandler) List(c *gin.Context) {
	from, err := strconv.ParseUint(c.DefaultQuery("from", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit. Must be between 1 and 1000"})
		return
	}
	l, err := h.network.Ledger(middleware.ChainFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	blocks := l.Blocks(from)
	if len(blocks) > limit {
		blocks = blocks[:limit]
	}
	c.JSON(http.StatusOK, gin.H{
		"blocks": blocks,
		"count":  len(blocks),
		"height": l.CurrentBlockNumber(),
	})
}

// Verify recomputes a block's hash and checks its link to the previous block
// GET /api/v1/chains/:chain/blocks/:number/verify
func (h *BlockHandler) Verify(c *gin.Context) {
	number, ok := parseNumber(c)
	if !ok {
		return
	}
	l, err := h.network.Ledger(middleware.ChainFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"number": number,
		"valid":  l.VerifyBlock(number),
	})
}

type submitBlockRequest struct {
	Payload      string   `json:"payload"`
	Transactions []string `json:"transactions"`
}

// Submit appends a block signed off by the calling validator and settles the
// referenced pending transactions
// POST /api/v1/chains/:chain/blocks
func (h *BlockHandler) Submit(c *gin.Context) {
	var req submitBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	hashes := make([]models.Hash, 0, len(req.Transactions))
	for _, s := range req.Transactions {
		hash, err := models.ParseHash(s)
		if err != nil {
			badRequest(c, err)
			return
		}
		hashes = append(hashes, hash)
	}
	l, err := h.network.Ledger(middleware.ChainFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := l.SubmitBlock(caller(c), []byte(req.Payload), hashes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Pending returns the pending pool in creation order
// GET /api/v1/chains/:chain/pending
func (h *BlockHandler) Pending(c *gin.Context) {
	l, err := h.network.Ledger(middleware.ChainFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	txs := l.PendingTransactions()
	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"count":        len(txs),
	})
}
