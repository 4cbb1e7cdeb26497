package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thanhnp/chain-bridge/internal/api/middleware"
	"github.com/thanhnp/chain-bridge/internal/bootstrap"
	"github.com/thanhnp/chain-bridge/internal/bridge"
	"github.com/thanhnp/chain-bridge/internal/models"
)

// BridgeHandler handles chain registry and cross-chain transfer requests
type BridgeHandler struct {
	network *bootstrap.Network
}

// NewBridgeHandler creates a new BridgeHandler
func NewBridgeHandler(network *bootstrap.Network) *BridgeHandler {
	return &BridgeHandler{
		network: network,
	}
}

type chainResponse struct {
	*models.LedgerInfo
	Registration *models.ChainRegistration `json:"registration,omitempty"`
}

func (h *BridgeHandler) chain(id models.ChainID) (*chainResponse, error) {
	l, err := h.network.Ledger(id)
	if err != nil {
		return nil, err
	}
	resp := &chainResponse{LedgerInfo: l.Info()}
	if reg, err := h.network.Router.ChainInfo(id); err == nil {
		resp.Registration = reg
	}
	return resp, nil
}

// ListChains returns every chain ledger with its bridge registration
// GET /api/v1/chains
func (h *BridgeHandler) ListChains(c *gin.Context) {
	ids := h.network.ChainIDs()
	chains := make([]*chainResponse, 0, len(ids))
	for _, id := range ids {
		resp, err := h.chain(id)
		if err != nil {
			respondError(c, err)
			return
		}
		chains = append(chains, resp)
	}
	c.JSON(http.StatusOK, gin.H{
		"chains": chains,
		"count":  len(chains),
	})
}

// GetChain returns one chain ledger with its bridge registration
// GET /api/v1/chains/:chain
func (h *BridgeHandler) GetChain(c *gin.Context) {
	resp, err := h.chain(middleware.ChainFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive enables or disables bridging from and to a chain. Only the
// bridge operator may call it.
// PUT /api/v1/chains/:chain/active
func (h *BridgeHandler) SetActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	operator := h.network.Router.Operator()
	if operator == (models.Principal{}) || caller(c) != operator {
		respondError(c, bridge.ErrUnauthorized)
		return
	}

	chain := middleware.ChainFrom(c)
	if err := h.network.Router.SetChainActive(chain, *req.Active); err != nil {
		respondError(c, err)
		return
	}
	reg, err := h.network.Router.ChainInfo(chain)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reg)
}

type initiateRequest struct {
	SourceChain models.ChainID `json:"source_chain" binding:"required"`
	DestChain   models.ChainID `json:"dest_chain" binding:"required"`
	Recipient   string         `json:"recipient" binding:"required"`
	amountRequest
}

// Initiate locks the caller's funds on the source chain and opens a transfer
// POST /api/v1/bridge/transfers
func (h *BridgeHandler) Initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	recipient, err := models.ParsePrincipal(req.Recipient)
	if err != nil {
		badRequest(c, err)
		return
	}
	amount, err := req.parse()
	if err != nil {
		badRequest(c, err)
		return
	}

	t, err := h.network.Router.InitiateTransfer(caller(c), req.SourceChain, req.DestChain, recipient, amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// List returns transfers in initiation order, optionally filtered by ?status
// GET /api/v1/bridge/transfers
func (h *BridgeHandler) List(c *gin.Context) {
	status := models.TransferStatus(c.Query("status"))
	switch status {
	case "", models.TransferPending, models.TransferConfirmed, models.TransferExecuted, models.TransferFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status. Must be pending, confirmed, executed or failed"})
		return
	}

	transfers := h.network.Router.Transfers(status)
	c.JSON(http.StatusOK, gin.H{
		"transfers": transfers,
		"count":     len(transfers),
	})
}

func parseHashParam(c *gin.Context) (models.Hash, bool) {
	hash, err := models.ParseHash(c.Param("hash"))
	if err != nil {
		badRequest(c, err)
		return models.Hash{}, false
	}
	return hash, true
}

// Get returns one transfer
// GET /api/v1/bridge/transfers/:hash
func (h *BridgeHandler) Get(c *gin.Context) {
	hash, ok := parseHashParam(c)
	if !ok {
		return
	}
	t, err := h.network.Router.Transfer(hash)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Confirm records the caller's confirmation and executes the transfer once
// the destination's threshold is reached
// POST /api/v1/bridge/transfers/:hash/confirm
func (h *BridgeHandler) Confirm(c *gin.Context) {
	hash, ok := parseHashParam(c)
	if !ok {
		return
	}
	t, err := h.network.Router.ConfirmTransfer(hash, caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Cancel fails a pending transfer and refunds the sender
// POST /api/v1/bridge/transfers/:hash/cancel
func (h *BridgeHandler) Cancel(c *gin.Context) {
	hash, ok := parseHashParam(c)
	if !ok {
		return
	}
	t, err := h.network.Router.CancelTransfer(hash, caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
