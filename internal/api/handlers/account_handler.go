package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thanhnp/chain-bridge/internal/api/middleware"
	"github.com/thanhnp/chain-bridge/internal/bootstrap"
	"github.com/thanhnp/chain-bridge/internal/models"
	"github.com/thanhnp/chain-bridge/pkg/units"
)

// AccountHandler handles balance, allowance and token movement requests on
// one chain ledger
type AccountHandler struct {
	network *bootstrap.Network
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(network *bootstrap.Network) *AccountHandler {
	return &AccountHandler{
		network: network,
	}
}

// Get returns an account's balance
// GET /api/v1/chains/:chain/accounts/:address
func (h *AccountHandler) Get(c *gin.Context) {
	addr, ok := parsePrincipalParam(c, "address")
	if !ok {
		return
	}
	l, err := h.network.Ledger(middleware.ChainFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	balance := l.BalanceOf(addr)
	c.JSON(http.StatusOK, gin.H{
		"address": addr.Hex(),
		"chain":   l.ChainID(),
		"balance": balance.Dec(),
		"tokens":  units.FormatTokens(balance),
	})
}

// GetAllowance returns how much spender may move out of address
// GET /api/v1/chains/:chain/accounts/:address/allowances/:spender
func (h *AccountHandler) GetAllowance(c *gin.Context) {
	owner, ok := parsePrincipalParam(c, "address")
	if !ok {
		return
	}
	spender, ok := parsePrincipalParam(c, "spender")
	if !ok {
		return
	}
	l, err := h.network.Ledger(middleware.ChainFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.Allowance{
		Owner:   owner.Hex(),
		Spender: spender.Hex(),
		Amount:  l.Allowance(owner, spender).Dec(),
	})
}

type transferRequest struct {
	To string `json:"to" binding:"required"`
	amountRequest
}

// Transfer moves the caller's tokens to another account
// POST /api/v1/chains/:chain/transfer
func (h *AccountHandler) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	to, err := models.ParsePrincipal(req.To)
	if err != nil {
		badRequest(c, err)
		return
	}
	amount, err := req.parse()
	if err != nil {
		badRequest(c, err)
		return
	}
	l, err := h.network.Ledger(middleware.ChainFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	from := caller(c)
	if err := l.Transfer(from, to, amount); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"from":    from.Hex(),
		"to":      to.Hex(),
		"amount":  amount.Dec(),
		"balance": l.BalanceOf(from).Dec(),
	})
}

type approveRequest struct {
	Spender string `json:"spender" binding:"required"`
	amountRequest
}

// Approve sets the caller's allowance for a spender; zero clears it
// POST /api/v1/chains/:chain/approve
func (h *AccountHandler) Approve(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	spender, err := models.ParsePrincipal(req.Spender)
	if err != nil {
		badRequest(c, err)
		return
	}
	amount, err := req.parse()
	if err != nil {
		badRequest(c, err)
		return
	}
	l, err := h.network.Ledger(middleware.ChainFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	owner := caller(c)
	if err := l.Approve(owner, spender, amount); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.Allowance{
		Owner:   owner.Hex(),
		Spender: spender.Hex(),
		Amount:  l.Allowance(owner, spender).Dec(),
	})
}

type transferFromRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
	amountRequest
}

// TransferFrom moves tokens out of another account using the caller's allowance
// POST /api/v1/chains/:chain/transfer-from
func (h *AccountHandler) TransferFrom(c *gin.Context) {
	var req transferFromRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	from, err := models.ParsePrincipal(req.From)
	if err != nil {
		badRequest(c, err)
		return
	}
	to, err := models.ParsePrincipal(req.To)
	if err != nil {
		badRequest(c, err)
		return
	}
	amount, err := req.parse()
	if err != nil {
		badRequest(c, err)
		return
	}
	l, err := h.network.Ledger(middleware.ChainFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	spender := caller(c)
	if err := l.TransferFrom(spender, from, to, amount); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"from":      from.Hex(),
		"to":        to.Hex(),
		"amount":    amount.Dec(),
		"allowance": l.Allowance(from, spender).Dec(),
	})
}

// CreateTransaction adds a transfer from the caller to the pending pool
// POST /api/v1/chains/:chain/transactions
func (h *AccountHandler) CreateTransaction(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	to, err := models.ParsePrincipal(req.To)
	if err != nil {
		badRequest(c, err)
		return
	}
	amount, err := req.parse()
	if err != nil {
		badRequest(c, err)
		return
	}
	l, err := h.network.Ledger(middleware.ChainFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	hash, err := l.CreateTransaction(caller(c), to, amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"hash":    hash.String(),
		"pending": l.PendingCount(),
	})
}
