package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thanhnp/chain-bridge/internal/api/middleware"
	"github.com/thanhnp/chain-bridge/internal/bootstrap"
	"github.com/thanhnp/chain-bridge/internal/models"
	"github.com/thanhnp/chain-bridge/pkg/units"
)

// ValidatorHandler handles validator registry requests
type ValidatorHandler struct {
	network *bootstrap.Network
}

// NewValidatorHandler creates a new ValidatorHandler
func NewValidatorHandler(network *bootstrap.Network) *ValidatorHandler {
	return &ValidatorHandler{
		network: network,
	}
}

// List returns every validator ordered by address
// GET /api/v1/validators
func (h *ValidatorHandler) List(c *gin.Context) {
	validators := h.network.Registry.Validators()
	c.JSON(http.StatusOK, gin.H{
		"validators": validators,
		"count":      len(validators),
		"min_stake":  h.network.Registry.MinStake().Dec(),
	})
}

// Get returns one validator's stake, chains and history
// GET /api/v1/validators/:address
func (h *ValidatorHandler) Get(c *gin.Context) {
	addr, ok := parsePrincipalParam(c, "address")
	if !ok {
		return
	}
	v, err := h.network.Registry.Validator(addr)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Deposit adds to the caller's stake
// POST /api/v1/validators/stake
func (h *ValidatorHandler) Deposit(c *gin.Context) {
	h.changeStake(c, true)
}

// Withdraw takes from the caller's stake
// POST /api/v1/validators/unstake
func (h *ValidatorHandler) Withdraw(c *gin.Context) {
	h.changeStake(c, false)
}

func (h *ValidatorHandler) changeStake(c *gin.Context, deposit bool) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	amount, err := req.parse()
	if err != nil {
		badRequest(c, err)
		return
	}

	v := caller(c)
	if deposit {
		err = h.network.Registry.DepositStake(v, amount)
	} else {
		err = h.network.Registry.WithdrawStake(v, amount)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	stake := h.network.Registry.Stake(v)
	c.JSON(http.StatusOK, gin.H{
		"address":         v.Hex(),
		"stake":           stake.Dec(),
		"tokens":          units.FormatTokens(stake),
		"meets_min_stake": h.network.Registry.HasMinimumStake(v),
	})
}

// Attest has the caller verify a block and records the verdict
// POST /api/v1/chains/:chain/blocks/:number/attest
func (h *ValidatorHandler) Attest(c *gin.Context) {
	number, ok := parseNumber(c)
	if !ok {
		return
	}
	l, err := h.network.Ledger(middleware.ChainFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	val, err := h.network.Registry.Attest(caller(c), l, number)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, val)
}

// GetValidation returns a validator's recorded verdict on a block
// GET /api/v1/chains/:chain/blocks/:number/validations/:address
func (h *ValidatorHandler) GetValidation(c *gin.Context) {
	number, ok := parseNumber(c)
	if !ok {
		return
	}
	addr, ok := parsePrincipalParam(c, "address")
	if !ok {
		return
	}

	val, found := h.network.Registry.Validation(addr, middleware.ChainFrom(c), number)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Validation not found"})
		return
	}
	c.JSON(http.StatusOK, val)
}

// ChainValidators returns the validators that support a chain and, per
// origin chain, those allowed to confirm transfers into it
// GET /api/v1/chains/:chain/validators
func (h *ValidatorHandler) ChainValidators(c *gin.Context) {
	chain := middleware.ChainFrom(c)
	l, err := h.network.Ledger(chain)
	if err != nil {
		respondError(c, err)
		return
	}

	crossChain := make(map[string][]string)
	for _, origin := range h.network.ChainIDs() {
		if origin == chain {
			continue
		}
		vs := l.CrossChainValidators(origin)
		if len(vs) == 0 {
			continue
		}
		list := make([]string, 0, len(vs))
		for _, v := range vs {
			list = append(list, v.Hex())
		}
		crossChain[origin.String()] = list
	}

	var supporting []string
	for _, v := range h.network.Registry.Validators() {
		p, err := models.ParsePrincipal(v.Address)
		if err == nil && h.network.Registry.IsEligible(p, chain) {
			supporting = append(supporting, v.Address)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"chain":       chain,
		"eligible":    supporting,
		"count":       h.network.Registry.SupportingCount(chain),
		"cross_chain": crossChain,
	})
}
