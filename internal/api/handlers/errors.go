package handlers

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"

	"github.com/thanhnp/chain-bridge/internal/api/middleware"
	"github.com/thanhnp/chain-bridge/internal/bridge"
	"github.com/thanhnp/chain-bridge/internal/ledger"
	"github.com/thanhnp/chain-bridge/internal/models"
	"github.com/thanhnp/chain-bridge/internal/validator"
	"github.com/thanhnp/chain-bridge/pkg/units"
)

var errMissingAmount = errors.New("amount or tokens is required")

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.IsAny(err,
		models.ErrInvalidAmount,
		bridge.ErrSameChain,
		bridge.ErrInvalidThreshold):
		return http.StatusBadRequest
	case errors.IsAny(err,
		models.ErrNotEligibleValidator,
		bridge.ErrUnauthorized):
		return http.StatusForbidden
	case errors.IsAny(err,
		ledger.ErrBlockNotFound,
		bridge.ErrChainNotRegistered,
		bridge.ErrTransferNotFound,
		validator.ErrValidatorNotFound):
		return http.StatusNotFound
	case errors.IsAny(err,
		bridge.ErrChainAlreadyRegistered,
		bridge.ErrTransferAlreadyExecuted,
		bridge.ErrTransferCancelled,
		bridge.ErrDuplicateConfirmation,
		validator.ErrDuplicateValidation,
		validator.ErrWithdrawalBlocked):
		return http.StatusConflict
	case errors.IsAny(err,
		ledger.ErrInsufficientBalance,
		ledger.ErrInsufficientAllowance,
		validator.ErrInsufficientStake):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// caller returns the principal set by the middleware. Routes that use it
// are behind RequirePrincipal.
func caller(c *gin.Context) models.Principal {
	p, _ := middleware.PrincipalFrom(c)
	return p
}

// amountRequest lets clients give an amount either in base units or in
// whole tokens
type amountRequest struct {
	Amount string `json:"amount"` // base units
	Tokens string `json:"tokens"` // decimal token units, e.g. "1.5"
}

func (r amountRequest) parse() (*uint256.Int, error) {
	switch {
	case r.Amount != "" && r.Tokens != "":
		return nil, errors.New("give either amount or tokens, not both")
	case r.Amount != "":
		return models.ParseAmount(r.Amount)
	case r.Tokens != "":
		return units.ParseTokens(r.Tokens)
	default:
		return nil, errMissingAmount
	}
}

func parsePrincipalParam(c *gin.Context, name string) (models.Principal, bool) {
	p, err := models.ParsePrincipal(c.Param(name))
	if err != nil {
		badRequest(c, err)
		return models.Principal{}, false
	}
	return p, true
}
