package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thanhnp/chain-bridge/internal/api/handlers"
	"github.com/thanhnp/chain-bridge/internal/api/middleware"
	"github.com/thanhnp/chain-bridge/internal/bootstrap"
	"github.com/thanhnp/chain-bridge/internal/models"
	"github.com/thanhnp/chain-bridge/internal/storage"
)

// Router wraps the Gin router with handlers
type Router struct {
	engine           *gin.Engine
	network          *bootstrap.Network
	meta             *storage.MetaStore
	blockHandler     *handlers.BlockHandler
	accountHandler   *handlers.AccountHandler
	validatorHandler *handlers.ValidatorHandler
	bridgeHandler    *handlers.BridgeHandler
}

// NewRouter creates a new Router with all handlers. meta may be nil when the
// network is not persisted.
func NewRouter(network *bootstrap.Network, meta *storage.MetaStore, mode string) *Router {
	if mode != "" {
		gin.SetMode(mode)
	}

	r := &Router{
		engine:           gin.New(),
		network:          network,
		meta:             meta,
		blockHandler:     handlers.NewBlockHandler(network),
		accountHandler:   handlers.NewAccountHandler(network),
		validatorHandler: handlers.NewValidatorHandler(network),
		bridgeHandler:    handlers.NewBridgeHandler(network),
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// setupMiddleware configures middleware
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.Logger())
	r.engine.Use(middleware.CORS())
	r.engine.Use(middleware.Principal())
}

func (r *Router) knownChain(chain models.ChainID) bool {
	_, ok := r.network.Ledgers[chain]
	return ok
}

// setupRoutes configures API routes
func (r *Router) setupRoutes() {
	// Health check
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.engine.GET("/version", r.version)

	auth := middleware.RequirePrincipal()

	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/chains", r.bridgeHandler.ListChains)

		chain := v1.Group("/chains/:chain")
		chain.Use(middleware.ValidateChain(r.knownChain))
		{
			chain.GET("", r.bridgeHandler.GetChain)
			chain.PUT("/active", auth, r.bridgeHandler.SetActive)
			chain.GET("/validators", r.validatorHandler.ChainValidators)
			chain.GET("/pending", r.blockHandler.Pending)

			// Block routes
			blocks := chain.Group("/blocks")
			{
				blocks.GET("", r.blockHandler.List)
				blocks.POST("", auth, r.blockHandler.Submit)
				blocks.GET("/latest", r.blockHandler.GetLatest)
				blocks.GET("/hash/:hash", r.blockHandler.GetByHash)
				blocks.GET("/:number", r.blockHandler.GetByNumber)
				blocks.GET("/:number/verify", r.blockHandler.Verify)
				blocks.POST("/:number/attest", auth, r.validatorHandler.Attest)
				blocks.GET("/:number/validations/:address", r.validatorHandler.GetValidation)
			}

			// Account routes
			accounts := chain.Group("/accounts")
			{
				accounts.GET("/:address", r.accountHandler.Get)
				accounts.GET("/:address/allowances/:spender", r.accountHandler.GetAllowance)
			}
			chain.POST("/transfer", auth, r.accountHandler.Transfer)
			chain.POST("/approve", auth, r.accountHandler.Approve)
			chain.POST("/transfer-from", auth, r.accountHandler.TransferFrom)
			chain.POST("/transactions", auth, r.accountHandler.CreateTransaction)
		}

		// Validator routes
		validators := v1.Group("/validators")
		{
			validators.GET("", r.validatorHandler.List)
			validators.POST("/stake", auth, r.validatorHandler.Deposit)
			validators.POST("/unstake", auth, r.validatorHandler.Withdraw)
			validators.GET("/:address", r.validatorHandler.Get)
		}

		// Bridge routes
		transfers := v1.Group("/bridge/transfers")
		{
			transfers.GET("", r.bridgeHandler.List)
			transfers.POST("", auth, r.bridgeHandler.Initiate)
			transfers.GET("/:hash", r.bridgeHandler.Get)
			transfers.POST("/:hash/confirm", auth, r.bridgeHandler.Confirm)
			transfers.POST("/:hash/cancel", auth, r.bridgeHandler.Cancel)
		}
	}
}

// version reports the storage schema and when state was last checkpointed
func (r *Router) version(c *gin.Context) {
	resp := gin.H{"schema_version": storage.SchemaVersion}
	if r.meta != nil {
		at, err := r.meta.SavedAt()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !at.IsZero() {
			resp["saved_at"] = at
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Engine returns the underlying Gin engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Run starts the HTTP server
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}
