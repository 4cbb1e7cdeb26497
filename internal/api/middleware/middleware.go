package middleware

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/thanhnp/chain-bridge/internal/models"
)

const (
	// PrincipalHeader carries the caller identity established by the
	// authenticating proxy in front of the server
	PrincipalHeader = "X-Principal"
	RequestIDHeader = "X-Request-ID"

	principalKey = "principal"
	chainKey     = "chain"
	requestIDKey = "request_id"
)

// Logger logs request information
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Filter out HTTP/2 connection preface attempts
		if c.Request.Method == "PRI" {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[API] %s %s %d %v id=%s", c.Request.Method, path, status, latency, c.GetString(requestIDKey))
	}
}

// Recovery recovers from panics and returns a 500 error
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[API] Panic recovered: %v", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
			}
		}()
		c.Next()
	}
}

// CORS adds CORS headers
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+PrincipalHeader+", "+RequestIDHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestID tags every request with an ID, reusing the client's if given
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

// Principal reads the caller identity from the X-Principal header. Requests
// without one continue anonymously; a malformed one is rejected.
func Principal() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(PrincipalHeader)
		if raw == "" {
			c.Next()
			return
		}
		p, err := models.ParsePrincipal(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "Invalid " + PrincipalHeader + " header",
			})
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// RequirePrincipal rejects anonymous requests
func RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := PrincipalFrom(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": PrincipalHeader + " header required",
			})
			return
		}
		c.Next()
	}
}

// PrincipalFrom returns the caller identity set by Principal
func PrincipalFrom(c *gin.Context) (models.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return models.Principal{}, false
	}
	p, ok := v.(models.Principal)
	return p, ok
}

// ValidateChain validates the chain parameter against the deployed ledgers
func ValidateChain(known func(models.ChainID) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		chain, err := models.ParseChainID(c.Param("chain"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "Invalid chain parameter. Must be a numeric chain id",
			})
			return
		}
		if !known(chain) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error": "Unknown chain " + chain.String(),
			})
			return
		}
		c.Set(chainKey, chain)
		c.Next()
	}
}

// ChainFrom returns the chain set by ValidateChain
func ChainFrom(c *gin.Context) models.ChainID {
	v, _ := c.Get(chainKey)
	chain, _ := v.(models.ChainID)
	return chain
}
