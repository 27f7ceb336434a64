package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/modelrelay/relay/internal/store"
	"github.com/modelrelay/relay/pkg/api"
)

// GinKeyAccountID is where Auth stashes the resolved account for handlers.
const GinKeyAccountID = "account_id"

// StaticKeyAccountID is the account assumed for static (config-file) keys.
// Useful for local development and the benchmark harness; the seed command
// creates a matching account.
const StaticKeyAccountID = "local-dev"

// Auth checks for a valid Bearer token in the Authorization header, first
// against the static key list, then against hashed keys in the database.
func Auth(repo store.Repository, staticKeys []string) gin.HandlerFunc {
	staticMap := make(map[string]bool)
	for _, k := range staticKeys {
		staticMap[k] = true
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				api.UnauthorizedError("Missing Authorization header"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				api.UnauthorizedError("Invalid Authorization header format"))
			return
		}

		token := parts[1]

		if staticMap[token] {
			setAccount(c, StaticKeyAccountID)
			c.Next()
			return
		}

		hash := sha256.Sum256([]byte(token))
		hashedHex := hex.EncodeToString(hash[:])

		acct, err := repo.Accounts().GetByKeyHash(c.Request.Context(), hashedHex)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				api.UnauthorizedError("Invalid API Key"))
			return
		}

		setAccount(c, acct.ID)
		c.Next()
	}
}

func setAccount(c *gin.Context, accountID string) {
	c.Set(GinKeyAccountID, accountID)
	ctx := context.WithValue(c.Request.Context(), store.ContextKeyAccountID, accountID)
	c.Request = c.Request.WithContext(ctx)
}

// AccountID fetches the authenticated account set by Auth.
func AccountID(c *gin.Context) string {
	return c.GetString(GinKeyAccountID)
}
