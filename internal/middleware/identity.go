package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextUserID is the gin context key holding the authenticated user ID.
const ContextUserID = "user_id"

// identityQueryParam carries the identity on websocket upgrades, where
// browsers cannot set custom headers.
const identityQueryParam = "userId"

// ErrMissingIdentity is returned when a request carries no user identity.
var ErrMissingIdentity = errors.New("missing user identity")

// Identity reads the caller identity set by the gateway in header and rejects
// anonymous requests.
func Identity(header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(header))
		if userID == "" && c.Request.Method == http.MethodGet {
			userID = strings.TrimSpace(c.Query(identityQueryParam))
		}
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingIdentity.Error()})
			return
		}
		c.Set(ContextUserID, userID)
		c.Next()
	}
}
