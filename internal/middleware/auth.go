package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"webchat-service/internal/auth"
)

// AuthMiddleware authenticates REST calls with the same gate as the
// websocket handshake. It sets "identity" and "userID" on the context.
func AuthMiddleware(gate *auth.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := gate.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("identity", identity)
		c.Set("userID", identity.ID)
		c.Next()
	}
}
