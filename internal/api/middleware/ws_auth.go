package middleware

import (
	"github.com/gin-gonic/gin"
)

// WSAuth gates the WebSocket handshake. Browsers cannot set headers on a
// WebSocket request, so the credential is read from the "token" query
// parameter and only then from the Authorization header. A refused handshake
// never reaches the upgrade.
func (am *AuthMiddleware) WSAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := c.Query("token")
		if credential == "" {
			credential = c.GetHeader("Authorization")
		}
		am.authenticate(c, credential)
	}
}
