package middleware

import (
	"errors"
	"net/http"
	"strings"

	"signaling-service/internal/auth"
	"signaling-service/pkg/response"

	"github.com/gin-gonic/gin"
)

// ContextUserID is the gin context key holding the authenticated user ID.
const ContextUserID = "user_id"

type AuthMiddleware struct {
	authenticator *auth.TokenAuthenticator
}

func NewAuthMiddleware(authenticator *auth.TokenAuthenticator) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
	}
}

// RequireAuth accepts only an "Authorization: Bearer" header.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		am.authenticate(c, c.GetHeader("Authorization"))
	}
}

func (am *AuthMiddleware) authenticate(c *gin.Context, credential string) {
	userID, err := am.authenticator.Authenticate(credential)
	if err != nil {
		reason := auth.ReasonInvalidCredential
		var authErr *auth.AuthError
		if errors.As(err, &authErr) {
			reason = authErr.Reason
		}
		c.Error(err)
		response.Abort(c, http.StatusUnauthorized, response.AuthFailed, reason)
		return
	}

	c.Set(ContextUserID, userID)
	c.Next()
}

// UserID returns the user ID stored by the auth middlewares.
func UserID(c *gin.Context) (string, bool) {
	userID := c.GetString(ContextUserID)
	return userID, strings.TrimSpace(userID) != ""
}
