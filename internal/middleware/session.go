package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/relaybot/dashboard/pkg/response"
)

// ContextSessionToken is the key for the validated session token in gin context.
const ContextSessionToken = "session_token"

// TokenValidator reports whether a session token is live.
type TokenValidator interface {
	Validate(token string) bool
}

// Session returns a middleware that requires "Authorization: Bearer <token>" with a live session.
func Session(store TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok || !store.Validate(token) {
			response.Unauthorized(c, "Unauthorized")
			c.Abort()
			return
		}
		c.Set(ContextSessionToken, token)
		c.Next()
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
