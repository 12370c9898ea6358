package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/orgkeep/backend/internal/auth"
	"github.com/orgkeep/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
)

// IdentityResolver verifies an access token.
type IdentityResolver interface {
	CurrentUser(accessToken string) (auth.Identity, error)
}

// JWT returns a middleware that validates the bearer access token and sets the caller in context.
func JWT(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		id, err := resolver.CurrentUser(parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Set(ContextUserID, id.UserID)
		c.Set(ContextUserEmail, id.Email)
		c.Next()
	}
}

// UserID returns the authenticated user id set by JWT.
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
