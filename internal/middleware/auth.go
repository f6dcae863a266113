package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/erp-admin/internal/auth"
	"github.com/jwalitptl/erp-admin/internal/handler"
)

const (
	ContextUserID = "userID"
	ContextGroups = "groups"
)

type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

type AuthMiddleware struct {
	tokens TokenValidator
}

func NewAuthMiddleware(tokens TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Authenticate verifies the bearer token and sets the caller's user id and
// groups in the context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("missing authorization header"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid authorization format"))
			return
		}

		claims, err := m.tokens.Validate(parts[1])
		if err != nil {
			message := "invalid token"
			if errors.Is(err, auth.ErrMissingToken) {
				message = "missing token"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse(message))
			return
		}

		c.Set(ContextUserID, claims.UserID())
		c.Set(ContextGroups, claims.Groups)
		c.Next()
	}
}

// UserID returns the authenticated user id, or "".
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
