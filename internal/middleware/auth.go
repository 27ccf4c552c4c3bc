package middleware

import (
	"strings"

	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/gin-gonic/gin"
)

// Context keys set by AuthMiddleware
const (
	ContextUserID = "user_id"
	ContextEmail  = "email"
)

// AuthMiddleware verifies JWT tokens and adds user info to context
func AuthMiddleware(tokens *utils.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			utils.RespondError(c, apperror.Unauthorized("authorization token required"))
			return
		}

		claims, err := tokens.Validate(tokenString)
		if err != nil {
			utils.RespondError(c, apperror.Unauthorized("invalid or expired token"))
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextEmail, claims.Email)

		c.Next()
	}
}

// CurrentUserID returns the authenticated user's id
func CurrentUserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}

// extractToken gets the token from the Authorization header
func extractToken(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
