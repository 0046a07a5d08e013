package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"founderos-knowledge/internal/pkg/jwtutil"
	"founderos-knowledge/internal/transport/http/response"
)

const (
	ContextUserIDKey      = "user_id"
	ContextWorkspaceIDKey = "workspace_id"
	ContextEmailKey       = "email"
)

func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, 401, response.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, 401, response.CodeUnauthorized, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, 401, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextWorkspaceIDKey, claims.WorkspaceID)
		c.Set(ContextEmailKey, claims.Email)
		c.Next()
	}
}

// Identity pulls the authenticated user and workspace out of the request
// context. It only returns false on a route that skipped AuthJWT.
func Identity(c *gin.Context) (userID, workspaceID uuid.UUID, ok bool) {
	userIDAny, exists := c.Get(ContextUserIDKey)
	if !exists {
		return uuid.Nil, uuid.Nil, false
	}
	workspaceIDAny, exists := c.Get(ContextWorkspaceIDKey)
	if !exists {
		return uuid.Nil, uuid.Nil, false
	}
	userID, uok := userIDAny.(uuid.UUID)
	workspaceID, wok := workspaceIDAny.(uuid.UUID)
	return userID, workspaceID, uok && wok
}
