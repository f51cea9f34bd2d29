package auth

import (
	"net/http"
	"strings"
	"time"

	"outbound-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

const bearerPrefix = "Bearer "

// RequireAccessToken verifies the access token and stores the agent identity on
// the request context. RBAC checks belong to internal/rbac.
//
// Websocket upgrades may pass the token as ?access_token= since browsers cannot
// set headers on them.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := tokenFrom(c.Request)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(tok, time.Now())
		if err != nil {
			logger.FromGin(c).Debug("access token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		id := claims.Identity()
		ctx := WithIdentity(c.Request.Context(), id)
		// downstream guard and audit logs carry the agent
		ctx = logger.With(ctx, logger.From(ctx).With("agent_id", id.AgentID, "workspace_id", id.WorkspaceID))
		c.Request = c.Request.WithContext(ctx)
		c.Set(logger.KeyAgentID, id.AgentID)

		c.Next()
	}
}

func tokenFrom(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) > len(bearerPrefix) && strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(raw[len(bearerPrefix):])
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}
