package rbac

import (
	"net/http"

	"outbound-dialer/internal/auth"
	"outbound-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Policy is the set of roles admitted to a route. Admin is always admitted;
// the reclaimer service role only when listed.
type Policy struct {
	roles map[string]struct{}
}

func Allow(roles ...string) Policy {
	p := Policy{roles: make(map[string]struct{}, len(roles))}
	for _, r := range roles {
		p.roles[r] = struct{}{}
	}
	return p
}

func (p Policy) Permits(role string) bool {
	if IsAdmin(role) {
		return true
	}
	_, ok := p.roles[role]
	return ok
}

// RequireWorkspace rejects requests whose identity has no workspace; attempts
// and reports are scoped by it.
func RequireWorkspace() gin.HandlerFunc {
	return func(c *gin.Context) {
		if wid, err := auth.WorkspaceID(c.Request.Context()); err != nil || wid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole admits callers whose role is permitted by Allow(allowed...).
// With no roles listed only admin passes.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	return Allow(allowed...).Middleware()
}

func (p Policy) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := auth.FromContext(c.Request.Context())
		if err != nil || id.Role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !p.Permits(id.Role) {
			logger.FromGin(c).Warn("rbac denied", "role", id.Role, "route", c.FullPath())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
