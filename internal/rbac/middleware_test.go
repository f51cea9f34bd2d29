package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"outbound-dialer/internal/auth"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, workspace, role string, allowed ...string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), auth.Identity{AgentID: "agent-1", WorkspaceID: workspace, Role: role})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireWorkspace(), RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serve(t, "w", RoleAdmin, RoleSupervisor); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_AgentDeniedAdminRoutes(t *testing.T) {
	if code := serve(t, "w", RoleAgent, RoleSupervisor); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_HiddenRoleDeniedUnlessAllowed(t *testing.T) {
	if code := serve(t, "w", RoleReclaimer, RoleSupervisor); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve(t, "w", RoleReclaimer, RoleSupervisor, RoleReclaimer); code != 200 {
		t.Fatalf("expected 200 when explicitly allowed, got %d", code)
	}
}

func TestRequireAnyRole_WorkspaceRequired(t *testing.T) {
	if code := serve(t, "", RoleAgent, RoleAgent); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRequireAnyRole_EmptyListIsAdminOnly(t *testing.T) {
	if code := serve(t, "w", RoleSupervisor); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve(t, "w", RoleAdmin); code != 200 {
		t.Fatalf("expected 200 for admin, got %d", code)
	}
}

func TestPolicy_Permits(t *testing.T) {
	p := Allow(RoleAgent, RoleSupervisor)
	if !p.Permits(RoleAgent) || !p.Permits(RoleAdmin) || p.Permits(RoleReclaimer) || p.Permits("") {
		t.Fatalf("unexpected policy decisions")
	}
}

func TestKnown(t *testing.T) {
	if !Known(RoleSupervisor) || Known("super_admin") {
		t.Fatalf("unexpected role set")
	}
}
