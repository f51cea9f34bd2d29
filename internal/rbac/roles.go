package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAgent      = "agent"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
	// RoleReclaimer is a service identity for external schedulers that only
	// trigger stale-lock reclamation.
	RoleReclaimer = "reclaimer"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// Known reports whether role is one this service issues tokens for.
func Known(role string) bool {
	switch role {
	case RoleAgent, RoleSupervisor, RoleAdmin, RoleReclaimer:
		return true
	default:
		return false
	}
}
