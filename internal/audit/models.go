package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - workspace_id is required; system actions use SystemWorkspace.
// - actor and ip capture are best-effort; do not block critical flows on audit failures.
//
// Storage: table audit_events with an INSERT-only policy (see migrations).
type Event struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorID is the authenticated agent causing the event, or "reclaimer" for the worker.
	ActorID string `json:"actor_id,omitempty" db:"actor_id"`
	// ActorRole may include hidden roles.
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress should capture the original client IP when available.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Target identifiers.
	ContactID     string `json:"contact_id,omitempty" db:"contact_id"`
	CallAttemptID string `json:"call_attempt_id,omitempty" db:"call_attempt_id"`
	LockID        string `json:"lock_id,omitempty" db:"lock_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeLockReclaimed EventType = "lock_reclaimed"
	EventTypeForcedRelease EventType = "lock_forced_release"
)

// SystemWorkspace is recorded when the affected attempt carries no workspace.
const SystemWorkspace = "system"

// SystemActor identifies the scheduled reclaimer.
const SystemActor = "reclaimer"
