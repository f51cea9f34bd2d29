package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to agents.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.WorkspaceID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LockRecord is what the audit trail keeps about a released lock.
type LockRecord struct {
	WorkspaceID   string
	LockID        string
	ContactID     string
	CallerID      string
	CallAttemptID string
	StartedAt     time.Time
}

// LogLockReclaimed records a stale lock removed by the reclaimer.
func (s *Service) LogLockReclaimed(ctx context.Context, l LockRecord, age time.Duration) error {
	return s.Append(ctx, Event{
		WorkspaceID:   workspaceOrSystem(l.WorkspaceID),
		Type:          EventTypeLockReclaimed,
		ActorID:       SystemActor,
		ContactID:     l.ContactID,
		CallAttemptID: l.CallAttemptID,
		LockID:        l.LockID,
		Message:       "stale lock reclaimed",
		Metadata:      lockMetadata(l, age),
	})
}

// LogForcedRelease records an administrator deleting a lock by contact.
func (s *Service) LogForcedRelease(ctx context.Context, l LockRecord, actorID, actorRole, ip string) error {
	return s.Append(ctx, Event{
		WorkspaceID:   workspaceOrSystem(l.WorkspaceID),
		Type:          EventTypeForcedRelease,
		ActorID:       actorID,
		ActorRole:     actorRole,
		IPAddress:     ip,
		ContactID:     l.ContactID,
		CallAttemptID: l.CallAttemptID,
		LockID:        l.LockID,
		Message:       "lock released by operator",
		Metadata:      lockMetadata(l, s.clock().Sub(l.StartedAt)),
	})
}

func workspaceOrSystem(w string) string {
	if w == "" {
		return SystemWorkspace
	}
	return w
}

func lockMetadata(l LockRecord, age time.Duration) string {
	b, err := json.Marshal(map[string]any{
		"caller_id":   l.CallerID,
		"started_at":  l.StartedAt.UTC(),
		"age_seconds": int64(age.Seconds()),
	})
	if err != nil {
		return ""
	}
	return string(b)
}
