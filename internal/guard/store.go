package guard

import (
	"context"
	"time"

	"outbound-dialer/internal/calls"
)

// Store is the persistence contract of the guard.
//
// AcquireLock is the only write that decides who may dial: implementations must
// reject a second lock for the same contact through a storage-level uniqueness
// constraint, never a prior read.
type Store interface {
	ActiveLock(ctx context.Context, contactID string) (calls.ActiveCallLock, bool, error)
	LastSealedAttempt(ctx context.Context, contactID string) (calls.CallAttempt, bool, error)

	// AcquireLock inserts lock and attempt as one unit. It returns
	// calls.ErrDuplicateLock when the contact is already locked and a
	// *calls.CooldownError when a sealed attempt started after cooldownSince.
	// Neither row exists after a rejection.
	AcquireLock(ctx context.Context, lock calls.ActiveCallLock, attempt calls.CallAttempt, cooldownSince time.Time) error

	GetAttempt(ctx context.Context, id string) (calls.CallAttempt, error)
	// SealAttempt overwrites the sealing columns of an existing attempt.
	SealAttempt(ctx context.Context, attempt calls.CallAttempt) error

	// ReleaseLockByAttempt deletes the lock opened with attemptID, if any.
	ReleaseLockByAttempt(ctx context.Context, attemptID string) (bool, error)

	// StaleLocks lists locks started before olderThan, oldest first.
	StaleLocks(ctx context.Context, olderThan time.Time, limit int) ([]calls.ActiveCallLock, error)

	ListAttempts(ctx context.Context, f AttemptFilter) ([]calls.CallAttempt, error)
}

// AttemptFilter narrows ListAttempts. Zero fields do not filter; the range is [From, To).
type AttemptFilter struct {
	WorkspaceID string
	CallerID    string
	ContactID   string
	From        time.Time
	To          time.Time
	Limit       int
}

func (f AttemptFilter) matches(a calls.CallAttempt) bool {
	if f.WorkspaceID != "" && a.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.CallerID != "" && a.CallerID != f.CallerID {
		return false
	}
	if f.ContactID != "" && a.ContactID != f.ContactID {
		return false
	}
	if !f.From.IsZero() && a.StartedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !a.StartedAt.Before(f.To) {
		return false
	}
	return true
}
