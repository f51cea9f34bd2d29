package reporting

import (
	"context"
	"errors"
	"sync"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/guard"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early development.
// It enforces workspace isolation on reads.

type MemoryRepo struct {
	mu sync.Mutex

	Attempts []calls.CallAttempt
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListAttempts(ctx context.Context, f guard.AttemptFilter) ([]calls.CallAttempt, error) {
	if f.WorkspaceID == "" {
		return nil, errors.New("workspace_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.CallAttempt, 0)
	for _, a := range r.Attempts {
		if a.WorkspaceID != f.WorkspaceID {
			continue
		}
		if f.CallerID != "" && a.CallerID != f.CallerID {
			continue
		}
		if f.ContactID != "" && a.ContactID != f.ContactID {
			continue
		}
		if !a.StartedAt.IsZero() {
			if a.StartedAt.Before(f.From) || !a.StartedAt.Before(f.To) {
				continue
			}
		}
		out = append(out, a)
	}
	return out, nil
}
