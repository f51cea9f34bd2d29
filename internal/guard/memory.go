package guard

import (
	"context"
	"sort"
	"sync"
	"time"

	"outbound-dialer/internal/calls"
)

// MemoryStore is an in-process Store for tests and single-instance development.
// The mutex plays the role of the unique index; it does not protect a
// multi-process deployment.
type MemoryStore struct {
	mu       sync.Mutex
	locks    map[string]calls.ActiveCallLock // by contact id
	attempts map[string]calls.CallAttempt

	// SealErr, when set, is returned by SealAttempt. Tests use it to
	// simulate a failing write.
	SealErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:    map[string]calls.ActiveCallLock{},
		attempts: map[string]calls.CallAttempt{},
	}
}

func (m *MemoryStore) ActiveLock(_ context.Context, contactID string) (calls.ActiveCallLock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[contactID]
	return l, ok, nil
}

func (m *MemoryStore) LastSealedAttempt(_ context.Context, contactID string) (calls.CallAttempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.lastSealedLocked(contactID)
	return a, ok, nil
}

func (m *MemoryStore) lastSealedLocked(contactID string) (calls.CallAttempt, bool) {
	var (
		last  calls.CallAttempt
		found bool
	)
	for _, a := range m.attempts {
		if a.ContactID != contactID || !a.State.Terminal() {
			continue
		}
		if !found || a.StartedAt.After(last.StartedAt) {
			last, found = a, true
		}
	}
	return last, found
}

func (m *MemoryStore) AcquireLock(_ context.Context, lock calls.ActiveCallLock, attempt calls.CallAttempt, cooldownSince time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[lock.ContactID]; held {
		return calls.ErrDuplicateLock
	}
	if last, ok := m.lastSealedLocked(lock.ContactID); ok && last.StartedAt.After(cooldownSince) {
		return &calls.CooldownError{LastCallTime: last.StartedAt, LastCallerID: last.CallerID}
	}
	m.locks[lock.ContactID] = lock
	m.attempts[attempt.ID] = attempt
	return nil
}

func (m *MemoryStore) GetAttempt(_ context.Context, id string) (calls.CallAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return calls.CallAttempt{}, calls.ErrAttemptNotFound
	}
	return a, nil
}

func (m *MemoryStore) SealAttempt(_ context.Context, a calls.CallAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SealErr != nil {
		return m.SealErr
	}
	if _, ok := m.attempts[a.ID]; !ok {
		return calls.ErrAttemptNotFound
	}
	m.attempts[a.ID] = a
	return nil
}

func (m *MemoryStore) ReleaseLockByAttempt(_ context.Context, attemptID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for contactID, l := range m.locks {
		if l.CallAttemptID == attemptID {
			delete(m.locks, contactID)
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) StaleLocks(_ context.Context, olderThan time.Time, limit int) ([]calls.ActiveCallLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]calls.ActiveCallLock, 0)
	for _, l := range m.locks {
		if l.StartedAt.Before(olderThan) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListAttempts(_ context.Context, f AttemptFilter) ([]calls.CallAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]calls.CallAttempt, 0)
	for _, a := range m.attempts {
		if f.matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// LockCount reports how many contacts are locked.
func (m *MemoryStore) LockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// PutAttempt inserts or replaces an attempt; for seeding tests and the reporting fixture.
func (m *MemoryStore) PutAttempt(a calls.CallAttempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.ID] = a
}
