package livestatus

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	status    Status
	expiresAt time.Time
}

// MemoryStore is a process-wide Store for single-instance deployments and tests.
// It is created at service start and must be closed on shutdown; a janitor
// goroutine evicts expired entries until then.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	ttl     time.Duration
	clock   func() time.Time
	closed  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	m := &MemoryStore{
		entries: map[string]memEntry{},
		ttl:     ttl,
		clock:   time.Now,
		stop:    make(chan struct{}),
	}
	m.wg.Add(1)
	go m.janitor(janitorInterval(ttl))
	return m
}

func janitorInterval(ttl time.Duration) time.Duration {
	d := ttl / 4
	if d < time.Second {
		d = time.Second
	}
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

func (m *MemoryStore) Put(_ context.Context, s Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	now := m.clock()
	if cur, ok := m.entries[s.CallAttemptID]; ok && now.Before(cur.expiresAt) && !accepts(cur.status, s) {
		return false, nil
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now.UTC()
	}
	m.entries[s.CallAttemptID] = memEntry{status: s, expiresAt: now.Add(m.ttl)}
	return true, nil
}

func (m *MemoryStore) Get(_ context.Context, attemptID string) (Status, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Status{}, false, ErrClosed
	}
	e, ok := m.entries[attemptID]
	if !ok || !m.clock().Before(e.expiresAt) {
		return Status{}, false, nil
	}
	return e.status, true, nil
}

// Len reports the number of stored entries, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the janitor and clears all entries.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.entries = map[string]memEntry{}
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

func (m *MemoryStore) janitor(every time.Duration) {
	defer m.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.evict()
		}
	}
}

func (m *MemoryStore) evict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	for id, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, id)
		}
	}
}
