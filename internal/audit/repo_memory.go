package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps audit events in process. Tests and the CLI's --local guard use it.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	// failWith, when set, is returned by Append and nothing is stored.
	failWith error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

// FailWith makes later appends fail with err; nil restores normal behaviour.
func (r *MemoryRepo) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith = err
}

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.events = append(r.events, e)
	return nil
}

// Events returns every stored event in append order.
func (r *MemoryRepo) Events() []Event {
	return r.filter(func(Event) bool { return true })
}

// OfType returns the events of type t in append order.
func (r *MemoryRepo) OfType(t EventType) []Event {
	return r.filter(func(e Event) bool { return e.Type == t })
}

// ForContact returns the events that touched contactID.
func (r *MemoryRepo) ForContact(contactID string) []Event {
	return r.filter(func(e Event) bool { return e.ContactID == contactID })
}

func (r *MemoryRepo) filter(keep func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
