package dialer

import (
	"errors"
	"sync"
	"sync/atomic"

	"outbound-dialer/internal/calls"
)

var ErrEmptyQueue = errors.New("dialer: queue is empty")

// Progress is a point-in-time view of a session.
type Progress struct {
	Index     int  `json:"index"`
	Len       int  `json:"len"`
	Completed int  `json:"completed"`
	Active    bool `json:"active"`
}

// Session walks a QueueSnapshot exactly once per contact.
//
// Invariant: completed <= index+1 <= len, and index never decreases. The
// session turns inactive once, either exhausted or stopped.
type Session struct {
	snap QueueSnapshot

	mu        sync.Mutex
	index     int
	completed map[string]struct{}
	active    bool
	done      chan struct{}

	inFlight atomic.Bool
}

// Start opens a session over a copy of contacts. An empty list returns an
// inactive session and ErrEmptyQueue.
func Start(contacts []calls.Contact) (*Session, calls.Contact, error) {
	return StartSnapshot(BuildSnapshot(contacts, nil))
}

func StartSnapshot(snap QueueSnapshot) (*Session, calls.Contact, error) {
	s := &Session{
		snap:      snap,
		completed: map[string]struct{}{},
		done:      make(chan struct{}),
	}
	first, ok := snap.At(0)
	if !ok {
		close(s.done)
		return s, calls.Contact{}, ErrEmptyQueue
	}
	s.active = true
	return s, first, nil
}

func (s *Session) Snapshot() QueueSnapshot { return s.snap }

// Current returns the contact at the current index while the session is active.
func (s *Session) Current() (calls.Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *Session) currentLocked() (calls.Contact, bool) {
	if !s.active {
		return calls.Contact{}, false
	}
	return s.snap.At(s.index)
}

// AdvanceToNext marks the current contact completed and moves to the next one.
// It returns false once the queue is exhausted. A call made while another
// advance is in flight is a no-op that returns the current contact.
func (s *Session) AdvanceToNext() (calls.Contact, bool) {
	next, ok, _, _ := s.advance("", nil)
	return next, ok
}

// Skip moves past the current contact without a disposition.
func (s *Session) Skip() (calls.Contact, bool) { return s.AdvanceToNext() }

// AdvanceFrom advances only while contactID is still current. before runs
// inside the in-flight window; an error from it cancels the advance and is
// returned.
func (s *Session) AdvanceFrom(contactID string, before func() error) (calls.Contact, bool, error) {
	next, ok, _, err := s.advance(contactID, before)
	return next, ok, err
}

// advance also reports whether this call moved the session; a no-op advance
// (another one in flight, stale contact, stopped session) returns moved false.
func (s *Session) advance(contactID string, before func() error) (next calls.Contact, ok, moved bool, err error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		c, ok := s.Current()
		return c, ok, false, nil
	}
	defer s.inFlight.Store(false)

	cur, ok := s.Current()
	if !ok {
		return calls.Contact{}, false, false, nil
	}
	if contactID != "" && cur.ID != contactID {
		return cur, true, false, nil
	}
	if before != nil {
		if err := before(); err != nil {
			return cur, true, false, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		// stopped while before ran
		return calls.Contact{}, false, false, nil
	}
	s.completed[cur.ID] = struct{}{}
	if s.index < s.snap.Len()-1 {
		s.index++
		next, _ := s.snap.At(s.index)
		return next, true, true, nil
	}
	s.deactivateLocked()
	return calls.Contact{}, false, true, nil
}

// Stop ends the session. It reports whether this call ended it.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.deactivateLocked()
	return true
}

func (s *Session) deactivateLocked() {
	s.active = false
	close(s.done)
}

// Done is closed when the session turns inactive.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Completed reports whether contactID was marked completed.
func (s *Session) Completed(contactID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completed[contactID]
	return ok
}

func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Progress{Index: s.index, Len: s.snap.Len(), Completed: len(s.completed), Active: s.active}
}
