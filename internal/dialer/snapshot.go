package dialer

import "outbound-dialer/internal/calls"

// QueueSnapshot is the ordered contact list captured when a session starts.
// Its length and order never change.
type QueueSnapshot struct {
	contacts []calls.Contact
}

// BuildSnapshot copies the contacts of live that pass eligible, in order. A nil
// predicate keeps every contact. live is never consulted again.
func BuildSnapshot(live []calls.Contact, eligible func(calls.Contact) bool) QueueSnapshot {
	out := make([]calls.Contact, 0, len(live))
	for _, c := range live {
		if eligible == nil || eligible(c) {
			out = append(out, c)
		}
	}
	return QueueSnapshot{contacts: out}
}

func (q QueueSnapshot) Len() int { return len(q.contacts) }

func (q QueueSnapshot) At(i int) (calls.Contact, bool) {
	if i < 0 || i >= len(q.contacts) {
		return calls.Contact{}, false
	}
	return q.contacts[i], true
}

// Contacts returns a copy of the snapshot.
func (q QueueSnapshot) Contacts() []calls.Contact {
	out := make([]calls.Contact, len(q.contacts))
	copy(out, q.contacts)
	return out
}

// StatusIn is an eligibility predicate keeping contacts whose status is one of
// statuses. An empty status list keeps everything.
func StatusIn(statuses ...string) func(calls.Contact) bool {
	if len(statuses) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return func(c calls.Contact) bool {
		_, ok := set[c.Status]
		return ok
	}
}
