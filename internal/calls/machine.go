package calls

import (
	"math"
	"time"
)

// Transition describes the effect of one event on a Machine.
type Transition struct {
	From CallState
	To   CallState

	// Changed is false when the event was ignored (sealed attempt or a regression).
	Changed bool
	// Sealed is true only for the event that moved the attempt to WRAP_UP.
	Sealed bool
	// Ringback is true when the attempt entered RINGING; the caller may attach
	// ringback audio. It has no effect on state.
	Ringback bool
	// BillingStarted is true for the first active-class event of the attempt.
	BillingStarted bool
}

// Machine folds provider events into the canonical state of one attempt.
//
// Once WRAP_UP is reached every further event is ignored; a new attempt needs a
// new Machine. A Machine is not safe for concurrent use; its owner serialises access.
type Machine struct {
	attempt CallAttempt
	clock   func() time.Time
}

// NewMachine starts tracking attempt. An empty state is treated as IDLE.
func NewMachine(attempt CallAttempt, clock func() time.Time) *Machine {
	if clock == nil {
		clock = time.Now
	}
	if attempt.State == "" {
		attempt.State = StateIdle
	}
	return &Machine{attempt: attempt, clock: clock}
}

func (m *Machine) State() CallState { return m.attempt.State }

func (m *Machine) Sealed() bool { return m.attempt.State.Terminal() }

// Attempt returns a copy of the tracked attempt.
func (m *Machine) Attempt() CallAttempt { return m.attempt }

// Apply maps a provider event onto the attempt.
func (m *Machine) Apply(ev ProviderEvent) Transition {
	from := m.attempt.State
	if from.Terminal() || ev == nil {
		return Transition{From: from, To: from}
	}
	at := ev.Occurred()
	if at.IsZero() {
		at = m.clock()
	}

	switch e := ev.(type) {
	case Hangup:
		return m.seal(from, ReasonForHangup(e.Local, e.Cause), at)

	case Active:
		t := Transition{From: from, To: StateConnected}
		if m.attempt.ConnectedAt == nil {
			stamp := at.UTC()
			m.attempt.ConnectedAt = &stamp
			t.BillingStarted = true
		}
		if from != StateConnected {
			m.attempt.State = StateConnected
			t.Changed = true
		}
		return t

	case Ringing, Dialing:
		to := TargetState(e)
		if to.rank() <= from.rank() {
			return Transition{From: from, To: from}
		}
		m.attempt.State = to
		return Transition{From: from, To: to, Changed: true, Ringback: to == StateRinging}
	}
	return Transition{From: from, To: from}
}

// Seal forces the attempt to WRAP_UP with reason. It is used when no provider event
// will ever arrive: connect failures, dial timeouts and agent-initiated stops.
func (m *Machine) Seal(reason EndReason) Transition {
	from := m.attempt.State
	if from.Terminal() {
		return Transition{From: from, To: from}
	}
	if !reason.Valid() {
		reason = EndReasonUnknown
	}
	return m.seal(from, reason, m.clock())
}

func (m *Machine) seal(from CallState, reason EndReason, at time.Time) Transition {
	ended := at.UTC()
	m.attempt.State = StateWrapUp
	m.attempt.EndReason = reason
	m.attempt.EndedAt = &ended
	if m.attempt.ConnectedAt != nil {
		m.attempt.DurationSeconds = durationSeconds(*m.attempt.ConnectedAt, ended)
	}
	return Transition{From: from, To: StateWrapUp, Changed: true, Sealed: true}
}

func durationSeconds(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds()))
}
