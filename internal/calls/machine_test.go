package calls

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMachine_HappyPath(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	m := NewMachine(CallAttempt{ID: "a1", ContactID: "c1", StartedAt: start}, fixedClock(start))
	if m.State() != StateIdle {
		t.Fatalf("expected IDLE, got %s", m.State())
	}

	if tr := m.Apply(Dialing{Kind: DialingTrying, At: start}); !tr.Changed || tr.To != StateDialing {
		t.Fatalf("unexpected transition %+v", tr)
	}
	tr := m.Apply(Ringing{Kind: RingingEarlyMedia, At: start.Add(time.Second)})
	if tr.To != StateRinging || !tr.Ringback {
		t.Fatalf("expected ringing with ringback, got %+v", tr)
	}
	tr = m.Apply(Active{At: start.Add(5 * time.Second)})
	if tr.To != StateConnected || !tr.BillingStarted {
		t.Fatalf("expected connected with billing start, got %+v", tr)
	}

	// held then active again does not re-stamp
	tr = m.Apply(Active{Held: true, At: start.Add(20 * time.Second)})
	if tr.BillingStarted || tr.Changed {
		t.Fatalf("expected no restamp, got %+v", tr)
	}
	if got := m.Attempt().ConnectedAt; got == nil || !got.Equal(start.Add(5*time.Second)) {
		t.Fatalf("unexpected connected at %v", got)
	}

	tr = m.Apply(Hangup{Kind: HangupHangup, Cause: HangupCause{Name: "NORMAL_CLEARING"}, At: start.Add(65 * time.Second)})
	if !tr.Sealed || tr.To != StateWrapUp {
		t.Fatalf("expected sealed, got %+v", tr)
	}
	a := m.Attempt()
	if a.EndReason != EndReasonCustomerHangup {
		t.Fatalf("expected CUSTOMER_HANGUP, got %s", a.EndReason)
	}
	if a.DurationSeconds != 60 {
		t.Fatalf("expected 60s duration, got %d", a.DurationSeconds)
	}
	if !a.Sealed() {
		t.Fatalf("expected sealed attempt")
	}
}

func TestMachine_IgnoresEventsAfterWrapUp(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	m := NewMachine(CallAttempt{ID: "a1"}, fixedClock(now))
	m.Apply(Ringing{Kind: RingingRinging})
	m.Apply(Hangup{Kind: HangupDestroy, Local: true})

	for _, ev := range []ProviderEvent{Active{}, Ringing{Kind: RingingAnswering}, Hangup{Kind: HangupPurge, Cause: HangupCause{Name: "USER_BUSY"}}} {
		if tr := m.Apply(ev); tr.Changed {
			t.Fatalf("expected %T to be ignored, got %+v", ev, tr)
		}
	}
	if m.Attempt().EndReason != EndReasonAgentHangup {
		t.Fatalf("end reason must not change after seal, got %s", m.Attempt().EndReason)
	}
	if m.Seal(EndReasonTimeout).Changed {
		t.Fatalf("seal after wrap-up must be a no-op")
	}
}

func TestMachine_IgnoresRegression(t *testing.T) {
	m := NewMachine(CallAttempt{}, nil)
	m.Apply(Ringing{Kind: RingingRinging})
	if tr := m.Apply(Dialing{Kind: DialingRecovering}); tr.Changed {
		t.Fatalf("expected late dialing event to be ignored, got %+v", tr)
	}
	if m.State() != StateRinging {
		t.Fatalf("expected RINGING, got %s", m.State())
	}
}

func TestMachine_SealWithoutProviderEvent(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	m := NewMachine(CallAttempt{ID: "a1"}, fixedClock(now))

	tr := m.Seal(ReasonForDialError(ErrNetworkUnavailable))
	if !tr.Sealed {
		t.Fatalf("expected sealed")
	}
	a := m.Attempt()
	if a.State != StateWrapUp || a.EndReason != EndReasonNetworkError {
		t.Fatalf("unexpected attempt %+v", a)
	}
	if a.DurationSeconds != 0 {
		t.Fatalf("never connected; expected 0 duration")
	}
	if a.EndedAt == nil || !a.EndedAt.Equal(now) {
		t.Fatalf("expected ended at %v, got %v", now, a.EndedAt)
	}
}

func TestMachine_SealInvalidReasonFallsBackToUnknown(t *testing.T) {
	m := NewMachine(CallAttempt{}, nil)
	m.Seal(EndReason("bogus"))
	if m.Attempt().EndReason != EndReasonUnknown {
		t.Fatalf("expected UNKNOWN, got %s", m.Attempt().EndReason)
	}
}
