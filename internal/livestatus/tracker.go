package livestatus

import (
	"context"
	"log/slog"
	"time"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/events"
	"outbound-dialer/internal/guard"
	"outbound-dialer/internal/metrics"
)

// Publisher is satisfied by *events.Hub.
type Publisher interface {
	Broadcast(m events.Message)
}

// Ref identifies the attempt a provider callback belongs to.
type Ref struct {
	CallAttemptID  string
	Provider       string
	ProviderCallID string
}

// Tracker folds provider callbacks and guard changes into the live status store
// and pushes every applied change to subscribers.
type Tracker struct {
	store Store
	pub   Publisher
	log   *slog.Logger
	clock func() time.Time

	// notifyTimeout bounds store writes made from guard notifications.
	notifyTimeout time.Duration
}

func NewTracker(store Store, pub Publisher, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{store: store, pub: pub, log: log, clock: time.Now, notifyTimeout: 2 * time.Second}
}

// Status returns the live status of an attempt.
func (t *Tracker) Status(ctx context.Context, attemptID string) (Status, bool, error) {
	return t.store.Get(ctx, attemptID)
}

// ApplyProviderEvent runs ev through the call state machine starting from the
// stored state. It reports whether the stored status changed.
func (t *Tracker) ApplyProviderEvent(ctx context.Context, ref Ref, ev calls.ProviderEvent) (Status, bool, error) {
	cur, ok, err := t.store.Get(ctx, ref.CallAttemptID)
	if err != nil {
		return Status{}, false, err
	}
	if !ok {
		cur = Status{CallAttemptID: ref.CallAttemptID, State: calls.StateIdle}
	}

	m := calls.NewMachine(calls.CallAttempt{ID: ref.CallAttemptID, State: cur.State, EndReason: cur.EndReason}, t.clock)
	tr := m.Apply(ev)
	if !tr.Changed {
		return cur, false, nil
	}

	next := cur
	next.State = tr.To
	next.EndReason = m.Attempt().EndReason
	next.Provider = ref.Provider
	if ref.ProviderCallID != "" {
		next.ProviderCallID = ref.ProviderCallID
	}
	next.UpdatedAt = t.clock().UTC()

	applied, err := t.store.Put(ctx, next)
	if err != nil || !applied {
		return cur, false, err
	}
	metrics.ProviderCallbacks.WithLabelValues(ref.Provider, string(next.State)).Inc()
	t.publish(events.EventCallState, next.CallerID, next)
	return next, true, nil
}

// Notify implements guard.Notifier.
func (t *Tracker) Notify(ctx context.Context, c guard.Change) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.notifyTimeout)
	defer cancel()

	switch c.Type {
	case guard.ChangeLockAcquired:
		t.put(ctx, Status{CallAttemptID: c.CallAttemptID, ContactID: c.ContactID, CallerID: c.CallerID, State: calls.StateDialing, UpdatedAt: c.At})
		t.publish(events.EventLockAcquired, c.CallerID, c)
	case guard.ChangeAttemptSealed:
		t.put(ctx, Status{CallAttemptID: c.CallAttemptID, ContactID: c.ContactID, CallerID: c.CallerID, State: calls.StateWrapUp, EndReason: c.EndReason, UpdatedAt: c.At})
		t.publish(events.EventAttemptSealed, c.CallerID, c)
	case guard.ChangeLockReleased:
		if c.State.Terminal() {
			t.put(ctx, Status{CallAttemptID: c.CallAttemptID, ContactID: c.ContactID, CallerID: c.CallerID, State: calls.StateWrapUp, EndReason: c.EndReason, UpdatedAt: c.At})
		}
		t.publish(events.EventLockReleased, c.CallerID, c)
	}
}

func (t *Tracker) put(ctx context.Context, s Status) {
	// Keep provider details learned from callbacks.
	if cur, ok, err := t.store.Get(ctx, s.CallAttemptID); err == nil && ok {
		s.Provider = cur.Provider
		s.ProviderCallID = cur.ProviderCallID
		if s.ContactID == "" {
			s.ContactID = cur.ContactID
		}
	}
	if _, err := t.store.Put(ctx, s); err != nil {
		t.log.Warn("live status put failed", "call_attempt_id", s.CallAttemptID, "err", err)
	}
}

func (t *Tracker) publish(typ events.EventType, callerID string, data any) {
	if t.pub == nil {
		return
	}
	if callerID == "" {
		// nobody owns it yet, e.g. a callback that beat the guard
		t.log.Debug("unowned live event not published", "type", typ)
		return
	}
	t.pub.Broadcast(events.Message{Type: typ, CallerID: callerID, Data: data, Timestamp: t.clock().UTC()})
}
