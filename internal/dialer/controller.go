package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/disposition"
	"outbound-dialer/internal/telephony"
)

var (
	ErrSessionInactive   = errors.New("dialer: session is not active")
	ErrCallInProgress    = errors.New("dialer: a call is in progress")
	ErrDispositionNeeded = errors.New("dialer: previous call needs a disposition")
	ErrNoAttempt         = errors.New("dialer: no call attempt to dispose")

	errAlreadyAdvanced = errors.New("dialer: attempt already advanced")
)

// DefaultDialTimeout bounds the wait for a connect when the provider goes quiet.
const DefaultDialTimeout = 45 * time.Second

// Guard is the part of the concurrency guard the controller needs, bound to
// one agent. guardclient.Client and guardclient.Local implement it.
type Guard interface {
	CallerID() string
	CanCall(ctx context.Context, contactID string) (calls.CanCallResult, error)
	StartCall(ctx context.Context, contactID, phone string) (calls.StartCallResult, error)
	EndCall(ctx context.Context, req calls.EndCallRequest) error
}

// UpdateKind classifies controller updates.
type UpdateKind string

const (
	UpdateState    UpdateKind = "state"
	UpdateAdvanced UpdateKind = "advanced"
	UpdateStopped  UpdateKind = "stopped"
	UpdateError    UpdateKind = "error"
)

// Update is published on Updates() for the UI.
type Update struct {
	Kind      UpdateKind
	Contact   calls.Contact
	AttemptID string
	State     calls.CallState
	EndReason calls.EndReason
	Ringback  bool
	// Next is the new current contact after an advance; zero when exhausted.
	Next calls.Contact
	Err  error
}

type Options struct {
	DialTimeout time.Duration
	Logger      *slog.Logger
	Clock       func() time.Time
}

type current struct {
	contact        calls.Contact
	machine        *calls.Machine
	providerCallID string
	timer          *time.Timer
	// local attempts never reached the guard and have nothing to record.
	local bool
}

// Controller drives one agent's session: guard lock, adapter call, state
// machine, disposition and advancement.
type Controller struct {
	session *Session
	adapter telephony.Adapter
	guard   Guard
	gate    *disposition.Gate

	dialTimeout time.Duration
	log         *slog.Logger
	clock       func() time.Time

	mu      sync.Mutex
	cur     *current
	history map[string]calls.CallAttempt
	// provider call ids of finished calls; their stragglers are dropped
	retired map[string]struct{}

	updates chan Update
}

func NewController(session *Session, adapter telephony.Adapter, guard Guard, opts Options) *Controller {
	c := &Controller{
		session:     session,
		adapter:     adapter,
		guard:       guard,
		gate:        disposition.NewGate(guard),
		dialTimeout: opts.DialTimeout,
		log:         opts.Logger,
		clock:       opts.Clock,
		history:     map[string]calls.CallAttempt{},
		retired:     map[string]struct{}{},
		updates:     make(chan Update, 64),
	}
	if c.dialTimeout <= 0 {
		c.dialTimeout = DefaultDialTimeout
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	return c
}

func (c *Controller) Session() *Session { return c.session }

// Updates delivers state changes. Slow readers lose updates, never block the controller.
func (c *Controller) Updates() <-chan Update { return c.updates }

// Run consumes adapter events until ctx is done or the session ends.
func (c *Controller) Run(ctx context.Context) {
	events := c.adapter.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.session.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.HandleEvent(ctx, ev)
		}
	}
}

// Current returns the open or awaiting-disposition attempt, if any.
func (c *Controller) Current() (calls.CallAttempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return calls.CallAttempt{}, false
	}
	return c.cur.machine.Attempt(), true
}

// Dial calls the session's current contact.
//
// Guard refusals (calls.ErrDuplicateLock, *calls.CooldownError) are returned
// without advancing; the agent may skip. A connect failure seals the attempt,
// records the automatic disposition and advances. An invalid number is sealed
// locally and advanced past; the sealed attempt comes back with an error
// wrapping calls.ErrInvalidNumber.
func (c *Controller) Dial(ctx context.Context) (calls.CallAttempt, error) {
	contact, ok := c.session.Current()
	if !ok {
		return calls.CallAttempt{}, ErrSessionInactive
	}
	if err := c.checkIdle(); err != nil {
		return calls.CallAttempt{}, err
	}

	log := c.log.With("contact_id", contact.ID)

	phone, err := calls.NormalizeE164(contact.PhoneNumber)
	if err != nil {
		// nothing reaches the guard; seal locally and move on
		log.Warn("invalid number, skipping", "phone", contact.PhoneNumber)
		c.open(contact, calls.CallAttempt{ContactID: contact.ID, CallerID: c.guard.CallerID(), PhoneNumber: contact.PhoneNumber}, true)
		c.mu.Lock()
		local := c.cur
		local.machine.Seal(calls.EndReasonInvalidNumber)
		a := local.machine.Attempt()
		c.mu.Unlock()
		c.publish(Update{Kind: UpdateState, Contact: contact, State: a.State, EndReason: a.EndReason})
		c.advanceLocal(contact, local)
		return a, fmt.Errorf("contact %s: %w", contact.ID, err)
	}

	check, err := c.guard.CanCall(ctx, contact.ID)
	if err != nil {
		return calls.CallAttempt{}, fmt.Errorf("can call: %w", err)
	}
	if !check.Allowed {
		return calls.CallAttempt{}, refusal(check)
	}

	started, err := c.guard.StartCall(ctx, contact.ID, phone)
	if err != nil {
		return calls.CallAttempt{}, err
	}
	log = log.With("call_attempt_id", started.CallAttemptID)

	a := c.open(contact, calls.CallAttempt{
		ID:          started.CallAttemptID,
		ContactID:   contact.ID,
		CallerID:    c.guard.CallerID(),
		PhoneNumber: phone,
		StartedAt:   c.clock().UTC(),
	}, false)

	handle, err := c.adapter.Connect(ctx, phone, c.guard.CallerID())
	if err != nil {
		reason := calls.ReasonForDialError(err)
		log.Warn("connect failed", "end_reason", reason, "err", err)
		c.mu.Lock()
		c.cur.machine.Seal(reason)
		a = c.cur.machine.Attempt()
		c.mu.Unlock()
		c.publish(Update{Kind: UpdateState, Contact: contact, AttemptID: a.ID, State: a.State, EndReason: a.EndReason})
		c.onSealed(ctx, contact, a)
		return a, nil
	}
	log.Info("dialing", "provider_call_id", handle.ProviderCallID)

	c.mu.Lock()
	if c.cur != nil && c.cur.machine.Attempt().ID == a.ID {
		c.cur.providerCallID = handle.ProviderCallID
	}
	if c.cur != nil && c.cur.machine.Attempt().ID == a.ID && !c.cur.machine.Sealed() {
		id := a.ID
		c.cur.timer = time.AfterFunc(c.dialTimeout, func() { c.dialTimedOut(context.WithoutCancel(ctx), id) })
	}
	c.mu.Unlock()
	return a, nil
}

func refusal(check calls.CanCallResult) error {
	if check.Reason == calls.ReasonCalledRecently {
		ce := &calls.CooldownError{LastCallerID: check.LastCallerID}
		if check.LastCallTime != nil {
			ce.LastCallTime = *check.LastCallTime
		}
		return ce
	}
	return calls.ErrDuplicateLock
}

func (c *Controller) checkIdle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil
	}
	if !c.cur.machine.Sealed() {
		return ErrCallInProgress
	}
	if c.cur.local {
		// sealed local attempts have nothing to record
		c.cur = nil
		return nil
	}
	return ErrDispositionNeeded
}

func (c *Controller) open(contact calls.Contact, a calls.CallAttempt, local bool) calls.CallAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = &current{contact: contact, machine: calls.NewMachine(a, c.clock), local: local}
	return c.cur.machine.Attempt()
}

// HandleEvent applies one provider event to the open attempt. Events of
// finished calls are dropped.
func (c *Controller) HandleEvent(ctx context.Context, ev telephony.CallEvent) {
	c.mu.Lock()
	if c.cur == nil || c.cur.machine.Sealed() {
		c.mu.Unlock()
		return
	}
	if _, old := c.retired[ev.ProviderCallID]; old {
		c.mu.Unlock()
		return
	}
	switch c.cur.providerCallID {
	case "":
		// first event can beat Connect's return
		c.cur.providerCallID = ev.ProviderCallID
	case ev.ProviderCallID:
	default:
		c.mu.Unlock()
		return
	}
	tr := c.cur.machine.Apply(ev.Event)
	a := c.cur.machine.Attempt()
	contact := c.cur.contact
	if tr.To == calls.StateConnected || tr.Sealed {
		c.stopTimerLocked()
	}
	c.mu.Unlock()

	if !tr.Changed {
		return
	}
	if rb, ok := c.adapter.(telephony.Ringback); ok {
		if tr.Ringback {
			rb.StartRingback()
		} else if tr.From == calls.StateRinging {
			rb.StopRingback()
		}
	}
	c.publish(Update{Kind: UpdateState, Contact: contact, AttemptID: a.ID, State: a.State, EndReason: a.EndReason, Ringback: tr.Ringback})
	if tr.Sealed {
		c.onSealed(ctx, contact, a)
	}
}

func (c *Controller) dialTimedOut(ctx context.Context, attemptID string) {
	c.mu.Lock()
	if c.cur == nil || c.cur.machine.Attempt().ID != attemptID || c.cur.machine.Sealed() ||
		c.cur.machine.State() == calls.StateConnected {
		c.mu.Unlock()
		return
	}
	// seal before hanging up so the local hangup event is ignored
	c.cur.machine.Seal(calls.EndReasonTimeout)
	a := c.cur.machine.Attempt()
	contact := c.cur.contact
	c.cur.timer = nil
	c.mu.Unlock()

	c.log.Warn("dial timed out", "call_attempt_id", attemptID, "after", c.dialTimeout)
	if err := c.adapter.Disconnect(ctx); err != nil {
		c.log.Warn("disconnect after timeout failed", "call_attempt_id", attemptID, "err", err)
	}
	c.publish(Update{Kind: UpdateState, Contact: contact, AttemptID: a.ID, State: a.State, EndReason: a.EndReason})
	c.onSealed(ctx, contact, a)
}

// onSealed records the automatic disposition for attempts that never rang and
// advances. Other sealed attempts wait for the agent.
func (c *Controller) onSealed(ctx context.Context, contact calls.Contact, a calls.CallAttempt) {
	c.mu.Lock()
	c.history[a.ID] = a
	c.mu.Unlock()
	c.stopRingback()

	applied, err := c.gate.AutoDispose(ctx, a)
	if err != nil {
		c.log.Error("auto disposition failed", "call_attempt_id", a.ID, "err", err)
		c.publish(Update{Kind: UpdateError, Contact: contact, AttemptID: a.ID, Err: err})
		return
	}
	if !applied {
		return
	}
	if _, _, err := c.advance(contact, a.ID); err != nil {
		c.log.Error("advance failed", "call_attempt_id", a.ID, "err", err)
	}
}

// Dispose records the agent's outcome for attemptID (the current attempt when
// empty) and advances if this attempt has not advanced yet. An attempt still
// on the line is hung up first.
func (c *Controller) Dispose(ctx context.Context, attemptID string, d disposition.Disposition) (calls.Contact, bool, error) {
	a, contact, isCurrent, err := c.disposable(attemptID)
	if err != nil {
		return calls.Contact{}, false, err
	}

	if isCurrent && !a.Sealed() {
		a = c.hangUp(ctx, calls.EndReasonAgentHangup)
		c.publish(Update{Kind: UpdateState, Contact: contact, AttemptID: a.ID, State: a.State, EndReason: a.EndReason})
		c.mu.Lock()
		c.history[a.ID] = a
		c.mu.Unlock()
	}

	if err := c.gate.Record(ctx, a, d); err != nil {
		return calls.Contact{}, false, err
	}
	if !isCurrent {
		next, ok := c.session.Current()
		return next, ok, nil
	}
	return c.advance(contact, a.ID)
}

func (c *Controller) disposable(attemptID string) (calls.CallAttempt, calls.Contact, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil && !c.cur.local {
		a := c.cur.machine.Attempt()
		if attemptID == "" || attemptID == a.ID {
			return a, c.cur.contact, true, nil
		}
	}
	if attemptID != "" {
		if a, ok := c.history[attemptID]; ok {
			return a, calls.Contact{ID: a.ContactID, PhoneNumber: a.PhoneNumber}, false, nil
		}
	}
	return calls.CallAttempt{}, calls.Contact{}, false, ErrNoAttempt
}

// hangUp seals the current attempt with reason and disconnects.
func (c *Controller) hangUp(ctx context.Context, reason calls.EndReason) calls.CallAttempt {
	c.mu.Lock()
	if c.cur == nil {
		c.mu.Unlock()
		return calls.CallAttempt{}
	}
	c.stopTimerLocked()
	c.cur.machine.Seal(reason)
	a := c.cur.machine.Attempt()
	c.mu.Unlock()
	c.stopRingback()
	if err := c.adapter.Disconnect(ctx); err != nil {
		c.log.Warn("disconnect failed", "call_attempt_id", a.ID, "err", err)
	}
	return a
}

func (c *Controller) stopRingback() {
	if rb, ok := c.adapter.(telephony.Ringback); ok {
		rb.StopRingback()
	}
}

// advance claims the attempt's advancement and moves the session past contact.
func (c *Controller) advance(contact calls.Contact, attemptID string) (calls.Contact, bool, error) {
	claimed := false
	next, ok, moved, err := c.session.advance(contact.ID, func() error {
		if !c.gate.ClaimAdvance(attemptID) {
			return errAlreadyAdvanced
		}
		claimed = true
		return nil
	})
	if errors.Is(err, errAlreadyAdvanced) {
		return next, ok, nil
	}
	if err != nil {
		return next, ok, err
	}
	if claimed {
		c.clearCurrent(attemptID)
		c.gate.Forget(attemptID)
	}
	if claimed && moved {
		c.publishAdvanced(contact, attemptID, next, ok)
	}
	return next, ok, nil
}

// advanceLocal moves past a locally sealed attempt. The attempt is dropped
// whether or not this call moved the session.
func (c *Controller) advanceLocal(contact calls.Contact, local *current) {
	next, ok, moved, _ := c.session.advance(contact.ID, nil)
	c.mu.Lock()
	if c.cur == local {
		c.cur = nil
	}
	c.mu.Unlock()
	if moved {
		c.publishAdvanced(contact, "", next, ok)
	}
}

func (c *Controller) publishAdvanced(contact calls.Contact, attemptID string, next calls.Contact, more bool) {
	c.publish(Update{Kind: UpdateAdvanced, Contact: contact, AttemptID: attemptID, Next: next})
	if !more {
		c.publish(Update{Kind: UpdateStopped})
	}
}

func (c *Controller) clearCurrent(attemptID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return
	}
	if attemptID == "" || c.cur.machine.Attempt().ID == attemptID {
		c.stopTimerLocked()
		if c.cur.providerCallID != "" {
			c.retired[c.cur.providerCallID] = struct{}{}
		}
		c.cur = nil
	}
}

// SkipCurrent moves past the current contact without calling it.
func (c *Controller) SkipCurrent() (calls.Contact, bool, error) {
	if err := c.checkIdle(); err != nil {
		return calls.Contact{}, false, err
	}
	cur, ok := c.session.Current()
	if !ok {
		return calls.Contact{}, false, ErrSessionInactive
	}
	next, ok, moved, err := c.session.advance(cur.ID, func() error { return c.checkIdle() })
	if err != nil {
		return next, ok, err
	}
	if moved {
		c.publishAdvanced(cur, "", next, ok)
	}
	return next, ok, nil
}

// Mute toggles outbound audio on the live call.
func (c *Controller) Mute(ctx context.Context, muted bool) error {
	c.mu.Lock()
	live := c.cur != nil && !c.cur.machine.Sealed()
	c.mu.Unlock()
	if !live {
		return ErrNoAttempt
	}
	return c.adapter.Mute(ctx, muted)
}

// Stop ends the session. A live call is hung up and sealed AGENT_HANGUP when
// connected, CANCELED otherwise; the contact lock is released either way.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	cur := c.cur
	var a calls.CallAttempt
	wasOpen := false
	if cur != nil && !cur.local {
		a = cur.machine.Attempt()
		if !a.Sealed() {
			wasOpen = true
			reason := calls.EndReasonCanceled
			if a.State == calls.StateConnected {
				reason = calls.EndReasonAgentHangup
			}
			c.stopTimerLocked()
			cur.machine.Seal(reason)
			a = cur.machine.Attempt()
		}
	}
	c.mu.Unlock()

	var errs []error
	if cur != nil && !cur.local {
		if wasOpen {
			c.stopRingback()
			if err := c.adapter.Disconnect(ctx); err != nil {
				errs = append(errs, fmt.Errorf("disconnect: %w", err))
			}
		}
		if _, _, ok := c.gate.Outcome(a.ID); !ok {
			req := calls.EndCallRequest{
				CallAttemptID:   a.ID,
				DurationSeconds: a.DurationSeconds,
				EndReason:       a.EndReason,
				Source:          calls.DispositionSystem,
			}
			if a.ConnectedAt == nil {
				req.Outcome = calls.OutcomeUncompleted
			}
			if err := c.guard.EndCall(ctx, req); err != nil {
				errs = append(errs, fmt.Errorf("release lock: %w", err))
			}
		}
		c.mu.Lock()
		c.history[a.ID] = a
		c.mu.Unlock()
	}
	c.clearCurrent("")

	if c.session.Stop() {
		c.publish(Update{Kind: UpdateStopped})
	}
	if err := errors.Join(errs...); err != nil {
		c.log.Error("stop", "err", err)
		return err
	}
	return nil
}

func (c *Controller) stopTimerLocked() {
	if c.cur != nil && c.cur.timer != nil {
		c.cur.timer.Stop()
		c.cur.timer = nil
	}
}

func (c *Controller) publish(u Update) {
	select {
	case c.updates <- u:
	default:
	}
}
