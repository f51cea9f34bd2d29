package telephony

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"outbound-dialer/internal/calls"

	"github.com/google/uuid"
)

// SimStep is one scripted native update emitted after Delay.
type SimStep struct {
	Delay  time.Duration    `yaml:"delay" json:"delay"`
	Update NativeCallUpdate `yaml:",inline" json:"update"`
}

// SimScript scripts one call. ConnectErr makes Connect fail instead.
type SimScript struct {
	ConnectErr error
	Steps      []SimStep
}

// Common scripts for local runs and tests.
var (
	ScriptAnswered = SimScript{Steps: []SimStep{
		{Update: NativeCallUpdate{State: "trying"}},
		{Delay: 200 * time.Millisecond, Update: NativeCallUpdate{State: "ringing"}},
		{Delay: time.Second, Update: NativeCallUpdate{State: "active"}},
	}}
	ScriptBusy = SimScript{Steps: []SimStep{
		{Update: NativeCallUpdate{State: "trying"}},
		{Delay: 300 * time.Millisecond, Update: NativeCallUpdate{State: "hangup", Cause: "USER_BUSY", CauseCode: 17}},
	}}
	ScriptNoAnswer = SimScript{Steps: []SimStep{
		{Update: NativeCallUpdate{State: "trying"}},
		{Delay: 200 * time.Millisecond, Update: NativeCallUpdate{State: "ringing"}},
		{Delay: 2 * time.Second, Update: NativeCallUpdate{State: "hangup", Cause: "NO_USER_RESPONSE", CauseCode: 19}},
	}}
	// ScriptSilent never reports anything; the controller's dial timeout must fire.
	ScriptSilent = SimScript{}
)

// SimAdapter is an in-process Adapter driven by scripts, one per Connect.
// Disconnect emits a local hangup if a call is up.
type SimAdapter struct {
	mu      sync.Mutex
	scripts []SimScript
	next    int
	events  chan CallEvent
	cancel  context.CancelFunc
	active  bool
	callID  string
	muted   bool
	clock   func() time.Time

	// DisconnectErr, when set, is returned by Disconnect after the local hangup is emitted.
	DisconnectErr error

	ringing bool
}

func NewSimAdapter(scripts ...SimScript) *SimAdapter {
	return &SimAdapter{
		scripts: scripts,
		events:  make(chan CallEvent, 32),
		clock:   time.Now,
	}
}

// Enqueue appends scripts for later Connects.
func (s *SimAdapter) Enqueue(scripts ...SimScript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, scripts...)
}

func (s *SimAdapter) Events() <-chan CallEvent { return s.events }

func (s *SimAdapter) Connect(ctx context.Context, number, callerID string) (CallHandle, error) {
	if !strings.HasPrefix(number, "+") {
		return CallHandle{}, fmt.Errorf("%w: %q", calls.ErrInvalidNumber, number)
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return CallHandle{}, fmt.Errorf("%w: call already active", calls.ErrProviderConnect)
	}
	var script SimScript
	if s.next < len(s.scripts) {
		script = s.scripts[s.next]
	} else {
		script = ScriptAnswered
	}
	s.next++
	if script.ConnectErr != nil {
		s.mu.Unlock()
		return CallHandle{}, script.ConnectErr
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	id := "sim-" + uuid.NewString()
	s.cancel = cancel
	s.active = true
	s.callID = id
	s.mu.Unlock()

	go s.play(runCtx, id, script.Steps)
	return CallHandle{ProviderCallID: id, Number: number, CallerID: callerID}, nil
}

func (s *SimAdapter) play(ctx context.Context, id string, steps []SimStep) {
	for _, st := range steps {
		if st.Delay > 0 {
			t := time.NewTimer(st.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
		u := st.Update
		if u.At.IsZero() {
			u.At = s.clock()
		}
		ev, ok := TranslateNative(u)
		if !ok {
			continue
		}
		if _, hangup := ev.(calls.Hangup); hangup {
			s.mu.Lock()
			if s.callID == id {
				s.active = false
			}
			s.mu.Unlock()
		}
		s.emit(CallEvent{ProviderCallID: id, Event: ev})
	}
}

func (s *SimAdapter) emit(ev CallEvent) {
	select {
	case s.events <- ev:
	default:
		// consumer gone; drop like a real SDK with no listener
	}
}

func (s *SimAdapter) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	wasActive := s.active
	id := s.callID
	s.active = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	err := s.DisconnectErr
	s.mu.Unlock()

	if wasActive && err == nil {
		ev, _ := TranslateNative(NativeCallUpdate{State: "hangup", Local: true, Cause: "NORMAL_CLEARING", At: s.clock()})
		s.emit(CallEvent{ProviderCallID: id, Event: ev})
	}
	return err
}

func (s *SimAdapter) Mute(ctx context.Context, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return fmt.Errorf("%w: no active call", calls.ErrProviderConnect)
	}
	s.muted = muted
	return nil
}

// Muted reports the last mute state.
func (s *SimAdapter) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *SimAdapter) StartRingback() {
	s.mu.Lock()
	s.ringing = true
	s.mu.Unlock()
}

func (s *SimAdapter) StopRingback() {
	s.mu.Lock()
	s.ringing = false
	s.mu.Unlock()
}

// RingbackPlaying reports whether ringback audio is on.
func (s *SimAdapter) RingbackPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ringing
}

var (
	_ Adapter  = (*SimAdapter)(nil)
	_ Ringback = (*SimAdapter)(nil)
)
