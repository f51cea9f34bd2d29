package calls

import "time"

// ProviderEvent is the closed set of provider-event classes accepted by the state
// machine. Adapters translate their native payloads into one of the types below;
// nothing outside this package implements it.
type ProviderEvent interface {
	providerEvent()
	// Occurred is the provider timestamp (zero when unknown).
	Occurred() time.Time
}

// DialingKind enumerates the provider phases that map to DIALING.
type DialingKind string

const (
	DialingRequesting DialingKind = "requesting"
	DialingTrying     DialingKind = "trying"
	DialingRecovering DialingKind = "recovering"
)

// RingingKind enumerates the provider phases that map to RINGING.
type RingingKind string

const (
	RingingRinging    RingingKind = "ringing"
	RingingEarlyMedia RingingKind = "early"
	RingingAnswering  RingingKind = "answering"
)

// HangupKind enumerates the provider phases that map to WRAP_UP.
type HangupKind string

const (
	HangupHangup  HangupKind = "hangup"
	HangupDestroy HangupKind = "destroy"
	HangupPurge   HangupKind = "purge"
)

// Dialing is a trying/requesting/recovering-class event.
type Dialing struct {
	Kind DialingKind
	At   time.Time
}

// Ringing is a ringing/early-media/answering-class event.
type Ringing struct {
	Kind RingingKind
	At   time.Time
}

// Active is an active/held-class event.
type Active struct {
	Held bool
	At   time.Time
}

// Hangup is a hangup/destroy/purge-class event.
type Hangup struct {
	Kind HangupKind
	// Local is true when the agent initiated the disconnect.
	Local bool
	Cause HangupCause
	At    time.Time
}

// HangupCause is the provider's disconnect cause: a symbolic name
// (e.g. USER_BUSY) and/or a numeric Q.850 / SIP code.
type HangupCause struct {
	Name string `json:"name,omitempty"`
	Code int    `json:"code,omitempty"`
}

func (Dialing) providerEvent() {}
func (Ringing) providerEvent() {}
func (Active) providerEvent()  {}
func (Hangup) providerEvent()  {}

func (e Dialing) Occurred() time.Time { return e.At }
func (e Ringing) Occurred() time.Time { return e.At }
func (e Active) Occurred() time.Time  { return e.At }
func (e Hangup) Occurred() time.Time  { return e.At }

// TargetState is the canonical state an event class maps to.
func TargetState(ev ProviderEvent) CallState {
	switch ev.(type) {
	case Dialing:
		return StateDialing
	case Ringing:
		return StateRinging
	case Active:
		return StateConnected
	case Hangup:
		return StateWrapUp
	default:
		// Unreachable for values built in this package.
		return StateIdle
	}
}
