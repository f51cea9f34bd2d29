package telephony

import (
	"strings"
	"time"

	"outbound-dialer/internal/calls"
)

// NativeCallUpdate is the call-state notification emitted by WebRTC softphone
// SDKs (Telnyx-style state names).
type NativeCallUpdate struct {
	State     string    `json:"state"`
	Cause     string    `json:"cause,omitempty"`
	CauseCode int       `json:"causeCode,omitempty"`
	SIPCode   int       `json:"sipCode,omitempty"`
	Local     bool      `json:"local,omitempty"`
	At        time.Time `json:"at,omitempty"`
}

// TranslateNative maps a native update to a provider event. States with no
// canonical meaning (new, unknown names) report ok=false and are dropped.
func TranslateNative(u NativeCallUpdate) (ev calls.ProviderEvent, ok bool) {
	switch strings.ToLower(strings.TrimSpace(u.State)) {
	case "requesting":
		return calls.Dialing{Kind: calls.DialingRequesting, At: u.At}, true
	case "trying":
		return calls.Dialing{Kind: calls.DialingTrying, At: u.At}, true
	case "recovering":
		return calls.Dialing{Kind: calls.DialingRecovering, At: u.At}, true
	case "ringing":
		return calls.Ringing{Kind: calls.RingingRinging, At: u.At}, true
	case "early":
		return calls.Ringing{Kind: calls.RingingEarlyMedia, At: u.At}, true
	case "answering":
		return calls.Ringing{Kind: calls.RingingAnswering, At: u.At}, true
	case "active":
		return calls.Active{At: u.At}, true
	case "held":
		return calls.Active{Held: true, At: u.At}, true
	case "hangup":
		return u.hangup(calls.HangupHangup), true
	case "destroy":
		return u.hangup(calls.HangupDestroy), true
	case "purge":
		return u.hangup(calls.HangupPurge), true
	default:
		return nil, false
	}
}

func (u NativeCallUpdate) hangup(kind calls.HangupKind) calls.Hangup {
	code := u.CauseCode
	if code == 0 {
		code = u.SIPCode
	}
	return calls.Hangup{
		Kind:  kind,
		Local: u.Local,
		Cause: calls.HangupCause{Name: u.Cause, Code: code},
		At:    u.At,
	}
}
