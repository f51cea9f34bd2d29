package telephony

import (
	"context"

	"outbound-dialer/internal/calls"
)

// Adapter is the softphone capability the session controller drives.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Native provider payloads are translated into calls.ProviderEvent here and
//   nowhere else.
// - Connect failures wrap calls.ErrProviderConnect, calls.ErrProviderTimeout,
//   calls.ErrNetworkUnavailable or calls.ErrInvalidNumber so the controller can
//   classify them.
type Adapter interface {
	// Connect places a call. It fails if the adapter is not ready.
	Connect(ctx context.Context, number, callerID string) (CallHandle, error)
	// Disconnect hangs up the current call, if any.
	Disconnect(ctx context.Context) error
	// Mute toggles outbound audio on the current call, if any.
	Mute(ctx context.Context, muted bool) error
	// Events delivers translated provider events tagged with their call.
	Events() <-chan CallEvent
}

// CallEvent is a translated provider event for one call. Events of a call the
// consumer already finished with can still arrive and must be dropped by id.
type CallEvent struct {
	ProviderCallID string
	Event          calls.ProviderEvent
}

// CallHandle identifies one connected call at the provider.
type CallHandle struct {
	ProviderCallID string `json:"providerCallId"`
	Number         string `json:"number"`
	CallerID       string `json:"callerId,omitempty"`
}

// Ringback is implemented by adapters that can play ringback audio. It is
// purely presentational and never affects call state.
type Ringback interface {
	StartRingback()
	StopRingback()
}
