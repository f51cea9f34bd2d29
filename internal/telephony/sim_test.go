package telephony

import (
	"context"
	"errors"
	"testing"
	"time"

	"outbound-dialer/internal/calls"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, a *SimAdapter) calls.ProviderEvent {
	t.Helper()
	select {
	case ev := <-a.Events():
		if ev.ProviderCallID == "" {
			t.Fatal("event without call id")
		}
		return ev.Event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestSimAdapter_PlaysScript(t *testing.T) {
	a := NewSimAdapter(SimScript{Steps: []SimStep{
		{Update: NativeCallUpdate{State: "new"}},
		{Update: NativeCallUpdate{State: "trying"}},
		{Delay: 5 * time.Millisecond, Update: NativeCallUpdate{State: "ringing"}},
		{Delay: 5 * time.Millisecond, Update: NativeCallUpdate{State: "hangup", Cause: "USER_BUSY"}},
	}})

	h, err := a.Connect(context.Background(), "+15551234567", "+15550000000")
	require.NoError(t, err)
	assert.NotEmpty(t, h.ProviderCallID)
	assert.Equal(t, "+15551234567", h.Number)

	assert.IsType(t, calls.Dialing{}, next(t, a))
	assert.IsType(t, calls.Ringing{}, next(t, a))
	ev := next(t, a)
	require.IsType(t, calls.Hangup{}, ev)
	assert.False(t, ev.(calls.Hangup).Local)
	assert.False(t, ev.Occurred().IsZero())

	// line is free again after the remote hangup
	_, err = a.Connect(context.Background(), "+15551234567", "")
	require.NoError(t, err)
}

func TestSimAdapter_ConnectErrors(t *testing.T) {
	boom := errors.New("sdk not ready")
	a := NewSimAdapter(SimScript{ConnectErr: boom}, ScriptSilent)

	_, err := a.Connect(context.Background(), "+15551234567", "")
	assert.ErrorIs(t, err, boom)

	_, err = a.Connect(context.Background(), "5551234567", "")
	assert.ErrorIs(t, err, calls.ErrInvalidNumber)

	_, err = a.Connect(context.Background(), "+15551234567", "")
	require.NoError(t, err)
	_, err = a.Connect(context.Background(), "+15551234568", "")
	assert.ErrorIs(t, err, calls.ErrProviderConnect)
}

func TestSimAdapter_DisconnectEmitsLocalHangup(t *testing.T) {
	a := NewSimAdapter(ScriptSilent)
	_, err := a.Connect(context.Background(), "+15551234567", "")
	require.NoError(t, err)

	require.NoError(t, a.Mute(context.Background(), true))
	assert.True(t, a.Muted())

	require.NoError(t, a.Disconnect(context.Background()))
	ev := next(t, a)
	require.IsType(t, calls.Hangup{}, ev)
	assert.True(t, ev.(calls.Hangup).Local)

	assert.ErrorIs(t, a.Mute(context.Background(), false), calls.ErrProviderConnect)
	// second disconnect is a no-op
	require.NoError(t, a.Disconnect(context.Background()))
	select {
	case ev := <-a.Events():
		t.Fatalf("unexpected event %T", ev.Event)
	default:
	}
}

func TestSimAdapter_Ringback(t *testing.T) {
	a := NewSimAdapter()
	a.StartRingback()
	assert.True(t, a.RingbackPlaying())
	a.StopRingback()
	assert.False(t, a.RingbackPlaying())
}
