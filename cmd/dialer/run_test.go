package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/dialer"
	"outbound-dialer/internal/guard"
	"outbound-dialer/internal/guardclient"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quick(steps ...telephony.NativeCallUpdate) telephony.SimScript {
	s := telephony.SimScript{}
	for _, u := range steps {
		s.Steps = append(s.Steps, telephony.SimStep{Update: u})
	}
	return s
}

func TestRunner_WalksWholeList(t *testing.T) {
	store := guard.NewMemoryStore()
	svc := guard.NewService(store, guard.Options{Logger: logger.Discard()})
	g := guardclient.Local{Service: svc, WorkspaceID: "w1", Caller: "agent-1"}

	session, _, err := dialer.Start([]calls.Contact{
		{ID: "c1", PhoneNumber: "+14155550101"},
		{ID: "c2", PhoneNumber: "12"},
		{ID: "c3", PhoneNumber: "+14155550103"},
		{ID: "c4", PhoneNumber: "+14155550104"},
	})
	require.NoError(t, err)

	adapter := telephony.NewSimAdapter(
		quick(telephony.NativeCallUpdate{State: "trying"}, telephony.NativeCallUpdate{State: "hangup", Cause: "USER_BUSY"}),
		quick(telephony.NativeCallUpdate{State: "ringing"}, telephony.NativeCallUpdate{State: "active"}),
		telephony.SimScript{ConnectErr: calls.ErrNetworkUnavailable},
	)
	ctrl := dialer.NewController(session, adapter, g, dialer.Options{DialTimeout: time.Second, Logger: logger.Discard()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go ctrl.Run(ctx)

	var out bytes.Buffer
	r := &runner{ctrl: ctrl, out: &out, log: logger.Discard(), talk: 10 * time.Millisecond, outcome: "sale"}
	sum, err := r.loop(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Dialed)
	assert.Equal(t, 0, sum.Skipped)
	assert.Contains(t, out.String(), "invalid number for c2")
	assert.Equal(t, 1, sum.ByReason[calls.EndReasonBusy])
	assert.Equal(t, 1, sum.ByReason[calls.EndReasonInvalidNumber])
	assert.Equal(t, 1, sum.ByReason[calls.EndReasonAgentHangup])
	assert.Equal(t, 1, sum.ByReason[calls.EndReasonNetworkError])
	assert.False(t, session.Active())
	assert.Equal(t, 0, store.LockCount())

	attempts, err := svc.ListAttempts(context.Background(), guard.AttemptFilter{WorkspaceID: "w1"})
	require.NoError(t, err)
	outcomes := map[string]string{}
	for _, a := range attempts {
		assert.True(t, a.Sealed(), "attempt %s not sealed", a.ID)
		outcomes[a.ContactID] = a.Outcome
	}
	assert.Equal(t, map[string]string{"c1": "busy", "c3": "sale", "c4": calls.OutcomeUncompleted}, outcomes)

	var printed bytes.Buffer
	sum.print(&printed)
	assert.Contains(t, printed.String(), "DIALED")
	assert.Contains(t, printed.String(), "BUSY")
}

func TestRunner_SkipsLockedContact(t *testing.T) {
	store := guard.NewMemoryStore()
	svc := guard.NewService(store, guard.Options{Logger: logger.Discard()})

	// another agent holds c1
	_, err := svc.StartCall(context.Background(), "w1", calls.StartCallRequest{ContactID: "c1", CallerID: "agent-2", PhoneNumber: "+14155550101"})
	require.NoError(t, err)

	session, _, err := dialer.Start([]calls.Contact{
		{ID: "c1", PhoneNumber: "+14155550101"},
		{ID: "c2", PhoneNumber: "+14155550102"},
	})
	require.NoError(t, err)
	adapter := telephony.NewSimAdapter(telephony.SimScript{ConnectErr: calls.ErrProviderConnect})
	g := guardclient.Local{Service: svc, WorkspaceID: "w1", Caller: "agent-1"}
	ctrl := dialer.NewController(session, adapter, g, dialer.Options{Logger: logger.Discard()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go ctrl.Run(ctx)

	var out bytes.Buffer
	r := &runner{ctrl: ctrl, out: &out, log: logger.Discard(), outcome: "sale"}
	sum, err := r.loop(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Dialed)
	assert.Contains(t, out.String(), "skipping c1")
	assert.Equal(t, 1, store.LockCount(), "the other agent's lock stays")
}

func TestParseScripts(t *testing.T) {
	got, err := parseScripts([]string{"busy", "Unreachable"}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, telephony.ScriptBusy.Steps, got[0].Steps)
	assert.ErrorIs(t, got[1].ConnectErr, calls.ErrNetworkUnavailable)
	assert.Equal(t, telephony.ScriptBusy.Steps, got[2].Steps)

	_, err = parseScripts([]string{"ringing forever"}, 1)
	assert.Error(t, err)
}
