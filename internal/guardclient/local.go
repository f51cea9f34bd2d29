package guardclient

import (
	"context"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/guard"
)

// Local drives a guard.Service in-process with the same surface as Client.
// Used by the CLI's --local mode and by controller tests.
type Local struct {
	Service     *guard.Service
	WorkspaceID string
	Caller      string
}

func (l Local) CallerID() string { return l.Caller }

func (l Local) CanCall(ctx context.Context, contactID string) (calls.CanCallResult, error) {
	return l.Service.CanCall(ctx, contactID, l.Caller)
}

func (l Local) StartCall(ctx context.Context, contactID, phone string) (calls.StartCallResult, error) {
	return l.Service.StartCall(ctx, l.WorkspaceID, calls.StartCallRequest{
		ContactID:   contactID,
		CallerID:    l.Caller,
		PhoneNumber: phone,
	})
}

func (l Local) EndCall(ctx context.Context, req calls.EndCallRequest) error {
	return l.Service.EndCall(ctx, l.Caller, req)
}
