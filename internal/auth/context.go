package auth

import (
	"context"
	"errors"
)

var ErrNoIdentity = errors.New("identity not in context")

// Identity is the authenticated agent behind a request.
type Identity struct {
	AgentID     string `json:"agentId"`
	WorkspaceID string `json:"workspaceId"`
	Role        string `json:"role"`
}

func (i Identity) complete() error {
	switch {
	case i.AgentID == "":
		return errors.New("agent_id missing")
	case i.WorkspaceID == "":
		return errors.New("workspace_id missing")
	case i.Role == "":
		return errors.New("role missing in access token")
	}
	return nil
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by RequireAccessToken.
func FromContext(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.AgentID == "" {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

func AgentID(ctx context.Context) (string, error) {
	id, err := FromContext(ctx)
	return id.AgentID, err
}

func WorkspaceID(ctx context.Context) (string, error) {
	id, err := FromContext(ctx)
	if err == nil && id.WorkspaceID == "" {
		err = ErrNoIdentity
	}
	return id.WorkspaceID, err
}

func Role(ctx context.Context) (string, error) {
	id, err := FromContext(ctx)
	if err == nil && id.Role == "" {
		err = ErrNoIdentity
	}
	return id.Role, err
}
