package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const TokenTypeAccess TokenType = "access"

// Claims carry the dialing identity. AgentID is the caller recorded on locks
// and attempts; WorkspaceID scopes attempts and reports.
type Claims struct {
	jwt.RegisteredClaims

	AgentID     string    `json:"agent_id"`
	WorkspaceID string    `json:"workspace_id"`
	Role        string    `json:"role"`
	TokenType   TokenType `json:"token_type"`
}

func (c Claims) Identity() Identity {
	return Identity{AgentID: c.AgentID, WorkspaceID: c.WorkspaceID, Role: c.Role}
}

// check validates the dialer-specific claims; registered claims are checked by
// the jwt validator.
func (c Claims) check() error {
	if c.TokenType != TokenTypeAccess {
		return errors.New("token_type mismatch")
	}
	return c.Identity().complete()
}
