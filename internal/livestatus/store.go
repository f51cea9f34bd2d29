// Package livestatus keeps the current canonical state of in-flight call
// attempts so any API instance can answer status queries and push updates.
package livestatus

import (
	"context"
	"errors"
	"time"

	"outbound-dialer/internal/calls"
)

var ErrClosed = errors.New("livestatus: store closed")

// Status is the live view of one attempt.
type Status struct {
	CallAttemptID  string          `json:"callAttemptId"`
	ContactID      string          `json:"contactId,omitempty"`
	CallerID       string          `json:"callerId,omitempty"`
	State          calls.CallState `json:"state"`
	EndReason      calls.EndReason `json:"endReason,omitempty"`
	Provider       string          `json:"provider,omitempty"`
	ProviderCallID string          `json:"providerCallId,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Store holds live statuses with a bounded lifetime.
//
// Put never moves an entry backwards: an update whose state precedes the stored
// one, or any update to a WRAP_UP entry, is ignored and reported as not applied.
// Entries expire after the store's TTL unless updated.
type Store interface {
	Put(ctx context.Context, s Status) (applied bool, err error)
	Get(ctx context.Context, attemptID string) (Status, bool, error)
	Close() error
}

// accepts reports whether next may replace cur.
func accepts(cur, next Status) bool {
	if cur.State.Terminal() {
		return false
	}
	return !next.State.Precedes(cur.State)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
