package disposition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"outbound-dialer/internal/calls"
)

var (
	ErrOutcomeRequired = errors.New("disposition: outcome required")
	ErrAttemptOpen     = errors.New("disposition: attempt not sealed")
)

// Recorder durably saves a disposition. The guard's end-call does this and
// releases the contact lock in the same request.
type Recorder interface {
	EndCall(ctx context.Context, req calls.EndCallRequest) error
}

// Disposition is the agent-entered result of a call.
type Disposition struct {
	Outcome      string `json:"outcome" yaml:"outcome"`
	Notes        string `json:"notes,omitempty" yaml:"notes,omitempty"`
	RecordingURL string `json:"recordingUrl,omitempty" yaml:"recording_url,omitempty"`
}

type record struct {
	outcome string
	source  calls.DispositionSource
	durable bool
	claimed bool
}

// Gate tracks, per attempt, whether an outcome is durably recorded and whether
// the session already advanced because of it.
//
// Advancement is claimed at most once per attempt. A human disposition always
// replaces an automatic one, even after the claim.
type Gate struct {
	rec Recorder

	mu        sync.Mutex
	byAttempt map[string]*record
}

func NewGate(rec Recorder) *Gate {
	return &Gate{rec: rec, byAttempt: map[string]*record{}}
}

// AutoEligible reports whether a sealed attempt failed before it could ring, in
// which case the agent is not asked for an outcome.
func AutoEligible(a calls.CallAttempt) bool {
	if !a.Sealed() || a.ConnectedAt != nil {
		return false
	}
	switch a.EndReason {
	case calls.EndReasonFailed, calls.EndReasonNetworkError, calls.EndReasonTimeout, calls.EndReasonInvalidNumber:
		return true
	default:
		return false
	}
}

// AutoDispose records the system "uncompleted" marker for an attempt that never
// connected. It reports false without saving when the attempt is not eligible or
// an agent disposition already exists.
func (g *Gate) AutoDispose(ctx context.Context, a calls.CallAttempt) (bool, error) {
	if !AutoEligible(a) {
		return false, nil
	}
	g.mu.Lock()
	if r, ok := g.byAttempt[a.ID]; ok && r.source == calls.DispositionAgent {
		g.mu.Unlock()
		return false, nil
	}
	g.mu.Unlock()

	req := calls.EndCallRequest{
		CallAttemptID: a.ID,
		Outcome:       calls.OutcomeUncompleted,
		EndReason:     a.EndReason,
		Source:        calls.DispositionAuto,
	}
	if err := g.rec.EndCall(ctx, req); err != nil {
		return false, fmt.Errorf("auto disposition %s: %w", a.ID, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.entry(a.ID)
	if r.source == calls.DispositionAgent {
		// an agent save landed while ours was in flight; keep theirs locally
		return false, nil
	}
	r.outcome, r.source, r.durable = calls.OutcomeUncompleted, calls.DispositionAuto, true
	return true, nil
}

// Record durably saves the agent's disposition for a sealed attempt.
func (g *Gate) Record(ctx context.Context, a calls.CallAttempt, d Disposition) error {
	outcome := strings.TrimSpace(d.Outcome)
	if outcome == "" {
		return ErrOutcomeRequired
	}
	if !a.Sealed() {
		return ErrAttemptOpen
	}
	req := calls.EndCallRequest{
		CallAttemptID:   a.ID,
		Outcome:         outcome,
		DurationSeconds: a.DurationSeconds,
		Notes:           d.Notes,
		RecordingURL:    d.RecordingURL,
		EndReason:       a.EndReason,
		Source:          calls.DispositionAgent,
	}
	if err := g.rec.EndCall(ctx, req); err != nil {
		return fmt.Errorf("record disposition %s: %w", a.ID, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.entry(a.ID)
	r.outcome, r.source, r.durable = outcome, calls.DispositionAgent, true
	return nil
}

// Ready reports whether an outcome for attemptID is durably recorded.
func (g *Gate) Ready(attemptID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.byAttempt[attemptID]
	return ok && r.durable
}

// ClaimAdvance returns true exactly once per attempt, and only after the
// outcome is durable.
func (g *Gate) ClaimAdvance(attemptID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.byAttempt[attemptID]
	if !ok || !r.durable || r.claimed {
		return false
	}
	r.claimed = true
	return true
}

// Outcome returns the recorded outcome and who supplied it.
func (g *Gate) Outcome(attemptID string) (string, calls.DispositionSource, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.byAttempt[attemptID]
	if !ok || !r.durable {
		return "", calls.DispositionNone, false
	}
	return r.outcome, r.source, true
}

// Forget drops bookkeeping for an attempt once the session moved on.
func (g *Gate) Forget(attemptID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.byAttempt, attemptID)
}

func (g *Gate) entry(id string) *record {
	r, ok := g.byAttempt[id]
	if !ok {
		r = &record{}
		g.byAttempt[id] = r
	}
	return r
}
