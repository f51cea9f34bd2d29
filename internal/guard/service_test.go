package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/calls"
	"outbound-dialer/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
}

func (n *recordingNotifier) Notify(_ context.Context, c Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
}

func (n *recordingNotifier) types() []ChangeType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ChangeType, 0, len(n.changes))
	for _, c := range n.changes {
		out = append(out, c.Type)
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *fakeClock, *recordingNotifier, *audit.MemoryRepo) {
	t.Helper()
	store := NewMemoryStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	notifier := &recordingNotifier{}
	auditRepo := audit.NewMemoryRepo()
	svc := NewService(store, Options{
		Cooldown:       5 * time.Minute,
		StaleLockAfter: time.Hour,
		Logger:         logger.Discard(),
		Audit:          audit.NewService(auditRepo),
		Notifier:       notifier,
	})
	svc.clock = clock.Now
	return svc, store, clock, notifier, auditRepo
}

func start(t *testing.T, svc *Service, contactID, callerID string) calls.StartCallResult {
	t.Helper()
	res, err := svc.StartCall(context.Background(), "ws-1", calls.StartCallRequest{
		ContactID:   contactID,
		CallerID:    callerID,
		PhoneNumber: "+1 (415) 555-0100",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.LockID)
	require.NotEmpty(t, res.CallAttemptID)
	return res
}

func TestCanCall_InProgressThenCalledRecentlyThenAllowed(t *testing.T) {
	ctx := context.Background()
	svc, _, clock, _, _ := newTestService(t)
	startedAt := clock.Now()

	res := start(t, svc, "X", "agent-1")

	got, err := svc.CanCall(ctx, "X", "agent-2")
	require.NoError(t, err)
	assert.False(t, got.Allowed)
	assert.Equal(t, calls.ReasonInProgress, got.Reason)

	clock.Advance(time.Minute)
	require.NoError(t, svc.EndCall(ctx, "agent-1", calls.EndCallRequest{
		CallAttemptID:   res.CallAttemptID,
		Outcome:         "connected",
		DurationSeconds: 45,
		EndReason:       calls.EndReasonCustomerHangup,
	}))

	got, err = svc.CanCall(ctx, "X", "agent-2")
	require.NoError(t, err)
	assert.False(t, got.Allowed)
	assert.Equal(t, calls.ReasonCalledRecently, got.Reason)
	require.NotNil(t, got.LastCallTime)
	assert.True(t, got.LastCallTime.Equal(startedAt))
	assert.Equal(t, "agent-1", got.LastCallerID)

	// window is measured from the attempt start
	clock.Advance(4*time.Minute - time.Second)
	got, _ = svc.CanCall(ctx, "X", "agent-2")
	assert.False(t, got.Allowed)

	clock.Advance(2 * time.Second)
	got, err = svc.CanCall(ctx, "X", "agent-2")
	require.NoError(t, err)
	assert.True(t, got.Allowed)
	assert.Empty(t, got.Reason)
}

func TestStartCall_CooldownEnforcedAtomically(t *testing.T) {
	ctx := context.Background()
	svc, store, clock, _, _ := newTestService(t)

	res := start(t, svc, "X", "agent-1")
	require.NoError(t, svc.EndCall(ctx, "agent-1", calls.EndCallRequest{CallAttemptID: res.CallAttemptID, Outcome: "no answer", EndReason: calls.EndReasonNoAnswer}))

	clock.Advance(4 * time.Minute)
	_, err := svc.StartCall(ctx, "ws-1", calls.StartCallRequest{ContactID: "X", CallerID: "agent-2", PhoneNumber: "+14155550100"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, calls.ErrCooldown))
	var cd *calls.CooldownError
	require.True(t, errors.As(err, &cd))
	assert.Equal(t, "agent-1", cd.LastCallerID)
	assert.Equal(t, 0, store.LockCount())

	clock.Advance(time.Minute + time.Second)
	start(t, svc, "X", "agent-2")
	assert.Equal(t, 1, store.LockCount())
}

func TestStartCall_ConcurrentCallersExactlyOneWins(t *testing.T) {
	svc, store, _, _, _ := newTestService(t)

	const callers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.StartCall(context.Background(), "ws-1", calls.StartCallRequest{
				ContactID:   "X",
				CallerID:    "agent-" + string(rune('a'+i%26)),
				PhoneNumber: "+14155550100",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, calls.ErrDuplicateLock):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, conflicts)
	assert.Equal(t, 1, store.LockCount())

	attempts, err := store.ListAttempts(context.Background(), AttemptFilter{ContactID: "X"})
	require.NoError(t, err)
	assert.Len(t, attempts, 1, "a rejected insert must not create an attempt")
}

func TestStartCall_InvalidNumberNeverLocks(t *testing.T) {
	svc, store, _, _, _ := newTestService(t)
	_, err := svc.StartCall(context.Background(), "ws-1", calls.StartCallRequest{ContactID: "X", CallerID: "a", PhoneNumber: "555-0100"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, calls.ErrInvalidNumber))
	assert.Equal(t, 0, store.LockCount())
}

func TestEndCall_ReleasesLockEvenWhenSealFails(t *testing.T) {
	ctx := context.Background()
	svc, store, _, notifier, _ := newTestService(t)
	res := start(t, svc, "X", "agent-1")

	store.SealErr = errors.New("disk full")
	err := svc.EndCall(ctx, "agent-1", calls.EndCallRequest{CallAttemptID: res.CallAttemptID, Outcome: "connected"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, store.LockCount())
	assert.Equal(t, []ChangeType{ChangeLockAcquired, ChangeLockReleased}, notifier.types())
}

func TestEndCall_RejectsOtherCaller(t *testing.T) {
	svc, store, _, _, _ := newTestService(t)
	res := start(t, svc, "X", "agent-1")

	err := svc.EndCall(context.Background(), "agent-2", calls.EndCallRequest{CallAttemptID: res.CallAttemptID})
	assert.True(t, errors.Is(err, calls.ErrNotOwner))
	assert.Equal(t, 1, store.LockCount())

	err = svc.EndCall(context.Background(), "agent-1", calls.EndCallRequest{CallAttemptID: "missing"})
	assert.True(t, errors.Is(err, calls.ErrAttemptNotFound))
}

func TestEndCall_HumanDispositionSupersedesAuto(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _, _ := newTestService(t)
	res := start(t, svc, "X", "agent-1")

	require.NoError(t, svc.EndCall(ctx, "agent-1", calls.EndCallRequest{
		CallAttemptID: res.CallAttemptID,
		Outcome:       calls.OutcomeUncompleted,
		EndReason:     calls.EndReasonNetworkError,
		Source:        calls.DispositionAuto,
	}))
	require.NoError(t, svc.EndCall(ctx, "agent-1", calls.EndCallRequest{
		CallAttemptID: res.CallAttemptID,
		Outcome:       "bad number",
		Notes:         "line dead",
		EndReason:     calls.EndReasonCustomerHangup,
	}))

	a, err := store.GetAttempt(ctx, res.CallAttemptID)
	require.NoError(t, err)
	assert.True(t, a.Sealed())
	assert.Equal(t, calls.EndReasonNetworkError, a.EndReason, "first seal fixes the end reason")
	assert.Equal(t, "bad number", a.Outcome)
	assert.Equal(t, calls.DispositionAgent, a.DispositionSource)

	// a late auto disposition does not clobber the human one
	require.NoError(t, svc.EndCall(ctx, "agent-1", calls.EndCallRequest{CallAttemptID: res.CallAttemptID, Outcome: calls.OutcomeUncompleted, Source: calls.DispositionAuto}))
	a, _ = store.GetAttempt(ctx, res.CallAttemptID)
	assert.Equal(t, "bad number", a.Outcome)
}

func TestEndCall_UnknownEndReasonStillSeals(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _, _ := newTestService(t)
	res := start(t, svc, "X", "agent-1")

	require.NoError(t, svc.EndCall(ctx, "agent-1", calls.EndCallRequest{CallAttemptID: res.CallAttemptID, Outcome: "x", EndReason: "WEIRD", DurationSeconds: 30}))
	a, _ := store.GetAttempt(ctx, res.CallAttemptID)
	assert.Equal(t, calls.EndReasonUnknown, a.EndReason)
	assert.Equal(t, 30, a.DurationSeconds)
	require.NotNil(t, a.ConnectedAt)
}

func TestReclaimStale(t *testing.T) {
	ctx := context.Background()
	svc, store, clock, _, auditRepo := newTestService(t)

	old := start(t, svc, "old", "agent-1")
	clock.Advance(50 * time.Minute)
	start(t, svc, "fresh", "agent-2")
	clock.Advance(11 * time.Minute)

	rep, err := svc.ReclaimStale(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, ReclaimReport{Scanned: 1, Reclaimed: 1}, rep)

	_, held, _ := store.ActiveLock(ctx, "old")
	assert.False(t, held)
	_, held, _ = store.ActiveLock(ctx, "fresh")
	assert.True(t, held)

	a, err := store.GetAttempt(ctx, old.CallAttemptID)
	require.NoError(t, err)
	assert.True(t, a.Sealed())
	assert.Equal(t, calls.EndReasonUnknown, a.EndReason)
	assert.Equal(t, calls.OutcomeAbandoned, a.Outcome)

	evs := auditRepo.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, audit.EventTypeLockReclaimed, evs[0].Type)
	assert.Equal(t, "ws-1", evs[0].WorkspaceID)
}

func TestForceRelease(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _, auditRepo := newTestService(t)
	start(t, svc, "X", "agent-1")

	l, err := svc.ForceRelease(ctx, "X", Actor{ID: "admin-1", Role: "admin", IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "agent-1", l.CallerID)
	assert.Equal(t, 0, store.LockCount())
	require.Len(t, auditRepo.ForContact("X"), 1)
	assert.Equal(t, audit.EventTypeForcedRelease, auditRepo.ForContact("X")[0].Type)

	_, err = svc.ForceRelease(ctx, "X", Actor{ID: "admin-1"})
	assert.True(t, errors.Is(err, ErrLockNotFound))
}

func TestForceRelease_AuditFailureDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _, auditRepo := newTestService(t)
	start(t, svc, "X", "agent-1")
	auditRepo.FailWith(errors.New("audit down"))

	_, err := svc.ForceRelease(ctx, "X", Actor{ID: "admin-1", Role: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 0, store.LockCount())
	assert.Empty(t, auditRepo.OfType(audit.EventTypeForcedRelease))
}
