package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/metrics"
	"outbound-dialer/pkg/logger"

	"github.com/google/uuid"
)

// ErrLockNotFound is returned by ForceRelease when the contact holds no lock.
var ErrLockNotFound = errors.New("no active lock for contact")

const (
	DefaultCooldown       = 5 * time.Minute
	DefaultStaleLockAfter = time.Hour
)

// Auditor receives reclamation and forced-release records. *audit.Service satisfies it.
type Auditor interface {
	LogLockReclaimed(ctx context.Context, l audit.LockRecord, age time.Duration) error
	LogForcedRelease(ctx context.Context, l audit.LockRecord, actorID, actorRole, ip string) error
}

// ChangeType names a guard-side lifecycle change.
type ChangeType string

const (
	ChangeLockAcquired  ChangeType = "lock_acquired"
	ChangeAttemptSealed ChangeType = "attempt_sealed"
	ChangeLockReleased  ChangeType = "lock_released"
)

// Change is emitted to the Notifier after the store accepted a write.
type Change struct {
	Type          ChangeType      `json:"type"`
	ContactID     string          `json:"contactId"`
	CallerID      string          `json:"callerId"`
	CallAttemptID string          `json:"callAttemptId"`
	WorkspaceID   string          `json:"-"`
	State         calls.CallState `json:"state,omitempty"`
	EndReason     calls.EndReason `json:"endReason,omitempty"`
	Outcome       string          `json:"outcome,omitempty"`
	At            time.Time       `json:"at"`
}

// Notifier fans guard changes out to push subscribers and the live status store.
// Notify must not block.
type Notifier interface {
	Notify(ctx context.Context, c Change)
}

// Actor identifies who triggered an administrative release.
type Actor struct {
	ID   string
	Role string
	IP   string
}

type Options struct {
	Cooldown       time.Duration
	StaleLockAfter time.Duration
	Logger         *slog.Logger
	Audit          Auditor
	Notifier       Notifier
}

// Service enforces "at most one in-flight call, and a minimum cool-down, per contact".
//
// Invariants:
// - A lock is created only by Store.AcquireLock (atomic, uniqueness-constrained).
// - EndCall always attempts the lock delete, whatever happened to the seal.
// - CanCall is advisory; StartCall is authoritative.
type Service struct {
	store          Store
	cooldown       time.Duration
	staleLockAfter time.Duration
	log            *slog.Logger
	audit          Auditor
	notifier       Notifier

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:          store,
		cooldown:       opts.Cooldown,
		staleLockAfter: opts.StaleLockAfter,
		log:            opts.Logger,
		audit:          opts.Audit,
		notifier:       opts.Notifier,
		clock:          time.Now,
	}
	if s.cooldown <= 0 {
		s.cooldown = DefaultCooldown
	}
	if s.staleLockAfter <= 0 {
		s.staleLockAfter = DefaultStaleLockAfter
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Cooldown is the configured minimum time between attempts on a contact.
func (s *Service) Cooldown() time.Duration { return s.cooldown }

// CanCall is the fast advisory pre-dial check. Checks, in order: an active lock,
// then the cooldown of the most recent sealed attempt.
func (s *Service) CanCall(ctx context.Context, contactID, callerID string) (calls.CanCallResult, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return calls.CanCallResult{}, fmt.Errorf("%w: contact id required", calls.ErrInvalidArgument)
	}

	if _, held, err := s.store.ActiveLock(ctx, contactID); err != nil {
		return calls.CanCallResult{}, fmt.Errorf("active lock: %w", err)
	} else if held {
		metrics.GuardDecisions.WithLabelValues("in_progress").Inc()
		return calls.CanCallResult{Allowed: false, Reason: calls.ReasonInProgress}, nil
	}

	last, ok, err := s.store.LastSealedAttempt(ctx, contactID)
	if err != nil {
		return calls.CanCallResult{}, fmt.Errorf("last attempt: %w", err)
	}
	if ok && last.StartedAt.After(s.cooldownSince()) {
		metrics.GuardDecisions.WithLabelValues("called_recently").Inc()
		started := last.StartedAt
		return calls.CanCallResult{
			Allowed:      false,
			Reason:       calls.ReasonCalledRecently,
			LastCallTime: &started,
			LastCallerID: last.CallerID,
		}, nil
	}

	metrics.GuardDecisions.WithLabelValues("allowed").Inc()
	s.logFor(ctx).Debug("can call", "contact_id", contactID, "caller_id", callerID)
	return calls.CanCallResult{Allowed: true}, nil
}

// StartCall acquires the contact's lock and opens an attempt in one atomic write.
// The phone number is validated first; an invalid number never reaches the store.
func (s *Service) StartCall(ctx context.Context, workspaceID string, req calls.StartCallRequest) (calls.StartCallResult, error) {
	contactID := strings.TrimSpace(req.ContactID)
	callerID := strings.TrimSpace(req.CallerID)
	if contactID == "" || callerID == "" {
		return calls.StartCallResult{}, fmt.Errorf("%w: contact id and caller id required", calls.ErrInvalidArgument)
	}
	phone, err := calls.NormalizeE164(req.PhoneNumber)
	if err != nil {
		return calls.StartCallResult{}, err
	}

	now := s.clock().UTC()
	attempt := calls.CallAttempt{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		ContactID:   contactID,
		CallerID:    callerID,
		PhoneNumber: phone,
		State:       calls.StateDialing,
		StartedAt:   now,
	}
	lock := calls.ActiveCallLock{
		ID:            uuid.NewString(),
		ContactID:     contactID,
		CallerID:      callerID,
		PhoneNumber:   phone,
		CallAttemptID: attempt.ID,
		StartedAt:     now,
	}

	if err := s.store.AcquireLock(ctx, lock, attempt, now.Add(-s.cooldown)); err != nil {
		switch {
		case errors.Is(err, calls.ErrDuplicateLock):
			metrics.LockRejections.WithLabelValues("duplicate").Inc()
		case errors.Is(err, calls.ErrCooldown):
			metrics.LockRejections.WithLabelValues("cooldown").Inc()
		default:
			s.logFor(ctx).Error("acquire lock failed", "contact_id", contactID, "caller_id", callerID, "err", err)
		}
		return calls.StartCallResult{}, err
	}

	metrics.LocksAcquired.Inc()
	s.logFor(ctx).Info("lock acquired", "contact_id", contactID, "caller_id", callerID, "lock_id", lock.ID, "call_attempt_id", attempt.ID)
	s.notify(ctx, Change{
		Type:          ChangeLockAcquired,
		ContactID:     contactID,
		CallerID:      callerID,
		CallAttemptID: attempt.ID,
		WorkspaceID:   workspaceID,
		State:         calls.StateDialing,
		At:            now,
	})
	return calls.StartCallResult{LockID: lock.ID, CallAttemptID: attempt.ID}, nil
}

// Attempt returns one attempt by id.
func (s *Service) Attempt(ctx context.Context, id string) (calls.CallAttempt, error) {
	if strings.TrimSpace(id) == "" {
		return calls.CallAttempt{}, calls.ErrAttemptNotFound
	}
	return s.store.GetAttempt(ctx, id)
}

// EndCall seals the attempt (or updates the disposition of an already sealed one)
// and deletes its lock. The delete is attempted even when the lookup or seal
// fails; all failures are joined into the returned error.
func (s *Service) EndCall(ctx context.Context, callerID string, req calls.EndCallRequest) error {
	id := strings.TrimSpace(req.CallAttemptID)
	if id == "" {
		return fmt.Errorf("%w: call attempt id required", calls.ErrInvalidArgument)
	}

	var sealErr error
	existing, err := s.store.GetAttempt(ctx, id)
	switch {
	case errors.Is(err, calls.ErrAttemptNotFound):
		// The lock is created with its attempt, so there is nothing to release.
		return err
	case err != nil:
		sealErr = fmt.Errorf("load attempt: %w", err)
	case callerID != "" && existing.CallerID != callerID:
		return calls.ErrNotOwner
	default:
		sealed := s.applyEnd(existing, req)
		if err := s.store.SealAttempt(ctx, sealed); err != nil {
			sealErr = fmt.Errorf("seal attempt: %w", err)
		} else {
			if !existing.Sealed() {
				metrics.AttemptsSealed.WithLabelValues(string(sealed.EndReason)).Inc()
			}
			s.notify(ctx, Change{
				Type:          ChangeAttemptSealed,
				ContactID:     sealed.ContactID,
				CallerID:      sealed.CallerID,
				CallAttemptID: sealed.ID,
				WorkspaceID:   sealed.WorkspaceID,
				State:         sealed.State,
				EndReason:     sealed.EndReason,
				Outcome:       sealed.Outcome,
				At:            s.clock().UTC(),
			})
		}
	}

	released, relErr := s.store.ReleaseLockByAttempt(ctx, id)
	if relErr != nil {
		metrics.ReleaseFailures.Inc()
		relErr = fmt.Errorf("release lock: %w", relErr)
	} else if released {
		metrics.LocksReleased.WithLabelValues("end_call").Inc()
		s.notify(ctx, Change{
			Type:          ChangeLockReleased,
			ContactID:     existing.ContactID,
			CallerID:      existing.CallerID,
			CallAttemptID: id,
			WorkspaceID:   existing.WorkspaceID,
			At:            s.clock().UTC(),
		})
	}

	if err := errors.Join(sealErr, relErr); err != nil {
		s.logFor(ctx).Error("end call", "call_attempt_id", id, "released", released, "err", err)
		return err
	}
	s.logFor(ctx).Info("call ended", "call_attempt_id", id, "outcome", req.Outcome, "end_reason", req.EndReason)
	return nil
}

// applyEnd merges an end-call request into the stored attempt.
// The first seal fixes the end reason; later requests only update the
// disposition, and an automatic disposition never overwrites a human one.
func (s *Service) applyEnd(a calls.CallAttempt, req calls.EndCallRequest) calls.CallAttempt {
	src := req.Source
	if src == calls.DispositionNone {
		src = calls.DispositionAgent
	}

	if !a.Sealed() {
		reason := req.EndReason
		if !reason.Valid() {
			reason = calls.EndReasonUnknown
		}
		ended := s.clock().UTC()
		a.State = calls.StateWrapUp
		a.EndReason = reason
		a.EndedAt = &ended
		if req.DurationSeconds > 0 {
			a.DurationSeconds = req.DurationSeconds
			if a.ConnectedAt == nil {
				connected := ended.Add(-time.Duration(req.DurationSeconds) * time.Second)
				a.ConnectedAt = &connected
			}
		}
	} else if req.DurationSeconds > 0 && a.DurationSeconds == 0 {
		a.DurationSeconds = req.DurationSeconds
	}

	if a.DispositionSource == calls.DispositionAgent && src == calls.DispositionAuto {
		return a
	}
	a.Outcome = req.Outcome
	a.DispositionSource = src
	a.Notes = req.Notes
	if req.RecordingURL != "" {
		a.RecordingURL = req.RecordingURL
	}
	return a
}

// ReclaimReport summarises one reclamation pass.
type ReclaimReport struct {
	Scanned   int `json:"scanned"`
	Reclaimed int `json:"reclaimed"`
	Failed    int `json:"failed"`
}

// ReclaimStale releases locks older than the staleness threshold. An attempt still
// open behind such a lock is sealed UNKNOWN with the "abandoned" outcome.
func (s *Service) ReclaimStale(ctx context.Context, limit int) (ReclaimReport, error) {
	start := time.Now()
	defer func() { metrics.ReclaimDurationSeconds.Observe(time.Since(start).Seconds()) }()

	now := s.clock().UTC()
	stale, err := s.store.StaleLocks(ctx, now.Add(-s.staleLockAfter), limit)
	if err != nil {
		return ReclaimReport{}, fmt.Errorf("list stale locks: %w", err)
	}

	rep := ReclaimReport{Scanned: len(stale)}
	var errs []error
	for _, l := range stale {
		workspaceID, err := s.release(ctx, l, "reclaimed")
		if err != nil {
			rep.Failed++
			errs = append(errs, fmt.Errorf("contact %s: %w", l.ContactID, err))
			continue
		}
		rep.Reclaimed++
		age := now.Sub(l.StartedAt)
		s.log.Warn("stale lock reclaimed", "contact_id", l.ContactID, "caller_id", l.CallerID, "lock_id", l.ID, "age", age.String())
		if s.audit != nil {
			if err := s.audit.LogLockReclaimed(ctx, lockRecord(l, workspaceID), age); err != nil {
				s.log.Warn("audit reclaim failed", "lock_id", l.ID, "err", err)
			}
		}
	}
	return rep, errors.Join(errs...)
}

// ForceRelease deletes a contact's lock regardless of age. The attempt behind it,
// if still open, is sealed UNKNOWN as abandoned.
func (s *Service) ForceRelease(ctx context.Context, contactID string, actor Actor) (calls.ActiveCallLock, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return calls.ActiveCallLock{}, fmt.Errorf("%w: contact id required", calls.ErrInvalidArgument)
	}
	l, held, err := s.store.ActiveLock(ctx, contactID)
	if err != nil {
		return calls.ActiveCallLock{}, err
	}
	if !held {
		return calls.ActiveCallLock{}, ErrLockNotFound
	}

	workspaceID, err := s.release(ctx, l, "forced")
	if err != nil {
		return calls.ActiveCallLock{}, err
	}
	s.logFor(ctx).Warn("lock force released", "contact_id", contactID, "lock_id", l.ID, "actor_id", actor.ID)
	if s.audit != nil {
		if err := s.audit.LogForcedRelease(ctx, lockRecord(l, workspaceID), actor.ID, actor.Role, actor.IP); err != nil {
			s.logFor(ctx).Warn("audit forced release failed", "lock_id", l.ID, "err", err)
		}
	}
	return l, nil
}

// release seals the open attempt behind l as abandoned and deletes l. The delete
// is keyed by attempt id so a newer lock on the same contact is never touched.
func (s *Service) release(ctx context.Context, l calls.ActiveCallLock, path string) (string, error) {
	var (
		sealErr     error
		workspaceID string
		sealedNow   bool
	)
	a, err := s.store.GetAttempt(ctx, l.CallAttemptID)
	switch {
	case errors.Is(err, calls.ErrAttemptNotFound):
	case err != nil:
		sealErr = fmt.Errorf("load attempt: %w", err)
	default:
		workspaceID = a.WorkspaceID
		if !a.Sealed() {
			ended := s.clock().UTC()
			a.State = calls.StateWrapUp
			a.EndReason = calls.EndReasonUnknown
			a.EndedAt = &ended
			a.Outcome = calls.OutcomeAbandoned
			a.DispositionSource = calls.DispositionSystem
			if err := s.store.SealAttempt(ctx, a); err != nil {
				sealErr = fmt.Errorf("seal abandoned attempt: %w", err)
			} else {
				sealedNow = true
				metrics.AttemptsSealed.WithLabelValues(string(a.EndReason)).Inc()
			}
		}
	}

	released, err := s.store.ReleaseLockByAttempt(ctx, l.CallAttemptID)
	if err != nil {
		metrics.ReleaseFailures.Inc()
		return workspaceID, errors.Join(sealErr, fmt.Errorf("release lock: %w", err))
	}
	if released {
		metrics.LocksReleased.WithLabelValues(path).Inc()
		c := Change{
			Type:          ChangeLockReleased,
			ContactID:     l.ContactID,
			CallerID:      l.CallerID,
			CallAttemptID: l.CallAttemptID,
			WorkspaceID:   workspaceID,
			At:            s.clock().UTC(),
		}
		if sealedNow {
			c.State = calls.StateWrapUp
			c.EndReason = calls.EndReasonUnknown
			c.Outcome = calls.OutcomeAbandoned
		}
		s.notify(ctx, c)
	}
	if sealErr != nil {
		s.log.Warn("lock released but attempt not sealed", "lock_id", l.ID, "err", sealErr)
	}
	return workspaceID, nil
}

// ListAttempts exposes the attempt log for reporting.
func (s *Service) ListAttempts(ctx context.Context, f AttemptFilter) ([]calls.CallAttempt, error) {
	return s.store.ListAttempts(ctx, f)
}

// logFor prefers the request logger so guard lines carry request and agent ids.
func (s *Service) logFor(ctx context.Context) *slog.Logger {
	return logger.FromOr(ctx, s.log)
}

func (s *Service) cooldownSince() time.Time {
	return s.clock().UTC().Add(-s.cooldown)
}

func (s *Service) notify(ctx context.Context, c Change) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, c)
	}
}

func lockRecord(l calls.ActiveCallLock, workspaceID string) audit.LockRecord {
	return audit.LockRecord{
		WorkspaceID:   workspaceID,
		LockID:        l.ID,
		ContactID:     l.ContactID,
		CallerID:      l.CallerID,
		CallAttemptID: l.CallAttemptID,
		StartedAt:     l.StartedAt,
	}
}
