package guard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"outbound-dialer/internal/calls"
	"outbound-dialer/pkg/utils"
)

// NOTE: This store assumes the schema in migrations/001_init.sql:
// - active_calls with UNIQUE (contact_id) named active_calls_contact_id_key
// - call_attempts
//
// The unique constraint is the duplicate-call guard. Nothing here reads before
// inserting a lock.

const lockUniqueConstraint = "active_calls_contact_id_key"

const attemptColumns = `id, workspace_id, contact_id, caller_id, phone_number, state, end_reason, duration,
outcome, disposition_source, notes, recording_url, started_at, connected_at, ended_at`

const lockColumns = `id, contact_id, caller_id, phone_number, call_attempt_id, started_at`

// PostgresStore implements Store on database/sql with the pgx driver.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) ActiveLock(ctx context.Context, contactID string) (calls.ActiveCallLock, bool, error) {
	q := `SELECT ` + lockColumns + ` FROM active_calls WHERE contact_id = $1`
	l, err := scanLock(s.db.QueryRowContext(ctx, q, contactID))
	if errors.Is(err, sql.ErrNoRows) {
		return calls.ActiveCallLock{}, false, nil
	}
	if err != nil {
		return calls.ActiveCallLock{}, false, err
	}
	return l, true, nil
}

func (s *PostgresStore) LastSealedAttempt(ctx context.Context, contactID string) (calls.CallAttempt, bool, error) {
	return lastSealedAttempt(ctx, s.db, contactID)
}

func (s *PostgresStore) AcquireLock(ctx context.Context, lock calls.ActiveCallLock, attempt calls.CallAttempt, cooldownSince time.Time) error {
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertLock(ctx, tx, lock); err != nil {
			if utils.IsUniqueViolation(err, lockUniqueConstraint) {
				return calls.ErrDuplicateLock
			}
			return fmt.Errorf("insert lock: %w", err)
		}

		// We hold the contact's unique row now, so a concurrent end-call has
		// either committed its seal or not started.
		last, ok, err := lastSealedAttempt(ctx, tx, lock.ContactID)
		if err != nil {
			return fmt.Errorf("cooldown check: %w", err)
		}
		if ok && last.StartedAt.After(cooldownSince) {
			return &calls.CooldownError{LastCallTime: last.StartedAt, LastCallerID: last.CallerID}
		}

		if err := insertAttempt(ctx, tx, attempt); err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetAttempt(ctx context.Context, id string) (calls.CallAttempt, error) {
	q := `SELECT ` + attemptColumns + ` FROM call_attempts WHERE id = $1`
	a, err := scanAttempt(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return calls.CallAttempt{}, calls.ErrAttemptNotFound
	}
	return a, err
}

func (s *PostgresStore) SealAttempt(ctx context.Context, a calls.CallAttempt) error {
	const q = `
UPDATE call_attempts
SET state = $2, end_reason = $3, duration = $4, outcome = $5, disposition_source = $6,
    notes = $7, recording_url = $8, connected_at = $9, ended_at = $10
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q,
		a.ID,
		string(a.State),
		string(a.EndReason),
		a.DurationSeconds,
		a.Outcome,
		string(a.DispositionSource),
		a.Notes,
		a.RecordingURL,
		a.ConnectedAt,
		a.EndedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return calls.ErrAttemptNotFound
	}
	return nil
}

func (s *PostgresStore) ReleaseLockByAttempt(ctx context.Context, attemptID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM active_calls WHERE call_attempt_id = $1`, attemptID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) StaleLocks(ctx context.Context, olderThan time.Time, limit int) ([]calls.ActiveCallLock, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + lockColumns + ` FROM active_calls WHERE started_at < $1 ORDER BY started_at ASC LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]calls.ActiveCallLock, 0)
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAttempts(ctx context.Context, f AttemptFilter) ([]calls.CallAttempt, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.WorkspaceID != "" {
		add("workspace_id = $%d", f.WorkspaceID)
	}
	if f.CallerID != "" {
		add("caller_id = $%d", f.CallerID)
	}
	if f.ContactID != "" {
		add("contact_id = $%d", f.ContactID)
	}
	if !f.From.IsZero() {
		add("started_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("started_at < $%d", f.To)
	}

	q := `SELECT ` + attemptColumns + ` FROM call_attempts`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY started_at ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]calls.CallAttempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func lastSealedAttempt(ctx context.Context, q queryer, contactID string) (calls.CallAttempt, bool, error) {
	query := `SELECT ` + attemptColumns + `
FROM call_attempts
WHERE contact_id = $1 AND state = 'WRAP_UP'
ORDER BY started_at DESC
LIMIT 1`
	a, err := scanAttempt(q.QueryRowContext(ctx, query, contactID))
	if errors.Is(err, sql.ErrNoRows) {
		return calls.CallAttempt{}, false, nil
	}
	if err != nil {
		return calls.CallAttempt{}, false, err
	}
	return a, true, nil
}

func insertLock(ctx context.Context, tx *sql.Tx, l calls.ActiveCallLock) error {
	const q = `
INSERT INTO active_calls (id, contact_id, caller_id, phone_number, call_attempt_id, started_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err := tx.ExecContext(ctx, q, l.ID, l.ContactID, l.CallerID, l.PhoneNumber, l.CallAttemptID, l.StartedAt)
	return err
}

func insertAttempt(ctx context.Context, tx *sql.Tx, a calls.CallAttempt) error {
	const q = `
INSERT INTO call_attempts (id, workspace_id, contact_id, caller_id, phone_number, state, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	_, err := tx.ExecContext(ctx, q, a.ID, a.WorkspaceID, a.ContactID, a.CallerID, a.PhoneNumber, string(a.State), a.StartedAt)
	return err
}

func scanLock(row scanner) (calls.ActiveCallLock, error) {
	var l calls.ActiveCallLock
	err := row.Scan(
		&l.ID,
		&l.ContactID,
		&l.CallerID,
		&l.PhoneNumber,
		&l.CallAttemptID,
		&l.StartedAt,
	)
	return l, err
}

func scanAttempt(row scanner) (calls.CallAttempt, error) {
	var (
		a                    calls.CallAttempt
		state, reason, src   string
		connectedAt, endedAt sql.NullTime
	)
	if err := row.Scan(
		&a.ID,
		&a.WorkspaceID,
		&a.ContactID,
		&a.CallerID,
		&a.PhoneNumber,
		&state,
		&reason,
		&a.DurationSeconds,
		&a.Outcome,
		&src,
		&a.Notes,
		&a.RecordingURL,
		&a.StartedAt,
		&connectedAt,
		&endedAt,
	); err != nil {
		return calls.CallAttempt{}, err
	}
	a.State = calls.CallState(state)
	a.EndReason = calls.EndReason(reason)
	a.DispositionSource = calls.DispositionSource(src)
	if connectedAt.Valid {
		t := connectedAt.Time
		a.ConnectedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		a.EndedAt = &t
	}
	return a, nil
}
