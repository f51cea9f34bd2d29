package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to audit_events.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events
  (id, workspace_id, type, actor_id, actor_role, ip_address, contact_id, call_attempt_id, lock_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, '')::jsonb, $12)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.WorkspaceID,
		string(e.Type),
		e.ActorID,
		e.ActorRole,
		e.IPAddress,
		e.ContactID,
		e.CallAttemptID,
		e.LockID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
