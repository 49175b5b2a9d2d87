package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to the audit_events table. It never issues UPDATE or DELETE.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_events (id, tenant_id, type, actor_user_id, actor_role, ip_address, call_id, session_id, message, metadata, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, '')::jsonb, $11)`,
		e.ID, e.TenantID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress, e.CallID, e.SessionID, e.Message, e.Metadata, e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) ListByCall(ctx context.Context, tenantID, callID string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, tenant_id, type, COALESCE(actor_user_id, ''), COALESCE(actor_role, ''), COALESCE(ip_address, ''),
	COALESCE(call_id, ''), COALESCE(session_id, ''), message, COALESCE(metadata::text, ''), created_at
FROM audit_events
WHERE tenant_id = $1 AND call_id = $2
ORDER BY created_at, id`, tenantID, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e   Event
			typ string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &typ, &e.ActorUserID, &e.ActorRole, &e.IPAddress,
			&e.CallID, &e.SessionID, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
