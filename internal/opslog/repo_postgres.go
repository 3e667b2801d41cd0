package opslog

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to the ops_events table.
//
// Expected schema:
//   ops_events(id TEXT PRIMARY KEY, org_id TEXT NOT NULL, type TEXT,
//              call_sid TEXT, message_sid TEXT, room_id TEXT, actor_id TEXT,
//              carrier_error_code TEXT, message TEXT, created_at TIMESTAMPTZ)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO ops_events (
  id, org_id, type, call_sid, message_sid, room_id, actor_id, carrier_error_code, message, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.OrgID,
		e.Type,
		e.CallSid,
		e.MessageSid,
		e.RoomID,
		e.ActorID,
		e.CarrierErrorCode,
		e.Message,
		e.CreatedAt,
	)
	return err
}
