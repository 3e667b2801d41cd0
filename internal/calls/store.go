package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voicebridge/pkg/utils"
)

var (
	ErrNotFound      = errors.New("calls: not found")
	ErrInvalidCall   = errors.New("calls: invalid call")
	ErrAlreadyExists = errors.New("calls: already exists")
)

// Store is the persistence contract for call records. It is the only durable
// state the call-control core owns; no other component writes these rows.
type Store interface {
	Create(ctx context.Context, c Call) (Call, error)
	GetBySid(ctx context.Context, sid string) (Call, error)

	// UpsertStatus applies a status update if it respects the monotonic
	// lifecycle. It returns applied=false (and no error) for regressions,
	// repeats, and writes to terminal records.
	UpsertStatus(ctx context.Context, sid string, status Status) (applied bool, err error)

	// SetRecording attaches the durable media location once the carrier
	// reports the recording ready. Overwriting with identical values is a
	// no-op so callback replays are harmless.
	SetRecording(ctx context.Context, sid, recordingURL, recordingSid string) error
}

// PostgresStore persists calls in the `calls` table.
//
// Expected schema:
//   calls(sid TEXT PRIMARY KEY, org_id TEXT NOT NULL, direction TEXT,
//         from_number TEXT, to_number TEXT, status TEXT,
//         recording_url TEXT, recording_sid TEXT,
//         created_at TIMESTAMPTZ, updated_at TIMESTAMPTZ)
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) Create(ctx context.Context, c Call) (Call, error) {
	if c.Sid == "" || c.OrgID == "" {
		return Call{}, ErrInvalidCall
	}
	if c.Status == "" {
		c.Status = StatusQueued
	}
	if !c.Status.Known() {
		return Call{}, ErrInvalidCall
	}

	now := s.clock().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	const q = `
INSERT INTO calls (sid, org_id, direction, from_number, to_number, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (sid) DO NOTHING
`
	res, err := s.db.ExecContext(ctx, q,
		c.Sid, c.OrgID, c.Direction, c.From, c.To, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return Call{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Call{}, ErrAlreadyExists
	}
	return c, nil
}

func (s *PostgresStore) GetBySid(ctx context.Context, sid string) (Call, error) {
	const q = `
SELECT sid, org_id, direction, from_number, to_number, status,
       COALESCE(recording_url, ''), COALESCE(recording_sid, ''),
       created_at, updated_at
FROM calls
WHERE sid = $1
`
	var c Call
	if err := s.db.QueryRowContext(ctx, q, sid).Scan(
		&c.Sid,
		&c.OrgID,
		&c.Direction,
		&c.From,
		&c.To,
		&c.Status,
		&c.RecordingURL,
		&c.RecordingSid,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

func (s *PostgresStore) UpsertStatus(ctx context.Context, sid string, status Status) (bool, error) {
	if !status.Known() {
		return false, nil
	}

	applied := false
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the row so concurrent callbacks for the same sid serialize.
		const sel = `SELECT status FROM calls WHERE sid = $1 FOR UPDATE`
		var current Status
		if err := tx.QueryRowContext(ctx, sel, sid).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if !current.CanTransition(status) {
			return nil
		}
		const upd = `UPDATE calls SET status = $2, updated_at = $3 WHERE sid = $1`
		if _, err := tx.ExecContext(ctx, upd, sid, status, s.clock().UTC()); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *PostgresStore) SetRecording(ctx context.Context, sid, recordingURL, recordingSid string) error {
	const q = `
UPDATE calls SET recording_url = $2, recording_sid = $3, updated_at = $4
WHERE sid = $1
`
	res, err := s.db.ExecContext(ctx, q, sid, recordingURL, recordingSid, s.clock().UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
