package status

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"voicebridge/pkg/utils"
)

var ErrNotFound = errors.New("status: not found")

// MessageRepo is the persistence contract for delivery records. The sender
// subsystem creates rows; the reconciler only updates status fields.
type MessageRepo interface {
	GetBySid(ctx context.Context, sid string) (MessageDelivery, error)
	// UpdateStatus applies a status update if it respects the lattice.
	// applied=false (no error) for regressions, repeats, and terminal rows.
	UpdateStatus(ctx context.Context, sid string, status MessageStatus, errorCode, errorMessage string) (applied bool, err error)
}

// PostgresMessageRepo reads and updates the message_deliveries table.
//
// Expected schema:
//   message_deliveries(sid TEXT PRIMARY KEY, org_id TEXT NOT NULL,
//                      status TEXT, error_code TEXT, error_message TEXT,
//                      created_at TIMESTAMPTZ, updated_at TIMESTAMPTZ)
type PostgresMessageRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db, clock: time.Now}
}

func (r *PostgresMessageRepo) GetBySid(ctx context.Context, sid string) (MessageDelivery, error) {
	const q = `
SELECT sid, org_id, status, COALESCE(error_code, ''), COALESCE(error_message, ''), created_at, updated_at
FROM message_deliveries
WHERE sid = $1
`
	var m MessageDelivery
	if err := r.db.QueryRowContext(ctx, q, sid).Scan(
		&m.Sid,
		&m.OrgID,
		&m.Status,
		&m.ErrorCode,
		&m.ErrorMessage,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MessageDelivery{}, ErrNotFound
		}
		return MessageDelivery{}, err
	}
	return m, nil
}

func (r *PostgresMessageRepo) UpdateStatus(ctx context.Context, sid string, status MessageStatus, errorCode, errorMessage string) (bool, error) {
	if !status.Known() {
		return false, nil
	}

	applied := false
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `SELECT status FROM message_deliveries WHERE sid = $1 FOR UPDATE`
		var current MessageStatus
		if err := tx.QueryRowContext(ctx, sel, sid).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if !current.CanTransition(status) {
			return nil
		}
		const upd = `
UPDATE message_deliveries
SET status = $2, error_code = NULLIF($3, ''), error_message = NULLIF($4, ''), updated_at = $5
WHERE sid = $1
`
		if _, err := tx.ExecContext(ctx, upd, sid, status, errorCode, errorMessage, r.clock().UTC()); err != nil {
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

// MemoryMessageRepo implements MessageRepo for tests with identical
// transition semantics.
type MemoryMessageRepo struct {
	mu    sync.Mutex
	rows  map[string]MessageDelivery
	clock func() time.Time
}

func NewMemoryMessageRepo() *MemoryMessageRepo {
	return &MemoryMessageRepo{rows: map[string]MessageDelivery{}, clock: time.Now}
}

// Seed inserts a record directly, standing in for the sender subsystem.
func (r *MemoryMessageRepo) Seed(m MessageDelivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.clock().UTC()
	}
	m.UpdatedAt = m.CreatedAt
	r.rows[m.Sid] = m
}

func (r *MemoryMessageRepo) GetBySid(ctx context.Context, sid string) (MessageDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[sid]
	if !ok {
		return MessageDelivery{}, ErrNotFound
	}
	return m, nil
}

func (r *MemoryMessageRepo) UpdateStatus(ctx context.Context, sid string, status MessageStatus, errorCode, errorMessage string) (bool, error) {
	if !status.Known() {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[sid]
	if !ok {
		return false, ErrNotFound
	}
	if !m.Status.CanTransition(status) {
		return false, nil
	}
	m.Status = status
	m.ErrorCode = errorCode
	m.ErrorMessage = errorMessage
	m.UpdatedAt = r.clock().UTC()
	r.rows[sid] = m
	return true, nil
}
