package calls

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// NumberRoute describes where an inbound call to a provisioned number should
// ring: the owning org, the agent target, and the names spoken to the agent
// during screening. Names are untrusted display text; the markup layer is
// responsible for escaping them.
type NumberRoute struct {
	OrgID        string `json:"org_id" db:"org_id"`
	AgentID      string `json:"agent_id" db:"agent_id"`
	AgentNumber  string `json:"agent_number" db:"agent_number"`
	BusinessName string `json:"business_name" db:"business_name"`
}

// Directory resolves the dialed number to its route. Kept as a small
// interface so webhook handlers carry no persistence assumptions.
type Directory interface {
	RouteForNumber(ctx context.Context, toNumber string) (NumberRoute, error)
}

// PostgresDirectory reads from the org_numbers table.
//
// Expected schema:
//   org_numbers(number TEXT PRIMARY KEY, org_id TEXT NOT NULL,
//               agent_id TEXT, agent_number TEXT, business_name TEXT)
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) RouteForNumber(ctx context.Context, toNumber string) (NumberRoute, error) {
	const q = `
SELECT org_id, COALESCE(agent_id, ''), COALESCE(agent_number, ''), COALESCE(business_name, '')
FROM org_numbers
WHERE number = $1
`
	var r NumberRoute
	if err := d.db.QueryRowContext(ctx, q, strings.TrimSpace(toNumber)).Scan(
		&r.OrgID,
		&r.AgentID,
		&r.AgentNumber,
		&r.BusinessName,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NumberRoute{}, ErrNotFound
		}
		return NumberRoute{}, err
	}
	return r, nil
}

// StaticDirectory serves a fixed number map. Useful for tests and
// single-tenant deployments.
type StaticDirectory map[string]NumberRoute

func (d StaticDirectory) RouteForNumber(ctx context.Context, toNumber string) (NumberRoute, error) {
	r, ok := d[strings.TrimSpace(toNumber)]
	if !ok {
		return NumberRoute{}, ErrNotFound
	}
	return r, nil
}
