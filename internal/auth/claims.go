package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for the operator API.
// Identity is provisioned out of band; this service only verifies.
// Multi-tenant invariant: OrgID must be present on every token.
type Claims struct {
	jwt.RegisteredClaims

	AgentID string `json:"agent_id"`
	OrgID   string `json:"org_id"`
	Role    string `json:"role"`
}
