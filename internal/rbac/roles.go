package rbac

// Role names. Keep these stable; they are part of the operator API contract.
const (
	RoleOperator = "operator"
	RoleAgent    = "agent"
	RoleAdmin    = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }
