package domain

// Role distinguishes regular users from catalog administrators.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Principal is the authenticated actor performing an operation.
type Principal struct {
	ID   string
	Name string
	Role Role
}

// IsAdmin reports whether the principal may manage the catalog.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
