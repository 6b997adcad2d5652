package identity

// Role of an authenticated caller as asserted by the gateway.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Identity is the authenticated caller of an HTTP operation.
type Identity struct {
	UserID string
	Role   Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanAccess reports whether the caller owns the resource or is an administrator.
func (i Identity) CanAccess(ownerID string) bool {
	return i.IsAdmin() || (i.UserID != "" && i.UserID == ownerID)
}
