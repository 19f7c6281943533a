package domain

// Role is the caller role carried by a verified credential.
type Role string

const (
	RoleRider    Role = "USER"
	RoleDriver   Role = "DRIVER"
	RoleOperator Role = "OPERATOR"
)

// Principal is the verified identity of a caller. It lives for one request.
// Subject is the rider's email or the driver's phone number.
type Principal struct {
	Subject string
	Role    Role
}

// Is reports whether the principal has the given role.
func (p Principal) Is(role Role) bool {
	return p.Role == role
}
