package model

// Role is the permission role carried in a connection's token claims.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStaff    Role = "staff"
	RolePsikolog Role = "psikolog"
	RoleUser     Role = "user"

	// RoleNone is the role of anonymous connections.
	RoleNone Role = ""
)

// StaffRoles are the roles eligible for staff-only actions and the staff
// broadcast group.
var StaffRoles = []Role{RoleAdmin, RoleStaff, RolePsikolog}

// IsStaff reports whether the role is a staff role.
func (r Role) IsStaff() bool {
	for _, s := range StaffRoles {
		if r == s {
			return true
		}
	}
	return false
}
