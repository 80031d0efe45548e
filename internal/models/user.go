package models

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

func IsValidRole(role UserRole) bool {
	return role == RoleUser || role == RoleAdmin
}

// HasAtLeast reports whether role grants the permissions of required.
func HasAtLeast(role, required UserRole) bool {
	if required == RoleUser {
		return IsValidRole(role)
	}
	return role == RoleAdmin
}
