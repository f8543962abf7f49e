package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a control-plane account that can authenticate and query the
// tenants it has been granted access to.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"` // 'superuser', 'admin', 'db_admin', 'user'
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role constants, ordered from most to least privileged.
const (
	RoleSuperuser = "superuser"
	RoleAdmin     = "admin"
	RoleDBAdmin   = "db_admin"
	RoleUser      = "user"
)

// ValidRoles contains all valid role values.
var ValidRoles = []string{RoleSuperuser, RoleAdmin, RoleDBAdmin, RoleUser}

// IsValidRole checks if the given role is valid.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

var rolePrecedence = map[string]int{
	RoleSuperuser: 3,
	RoleAdmin:     2,
	RoleDBAdmin:   1,
	RoleUser:      0,
}

// RoleAtLeast reports whether role grants at least the privileges of min.
func RoleAtLeast(role, min string) bool {
	r, ok := rolePrecedence[role]
	if !ok {
		return false
	}
	m, ok := rolePrecedence[min]
	if !ok {
		return false
	}
	return r >= m
}
