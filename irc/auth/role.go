package auth

import (
	"fmt"
	"strings"
)

// Role is a server-wide privilege level, independent of channel operator
// status. Roles are totally ordered: a higher role implies every privilege
// of the roles below it.
type Role int

const (
	RoleUser Role = iota
	RoleOperator
	RoleAdmin
)

// String returns the wire/API name of the role.
func (r Role) String() string {
	switch r {
	case RoleOperator:
		return "OPERATOR"
	case RoleAdmin:
		return "ADMIN"
	default:
		return "USER"
	}
}

// Covers reports whether r grants at least the privileges of required.
func (r Role) Covers(required Role) bool {
	return r >= required
}

// ParseRole converts an API role name into a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "USER":
		return RoleUser, nil
	case "OPERATOR":
		return RoleOperator, nil
	case "ADMIN":
		return RoleAdmin, nil
	}
	return RoleUser, fmt.Errorf("unknown role %q", s)
}
