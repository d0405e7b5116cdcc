// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import "strings"

// =============================================================================
// ROLES
// =============================================================================

// Role is the caller's privilege level. Ordered: RoleUser < ... < RoleAdmin.
type Role int

const (
	// RoleUser is the default for anonymous or unknown roles.
	RoleUser Role = iota
	// RoleParent can ask about their own children.
	RoleParent
	// RoleTeacher manages a class.
	RoleTeacher
	// RolePrincipal runs a kindergarten.
	RolePrincipal
	// RoleAdmin administers the system. Both "admin" and "super_admin" map here.
	RoleAdmin
)

// ParseRole maps a role string to a Role. Unknown roles map to RoleUser.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin", "super_admin", "superadmin":
		return RoleAdmin
	case "principal":
		return RolePrincipal
	case "teacher":
		return RoleTeacher
	case "parent":
		return RoleParent
	default:
		return RoleUser
	}
}

// String returns the canonical role name.
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RolePrincipal:
		return "principal"
	case RoleTeacher:
		return "teacher"
	case RoleParent:
		return "parent"
	default:
		return "user"
	}
}

// AtLeast reports whether r satisfies the minimum role.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}
