package auth

import (
	"errors"
	"slices"
)

// Role is an authorisation tier of the control API.
type Role string

const (
	// RoleViewer reads status, telemetry, history and logs.
	RoleViewer Role = "viewer"

	// RoleOperator also starts and stops the miner and applies tuning profiles.
	RoleOperator Role = "operator"

	// RoleAdmin also runs tuning diagnostics, which execute the tool
	// directly, and reads the audit log.
	RoleAdmin Role = "admin"
)

// ValidRoles lists the roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// Permission is a named capability.
type Permission string

const (
	PermStatusRead     Permission = "status:read"
	PermMinerControl   Permission = "miner:control"
	PermTuningApply    Permission = "tuning:apply"
	PermTuningDiagnose Permission = "tuning:diagnose"
	PermAuditRead      Permission = "audit:read"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer:   {PermStatusRead},
	RoleOperator: {PermStatusRead, PermMinerControl, PermTuningApply},
	RoleAdmin:    {PermStatusRead, PermMinerControl, PermTuningApply, PermTuningDiagnose, PermAuditRead},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns a copy of the permissions of role.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}

var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrNoSecret     = errors.New("jwt secret not configured")
)
