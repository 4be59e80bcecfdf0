package middleware

import "strings"

// Roles stored in users.role or granted through configuration.
const (
	RoleUser       = "user"
	RoleProvider   = "provider"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// IsAdminRole reports whether role grants access to the admin API.
func IsAdminRole(role string) bool {
	return role == RoleAdmin || role == RoleSuperAdmin
}

// RoleResolver maps users to roles using configured allowlists.
type RoleResolver struct {
	admins      map[string]struct{}
	superAdmins map[string]struct{}
}

// NewRoleResolver builds a resolver from admin and super-admin user IDs.
func NewRoleResolver(adminIDs, superAdminIDs []string) *RoleResolver {
	return &RoleResolver{
		admins:      toSet(adminIDs),
		superAdmins: toSet(superAdminIDs),
	}
}

// Resolve returns the effective role. Allowlists win over tokenRole, which
// wins over the default user role. Supabase's generic "authenticated" role
// is treated as a plain user. super_admin is only granted by the allowlist;
// a token claiming it resolves to admin.
func (r *RoleResolver) Resolve(userID, tokenRole string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ""
	}
	if r != nil {
		if _, ok := r.superAdmins[userID]; ok {
			return RoleSuperAdmin
		}
		if _, ok := r.admins[userID]; ok {
			return RoleAdmin
		}
	}
	switch tokenRole {
	case RoleAdmin, RoleSuperAdmin:
		return RoleAdmin
	case RoleProvider:
		return RoleProvider
	default:
		return RoleUser
	}
}

// Granted reports whether userID holds a role through an allowlist.
func (r *RoleResolver) Granted(userID string) bool {
	if r == nil {
		return false
	}
	userID = strings.TrimSpace(userID)
	_, admin := r.admins[userID]
	_, super := r.superAdmins[userID]
	return admin || super
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}
