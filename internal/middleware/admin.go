package middleware

import (
	"context"
	"net/http"

	"github.com/needful-app/needful/internal/database"
	"github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/internal/logging"
)

// RoleLookup returns the role stored for a user, e.g. users.role. A missing
// user is reported with an error matching database.ErrNotFound.
type RoleLookup interface {
	UserRole(ctx context.Context, userID string) (string, error)
}

// RequireAdmin admits admin and super_admin callers. Unless the role was
// granted by configuration, the stored role is authoritative when lookup is
// set, so a demoted user loses access before their token expires. Stored
// roles never exceed admin.
func RequireAdmin(lookup RoleLookup, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := httputil.RequireUserID(w, r)
			if !ok {
				return
			}

			id, _ := IdentityFromContext(r.Context())
			role := GetUserRole(r.Context())
			if !id.Granted && lookup != nil {
				stored, err := lookup.UserRole(r.Context(), userID)
				if database.IsNotFound(err) {
					stored, err = RoleUser, nil
				}
				if err != nil {
					logger.WithContext(r.Context()).WithError(err).Warn("admin role lookup failed")
					httputil.WriteError(w, r, errors.Unavailable("role lookup failed", err))
					return
				}
				role = RoleUser
				if IsAdminRole(stored) {
					role = RoleAdmin
				}
				if role != id.Role {
					id.UserID = userID
					id.Role = role
					r = r.WithContext(WithIdentity(r.Context(), id))
				}
			}

			if !IsAdminRole(role) {
				logger.LogSecurityEvent(r.Context(), "admin_access_denied", map[string]interface{}{
					"path":   r.URL.Path,
					"method": r.Method,
				})
				httputil.Forbidden(w, "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSuperAdmin admits only super_admin callers. It must run after
// RequireAdmin.
func RequireSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserRole(r.Context()) != RoleSuperAdmin {
			httputil.Forbidden(w, "super admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
