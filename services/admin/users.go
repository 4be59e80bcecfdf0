package admin

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/mux"

	"github.com/needful-app/needful/internal/database"
	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/internal/logging"
	"github.com/needful-app/needful/internal/middleware"
)

// assignableRoles are the values users.role accepts. super_admin only
// comes from configuration.
var assignableRoles = []string{database.UserRoleUser, database.UserRoleProvider, database.UserRoleAdmin}

// RoleRequest is the body of PUT /admin/users/{id}/role.
type RoleRequest struct {
	Role string `json:"role"`
}

func (s *Service) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := httputil.ParsePagination(q, defaultPageSize, maxPageSize)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	role := strings.TrimSpace(q.Get("role"))
	if role != "" && !slices.Contains(assignableRoles, role) {
		httputil.WriteError(w, r, svcerrors.Validation("role", "role must be one of "+strings.Join(assignableRoles, ", ")))
		return
	}
	users, total, err := s.db.ListUsers(r.Context(), database.UserFilter{
		Role:   role,
		Search: strings.TrimSpace(q.Get("q")),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		s.writeError(w, r, err, "users")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(users, total, page))
}

func (s *Service) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if !slices.Contains(assignableRoles, role) {
		httputil.WriteError(w, r, svcerrors.Validation("role", "role must be one of "+strings.Join(assignableRoles, ", ")))
		return
	}

	ctx := r.Context()
	id := mux.Vars(r)["id"]
	if id == logging.GetUserID(ctx) {
		httputil.Forbidden(w, "you cannot change your own role")
		return
	}
	target, err := s.db.GetUser(ctx, id)
	if err != nil {
		s.writeError(w, r, err, "user")
		return
	}
	touchesAdmin := role == database.UserRoleAdmin || target.Role == database.UserRoleAdmin
	if touchesAdmin && middleware.GetUserRole(ctx) != middleware.RoleSuperAdmin {
		s.Logger().LogSecurityEvent(ctx, "admin_grant_denied", map[string]interface{}{
			"target_user": id,
			"role":        role,
		})
		httputil.Forbidden(w, "only a super admin can grant or revoke admin access")
		return
	}
	if target.Role == role {
		httputil.WriteJSON(w, http.StatusOK, target)
		return
	}

	updated, err := s.db.UpdateUser(ctx, id, database.UserUpdate{Role: &role})
	if err != nil {
		s.writeError(w, r, err, "user")
		return
	}
	s.audit(ctx, "user.role", id, map[string]interface{}{
		"previous_role": target.Role,
		"role":          role,
	})
	httputil.WriteJSON(w, http.StatusOK, updated)
}
