package admin

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/needful-app/needful/internal/cache"
	"github.com/needful-app/needful/internal/database"
	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/internal/slug"
)

const maxCategoryNameLength = 80

// CategoryRequest creates or patches a category.
type CategoryRequest struct {
	Name         *string `json:"name,omitempty"`
	Slug         *string `json:"slug,omitempty"`
	Description  *string `json:"description,omitempty"`
	Icon         *string `json:"icon,omitempty"`
	ImageURL     *string `json:"image_url,omitempty"`
	DisplayOrder *int    `json:"display_order,omitempty"`
	IsActive     *bool   `json:"is_active,omitempty"`
}

// input validates the request. Slugs are normalized and derived from the
// name when a new category omits one.
func (req CategoryRequest) input(create bool) (database.CategoryInput, error) {
	in := database.CategoryInput{
		Description:  trimmed(req.Description),
		Icon:         trimmed(req.Icon),
		ImageURL:     trimmed(req.ImageURL),
		DisplayOrder: req.DisplayOrder,
		IsActive:     req.IsActive,
	}
	if name := trimmed(req.Name); name != nil {
		if *name == "" {
			return in, svcerrors.Validation("name", "name cannot be empty")
		}
		if len([]rune(*name)) > maxCategoryNameLength {
			return in, svcerrors.Validation("name", "name is too long")
		}
		in.Name = name
	} else if create {
		return in, svcerrors.Validation("name", "name is required")
	}

	if raw := trimmed(req.Slug); raw != nil && *raw != "" {
		s := slug.Make(*raw)
		if s == "" {
			return in, svcerrors.Validation("slug", "slug must contain letters or digits")
		}
		in.Slug = &s
	} else if create {
		s := slug.Make(*in.Name)
		if s == "" {
			return in, svcerrors.Validation("slug", "cannot derive a slug from name")
		}
		in.Slug = &s
	}

	if in.DisplayOrder != nil && *in.DisplayOrder < 0 {
		return in, svcerrors.Validation("display_order", "display_order cannot be negative")
	}
	return in, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func (s *Service) handleListCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cats, err := s.db.ListCategories(ctx, false)
	if err != nil {
		s.writeError(w, r, err, "categories")
		return
	}
	counts, err := s.db.CountProvidersByCategory(ctx)
	if err != nil {
		s.writeError(w, r, err, "categories")
		return
	}
	for i := range cats {
		cats[i].ProviderCount = counts[cats[i].ID]
	}
	if cats == nil {
		cats = []database.Category{}
	}
	httputil.WriteJSON(w, http.StatusOK, cats)
}

func (s *Service) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	in, err := req.input(true)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	ctx := r.Context()
	cat, err := s.db.CreateCategory(ctx, in)
	if err != nil {
		if database.IsConflict(err) {
			httputil.WriteError(w, r, svcerrors.Conflict("a category with this slug already exists").WithDetails("field", "slug"))
			return
		}
		s.writeError(w, r, err, "category")
		return
	}
	s.invalidate(ctx, cache.KeyCategories, cache.KeyAdminStats)
	s.audit(ctx, "category.create", cat.ID, map[string]interface{}{"slug": cat.Slug})
	httputil.WriteJSON(w, http.StatusCreated, cat)
}

func (s *Service) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	in, err := req.input(false)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	cat, err := s.db.UpdateCategory(ctx, id, in)
	if err != nil {
		if database.IsConflict(err) {
			httputil.WriteError(w, r, svcerrors.Conflict("a category with this slug already exists").WithDetails("field", "slug"))
			return
		}
		s.writeError(w, r, err, "category")
		return
	}
	s.invalidate(ctx, cache.KeyCategories, cache.KeyAdminStats)
	s.audit(ctx, "category.update", id, nil)
	httputil.WriteJSON(w, http.StatusOK, cat)
}

func (s *Service) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	if _, err := s.db.GetCategory(ctx, id); err != nil {
		s.writeError(w, r, err, "category")
		return
	}
	_, inUse, err := s.db.SearchProviders(ctx, database.ProviderFilter{CategoryID: id, AnyStatus: true, Limit: 1})
	if err != nil {
		s.writeError(w, r, err, "category")
		return
	}
	if inUse > 0 {
		httputil.WriteError(w, r, svcerrors.Conflict("category still has listings; deactivate it instead").
			WithDetails("provider_count", inUse))
		return
	}
	if err := s.db.DeleteCategory(ctx, id); err != nil {
		s.writeError(w, r, err, "category")
		return
	}
	s.invalidate(ctx, cache.KeyCategories, cache.KeyAdminStats)
	s.audit(ctx, "category.delete", id, nil)
	w.WriteHeader(http.StatusNoContent)
}
