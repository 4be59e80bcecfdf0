package admin

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/needful-app/needful/internal/cache"
	"github.com/needful-app/needful/internal/database"
	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/internal/ratings"
)

const maxReasonLength = 500

// ReasonRequest is the body of reject and suspend.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// VerifyRequest is the body of PUT /admin/providers/{id}/verify.
type VerifyRequest struct {
	Verified *bool `json:"verified"`
}

// FeatureRequest is the body of PUT /admin/providers/{id}/feature.
type FeatureRequest struct {
	Featured *bool `json:"featured"`
}

// ReviewStatusRequest is the body of PUT /admin/reviews/{id}/status.
type ReviewStatusRequest struct {
	Status string `json:"status"`
}

// providerKeys are the cached views a listing change can affect.
var providerKeys = []string{cache.KeyCategories, cache.KeyFeaturedProvider, cache.KeyAdminStats}

func (s *Service) handleListProviders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := httputil.ParsePagination(q, defaultPageSize, maxPageSize)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	includeDeleted, err := httputil.QueryBool(q, "include_deleted")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	f := database.ProviderFilter{
		Query:      strings.TrimSpace(q.Get("q")),
		CategoryID: strings.TrimSpace(q.Get("category_id")),
		City:       strings.TrimSpace(q.Get("city")),
		Sort:       database.SortNewest,
		Limit:      page.Limit,
		Offset:     page.Offset,
	}
	switch status := strings.TrimSpace(q.Get("status")); status {
	case "", "all":
		f.AnyStatus = true
	default:
		if err := database.ValidateStatus(status, database.ProviderStatuses); err != nil {
			httputil.WriteError(w, r, svcerrors.Validation("status", err.Error()))
			return
		}
		f.Status = status
	}
	if includeDeleted != nil {
		f.IncludeDeleted = *includeDeleted
	}

	providers, total, err := s.db.SearchProviders(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err, "providers")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(providers, total, page))
}

// moderate applies u to the listing in the route and answers with the
// updated row.
func (s *Service) moderate(w http.ResponseWriter, r *http.Request, action string, u database.ProviderUpdate) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	provider, err := s.db.GetProvider(ctx, id)
	if err != nil {
		s.writeError(w, r, err, "provider")
		return
	}
	if provider.DeletedAt != nil {
		httputil.WriteError(w, r, svcerrors.Conflict("listing has been deleted"))
		return
	}

	now := s.now().UTC()
	u.UpdatedAt = &now
	updated, err := s.db.UpdateProvider(ctx, id, u)
	if err != nil {
		s.writeError(w, r, err, "provider")
		return
	}
	s.invalidate(ctx, providerKeys...)
	s.audit(ctx, action, id, map[string]interface{}{
		"previous_status": provider.Status,
		"status":          updated.Status,
	})
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (s *Service) handleApprove(w http.ResponseWriter, r *http.Request) {
	status := database.ProviderStatusApproved
	cleared := ""
	s.moderate(w, r, "provider.approve", database.ProviderUpdate{Status: &status, RejectionReason: &cleared})
}

func (s *Service) handleReject(w http.ResponseWriter, r *http.Request) {
	reason, ok := s.decodeReason(w, r, true)
	if !ok {
		return
	}
	status := database.ProviderStatusRejected
	s.moderate(w, r, "provider.reject", database.ProviderUpdate{Status: &status, RejectionReason: &reason})
}

func (s *Service) handleSuspend(w http.ResponseWriter, r *http.Request) {
	reason, ok := s.decodeReason(w, r, false)
	if !ok {
		return
	}
	status := database.ProviderStatusSuspended
	s.moderate(w, r, "provider.suspend", database.ProviderUpdate{Status: &status, RejectionReason: &reason})
}

// decodeReason reads an optional body carrying a moderation reason.
func (s *Service) decodeReason(w http.ResponseWriter, r *http.Request, required bool) (string, bool) {
	var req ReasonRequest
	if r.ContentLength != 0 {
		if !httputil.DecodeJSON(w, r, &req) {
			return "", false
		}
	}
	reason := strings.TrimSpace(req.Reason)
	switch {
	case required && reason == "":
		httputil.WriteError(w, r, svcerrors.Validation("reason", "a rejection reason is required"))
		return "", false
	case len([]rune(reason)) > maxReasonLength:
		httputil.WriteError(w, r, svcerrors.Validation("reason", "reason is too long"))
		return "", false
	}
	return reason, true
}

func (s *Service) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Verified == nil {
		httputil.WriteError(w, r, svcerrors.Validation("verified", "verified is required"))
		return
	}
	s.moderate(w, r, "provider.verify", database.ProviderUpdate{IsVerified: req.Verified})
}

func (s *Service) handleFeature(w http.ResponseWriter, r *http.Request) {
	var req FeatureRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Featured == nil {
		httputil.WriteError(w, r, svcerrors.Validation("featured", "featured is required"))
		return
	}
	s.moderate(w, r, "provider.feature", database.ProviderUpdate{IsFeatured: req.Featured})
}

func (s *Service) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	provider, err := s.db.GetProvider(ctx, id)
	if err != nil {
		s.writeError(w, r, err, "provider")
		return
	}
	if provider.DeletedAt == nil {
		now := s.now().UTC()
		if _, err := s.db.UpdateProvider(ctx, id, database.ProviderUpdate{DeletedAt: &now, UpdatedAt: &now}); err != nil {
			s.writeError(w, r, err, "provider")
			return
		}
		s.invalidate(ctx, providerKeys...)
		s.audit(ctx, "provider.delete", id, nil)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleListReviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := httputil.ParsePagination(q, defaultPageSize, maxPageSize)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	f := database.ReviewFilter{
		ProviderID: strings.TrimSpace(q.Get("provider_id")),
		Limit:      page.Limit,
		Offset:     page.Offset,
	}
	if status := strings.TrimSpace(q.Get("status")); status != "" && status != "all" {
		if err := database.ValidateStatus(status, database.ReviewStatuses); err != nil {
			httputil.WriteError(w, r, svcerrors.Validation("status", err.Error()))
			return
		}
		f.Status = status
	}
	reviews, total, err := s.db.ListReviews(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err, "reviews")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(reviews, total, page))
}

func (s *Service) handleSetReviewStatus(w http.ResponseWriter, r *http.Request) {
	var req ReviewStatusRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	status := strings.TrimSpace(req.Status)
	if err := database.ValidateStatus(status, database.ReviewStatuses); err != nil {
		httputil.WriteError(w, r, svcerrors.Validation("status", err.Error()))
		return
	}

	ctx := r.Context()
	id := mux.Vars(r)["id"]
	review, err := s.db.GetReview(ctx, id)
	if err != nil {
		s.writeError(w, r, err, "review")
		return
	}
	now := s.now().UTC()
	updated, err := s.db.UpdateReview(ctx, id, database.ReviewUpdate{Status: &status, UpdatedAt: &now})
	if err != nil {
		s.writeError(w, r, err, "review")
		return
	}
	if review.Status != status {
		s.recompute(ctx, review.ProviderID)
	}
	s.audit(ctx, "review.status", id, map[string]interface{}{
		"previous_status": review.Status,
		"status":          status,
	})
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (s *Service) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	review, err := s.db.GetReview(ctx, id)
	if err != nil {
		s.writeError(w, r, err, "review")
		return
	}
	if err := s.db.DeleteReview(ctx, id); err != nil {
		s.writeError(w, r, err, "review")
		return
	}
	s.recompute(ctx, review.ProviderID)
	s.audit(ctx, "review.delete", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// recompute refreshes the listing's rating after a moderation change. The
// review change is already stored, so failures are only logged.
func (s *Service) recompute(ctx context.Context, providerID string) {
	if _, _, err := ratings.Recompute(ctx, s.db, providerID); err != nil {
		s.Logger().WithContext(ctx).WithError(err).WithField("provider_id", providerID).Error("failed to recompute provider rating")
		return
	}
	s.invalidate(ctx, cache.KeyFeaturedProvider, cache.KeyAdminStats)
}
