package dashboard

import (
	"net/http"

	"github.com/needful-app/needful/internal/analytics"
	"github.com/needful-app/needful/internal/database"
	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/httputil"
	commonservice "github.com/needful-app/needful/services/common/service"
)

// AnalyticsResponse is the provider's own performance view.
type AnalyticsResponse struct {
	Days        int                `json:"days"`
	ViewCount   int                `json:"view_count"`
	Rating      float64            `json:"rating"`
	ReviewCount int                `json:"review_count"`
	Summary     *analytics.Summary `json:"summary"`
}

func (s *Service) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	days, err := httputil.QueryInt(r.URL.Query(), "days", defaultAnalyticsDays)
	if err != nil || days < 1 || days > maxAnalyticsDays {
		httputil.WriteError(w, r, svcerrors.Validation("days", "days must be between 1 and 90"))
		return
	}
	provider, ok := s.ownListing(w, r)
	if !ok {
		return
	}
	if s.analytics == nil {
		httputil.WriteError(w, r, svcerrors.Unavailable("analytics are not available", nil))
		return
	}

	q := analytics.Window(s.now(), days)
	q.ProviderID = provider.ID
	summary, err := s.analytics.Summary(r.Context(), q)
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "analytics", provider.ID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AnalyticsResponse{
		Days:        days,
		ViewCount:   provider.ViewCount,
		Rating:      provider.Rating,
		ReviewCount: provider.ReviewCount,
		Summary:     summary,
	})
}

func (s *Service) handleListReviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := httputil.ParsePagination(q, defaultPageSize, maxPageSize)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	status := q.Get("status")
	if status != "" {
		if err := database.ValidateStatus(status, database.ReviewStatuses); err != nil {
			httputil.WriteError(w, r, svcerrors.Validation("status", err.Error()))
			return
		}
	}
	provider, ok := s.ownListing(w, r)
	if !ok {
		return
	}
	reviews, total, err := s.db.ListReviews(r.Context(), database.ReviewFilter{
		ProviderID: provider.ID,
		Status:     status,
		Limit:      page.Limit,
		Offset:     page.Offset,
	})
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "reviews", provider.ID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(reviews, total, page))
}
