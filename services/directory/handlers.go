package directory

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/needful-app/needful/internal/database"
	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/internal/logging"
	commonservice "github.com/needful-app/needful/services/common/service"
)

// ProviderDetail is the payload of a provider page.
type ProviderDetail struct {
	database.Provider
	Services []database.ProviderService `json:"services"`
	Images   []database.ProviderImage   `json:"images"`
	Reviews  []database.Review          `json:"reviews"`
}

func (s *Service) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.Categories(r.Context())
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "categories", "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, categories)
}

func (s *Service) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	cat, err := s.db.GetCategoryBySlug(r.Context(), slug)
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "category", slug)
		return
	}
	if !cat.IsActive {
		httputil.NotFound(w, "category not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cat)
}

func (s *Service) handleSearchProviders(w http.ResponseWriter, r *http.Request) {
	params, err := s.parseSearch(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	providers, total, err := s.Search(r.Context(), params)
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "providers", "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(providers, total, params.Page))
}

func (s *Service) handleFeatured(w http.ResponseWriter, r *http.Request) {
	providers, err := s.Featured(r.Context())
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "providers", "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, providers)
}

func (s *Service) handleProviderDetail() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		slug := mux.Vars(r)["slug"]

		provider, err := s.db.GetProviderBySlug(ctx, slug)
		if err != nil {
			commonservice.WriteStoreError(w, r, s.Logger(), err, "provider", slug)
			return
		}
		if !provider.IsPublic() {
			httputil.NotFound(w, "provider not found")
			return
		}

		detail := ProviderDetail{Provider: *provider}
		log := s.Logger().WithContext(ctx).WithField("provider_id", provider.ID)

		if detail.Services, err = s.db.ListServices(ctx, provider.ID, true); err != nil {
			log.WithError(err).Warn("failed to load services")
		}
		if detail.Images, err = s.db.ListImages(ctx, provider.ID); err != nil {
			log.WithError(err).Warn("failed to load images")
		}
		if detail.Reviews, _, err = s.db.ListReviews(ctx, database.ReviewFilter{
			ProviderID: provider.ID,
			Status:     database.ReviewStatusPublished,
			Limit:      detailReviewLimit,
		}); err != nil {
			log.WithError(err).Warn("failed to load reviews")
		}
		if detail.Services == nil {
			detail.Services = []database.ProviderService{}
		}
		if detail.Images == nil {
			detail.Images = []database.ProviderImage{}
		}
		if detail.Reviews == nil {
			detail.Reviews = []database.Review{}
		}

		if err := s.db.IncrementProviderViews(ctx, provider.ID); err != nil {
			log.WithError(err).Warn("failed to increment view count")
		}
		event := &database.AnalyticsEvent{
			EventType:  database.EventProviderView,
			ProviderID: &provider.ID,
			SessionID:  r.Header.Get("X-Session-ID"),
		}
		if userID := logging.GetUserID(ctx); userID != "" {
			event.UserID = &userID
		}
		s.recordEvent(ctx, event)

		httputil.WriteJSON(w, http.StatusOK, detail)
	})
}
