package reviews

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/needful-app/needful/internal/database"
	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/httputil"
	commonservice "github.com/needful-app/needful/services/common/service"
)

// CreateReviewRequest is the body of POST /reviews.
type CreateReviewRequest struct {
	ProviderID string `json:"provider_id"`
	Rating     int    `json:"rating"`
	Title      string `json:"title,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

// UpdateReviewRequest is the body of PUT /reviews/{id}.
type UpdateReviewRequest struct {
	Rating  *int    `json:"rating,omitempty"`
	Title   *string `json:"title,omitempty"`
	Comment *string `json:"comment,omitempty"`
}

// RespondRequest is the body of POST /reviews/{id}/response.
type RespondRequest struct {
	Response string `json:"response"`
}

// AddFavoriteRequest is the body of POST /favorites.
type AddFavoriteRequest struct {
	ProviderID string `json:"provider_id"`
}

func validateRating(rating int) error {
	if rating < 1 || rating > 5 {
		return svcerrors.Validation("rating", "rating must be between 1 and 5")
	}
	return nil
}

func validateText(field, value string, max int) error {
	if len([]rune(value)) > max {
		return svcerrors.Validation(field, field+" is too long")
	}
	return nil
}

func (s *Service) handleListProviderReviews(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["id"]
	page, err := httputil.ParsePagination(r.URL.Query(), defaultPageSize, maxPageSize)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	reviews, total, err := s.db.ListReviews(r.Context(), database.ReviewFilter{
		ProviderID: providerID,
		Status:     database.ReviewStatusPublished,
		Limit:      page.Limit,
		Offset:     page.Offset,
	})
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "reviews", providerID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(reviews, total, page))
}

func (s *Service) handleCreateReview() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := httputil.RequireUserID(w, r)
		if !ok {
			return
		}
		var req CreateReviewRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		req.ProviderID = strings.TrimSpace(req.ProviderID)
		req.Title = strings.TrimSpace(req.Title)
		req.Comment = strings.TrimSpace(req.Comment)
		if req.ProviderID == "" {
			httputil.WriteError(w, r, svcerrors.Validation("provider_id", "provider_id is required"))
			return
		}
		for _, err := range []error{
			validateRating(req.Rating),
			validateText("title", req.Title, maxTitleLength),
			validateText("comment", req.Comment, maxCommentLength),
		} {
			if err != nil {
				httputil.WriteError(w, r, err)
				return
			}
		}

		ctx := r.Context()
		provider, err := s.db.GetProvider(ctx, req.ProviderID)
		if err != nil {
			commonservice.WriteStoreError(w, r, s.Logger(), err, "provider", req.ProviderID)
			return
		}
		if !provider.IsPublic() {
			httputil.NotFound(w, "provider not found")
			return
		}
		if provider.UserID == userID {
			httputil.Forbidden(w, "you cannot review your own listing")
			return
		}

		review, err := s.db.CreateReview(ctx, database.ReviewInput{
			ProviderID: provider.ID,
			UserID:     userID,
			Rating:     req.Rating,
			Title:      req.Title,
			Comment:    req.Comment,
			Status:     database.ReviewStatusPublished,
		})
		if err != nil {
			if database.IsConflict(err) {
				httputil.WriteError(w, r, svcerrors.Conflict("you have already reviewed this provider"))
				return
			}
			commonservice.WriteStoreError(w, r, s.Logger(), err, "review", "")
			return
		}
		s.recompute(ctx, provider.ID)
		httputil.WriteJSON(w, http.StatusCreated, review)
	})
}

// ownReview loads a review and checks the caller wrote it.
func (s *Service) ownReview(w http.ResponseWriter, r *http.Request, userID string) (*database.Review, bool) {
	id := mux.Vars(r)["id"]
	review, err := s.db.GetReview(r.Context(), id)
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "review", id)
		return nil, false
	}
	if review.UserID != userID {
		httputil.Forbidden(w, "you can only change your own reviews")
		return nil, false
	}
	return review, true
}

func (s *Service) handleUpdateReview() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := httputil.RequireUserID(w, r)
		if !ok {
			return
		}
		var req UpdateReviewRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if req.Rating == nil && req.Title == nil && req.Comment == nil {
			httputil.BadRequest(w, "nothing to update")
			return
		}
		if req.Rating != nil {
			if err := validateRating(*req.Rating); err != nil {
				httputil.WriteError(w, r, err)
				return
			}
		}
		if req.Title != nil {
			t := strings.TrimSpace(*req.Title)
			if err := validateText("title", t, maxTitleLength); err != nil {
				httputil.WriteError(w, r, err)
				return
			}
			req.Title = &t
		}
		if req.Comment != nil {
			c := strings.TrimSpace(*req.Comment)
			if err := validateText("comment", c, maxCommentLength); err != nil {
				httputil.WriteError(w, r, err)
				return
			}
			req.Comment = &c
		}

		review, ok := s.ownReview(w, r, userID)
		if !ok {
			return
		}
		now := time.Now().UTC()
		updated, err := s.db.UpdateReview(r.Context(), review.ID, database.ReviewUpdate{
			Rating:    req.Rating,
			Title:     req.Title,
			Comment:   req.Comment,
			UpdatedAt: &now,
		})
		if err != nil {
			commonservice.WriteStoreError(w, r, s.Logger(), err, "review", review.ID)
			return
		}
		s.recompute(r.Context(), review.ProviderID)
		httputil.WriteJSON(w, http.StatusOK, updated)
	})
}

func (s *Service) handleDeleteReview() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := httputil.RequireUserID(w, r)
		if !ok {
			return
		}
		review, ok := s.ownReview(w, r, userID)
		if !ok {
			return
		}
		if err := s.db.DeleteReview(r.Context(), review.ID); err != nil {
			commonservice.WriteStoreError(w, r, s.Logger(), err, "review", review.ID)
			return
		}
		s.recompute(r.Context(), review.ProviderID)
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *Service) handleRespond() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := httputil.RequireUserID(w, r)
		if !ok {
			return
		}
		var req RespondRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		response := strings.TrimSpace(req.Response)
		if response == "" {
			httputil.WriteError(w, r, svcerrors.Validation("response", "response is required"))
			return
		}
		if err := validateText("response", response, maxCommentLength); err != nil {
			httputil.WriteError(w, r, err)
			return
		}

		ctx := r.Context()
		id := mux.Vars(r)["id"]
		review, err := s.db.GetReview(ctx, id)
		if err != nil {
			commonservice.WriteStoreError(w, r, s.Logger(), err, "review", id)
			return
		}
		provider, err := s.db.GetProvider(ctx, review.ProviderID)
		if err != nil {
			commonservice.WriteStoreError(w, r, s.Logger(), err, "provider", review.ProviderID)
			return
		}
		if provider.UserID != userID {
			httputil.Forbidden(w, "only the listing owner can respond")
			return
		}

		now := time.Now().UTC()
		updated, err := s.db.UpdateReview(ctx, review.ID, database.ReviewUpdate{
			ProviderResponse: &response,
			RespondedAt:      &now,
			UpdatedAt:        &now,
		})
		if err != nil {
			commonservice.WriteStoreError(w, r, s.Logger(), err, "review", review.ID)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, updated)
	})
}

func (s *Service) handleListFavorites() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := httputil.RequireUserID(w, r)
		if !ok {
			return
		}
		favorites, err := s.db.ListFavorites(r.Context(), userID)
		if err != nil {
			commonservice.WriteStoreError(w, r, s.Logger(), err, "favorites", "")
			return
		}
		// Listings that were removed or suspended since being saved stay
		// saved but are not shown.
		visible := make([]database.Favorite, 0, len(favorites))
		for _, f := range favorites {
			if f.Provider != nil && f.Provider.IsPublic() {
				visible = append(visible, f)
			}
		}
		httputil.WriteJSON(w, http.StatusOK, visible)
	})
}

func (s *Service) handleAddFavorite() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := httputil.RequireUserID(w, r)
		if !ok {
			return
		}
		var req AddFavoriteRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		providerID := strings.TrimSpace(req.ProviderID)
		if providerID == "" {
			httputil.WriteError(w, r, svcerrors.Validation("provider_id", "provider_id is required"))
			return
		}
		ctx := r.Context()
		provider, err := s.db.GetProvider(ctx, providerID)
		if err != nil {
			commonservice.WriteStoreError(w, r, s.Logger(), err, "provider", providerID)
			return
		}
		if !provider.IsPublic() {
			httputil.NotFound(w, "provider not found")
			return
		}
		fav, err := s.db.AddFavorite(ctx, userID, providerID)
		if err != nil {
			commonservice.WriteStoreError(w, r, s.Logger(), err, "favorite", providerID)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, fav)
	})
}

func (s *Service) handleRemoveFavorite() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := httputil.RequireUserID(w, r)
		if !ok {
			return
		}
		providerID := mux.Vars(r)["providerId"]
		if err := s.db.RemoveFavorite(r.Context(), userID, providerID); err != nil {
			commonservice.WriteStoreError(w, r, s.Logger(), err, "favorite", providerID)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
