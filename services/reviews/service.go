// Package reviews serves consumer reviews, provider responses and saved
// favorites.
package reviews

import (
	"context"

	"github.com/gorilla/mux"

	"github.com/needful-app/needful/internal/database"
	"github.com/needful-app/needful/internal/logging"
	"github.com/needful-app/needful/internal/ratings"
	commonservice "github.com/needful-app/needful/services/common/service"
)

const (
	ServiceID   = "reviews"
	ServiceName = "Reviews Service"
	Version     = "1.0.0"
)

const (
	defaultPageSize  = 10
	maxPageSize      = 50
	maxTitleLength   = 120
	maxCommentLength = 2000
)

// Store is the persistence surface for reviews and favorites.
type Store interface {
	database.ReviewStore
	database.FavoriteStore
	GetProvider(ctx context.Context, id string) (*database.Provider, error)
	GetProviderByUser(ctx context.Context, userID string) (*database.Provider, error)
	UpdateProvider(ctx context.Context, id string, u database.ProviderUpdate) (*database.Provider, error)
}

// Config configures the reviews service.
type Config struct {
	Router *mux.Router
	Auth   commonservice.Authenticator
	DB     Store
	Logger *logging.Logger
}

// Service implements the reviews and favorites API.
type Service struct {
	*commonservice.BaseService
	db Store
}

// New creates the reviews service and registers its routes.
func New(cfg Config) *Service {
	base := commonservice.NewBase(commonservice.BaseConfig{
		Name:    ServiceName,
		Version: Version,
		Router:  cfg.Router,
		Logger:  cfg.Logger,
	})
	s := &Service{BaseService: base, db: cfg.DB}
	s.registerRoutes(cfg.Auth)
	return s
}

func (s *Service) registerRoutes(auth commonservice.Authenticator) {
	r := s.Router()
	r.HandleFunc("/providers/{id}/reviews", s.handleListProviderReviews).Methods("GET")
	r.Handle("/reviews", auth.Handler(s.handleCreateReview())).Methods("POST")
	r.Handle("/reviews/{id}", auth.Handler(s.handleUpdateReview())).Methods("PUT")
	r.Handle("/reviews/{id}", auth.Handler(s.handleDeleteReview())).Methods("DELETE")
	r.Handle("/reviews/{id}/response", auth.Handler(s.handleRespond())).Methods("POST")

	r.Handle("/favorites", auth.Handler(s.handleListFavorites())).Methods("GET")
	r.Handle("/favorites", auth.Handler(s.handleAddFavorite())).Methods("POST")
	r.Handle("/favorites/{providerId}", auth.Handler(s.handleRemoveFavorite())).Methods("DELETE")
}

// recompute refreshes the provider's cached rating. The review change has
// already been stored, so a failure is logged rather than returned.
func (s *Service) recompute(ctx context.Context, providerID string) {
	avg, count, err := ratings.Recompute(ctx, s.db, providerID)
	if err != nil {
		s.Logger().WithContext(ctx).WithError(err).WithField("provider_id", providerID).Error("failed to recompute provider rating")
		return
	}
	s.Logger().WithContext(ctx).WithFields(map[string]interface{}{
		"provider_id":  providerID,
		"rating":       avg,
		"review_count": count,
	}).Debug("provider rating recomputed")
}
