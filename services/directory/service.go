// Package directory serves the public browse and search API: categories,
// provider search with radius filtering, featured listings and provider
// detail pages.
package directory

import (
	"context"
	"time"

	"github.com/gorilla/mux"

	"github.com/needful-app/needful/internal/cache"
	"github.com/needful-app/needful/internal/database"
	"github.com/needful-app/needful/internal/logging"
	"github.com/needful-app/needful/internal/metrics"
	commonservice "github.com/needful-app/needful/services/common/service"
)

const (
	ServiceID   = "directory"
	ServiceName = "Directory Service"
	Version     = "1.0.0"
)

const (
	defaultPageSize      = 20
	maxPageSize          = 100
	featuredLimit        = 8
	detailReviewLimit    = 10
	radiusCandidateLimit = 500
	defaultRadiusKm      = 10
	defaultMaxRadiusKm   = 100
)

// Store is the persistence surface the directory reads.
type Store interface {
	database.CategoryStore
	database.ProviderStore
	database.OfferingStore
	database.ImageStore
	database.ReviewStore
	RecordEvent(ctx context.Context, e *database.AnalyticsEvent) error
}

// Config configures the directory service.
type Config struct {
	Router      *mux.Router
	Auth        commonservice.Authenticator
	DB          Store
	Cache       cache.Cache
	CategoryTTL time.Duration
	FeaturedTTL time.Duration
	// DefaultRadiusKm applies when lat/lon are given without radius_km.
	DefaultRadiusKm float64
	MaxRadiusKm     float64
	Metrics         *metrics.Metrics
	Logger          *logging.Logger
}

// Service implements the directory API.
type Service struct {
	*commonservice.BaseService
	db              Store
	cache           cache.Cache
	observe         cache.Observer
	categoryTTL     time.Duration
	featuredTTL     time.Duration
	defaultRadiusKm float64
	maxRadiusKm     float64
}

// New creates the directory service and registers its routes.
func New(cfg Config) *Service {
	base := commonservice.NewBase(commonservice.BaseConfig{
		Name:    ServiceName,
		Version: Version,
		Router:  cfg.Router,
		Logger:  cfg.Logger,
	})

	s := &Service{
		BaseService:     base,
		db:              cfg.DB,
		cache:           cfg.Cache,
		categoryTTL:     cfg.CategoryTTL,
		featuredTTL:     cfg.FeaturedTTL,
		defaultRadiusKm: cfg.DefaultRadiusKm,
		maxRadiusKm:     cfg.MaxRadiusKm,
	}
	if s.maxRadiusKm <= 0 {
		s.maxRadiusKm = defaultMaxRadiusKm
	}
	if s.defaultRadiusKm <= 0 || s.defaultRadiusKm > s.maxRadiusKm {
		s.defaultRadiusKm = min(defaultRadiusKm, s.maxRadiusKm)
	}
	if cfg.Metrics != nil {
		s.observe = cfg.Metrics.RecordCacheLookup
	}
	s.registerRoutes(cfg.Auth)
	return s
}

func (s *Service) registerRoutes(auth commonservice.Authenticator) {
	r := s.Router()
	r.HandleFunc("/categories", s.handleListCategories).Methods("GET")
	r.HandleFunc("/categories/{slug}", s.handleGetCategory).Methods("GET")
	r.HandleFunc("/providers", s.handleSearchProviders).Methods("GET")
	r.HandleFunc("/providers/featured", s.handleFeatured).Methods("GET")
	r.Handle("/providers/{slug}", auth.Optional(s.handleProviderDetail())).Methods("GET")
}

// Categories returns active categories with their approved listing counts.
func (s *Service) Categories(ctx context.Context) ([]database.Category, error) {
	return cache.Remember(ctx, s.cache, cache.KeyCategories, s.categoryTTL, s.observe, s.loadCategories)
}

func (s *Service) loadCategories(ctx context.Context) ([]database.Category, error) {
	categories, err := s.db.ListCategories(ctx, true)
	if err != nil {
		return nil, err
	}
	counts, err := s.db.CountProvidersByCategory(ctx)
	if err != nil {
		return nil, err
	}
	for i := range categories {
		categories[i].ProviderCount = counts[categories[i].ID]
	}
	if categories == nil {
		categories = []database.Category{}
	}
	return categories, nil
}

// Featured returns the featured approved listings.
func (s *Service) Featured(ctx context.Context) ([]database.Provider, error) {
	return cache.Remember(ctx, s.cache, cache.KeyFeaturedProvider, s.featuredTTL, s.observe, func(ctx context.Context) ([]database.Provider, error) {
		featured := true
		providers, _, err := s.db.SearchProviders(ctx, database.ProviderFilter{
			Featured: &featured,
			Sort:     database.SortRating,
			Limit:    featuredLimit,
		})
		if providers == nil {
			providers = []database.Provider{}
		}
		return providers, err
	})
}

// Warm refreshes the cached category and featured lists.
func (s *Service) Warm(ctx context.Context) error {
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.KeyCategories, cache.KeyFeaturedProvider); err != nil {
			return err
		}
	}
	if _, err := s.Categories(ctx); err != nil {
		return err
	}
	_, err := s.Featured(ctx)
	return err
}

func (s *Service) recordEvent(ctx context.Context, e *database.AnalyticsEvent) {
	if err := s.db.RecordEvent(ctx, e); err != nil {
		s.Logger().WithContext(ctx).WithError(err).WithField("event_type", e.EventType).Warn("failed to record analytics event")
	}
}
