// Package dashboard is the provider self-service API: the caller's own
// listing, offerings, gallery, stories, analytics and profile.
package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/needful-app/needful/internal/analytics"
	"github.com/needful-app/needful/internal/database"
	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/internal/logging"
	"github.com/needful-app/needful/internal/media"
	commonservice "github.com/needful-app/needful/services/common/service"
)

const (
	ServiceID   = "dashboard"
	ServiceName = "Provider Dashboard Service"
	Version     = "1.0.0"
)

const (
	defaultStoryTTL      = 24 * time.Hour
	defaultMaxImageBytes = 5 << 20
	defaultMaxStoryBytes = 20 << 20
	maxGalleryImages     = 20
	defaultAnalyticsDays = 30
	maxAnalyticsDays     = 90
	defaultPageSize      = 20
	maxPageSize          = 100
)

// Store is the persistence surface of the dashboard.
type Store interface {
	database.OfferingStore
	database.ImageStore
	GetUser(ctx context.Context, id string) (*database.User, error)
	EnsureUser(ctx context.Context, u *database.User) (*database.User, error)
	UpdateUser(ctx context.Context, id string, u database.UserUpdate) (*database.User, error)
	GetCategory(ctx context.Context, id string) (*database.Category, error)
	GetProviderByUser(ctx context.Context, userID string) (*database.Provider, error)
	CreateProvider(ctx context.Context, in database.ProviderInput) (*database.Provider, error)
	UpdateProvider(ctx context.Context, id string, u database.ProviderUpdate) (*database.Provider, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	ListProviderStories(ctx context.Context, providerID string, activeAt *time.Time) ([]database.Story, error)
	GetStory(ctx context.Context, id string) (*database.Story, error)
	CreateStory(ctx context.Context, in database.StoryInput) (*database.Story, error)
	DeleteStory(ctx context.Context, id string) error
	ListReviews(ctx context.Context, f database.ReviewFilter) ([]database.Review, int, error)
}

// Config configures the dashboard service.
type Config struct {
	Router        *mux.Router
	Auth          commonservice.Authenticator
	DB            Store
	Images        media.Bucket
	Stories       media.Bucket
	Analytics     analytics.Source
	StoryTTL      time.Duration
	MaxImageBytes int64
	MaxStoryBytes int64
	Logger        *logging.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Service implements the dashboard API.
type Service struct {
	*commonservice.BaseService
	db            Store
	images        media.Bucket
	stories       media.Bucket
	analytics     analytics.Source
	storyTTL      time.Duration
	maxImageBytes int64
	maxStoryBytes int64
	now           func() time.Time
}

// New creates the dashboard service and registers its routes.
func New(cfg Config) *Service {
	base := commonservice.NewBase(commonservice.BaseConfig{
		Name:    ServiceName,
		Version: Version,
		Router:  cfg.Router,
		Logger:  cfg.Logger,
	})
	s := &Service{
		BaseService:   base,
		db:            cfg.DB,
		images:        cfg.Images,
		stories:       cfg.Stories,
		analytics:     cfg.Analytics,
		storyTTL:      cfg.StoryTTL,
		maxImageBytes: cfg.MaxImageBytes,
		maxStoryBytes: cfg.MaxStoryBytes,
		now:           cfg.Now,
	}
	if s.storyTTL <= 0 {
		s.storyTTL = defaultStoryTTL
	}
	if s.maxImageBytes <= 0 {
		s.maxImageBytes = defaultMaxImageBytes
	}
	if s.maxStoryBytes <= 0 {
		s.maxStoryBytes = defaultMaxStoryBytes
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.analytics == nil {
		if events, ok := cfg.DB.(database.AnalyticsStore); ok {
			s.analytics = analytics.EventSource{Store: events}
		}
	}
	s.registerRoutes(cfg.Auth)
	return s
}

func (s *Service) registerRoutes(auth commonservice.Authenticator) {
	r := s.Router()
	me := r.PathPrefix("/me").Subrouter()
	me.Use(auth.Handler)
	me.HandleFunc("", s.handleGetProfile).Methods("GET")
	me.HandleFunc("", s.handleUpdateProfile).Methods("PUT")

	d := r.PathPrefix("/dashboard").Subrouter()
	d.Use(auth.Handler)
	d.HandleFunc("/listing", s.handleGetListing).Methods("GET")
	d.HandleFunc("/listing", s.handleCreateListing).Methods("POST")
	d.HandleFunc("/listing", s.handleUpdateListing).Methods("PUT")

	d.HandleFunc("/services", s.handleListServices).Methods("GET")
	d.HandleFunc("/services", s.handleCreateService).Methods("POST")
	d.HandleFunc("/services/{id}", s.handleUpdateService).Methods("PUT")
	d.HandleFunc("/services/{id}", s.handleDeleteService).Methods("DELETE")

	d.HandleFunc("/images", s.handleListImages).Methods("GET")
	d.HandleFunc("/images", s.handleUploadImage).Methods("POST")
	d.HandleFunc("/images/{id}", s.handleDeleteImage).Methods("DELETE")

	d.HandleFunc("/stories", s.handleListStories).Methods("GET")
	d.HandleFunc("/stories", s.handleCreateStory).Methods("POST")
	d.HandleFunc("/stories/{id}", s.handleDeleteStory).Methods("DELETE")

	d.HandleFunc("/analytics", s.handleAnalytics).Methods("GET")
	d.HandleFunc("/reviews", s.handleListReviews).Methods("GET")
}

// ownListing loads the caller's listing, writing 404 when there is none.
func (s *Service) ownListing(w http.ResponseWriter, r *http.Request) (*database.Provider, bool) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return nil, false
	}
	provider, err := s.db.GetProviderByUser(r.Context(), userID)
	if err != nil {
		if database.IsNotFound(err) {
			httputil.NotFound(w, "you have not created a listing yet")
			return nil, false
		}
		commonservice.WriteStoreError(w, r, s.Logger(), err, "provider", userID)
		return nil, false
	}
	return provider, true
}
