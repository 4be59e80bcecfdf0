// Package admin is the moderation and operations API: platform stats,
// listing and review moderation, the category taxonomy, user roles, system
// status and the admin assistant chat.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/needful-app/needful/internal/analytics"
	"github.com/needful-app/needful/internal/cache"
	"github.com/needful-app/needful/internal/database"
	"github.com/needful-app/needful/internal/llm"
	"github.com/needful-app/needful/internal/logging"
	"github.com/needful-app/needful/internal/metrics"
	"github.com/needful-app/needful/internal/middleware"
	commonservice "github.com/needful-app/needful/services/common/service"
)

const (
	ServiceID   = "admin"
	ServiceName = "Admin Service"
	Version     = "1.0.0"
)

const (
	defaultPageSize    = 20
	maxPageSize        = 100
	defaultStatsTTL    = time.Minute
	statsWindowDays    = 30
	maxAnalyticsDays   = 365
	defaultChatHistory = 10
)

// Store is the persistence surface of the admin API.
type Store interface {
	database.UserStore
	database.CategoryStore
	database.ProviderStore
	database.ReviewStore
}

// Config configures the admin service.
type Config struct {
	Router    *mux.Router
	Auth      commonservice.Authenticator
	DB        Store
	Analytics analytics.Source
	Cache     cache.Cache
	StatsTTL  time.Duration
	// LLM is nil when the assistant is disabled.
	LLM            llm.Client
	MaxChatHistory int
	Metrics        *metrics.Metrics
	Logger         *logging.Logger
	Now            func() time.Time
}

// Service implements the admin API.
type Service struct {
	*commonservice.BaseService
	db             Store
	analytics      analytics.Source
	cache          cache.Cache
	observe        cache.Observer
	statsTTL       time.Duration
	llm            llm.Client
	maxChatHistory int
	now            func() time.Time
	started        time.Time
}

// New creates the admin service and registers its routes under /admin.
func New(cfg Config) *Service {
	base := commonservice.NewBase(commonservice.BaseConfig{
		Name:    ServiceName,
		Version: Version,
		Router:  cfg.Router,
		Logger:  cfg.Logger,
	})
	s := &Service{
		BaseService:    base,
		db:             cfg.DB,
		analytics:      cfg.Analytics,
		cache:          cfg.Cache,
		statsTTL:       cfg.StatsTTL,
		llm:            cfg.LLM,
		maxChatHistory: cfg.MaxChatHistory,
		now:            cfg.Now,
	}
	if s.statsTTL <= 0 {
		s.statsTTL = defaultStatsTTL
	}
	if s.maxChatHistory <= 0 {
		s.maxChatHistory = defaultChatHistory
	}
	if s.now == nil {
		s.now = time.Now
	}
	if cfg.Metrics != nil {
		s.observe = cfg.Metrics.RecordCacheLookup
	}
	s.started = s.now()
	s.registerRoutes(cfg.Auth)
	return s
}

func (s *Service) registerRoutes(auth commonservice.Authenticator) {
	a := s.Router().PathPrefix("/admin").Subrouter()
	a.Use(auth.Handler, middleware.RequireAdmin(s.db, s.Logger()))

	a.HandleFunc("/stats", s.handleStats).Methods("GET")
	a.HandleFunc("/analytics", s.handleAnalytics).Methods("GET")
	a.HandleFunc("/system", s.handleSystem).Methods("GET")
	a.HandleFunc("/chat", s.handleChat).Methods("POST")

	a.HandleFunc("/providers", s.handleListProviders).Methods("GET")
	a.HandleFunc("/providers/{id}/approve", s.handleApprove).Methods("POST")
	a.HandleFunc("/providers/{id}/reject", s.handleReject).Methods("POST")
	a.HandleFunc("/providers/{id}/suspend", s.handleSuspend).Methods("POST")
	a.HandleFunc("/providers/{id}/verify", s.handleVerify).Methods("PUT")
	a.HandleFunc("/providers/{id}/feature", s.handleFeature).Methods("PUT")
	a.HandleFunc("/providers/{id}", s.handleDeleteProvider).Methods("DELETE")

	a.HandleFunc("/reviews", s.handleListReviews).Methods("GET")
	a.HandleFunc("/reviews/{id}/status", s.handleSetReviewStatus).Methods("PUT")
	a.HandleFunc("/reviews/{id}", s.handleDeleteReview).Methods("DELETE")

	a.HandleFunc("/categories", s.handleListCategories).Methods("GET")
	a.HandleFunc("/categories", s.handleCreateCategory).Methods("POST")
	a.HandleFunc("/categories/{id}", s.handleUpdateCategory).Methods("PUT")
	a.HandleFunc("/categories/{id}", s.handleDeleteCategory).Methods("DELETE")

	a.HandleFunc("/users", s.handleListUsers).Methods("GET")
	a.HandleFunc("/users/{id}/role", s.handleSetRole).Methods("PUT")
}

// invalidate drops cached views after a write. Failures only delay
// freshness until the TTL runs out.
func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.Logger().WithContext(ctx).WithError(err).Warn("cache invalidation failed")
	}
}

// writeError maps store and upstream failures onto the response.
func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error, resource string) {
	commonservice.WriteStoreError(w, r, s.Logger(), err, resource, mux.Vars(r)["id"])
}

// audit logs an administrative action.
func (s *Service) audit(ctx context.Context, action, target string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["action"] = action
	fields["target"] = target
	fields["admin_id"] = logging.GetUserID(ctx)
	s.Logger().WithContext(ctx).WithFields(fields).Info("admin action")
}
