// Package stories serves the public story feed and story view tracking.
package stories

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"github.com/needful-app/needful/internal/database"
	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/geo"
	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/internal/logging"
	feed "github.com/needful-app/needful/internal/stories"
	commonservice "github.com/needful-app/needful/services/common/service"
)

const (
	ServiceID   = "stories"
	ServiceName = "Stories Service"
	Version     = "1.0.0"
)

const (
	defaultRadiusKm    = 25
	defaultMaxRadiusKm = 100
)

// Store is the persistence surface of the story feed.
type Store interface {
	ListActiveStories(ctx context.Context, now time.Time) ([]database.Story, error)
	ListProvidersByIDs(ctx context.Context, ids []string) ([]database.Provider, error)
	GetStory(ctx context.Context, id string) (*database.Story, error)
	IncrementStoryViews(ctx context.Context, id string) error
	RecordEvent(ctx context.Context, e *database.AnalyticsEvent) error
}

// Config configures the stories service.
type Config struct {
	Router          *mux.Router
	Auth            commonservice.Authenticator
	DB              Store
	DefaultRadiusKm float64
	MaxRadiusKm     float64
	Logger          *logging.Logger
	Now             func() time.Time
}

// Service implements the story feed API.
type Service struct {
	*commonservice.BaseService
	db              Store
	defaultRadiusKm float64
	maxRadiusKm     float64
	now             func() time.Time
}

// New creates the stories service and registers its routes.
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
		defaultRadiusKm: cfg.DefaultRadiusKm,
		maxRadiusKm:     cfg.MaxRadiusKm,
		now:             cfg.Now,
	}
	if s.maxRadiusKm <= 0 {
		s.maxRadiusKm = defaultMaxRadiusKm
	}
	if s.defaultRadiusKm <= 0 || s.defaultRadiusKm > s.maxRadiusKm {
		s.defaultRadiusKm = min(defaultRadiusKm, s.maxRadiusKm)
	}
	if s.now == nil {
		s.now = time.Now
	}

	r := s.Router()
	r.HandleFunc("/stories", s.handleFeed).Methods("GET")
	r.Handle("/stories/{id}/view", cfg.Auth.Optional(http.HandlerFunc(s.handleView))).Methods("POST")
	return s
}

// parseFilter reads lat, lon and radius_km. Without coordinates the feed is
// not location filtered.
func (s *Service) parseFilter(q url.Values) (feed.Filter, error) {
	f := feed.Filter{Now: s.now().UTC()}
	lat, err := httputil.QueryFloat(q, "lat")
	if err != nil {
		return f, svcerrors.BadRequest(err.Error())
	}
	lon, err := httputil.QueryFloat(q, "lon")
	if err != nil {
		return f, svcerrors.BadRequest(err.Error())
	}
	if (lat == nil) != (lon == nil) {
		return f, svcerrors.BadRequest("lat and lon must be given together")
	}
	if lat == nil {
		return f, nil
	}
	origin, ok := geo.PointFrom(lat, lon)
	if !ok {
		return f, svcerrors.BadRequest("lat/lon out of range")
	}
	f.Origin = &origin

	radius, err := httputil.QueryFloat(q, "radius_km")
	if err != nil {
		return f, svcerrors.BadRequest(err.Error())
	}
	f.RadiusKm = s.defaultRadiusKm
	if radius != nil {
		if *radius <= 0 {
			return f, svcerrors.Validation("radius_km", "radius_km must be positive")
		}
		f.RadiusKm = min(*radius, s.maxRadiusKm)
	}
	return f, nil
}

// Feed returns active stories grouped per approved provider.
func (s *Service) Feed(ctx context.Context, f feed.Filter) ([]feed.Group, error) {
	active, err := s.db.ListActiveStories(ctx, f.Now)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return []feed.Group{}, nil
	}
	providers, err := s.db.ListProvidersByIDs(ctx, feed.ProviderIDs(active))
	if err != nil {
		return nil, err
	}
	return feed.GroupByProvider(active, providers, f), nil
}

func (s *Service) handleFeed(w http.ResponseWriter, r *http.Request) {
	f, err := s.parseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	groups, err := s.Feed(r.Context(), f)
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "stories", "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, groups)
}

func (s *Service) handleView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	story, err := s.db.GetStory(ctx, id)
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "story", id)
		return
	}
	if story.Expired(s.now()) {
		httputil.NotFound(w, "story not found")
		return
	}
	if err := s.db.IncrementStoryViews(ctx, story.ID); err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "story", story.ID)
		return
	}

	event := &database.AnalyticsEvent{
		EventType:  database.EventStoryView,
		ProviderID: &story.ProviderID,
		SessionID:  r.Header.Get("X-Session-ID"),
		Metadata:   map[string]any{"story_id": story.ID},
	}
	if userID := logging.GetUserID(ctx); userID != "" {
		event.UserID = &userID
	}
	if err := s.db.RecordEvent(ctx, event); err != nil {
		s.Logger().WithContext(ctx).WithError(err).Warn("failed to record story view")
	}
	w.WriteHeader(http.StatusNoContent)
}
