// Package analytics accepts tracked interaction events from clients.
package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/mux"

	"github.com/needful-app/needful/internal/database"
	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/internal/logging"
	commonservice "github.com/needful-app/needful/services/common/service"
)

const (
	ServiceID   = "analytics"
	ServiceName = "Analytics Service"
	Version     = "1.0.0"
)

const (
	maxMetadataKeys  = 20
	maxMetadataBytes = 4 << 10
	maxSessionLength = 128
)

// Store records events.
type Store interface {
	RecordEvent(ctx context.Context, e *database.AnalyticsEvent) error
}

// Config configures the analytics service.
type Config struct {
	Router *mux.Router
	Auth   commonservice.Authenticator
	DB     Store
	Logger *logging.Logger
}

// Service implements event tracking.
type Service struct {
	*commonservice.BaseService
	db Store
}

// EventRequest is the body of POST /analytics/events.
type EventRequest struct {
	EventType  string         `json:"event_type"`
	ProviderID *string        `json:"provider_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// New creates the analytics service and registers its routes.
func New(cfg Config) *Service {
	base := commonservice.NewBase(commonservice.BaseConfig{
		Name:    ServiceName,
		Version: Version,
		Router:  cfg.Router,
		Logger:  cfg.Logger,
	})
	s := &Service{BaseService: base, db: cfg.DB}
	s.Router().Handle("/analytics/events", cfg.Auth.Optional(http.HandlerFunc(s.handleTrack))).Methods("POST")
	return s
}

func (req *EventRequest) event() (*database.AnalyticsEvent, error) {
	eventType := strings.TrimSpace(req.EventType)
	if !slices.Contains(database.EventTypes, eventType) {
		return nil, svcerrors.Validation("event_type", "unknown event_type").WithDetails("allowed", database.EventTypes)
	}
	if len(req.Metadata) > maxMetadataKeys {
		return nil, svcerrors.Validation("metadata", "too many metadata keys")
	}
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil || len(raw) > maxMetadataBytes {
			return nil, svcerrors.Validation("metadata", "metadata is too large")
		}
	}
	if len(req.SessionID) > maxSessionLength {
		return nil, svcerrors.Validation("session_id", "session_id is too long")
	}
	e := &database.AnalyticsEvent{
		EventType: eventType,
		SessionID: req.SessionID,
		Metadata:  req.Metadata,
	}
	if req.ProviderID != nil && strings.TrimSpace(*req.ProviderID) != "" {
		id := strings.TrimSpace(*req.ProviderID)
		e.ProviderID = &id
	}
	if eventType == database.EventProviderView || eventType == database.EventContactClick {
		if e.ProviderID == nil {
			return nil, svcerrors.Validation("provider_id", "provider_id is required for "+eventType)
		}
	}
	return e, nil
}

func (s *Service) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	e, err := req.event()
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	ctx := r.Context()
	if e.SessionID == "" {
		e.SessionID = r.Header.Get("X-Session-ID")
	}
	if userID := logging.GetUserID(ctx); userID != "" {
		e.UserID = &userID
	}
	if err := s.db.RecordEvent(ctx, e); err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "event", "")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
