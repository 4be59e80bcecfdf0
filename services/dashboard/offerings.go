package dashboard

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/needful-app/needful/internal/database"
	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/httputil"
	commonservice "github.com/needful-app/needful/services/common/service"
)

const maxServiceNameLength = 120

// Price units accepted for an offering.
var priceUnits = map[string]bool{
	"":        true,
	"fixed":   true,
	"hour":    true,
	"day":     true,
	"visit":   true,
	"sqft":    true,
	"project": true,
}

// ServiceRequest creates or edits an offering.
type ServiceRequest struct {
	Name            *string  `json:"name,omitempty"`
	Description     *string  `json:"description,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	PriceUnit       *string  `json:"price_unit,omitempty"`
	DurationMinutes *int     `json:"duration_minutes,omitempty"`
	IsActive        *bool    `json:"is_active,omitempty"`
}

func (req *ServiceRequest) validate(create bool) error {
	req.Name = trimmed(req.Name)
	req.Description = trimmed(req.Description)
	req.PriceUnit = trimmed(req.PriceUnit)

	if create && req.Name == nil {
		return svcerrors.Validation("name", "name is required")
	}
	if req.Name != nil {
		if *req.Name == "" {
			return svcerrors.Validation("name", "name cannot be empty")
		}
		if len([]rune(*req.Name)) > maxServiceNameLength {
			return svcerrors.Validation("name", "name is too long")
		}
	}
	if req.Price != nil && *req.Price < 0 {
		return svcerrors.Validation("price", "price cannot be negative")
	}
	if req.PriceUnit != nil {
		unit := strings.ToLower(*req.PriceUnit)
		if !priceUnits[unit] {
			return svcerrors.Validation("price_unit", "unsupported price_unit")
		}
		req.PriceUnit = &unit
	}
	if req.DurationMinutes != nil && *req.DurationMinutes <= 0 {
		return svcerrors.Validation("duration_minutes", "duration_minutes must be positive")
	}
	return nil
}

func (req *ServiceRequest) input(providerID string) database.ServiceInput {
	return database.ServiceInput{
		ProviderID:      providerID,
		Name:            req.Name,
		Description:     req.Description,
		Price:           req.Price,
		PriceUnit:       req.PriceUnit,
		DurationMinutes: req.DurationMinutes,
		IsActive:        req.IsActive,
	}
}

func (s *Service) handleListServices(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.ownListing(w, r)
	if !ok {
		return
	}
	services, err := s.db.ListServices(r.Context(), provider.ID, false)
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "services", provider.ID)
		return
	}
	if services == nil {
		services = []database.ProviderService{}
	}
	httputil.WriteJSON(w, http.StatusOK, services)
}

func (s *Service) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req ServiceRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := req.validate(true); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	provider, ok := s.ownListing(w, r)
	if !ok {
		return
	}
	created, err := s.db.CreateService(r.Context(), req.input(provider.ID))
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "service", "")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (s *Service) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	var req ServiceRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := req.validate(false); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	provider, ok := s.ownListing(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	updated, err := s.db.UpdateService(r.Context(), provider.ID, id, req.input(provider.ID))
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "service", id)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (s *Service) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.ownListing(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.db.DeleteService(r.Context(), provider.ID, id); err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "service", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
