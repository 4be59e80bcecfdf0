package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"

	"github.com/needful-app/needful/internal/database"
	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/geo"
	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/internal/middleware"
	"github.com/needful-app/needful/internal/slug"
	commonservice "github.com/needful-app/needful/services/common/service"
)

const maxBusinessNameLength = 120

// ListingRequest creates or edits the caller's listing. Nil fields are left
// unchanged on edit.
type ListingRequest struct {
	CategoryID      *string         `json:"category_id,omitempty"`
	BusinessName    *string         `json:"business_name,omitempty"`
	Description     *string         `json:"description,omitempty"`
	Phone           *string         `json:"phone,omitempty"`
	Email           *string         `json:"email,omitempty"`
	Website         *string         `json:"website,omitempty"`
	WhatsApp        *string         `json:"whatsapp,omitempty"`
	Address         *string         `json:"address,omitempty"`
	City            *string         `json:"city,omitempty"`
	State           *string         `json:"state,omitempty"`
	Pincode         *string         `json:"pincode,omitempty"`
	Latitude        *float64        `json:"latitude,omitempty"`
	Longitude       *float64        `json:"longitude,omitempty"`
	LogoURL         *string         `json:"logo_url,omitempty"`
	CoverImageURL   *string         `json:"cover_image_url,omitempty"`
	OpeningHours    json.RawMessage `json:"opening_hours,omitempty"`
	PriceRange      *string         `json:"price_range,omitempty"`
	YearsInBusiness *int            `json:"years_in_business,omitempty"`
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}

func (req *ListingRequest) normalize() {
	for _, f := range []**string{
		&req.CategoryID, &req.BusinessName, &req.Description, &req.Phone, &req.Email,
		&req.Website, &req.WhatsApp, &req.Address, &req.City, &req.State,
		&req.Pincode, &req.LogoURL, &req.CoverImageURL, &req.PriceRange,
	} {
		*f = trimmed(*f)
	}
}

// validate checks field formats. create additionally requires the fields a
// new listing must have.
func (s *Service) validateListing(ctx context.Context, req *ListingRequest, create bool) error {
	if create {
		if req.BusinessName == nil || *req.BusinessName == "" {
			return svcerrors.Validation("business_name", "business_name is required")
		}
		if req.CategoryID == nil || *req.CategoryID == "" {
			return svcerrors.Validation("category_id", "category_id is required")
		}
	}
	if req.BusinessName != nil {
		if *req.BusinessName == "" {
			return svcerrors.Validation("business_name", "business_name cannot be empty")
		}
		if len([]rune(*req.BusinessName)) > maxBusinessNameLength {
			return svcerrors.Validation("business_name", "business_name is too long")
		}
	}
	if req.Email != nil && *req.Email != "" {
		if _, err := mail.ParseAddress(*req.Email); err != nil {
			return svcerrors.Validation("email", "email is not a valid address")
		}
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return svcerrors.Validation("latitude", "latitude and longitude must be given together")
	}
	if req.Latitude != nil {
		if _, ok := geo.PointFrom(req.Latitude, req.Longitude); !ok {
			return svcerrors.Validation("latitude", "coordinates are out of range")
		}
	}
	if req.YearsInBusiness != nil && *req.YearsInBusiness < 0 {
		return svcerrors.Validation("years_in_business", "years_in_business cannot be negative")
	}
	if len(req.OpeningHours) > 0 {
		raw := bytes.TrimSpace(req.OpeningHours)
		if !json.Valid(raw) || (raw[0] != '{' && !bytes.Equal(raw, []byte("null"))) {
			return svcerrors.Validation("opening_hours", "opening_hours must be an object")
		}
	}
	if req.CategoryID != nil {
		if *req.CategoryID == "" {
			return svcerrors.Validation("category_id", "category_id cannot be empty")
		}
		cat, err := s.db.GetCategory(ctx, *req.CategoryID)
		if err != nil {
			if database.IsNotFound(err) {
				return svcerrors.Validation("category_id", "unknown category")
			}
			return commonservice.StoreError(err, "category", *req.CategoryID)
		}
		if !cat.IsActive {
			return svcerrors.Validation("category_id", "category is not available")
		}
	}
	return nil
}

// ensureProfile returns the caller's users row, creating it from the token
// claims on first access.
func (s *Service) ensureProfile(ctx context.Context) (*database.User, error) {
	id, _ := middleware.IdentityFromContext(ctx)
	return s.db.EnsureUser(ctx, &database.User{
		ID:       id.UserID,
		Email:    id.Email,
		FullName: id.FullName,
	})
}

func (s *Service) handleGetListing(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.ownListing(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, provider)
}

func (s *Service) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var req ListingRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.normalize()

	ctx := r.Context()
	if err := s.validateListing(ctx, &req, true); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	if _, err := s.db.GetProviderByUser(ctx, userID); err == nil {
		httputil.WriteError(w, r, svcerrors.Conflict("you already have a listing"))
		return
	} else if !database.IsNotFound(err) {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "provider", userID)
		return
	}

	profile, err := s.ensureProfile(ctx)
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "user", userID)
		return
	}

	providerSlug, err := slug.Unique(ctx, *req.BusinessName, "provider", s.db.SlugExists)
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "provider", "")
		return
	}

	in := database.ProviderInput{
		UserID:          userID,
		CategoryID:      req.CategoryID,
		BusinessName:    *req.BusinessName,
		Slug:            providerSlug,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		OpeningHours:    req.OpeningHours,
		YearsInBusiness: req.YearsInBusiness,
		Status:          database.ProviderStatusPending,
	}
	for dst, src := range map[*string]*string{
		&in.Description: req.Description, &in.Phone: req.Phone, &in.Email: req.Email,
		&in.Website: req.Website, &in.WhatsApp: req.WhatsApp, &in.Address: req.Address,
		&in.City: req.City, &in.State: req.State, &in.Pincode: req.Pincode,
		&in.LogoURL: req.LogoURL, &in.CoverImageURL: req.CoverImageURL, &in.PriceRange: req.PriceRange,
	} {
		if src != nil {
			*dst = *src
		}
	}

	provider, err := s.db.CreateProvider(ctx, in)
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "provider", providerSlug)
		return
	}

	if profile.Role == database.UserRoleUser {
		role := database.UserRoleProvider
		if _, err := s.db.UpdateUser(ctx, userID, database.UserUpdate{Role: &role}); err != nil {
			s.Logger().WithContext(ctx).WithError(err).Warn("failed to promote user to provider role")
		}
	}

	s.Logger().WithContext(ctx).WithField("provider_id", provider.ID).Info("listing submitted for review")
	httputil.WriteJSON(w, http.StatusCreated, provider)
}

func (s *Service) handleUpdateListing(w http.ResponseWriter, r *http.Request) {
	var req ListingRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.normalize()
	provider, ok := s.ownListing(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := s.validateListing(ctx, &req, false); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	now := s.now().UTC()
	u := database.ProviderUpdate{
		CategoryID:      req.CategoryID,
		BusinessName:    req.BusinessName,
		Description:     req.Description,
		Phone:           req.Phone,
		Email:           req.Email,
		Website:         req.Website,
		WhatsApp:        req.WhatsApp,
		Address:         req.Address,
		City:            req.City,
		State:           req.State,
		Pincode:         req.Pincode,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		LogoURL:         req.LogoURL,
		CoverImageURL:   req.CoverImageURL,
		OpeningHours:    req.OpeningHours,
		PriceRange:      req.PriceRange,
		YearsInBusiness: req.YearsInBusiness,
		UpdatedAt:       &now,
	}

	// Approved listings keep their public URL. Unpublished ones follow the
	// business name.
	if req.BusinessName != nil && *req.BusinessName != provider.BusinessName &&
		provider.Status != database.ProviderStatusApproved {
		// The listing's own slug counts as free.
		exists := func(ctx context.Context, candidate string) (bool, error) {
			if candidate == provider.Slug {
				return false, nil
			}
			return s.db.SlugExists(ctx, candidate)
		}
		newSlug, err := slug.Unique(ctx, *req.BusinessName, "provider", exists)
		if err != nil {
			commonservice.WriteStoreError(w, r, s.Logger(), err, "provider", provider.ID)
			return
		}
		if newSlug != provider.Slug {
			u.Slug = &newSlug
		}
	}

	// Editing a rejected listing resubmits it for review.
	if provider.Status == database.ProviderStatusRejected {
		pending, cleared := database.ProviderStatusPending, ""
		u.Status = &pending
		u.RejectionReason = &cleared
	}

	updated, err := s.db.UpdateProvider(ctx, provider.ID, u)
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "provider", provider.ID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}
