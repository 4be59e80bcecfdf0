package database

import (
	"encoding/json"
	"time"
)

// User roles stored in users.role.
const (
	UserRoleUser     = "user"
	UserRoleProvider = "provider"
	UserRoleAdmin    = "admin"
)

var userRoles = []string{UserRoleUser, UserRoleProvider, UserRoleAdmin}

// Provider listing statuses.
const (
	ProviderStatusPending   = "pending"
	ProviderStatusApproved  = "approved"
	ProviderStatusRejected  = "rejected"
	ProviderStatusSuspended = "suspended"
)

// ProviderStatuses lists every valid provider status.
var ProviderStatuses = []string{
	ProviderStatusPending, ProviderStatusApproved, ProviderStatusRejected, ProviderStatusSuspended,
}

// Review moderation statuses.
const (
	ReviewStatusPublished = "published"
	ReviewStatusHidden    = "hidden"
	ReviewStatusFlagged   = "flagged"
)

// ReviewStatuses lists every valid review status.
var ReviewStatuses = []string{ReviewStatusPublished, ReviewStatusHidden, ReviewStatusFlagged}

// Story media types.
const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
)

// User is a row of the users table. ID equals the Supabase Auth uid.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserUpdate carries the profile fields a user may change.
type UserUpdate struct {
	FullName  *string    `json:"full_name,omitempty"`
	Phone     *string    `json:"phone,omitempty"`
	AvatarURL *string    `json:"avatar_url,omitempty"`
	Role      *string    `json:"role,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	Role   string
	Search string
	Limit  int
	Offset int
}

// Category is a row of the categories table. ProviderCount is computed.
type Category struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	Description   string    `json:"description,omitempty"`
	Icon          string    `json:"icon,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	DisplayOrder  int       `json:"display_order"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	ProviderCount int       `json:"provider_count"`
}

// CategoryInput creates or patches a category. Nil fields are left unchanged
// on update.
type CategoryInput struct {
	Name         *string `json:"name,omitempty"`
	Slug         *string `json:"slug,omitempty"`
	Description  *string `json:"description,omitempty"`
	Icon         *string `json:"icon,omitempty"`
	ImageURL     *string `json:"image_url,omitempty"`
	DisplayOrder *int    `json:"display_order,omitempty"`
	IsActive     *bool   `json:"is_active,omitempty"`
}

// Provider is a business listing.
type Provider struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	CategoryID      *string         `json:"category_id"`
	BusinessName    string          `json:"business_name"`
	Slug            string          `json:"slug"`
	Description     string          `json:"description,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	Email           string          `json:"email,omitempty"`
	Website         string          `json:"website,omitempty"`
	WhatsApp        string          `json:"whatsapp,omitempty"`
	Address         string          `json:"address,omitempty"`
	City            string          `json:"city,omitempty"`
	State           string          `json:"state,omitempty"`
	Pincode         string          `json:"pincode,omitempty"`
	Latitude        *float64        `json:"latitude"`
	Longitude       *float64        `json:"longitude"`
	LogoURL         string          `json:"logo_url,omitempty"`
	CoverImageURL   string          `json:"cover_image_url,omitempty"`
	OpeningHours    json.RawMessage `json:"opening_hours,omitempty"`
	PriceRange      string          `json:"price_range,omitempty"`
	YearsInBusiness *int            `json:"years_in_business,omitempty"`
	Rating          float64         `json:"rating"`
	ReviewCount     int             `json:"review_count"`
	ViewCount       int             `json:"view_count"`
	IsVerified      bool            `json:"is_verified"`
	IsFeatured      bool            `json:"is_featured"`
	Status          string          `json:"status"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty"`

	Category *Category `json:"category,omitempty"`

	// DistanceKm is set by radius searches.
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

// IsPublic reports whether the listing is visible to consumers.
func (p *Provider) IsPublic() bool {
	return p != nil && p.Status == ProviderStatusApproved && p.DeletedAt == nil
}

// ProviderInput is the insert payload for a new listing.
type ProviderInput struct {
	UserID          string          `json:"user_id"`
	CategoryID      *string         `json:"category_id,omitempty"`
	BusinessName    string          `json:"business_name"`
	Slug            string          `json:"slug"`
	Description     string          `json:"description,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	Email           string          `json:"email,omitempty"`
	Website         string          `json:"website,omitempty"`
	WhatsApp        string          `json:"whatsapp,omitempty"`
	Address         string          `json:"address,omitempty"`
	City            string          `json:"city,omitempty"`
	State           string          `json:"state,omitempty"`
	Pincode         string          `json:"pincode,omitempty"`
	Latitude        *float64        `json:"latitude,omitempty"`
	Longitude       *float64        `json:"longitude,omitempty"`
	LogoURL         string          `json:"logo_url,omitempty"`
	CoverImageURL   string          `json:"cover_image_url,omitempty"`
	OpeningHours    json.RawMessage `json:"opening_hours,omitempty"`
	PriceRange      string          `json:"price_range,omitempty"`
	YearsInBusiness *int            `json:"years_in_business,omitempty"`
	Status          string          `json:"status"`
}

// ProviderUpdate patches a listing. Nil fields are left unchanged.
type ProviderUpdate struct {
	CategoryID      *string         `json:"category_id,omitempty"`
	BusinessName    *string         `json:"business_name,omitempty"`
	Slug            *string         `json:"slug,omitempty"`
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
	Rating          *float64        `json:"rating,omitempty"`
	ReviewCount     *int            `json:"review_count,omitempty"`
	IsVerified      *bool           `json:"is_verified,omitempty"`
	IsFeatured      *bool           `json:"is_featured,omitempty"`
	Status          *string         `json:"status,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty"`
	UpdatedAt       *time.Time      `json:"updated_at,omitempty"`
}

// Provider search sort orders.
const (
	SortRating   = "rating"
	SortReviews  = "reviews"
	SortNewest   = "newest"
	SortViews    = "views"
	SortDistance = "distance"
)

// ProviderFilter narrows SearchProviders. Zero values mean "no constraint",
// except Status which defaults to approved.
type ProviderFilter struct {
	Query          string
	CategoryID     string
	City           string
	MinRating      *float64
	Verified       *bool
	Featured       *bool
	Status         string
	AnyStatus      bool
	IncludeDeleted bool
	UserID         string

	// Bounding box prefilter; all four are set together.
	MinLat, MaxLat, MinLon, MaxLon *float64

	Sort   string
	Limit  int
	Offset int
}

// ProviderService is an offering listed on a provider's page.
type ProviderService struct {
	ID              string    `json:"id"`
	ProviderID      string    `json:"provider_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Price           *float64  `json:"price,omitempty"`
	PriceUnit       string    `json:"price_unit,omitempty"`
	DurationMinutes *int      `json:"duration_minutes,omitempty"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

// ServiceInput creates or patches an offering.
type ServiceInput struct {
	ProviderID      string   `json:"provider_id,omitempty"`
	Name            *string  `json:"name,omitempty"`
	Description     *string  `json:"description,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	PriceUnit       *string  `json:"price_unit,omitempty"`
	DurationMinutes *int     `json:"duration_minutes,omitempty"`
	IsActive        *bool    `json:"is_active,omitempty"`
}

// ProviderImage is a gallery image stored in the provider-images bucket.
type ProviderImage struct {
	ID           string    `json:"id"`
	ProviderID   string    `json:"provider_id"`
	ImageURL     string    `json:"image_url"`
	StoragePath  string    `json:"storage_path,omitempty"`
	Caption      string    `json:"caption,omitempty"`
	DisplayOrder int       `json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
}

// ReviewAuthor is the embedded public profile of a reviewer.
type ReviewAuthor struct {
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// ProviderRef is the embedded summary of a provider.
type ProviderRef struct {
	ID           string `json:"id"`
	BusinessName string `json:"business_name"`
	Slug         string `json:"slug"`
}

// Review is a consumer review of a provider.
type Review struct {
	ID               string        `json:"id"`
	ProviderID       string        `json:"provider_id"`
	UserID           string        `json:"user_id"`
	Rating           int           `json:"rating"`
	Title            string        `json:"title,omitempty"`
	Comment          string        `json:"comment,omitempty"`
	Status           string        `json:"status"`
	ProviderResponse string        `json:"provider_response,omitempty"`
	RespondedAt      *time.Time    `json:"responded_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	User             *ReviewAuthor `json:"user,omitempty"`
	Provider         *ProviderRef  `json:"provider,omitempty"`
}

// ReviewInput is the insert payload for a review.
type ReviewInput struct {
	ProviderID string `json:"provider_id"`
	UserID     string `json:"user_id"`
	Rating     int    `json:"rating"`
	Title      string `json:"title,omitempty"`
	Comment    string `json:"comment,omitempty"`
	Status     string `json:"status"`
}

// ReviewUpdate patches a review. Nil fields are left unchanged.
type ReviewUpdate struct {
	Rating           *int       `json:"rating,omitempty"`
	Title            *string    `json:"title,omitempty"`
	Comment          *string    `json:"comment,omitempty"`
	Status           *string    `json:"status,omitempty"`
	ProviderResponse *string    `json:"provider_response,omitempty"`
	RespondedAt      *time.Time `json:"responded_at,omitempty"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// ReviewFilter narrows ListReviews.
type ReviewFilter struct {
	ProviderID string
	UserID     string
	Status     string
	Limit      int
	Offset     int
}

// Favorite is a saved provider.
type Favorite struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ProviderID string    `json:"provider_id"`
	CreatedAt  time.Time `json:"created_at"`
	Provider   *Provider `json:"provider,omitempty"`
}

// Story is a short-lived media post by a provider.
type Story struct {
	ID          string    `json:"id"`
	ProviderID  string    `json:"provider_id"`
	MediaURL    string    `json:"media_url"`
	MediaType   string    `json:"media_type"`
	StoragePath string    `json:"storage_path,omitempty"`
	Caption     string    `json:"caption,omitempty"`
	ViewCount   int       `json:"view_count"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired reports whether the story is no longer visible at now.
func (s *Story) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// StoryInput is the insert payload for a story.
type StoryInput struct {
	ProviderID  string    `json:"provider_id"`
	MediaURL    string    `json:"media_url"`
	MediaType   string    `json:"media_type"`
	StoragePath string    `json:"storage_path,omitempty"`
	Caption     string    `json:"caption,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Analytics event types.
const (
	EventPageView     = "page_view"
	EventProviderView = "provider_view"
	EventSearch       = "search"
	EventContactClick = "contact_click"
	EventShare        = "share"
	EventStoryView    = "story_view"
)

// EventTypes lists every accepted analytics event type.
var EventTypes = []string{
	EventPageView, EventProviderView, EventSearch, EventContactClick, EventShare, EventStoryView,
}

// AnalyticsEvent is a tracked user interaction.
type AnalyticsEvent struct {
	ID         string         `json:"id,omitempty"`
	EventType  string         `json:"event_type"`
	ProviderID *string        `json:"provider_id,omitempty"`
	UserID     *string        `json:"user_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	ProviderID string
	Types      []string
	Since      time.Time
	Limit      int
}
