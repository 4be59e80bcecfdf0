package database

import (
	"context"
	"time"
)

// UserStore manages profile rows.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
	EnsureUser(ctx context.Context, u *User) (*User, error)
	UpdateUser(ctx context.Context, id string, u UserUpdate) (*User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]User, int, error)
	UserRole(ctx context.Context, id string) (string, error)
	CountUsers(ctx context.Context) (int, error)
}

// CategoryStore manages the category taxonomy.
type CategoryStore interface {
	ListCategories(ctx context.Context, activeOnly bool) ([]Category, error)
	GetCategory(ctx context.Context, id string) (*Category, error)
	GetCategoryBySlug(ctx context.Context, slug string) (*Category, error)
	CreateCategory(ctx context.Context, in CategoryInput) (*Category, error)
	UpdateCategory(ctx context.Context, id string, in CategoryInput) (*Category, error)
	DeleteCategory(ctx context.Context, id string) error
	CountProvidersByCategory(ctx context.Context) (map[string]int, error)
}

// ProviderStore manages business listings.
type ProviderStore interface {
	SearchProviders(ctx context.Context, f ProviderFilter) ([]Provider, int, error)
	GetProvider(ctx context.Context, id string) (*Provider, error)
	GetProviderBySlug(ctx context.Context, slug string) (*Provider, error)
	GetProviderByUser(ctx context.Context, userID string) (*Provider, error)
	ListProvidersByIDs(ctx context.Context, ids []string) ([]Provider, error)
	CreateProvider(ctx context.Context, in ProviderInput) (*Provider, error)
	UpdateProvider(ctx context.Context, id string, u ProviderUpdate) (*Provider, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	IncrementProviderViews(ctx context.Context, id string) error
	CountProvidersByStatus(ctx context.Context) (map[string]int, error)
}

// OfferingStore manages the services a provider lists.
type OfferingStore interface {
	ListServices(ctx context.Context, providerID string, activeOnly bool) ([]ProviderService, error)
	CreateService(ctx context.Context, in ServiceInput) (*ProviderService, error)
	UpdateService(ctx context.Context, providerID, id string, in ServiceInput) (*ProviderService, error)
	DeleteService(ctx context.Context, providerID, id string) error
}

// ImageStore manages gallery image rows.
type ImageStore interface {
	ListImages(ctx context.Context, providerID string) ([]ProviderImage, error)
	GetImage(ctx context.Context, id string) (*ProviderImage, error)
	CreateImage(ctx context.Context, img ProviderImage) (*ProviderImage, error)
	DeleteImage(ctx context.Context, id string) error
}

// ReviewStore manages reviews.
type ReviewStore interface {
	ListReviews(ctx context.Context, f ReviewFilter) ([]Review, int, error)
	GetReview(ctx context.Context, id string) (*Review, error)
	CreateReview(ctx context.Context, in ReviewInput) (*Review, error)
	UpdateReview(ctx context.Context, id string, u ReviewUpdate) (*Review, error)
	DeleteReview(ctx context.Context, id string) error
	PublishedRatings(ctx context.Context, providerID string) ([]int, error)
}

// FavoriteStore manages saved providers.
type FavoriteStore interface {
	ListFavorites(ctx context.Context, userID string) ([]Favorite, error)
	AddFavorite(ctx context.Context, userID, providerID string) (*Favorite, error)
	RemoveFavorite(ctx context.Context, userID, providerID string) error
}

// StoryStore manages provider stories.
type StoryStore interface {
	ListActiveStories(ctx context.Context, now time.Time) ([]Story, error)
	ListProviderStories(ctx context.Context, providerID string, activeAt *time.Time) ([]Story, error)
	GetStory(ctx context.Context, id string) (*Story, error)
	CreateStory(ctx context.Context, in StoryInput) (*Story, error)
	DeleteStory(ctx context.Context, id string) error
	IncrementStoryViews(ctx context.Context, id string) error
	ListExpiredStories(ctx context.Context, now time.Time, limit int) ([]Story, error)
}

// AnalyticsStore records and reads analytics events.
type AnalyticsStore interface {
	RecordEvent(ctx context.Context, e *AnalyticsEvent) error
	ListEvents(ctx context.Context, f EventFilter) ([]AnalyticsEvent, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// RepositoryInterface is the full data access surface.
type RepositoryInterface interface {
	UserStore
	CategoryStore
	ProviderStore
	OfferingStore
	ImageStore
	ReviewStore
	FavoriteStore
	StoryStore
	AnalyticsStore
	Ping(ctx context.Context) error
}

var (
	_ RepositoryInterface = (*Repository)(nil)
	_ RepositoryInterface = (*MockRepository)(nil)
)
