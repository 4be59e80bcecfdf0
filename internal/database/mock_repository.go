package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockRepository is an in-memory implementation of RepositoryInterface for testing.
type MockRepository struct {
	mu sync.RWMutex

	// Data stores
	users      map[string]*User
	categories map[string]*Category
	providers  map[string]*Provider
	services   map[string]*ProviderService
	images     map[string]*ProviderImage
	reviews    map[string]*Review
	favorites  map[string]*Favorite // keyed by user_id + "/" + provider_id
	stories    map[string]*Story
	events     []AnalyticsEvent

	// Now is the clock used for timestamps.
	Now func() time.Time

	// Error injection for testing error paths
	ErrorOnNextCall error
}

// NewMockRepository creates a new mock repository for testing.
func NewMockRepository() *MockRepository {
	m := &MockRepository{Now: time.Now}
	m.reset()
	return m
}

func (m *MockRepository) reset() {
	m.users = make(map[string]*User)
	m.categories = make(map[string]*Category)
	m.providers = make(map[string]*Provider)
	m.services = make(map[string]*ProviderService)
	m.images = make(map[string]*ProviderImage)
	m.reviews = make(map[string]*Review)
	m.favorites = make(map[string]*Favorite)
	m.stories = make(map[string]*Story)
	m.events = nil
}

// checkError returns and clears any injected error.
func (m *MockRepository) checkError() error {
	if m.ErrorOnNextCall != nil {
		err := m.ErrorOnNextCall
		m.ErrorOnNextCall = nil
		return err
	}
	return nil
}

// Reset clears all data in the mock repository.
func (m *MockRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	m.ErrorOnNextCall = nil
}

func (m *MockRepository) now() time.Time {
	return m.Now().UTC()
}

// Ping implements RepositoryInterface.
func (m *MockRepository) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkError()
}

// Seed helpers. They assign ids and timestamps when unset and return the
// stored copy.

// AddUser stores a user.
func (m *MockRepository) AddUser(u User) User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = UserRoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
		u.UpdatedAt = u.CreatedAt
	}
	m.users[u.ID] = &u
	return u
}

// AddCategory stores a category.
func (m *MockRepository) AddCategory(c Category) Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	m.categories[c.ID] = &c
	return c
}

// AddProvider stores a listing. Status defaults to approved.
func (m *MockRepository) AddProvider(p Provider) Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = ProviderStatusApproved
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
		p.UpdatedAt = p.CreatedAt
	}
	p.Category = nil
	m.providers[p.ID] = &p
	return *m.providerCopy(&p)
}

// AddReview stores a review. Status defaults to published.
func (m *MockRepository) AddReview(r Review) Review {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = ReviewStatusPublished
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
		r.UpdatedAt = r.CreatedAt
	}
	m.reviews[r.ID] = &r
	return r
}

// AddStory stores a story.
func (m *MockRepository) AddStory(s Story) Story {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now()
	}
	m.stories[s.ID] = &s
	return s
}

// Events returns a copy of every recorded analytics event.
func (m *MockRepository) Events() []AnalyticsEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AnalyticsEvent(nil), m.events...)
}

// =============================================================================
// Users
// =============================================================================

func (m *MockRepository) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, NewNotFoundError("user", id)
	}
	out := *u
	return &out, nil
}

func (m *MockRepository) EnsureUser(ctx context.Context, u *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	if u == nil || u.ID == "" {
		return nil, fmt.Errorf("%w: user id cannot be empty", ErrInvalidInput)
	}
	if existing, ok := m.users[u.ID]; ok {
		out := *existing
		return &out, nil
	}
	now := m.now()
	stored := User{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		AvatarURL: u.AvatarURL,
		Role:      UserRoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.users[u.ID] = &stored
	out := stored
	return &out, nil
}

func (m *MockRepository) UpdateUser(ctx context.Context, id string, u UserUpdate) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	if u.Role != nil {
		if err := ValidateStatus(*u.Role, userRoles); err != nil {
			return nil, err
		}
	}
	stored, ok := m.users[id]
	if !ok {
		return nil, NewNotFoundError("user", id)
	}
	if u.FullName != nil {
		stored.FullName = *u.FullName
	}
	if u.Phone != nil {
		stored.Phone = *u.Phone
	}
	if u.AvatarURL != nil {
		stored.AvatarURL = *u.AvatarURL
	}
	if u.Role != nil {
		stored.Role = *u.Role
	}
	stored.UpdatedAt = m.now()
	out := *stored
	return &out, nil
}

func (m *MockRepository) ListUsers(ctx context.Context, f UserFilter) ([]User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, 0, err
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))
	var out []User
	for _, u := range m.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(u.Email), search) &&
			!strings.Contains(strings.ToLower(u.FullName), search) {
			continue
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	total := len(out)
	return paginate(out, f.Limit, f.Offset), total, nil
}

func (m *MockRepository) UserRole(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return "", err
	}
	u, ok := m.users[id]
	if !ok {
		return "", NewNotFoundError("user", id)
	}
	return u.Role, nil
}

func (m *MockRepository) CountUsers(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return 0, err
	}
	return len(m.users), nil
}

// =============================================================================
// Categories
// =============================================================================

func (m *MockRepository) ListCategories(ctx context.Context, activeOnly bool) ([]Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	var out []Category
	for _, c := range m.categories {
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MockRepository) GetCategory(ctx context.Context, id string) (*Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	c, ok := m.categories[id]
	if !ok {
		return nil, NewNotFoundError("category", id)
	}
	out := *c
	return &out, nil
}

func (m *MockRepository) GetCategoryBySlug(ctx context.Context, slug string) (*Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	for _, c := range m.categories {
		if c.Slug == slug {
			out := *c
			return &out, nil
		}
	}
	return nil, NewNotFoundError("category", slug)
}

func (m *MockRepository) CreateCategory(ctx context.Context, in CategoryInput) (*Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	if in.Name == nil || *in.Name == "" || in.Slug == nil || *in.Slug == "" {
		return nil, fmt.Errorf("%w: name and slug are required", ErrInvalidInput)
	}
	for _, c := range m.categories {
		if c.Slug == *in.Slug {
			return nil, fmt.Errorf("%w: category slug %s exists", ErrConflict, *in.Slug)
		}
	}
	c := &Category{ID: uuid.NewString(), IsActive: true, CreatedAt: m.now()}
	applyCategoryInput(c, in)
	m.categories[c.ID] = c
	out := *c
	return &out, nil
}

func (m *MockRepository) UpdateCategory(ctx context.Context, id string, in CategoryInput) (*Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	c, ok := m.categories[id]
	if !ok {
		return nil, NewNotFoundError("category", id)
	}
	if in.Slug != nil {
		for _, other := range m.categories {
			if other.ID != id && other.Slug == *in.Slug {
				return nil, fmt.Errorf("%w: category slug %s exists", ErrConflict, *in.Slug)
			}
		}
	}
	applyCategoryInput(c, in)
	out := *c
	return &out, nil
}

func (m *MockRepository) DeleteCategory(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	if _, ok := m.categories[id]; !ok {
		return NewNotFoundError("category", id)
	}
	delete(m.categories, id)
	for _, p := range m.providers {
		if p.CategoryID != nil && *p.CategoryID == id {
			p.CategoryID = nil
		}
	}
	return nil
}

func (m *MockRepository) CountProvidersByCategory(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, p := range m.providers {
		if p.IsPublic() && p.CategoryID != nil {
			counts[*p.CategoryID]++
		}
	}
	return counts, nil
}

func applyCategoryInput(c *Category, in CategoryInput) {
	if in.Name != nil {
		c.Name = *in.Name
	}
	if in.Slug != nil {
		c.Slug = *in.Slug
	}
	if in.Description != nil {
		c.Description = *in.Description
	}
	if in.Icon != nil {
		c.Icon = *in.Icon
	}
	if in.ImageURL != nil {
		c.ImageURL = *in.ImageURL
	}
	if in.DisplayOrder != nil {
		c.DisplayOrder = *in.DisplayOrder
	}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
}

// =============================================================================
// Providers
// =============================================================================

// providerCopy returns a detached copy with the category embedded. Callers
// hold the lock.
func (m *MockRepository) providerCopy(p *Provider) *Provider {
	out := *p
	out.Category = nil
	if p.CategoryID != nil {
		if c, ok := m.categories[*p.CategoryID]; ok {
			cat := *c
			out.Category = &cat
		}
	}
	return &out
}

func (m *MockRepository) SearchProviders(ctx context.Context, f ProviderFilter) ([]Provider, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, 0, err
	}
	status := f.Status
	if status == "" {
		status = ProviderStatusApproved
	}
	query := strings.ToLower(strings.TrimSpace(f.Query))

	var out []Provider
	for _, p := range m.providers {
		if !f.AnyStatus && p.Status != status {
			continue
		}
		if !f.IncludeDeleted && p.DeletedAt != nil {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.BusinessName), query) &&
			!strings.Contains(strings.ToLower(p.Description), query) &&
			!strings.Contains(strings.ToLower(p.City), query) {
			continue
		}
		if f.CategoryID != "" && (p.CategoryID == nil || *p.CategoryID != f.CategoryID) {
			continue
		}
		if f.City != "" && !strings.EqualFold(p.City, f.City) {
			continue
		}
		if f.UserID != "" && p.UserID != f.UserID {
			continue
		}
		if f.MinRating != nil && p.Rating < *f.MinRating {
			continue
		}
		if f.Verified != nil && p.IsVerified != *f.Verified {
			continue
		}
		if f.Featured != nil && p.IsFeatured != *f.Featured {
			continue
		}
		if f.MinLat != nil && f.MaxLat != nil && f.MinLon != nil && f.MaxLon != nil {
			if p.Latitude == nil || p.Longitude == nil ||
				*p.Latitude < *f.MinLat || *p.Latitude > *f.MaxLat ||
				*p.Longitude < *f.MinLon || *p.Longitude > *f.MaxLon {
				continue
			}
		}
		out = append(out, *m.providerCopy(p))
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch f.Sort {
		case SortRating:
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
			if a.ReviewCount != b.ReviewCount {
				return a.ReviewCount > b.ReviewCount
			}
		case SortReviews:
			if a.ReviewCount != b.ReviewCount {
				return a.ReviewCount > b.ReviewCount
			}
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
		case SortNewest:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		case SortViews:
			if a.ViewCount != b.ViewCount {
				return a.ViewCount > b.ViewCount
			}
		default:
			if a.IsFeatured != b.IsFeatured {
				return a.IsFeatured
			}
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
		}
		return a.ID < b.ID
	})

	total := len(out)
	return paginate(out, f.Limit, f.Offset), total, nil
}

func (m *MockRepository) GetProvider(ctx context.Context, id string) (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	p, ok := m.providers[id]
	if !ok {
		return nil, NewNotFoundError("provider", id)
	}
	return m.providerCopy(p), nil
}

func (m *MockRepository) GetProviderBySlug(ctx context.Context, slug string) (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	for _, p := range m.providers {
		if p.Slug == slug {
			return m.providerCopy(p), nil
		}
	}
	return nil, NewNotFoundError("provider", slug)
}

func (m *MockRepository) GetProviderByUser(ctx context.Context, userID string) (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	var found *Provider
	for _, p := range m.providers {
		if p.UserID != userID || p.DeletedAt != nil {
			continue
		}
		if found == nil || p.CreatedAt.Before(found.CreatedAt) {
			found = p
		}
	}
	if found == nil {
		return nil, NewNotFoundError("provider for user", userID)
	}
	return m.providerCopy(found), nil
}

func (m *MockRepository) ListProvidersByIDs(ctx context.Context, ids []string) ([]Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	var out []Provider
	for _, id := range ids {
		if p, ok := m.providers[id]; ok {
			out = append(out, *m.providerCopy(p))
		}
	}
	return out, nil
}

func (m *MockRepository) CreateProvider(ctx context.Context, in ProviderInput) (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	if in.UserID == "" || in.BusinessName == "" || in.Slug == "" {
		return nil, fmt.Errorf("%w: user_id, business_name and slug are required", ErrInvalidInput)
	}
	if in.Status == "" {
		in.Status = ProviderStatusPending
	}
	if err := ValidateStatus(in.Status, ProviderStatuses); err != nil {
		return nil, err
	}
	for _, p := range m.providers {
		if p.Slug == in.Slug {
			return nil, fmt.Errorf("%w: provider slug %s exists", ErrConflict, in.Slug)
		}
	}
	now := m.now()
	p := &Provider{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		CategoryID:      in.CategoryID,
		BusinessName:    in.BusinessName,
		Slug:            in.Slug,
		Description:     in.Description,
		Phone:           in.Phone,
		Email:           in.Email,
		Website:         in.Website,
		WhatsApp:        in.WhatsApp,
		Address:         in.Address,
		City:            in.City,
		State:           in.State,
		Pincode:         in.Pincode,
		Latitude:        in.Latitude,
		Longitude:       in.Longitude,
		LogoURL:         in.LogoURL,
		CoverImageURL:   in.CoverImageURL,
		OpeningHours:    in.OpeningHours,
		PriceRange:      in.PriceRange,
		YearsInBusiness: in.YearsInBusiness,
		Status:          in.Status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.providers[p.ID] = p
	return m.providerCopy(p), nil
}

func (m *MockRepository) UpdateProvider(ctx context.Context, id string, u ProviderUpdate) (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	if u.Status != nil {
		if err := ValidateStatus(*u.Status, ProviderStatuses); err != nil {
			return nil, err
		}
	}
	p, ok := m.providers[id]
	if !ok {
		return nil, NewNotFoundError("provider", id)
	}
	if u.Slug != nil {
		for _, other := range m.providers {
			if other.ID != id && other.Slug == *u.Slug {
				return nil, fmt.Errorf("%w: provider slug %s exists", ErrConflict, *u.Slug)
			}
		}
	}
	applyProviderUpdate(p, u)
	p.UpdatedAt = m.now()
	return m.providerCopy(p), nil
}

func (m *MockRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return false, err
	}
	for _, p := range m.providers {
		if p.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockRepository) IncrementProviderViews(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	p, ok := m.providers[id]
	if !ok {
		return NewNotFoundError("provider", id)
	}
	p.ViewCount++
	return nil
}

func (m *MockRepository) CountProvidersByStatus(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(ProviderStatuses))
	for _, s := range ProviderStatuses {
		counts[s] = 0
	}
	for _, p := range m.providers {
		if p.DeletedAt == nil {
			counts[p.Status]++
		}
	}
	return counts, nil
}

func applyProviderUpdate(p *Provider, u ProviderUpdate) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	if u.CategoryID != nil {
		id := *u.CategoryID
		p.CategoryID = &id
	}
	setString(&p.BusinessName, u.BusinessName)
	setString(&p.Slug, u.Slug)
	setString(&p.Description, u.Description)
	setString(&p.Phone, u.Phone)
	setString(&p.Email, u.Email)
	setString(&p.Website, u.Website)
	setString(&p.WhatsApp, u.WhatsApp)
	setString(&p.Address, u.Address)
	setString(&p.City, u.City)
	setString(&p.State, u.State)
	setString(&p.Pincode, u.Pincode)
	setString(&p.LogoURL, u.LogoURL)
	setString(&p.CoverImageURL, u.CoverImageURL)
	setString(&p.PriceRange, u.PriceRange)
	setString(&p.Status, u.Status)
	setString(&p.RejectionReason, u.RejectionReason)
	if u.Latitude != nil {
		v := *u.Latitude
		p.Latitude = &v
	}
	if u.Longitude != nil {
		v := *u.Longitude
		p.Longitude = &v
	}
	if u.OpeningHours != nil {
		p.OpeningHours = u.OpeningHours
	}
	if u.YearsInBusiness != nil {
		v := *u.YearsInBusiness
		p.YearsInBusiness = &v
	}
	if u.Rating != nil {
		p.Rating = *u.Rating
	}
	if u.ReviewCount != nil {
		p.ReviewCount = *u.ReviewCount
	}
	if u.IsVerified != nil {
		p.IsVerified = *u.IsVerified
	}
	if u.IsFeatured != nil {
		p.IsFeatured = *u.IsFeatured
	}
	if u.DeletedAt != nil {
		t := *u.DeletedAt
		p.DeletedAt = &t
	}
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
