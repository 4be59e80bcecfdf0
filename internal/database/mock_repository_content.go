package database

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Services and images
// =============================================================================

func (m *MockRepository) ListServices(ctx context.Context, providerID string, activeOnly bool) ([]ProviderService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	var out []ProviderService
	for _, s := range m.services {
		if s.ProviderID != providerID || (activeOnly && !s.IsActive) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MockRepository) CreateService(ctx context.Context, in ServiceInput) (*ProviderService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	if in.ProviderID == "" || in.Name == nil || *in.Name == "" {
		return nil, fmt.Errorf("%w: provider_id and name are required", ErrInvalidInput)
	}
	s := &ProviderService{ID: uuid.NewString(), ProviderID: in.ProviderID, IsActive: true, CreatedAt: m.now()}
	applyServiceInput(s, in)
	m.services[s.ID] = s
	out := *s
	return &out, nil
}

func (m *MockRepository) UpdateService(ctx context.Context, providerID, id string, in ServiceInput) (*ProviderService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	s, ok := m.services[id]
	if !ok || s.ProviderID != providerID {
		return nil, NewNotFoundError("service", id)
	}
	applyServiceInput(s, in)
	out := *s
	return &out, nil
}

func (m *MockRepository) DeleteService(ctx context.Context, providerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	s, ok := m.services[id]
	if !ok || s.ProviderID != providerID {
		return NewNotFoundError("service", id)
	}
	delete(m.services, id)
	return nil
}

func applyServiceInput(s *ProviderService, in ServiceInput) {
	if in.Name != nil {
		s.Name = *in.Name
	}
	if in.Description != nil {
		s.Description = *in.Description
	}
	if in.Price != nil {
		v := *in.Price
		s.Price = &v
	}
	if in.PriceUnit != nil {
		s.PriceUnit = *in.PriceUnit
	}
	if in.DurationMinutes != nil {
		v := *in.DurationMinutes
		s.DurationMinutes = &v
	}
	if in.IsActive != nil {
		s.IsActive = *in.IsActive
	}
}

func (m *MockRepository) ListImages(ctx context.Context, providerID string) ([]ProviderImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	var out []ProviderImage
	for _, img := range m.images {
		if img.ProviderID == providerID {
			out = append(out, *img)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MockRepository) GetImage(ctx context.Context, id string) (*ProviderImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	img, ok := m.images[id]
	if !ok {
		return nil, NewNotFoundError("image", id)
	}
	out := *img
	return &out, nil
}

func (m *MockRepository) CreateImage(ctx context.Context, img ProviderImage) (*ProviderImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	if img.ProviderID == "" || img.ImageURL == "" {
		return nil, fmt.Errorf("%w: provider_id and image_url are required", ErrInvalidInput)
	}
	img.ID = uuid.NewString()
	img.CreatedAt = m.now()
	m.images[img.ID] = &img
	out := img
	return &out, nil
}

func (m *MockRepository) DeleteImage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	if _, ok := m.images[id]; !ok {
		return NewNotFoundError("image", id)
	}
	delete(m.images, id)
	return nil
}

// =============================================================================
// Reviews
// =============================================================================

// reviewCopy returns a detached copy with author and provider embedded.
// Callers hold the lock.
func (m *MockRepository) reviewCopy(r *Review) Review {
	out := *r
	out.User, out.Provider = nil, nil
	if u, ok := m.users[r.UserID]; ok {
		out.User = &ReviewAuthor{FullName: u.FullName, AvatarURL: u.AvatarURL}
	}
	if p, ok := m.providers[r.ProviderID]; ok {
		out.Provider = &ProviderRef{ID: p.ID, BusinessName: p.BusinessName, Slug: p.Slug}
	}
	return out
}

func (m *MockRepository) ListReviews(ctx context.Context, f ReviewFilter) ([]Review, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, 0, err
	}
	var out []Review
	for _, r := range m.reviews {
		if f.ProviderID != "" && r.ProviderID != f.ProviderID {
			continue
		}
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, m.reviewCopy(r))
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

func (m *MockRepository) GetReview(ctx context.Context, id string) (*Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	r, ok := m.reviews[id]
	if !ok {
		return nil, NewNotFoundError("review", id)
	}
	out := m.reviewCopy(r)
	return &out, nil
}

func (m *MockRepository) CreateReview(ctx context.Context, in ReviewInput) (*Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	if in.ProviderID == "" || in.UserID == "" {
		return nil, fmt.Errorf("%w: provider_id and user_id are required", ErrInvalidInput)
	}
	if err := validateRating(in.Rating); err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = ReviewStatusPublished
	}
	for _, r := range m.reviews {
		if r.ProviderID == in.ProviderID && r.UserID == in.UserID {
			return nil, fmt.Errorf("%w: review exists", ErrConflict)
		}
	}
	now := m.now()
	r := &Review{
		ID:         uuid.NewString(),
		ProviderID: in.ProviderID,
		UserID:     in.UserID,
		Rating:     in.Rating,
		Title:      in.Title,
		Comment:    in.Comment,
		Status:     in.Status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.reviews[r.ID] = r
	out := m.reviewCopy(r)
	return &out, nil
}

func (m *MockRepository) UpdateReview(ctx context.Context, id string, u ReviewUpdate) (*Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	if u.Rating != nil {
		if err := validateRating(*u.Rating); err != nil {
			return nil, err
		}
	}
	if u.Status != nil {
		if err := ValidateStatus(*u.Status, ReviewStatuses); err != nil {
			return nil, err
		}
	}
	r, ok := m.reviews[id]
	if !ok {
		return nil, NewNotFoundError("review", id)
	}
	if u.Rating != nil {
		r.Rating = *u.Rating
	}
	if u.Title != nil {
		r.Title = *u.Title
	}
	if u.Comment != nil {
		r.Comment = *u.Comment
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.ProviderResponse != nil {
		r.ProviderResponse = *u.ProviderResponse
	}
	if u.RespondedAt != nil {
		t := *u.RespondedAt
		r.RespondedAt = &t
	}
	r.UpdatedAt = m.now()
	out := m.reviewCopy(r)
	return &out, nil
}

func (m *MockRepository) DeleteReview(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	if _, ok := m.reviews[id]; !ok {
		return NewNotFoundError("review", id)
	}
	delete(m.reviews, id)
	return nil
}

func (m *MockRepository) PublishedRatings(ctx context.Context, providerID string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	var ratings []int
	for _, r := range m.reviews {
		if r.ProviderID == providerID && r.Status == ReviewStatusPublished {
			ratings = append(ratings, r.Rating)
		}
	}
	return ratings, nil
}

// =============================================================================
// Favorites
// =============================================================================

func favoriteKey(userID, providerID string) string {
	return userID + "/" + providerID
}

func (m *MockRepository) ListFavorites(ctx context.Context, userID string) ([]Favorite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	var out []Favorite
	for _, f := range m.favorites {
		if f.UserID != userID {
			continue
		}
		fav := *f
		if p, ok := m.providers[f.ProviderID]; ok {
			fav.Provider = m.providerCopy(p)
		}
		out = append(out, fav)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MockRepository) AddFavorite(ctx context.Context, userID, providerID string) (*Favorite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	if userID == "" || providerID == "" {
		return nil, fmt.Errorf("%w: user_id and provider_id are required", ErrInvalidInput)
	}
	key := favoriteKey(userID, providerID)
	if f, ok := m.favorites[key]; ok {
		out := *f
		return &out, nil
	}
	f := &Favorite{ID: uuid.NewString(), UserID: userID, ProviderID: providerID, CreatedAt: m.now()}
	m.favorites[key] = f
	out := *f
	return &out, nil
}

func (m *MockRepository) RemoveFavorite(ctx context.Context, userID, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	delete(m.favorites, favoriteKey(userID, providerID))
	return nil
}

// =============================================================================
// Stories
// =============================================================================

func (m *MockRepository) ListActiveStories(ctx context.Context, now time.Time) ([]Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	var out []Story
	for _, s := range m.stories {
		if !s.Expired(now) {
			out = append(out, *s)
		}
	}
	sortStories(out, true)
	return out, nil
}

func (m *MockRepository) ListProviderStories(ctx context.Context, providerID string, activeAt *time.Time) ([]Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	var out []Story
	for _, s := range m.stories {
		if s.ProviderID != providerID {
			continue
		}
		if activeAt != nil && s.Expired(*activeAt) {
			continue
		}
		out = append(out, *s)
	}
	sortStories(out, false)
	return out, nil
}

func (m *MockRepository) GetStory(ctx context.Context, id string) (*Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	s, ok := m.stories[id]
	if !ok {
		return nil, NewNotFoundError("story", id)
	}
	out := *s
	return &out, nil
}

func (m *MockRepository) CreateStory(ctx context.Context, in StoryInput) (*Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	if in.ProviderID == "" || in.MediaURL == "" || in.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("%w: provider_id, media_url and expires_at are required", ErrInvalidInput)
	}
	if !slices.Contains([]string{MediaTypeImage, MediaTypeVideo}, in.MediaType) {
		return nil, fmt.Errorf("%w: media_type must be image or video", ErrInvalidInput)
	}
	s := &Story{
		ID:          uuid.NewString(),
		ProviderID:  in.ProviderID,
		MediaURL:    in.MediaURL,
		MediaType:   in.MediaType,
		StoragePath: in.StoragePath,
		Caption:     in.Caption,
		ExpiresAt:   in.ExpiresAt,
		CreatedAt:   m.now(),
	}
	m.stories[s.ID] = s
	out := *s
	return &out, nil
}

func (m *MockRepository) DeleteStory(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	if _, ok := m.stories[id]; !ok {
		return NewNotFoundError("story", id)
	}
	delete(m.stories, id)
	return nil
}

func (m *MockRepository) IncrementStoryViews(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	s, ok := m.stories[id]
	if !ok {
		return NewNotFoundError("story", id)
	}
	s.ViewCount++
	return nil
}

func (m *MockRepository) ListExpiredStories(ctx context.Context, now time.Time, limit int) ([]Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	var out []Story
	for _, s := range m.stories {
		if s.Expired(now) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortStories(s []Story, ascending bool) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].ID < s[j].ID
		}
		if ascending {
			return s[i].CreatedAt.Before(s[j].CreatedAt)
		}
		return s[i].CreatedAt.After(s[j].CreatedAt)
	})
}

// =============================================================================
// Analytics events
// =============================================================================

func (m *MockRepository) RecordEvent(ctx context.Context, e *AnalyticsEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("%w: event cannot be nil", ErrInvalidInput)
	}
	if err := ValidateEventType(e.EventType); err != nil {
		return err
	}
	e.ID = uuid.NewString()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}
	m.events = append(m.events, *e)
	return nil
}

func (m *MockRepository) ListEvents(ctx context.Context, f EventFilter) ([]AnalyticsEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	var out []AnalyticsEvent
	for _, e := range m.events {
		if f.ProviderID != "" && (e.ProviderID == nil || *e.ProviderID != f.ProviderID) {
			continue
		}
		if len(f.Types) > 0 && !slices.Contains(f.Types, e.EventType) {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MockRepository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return 0, err
	}
	kept := m.events[:0]
	deleted := 0
	for _, e := range m.events {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return deleted, nil
}
