package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockRepositorySearchProviders(t *testing.T) {
	m := NewMockRepository()
	ctx := context.Background()

	cat := m.AddCategory(Category{Name: "Plumbing", Slug: "plumbing", IsActive: true})
	m.AddProvider(Provider{BusinessName: "Ravi Plumbing", Slug: "ravi", CategoryID: &cat.ID, City: "Bengaluru", Rating: 4.5, IsFeatured: true})
	m.AddProvider(Provider{BusinessName: "Quick Pipes", Slug: "quick", CategoryID: &cat.ID, City: "Mysuru", Rating: 4.8})
	m.AddProvider(Provider{BusinessName: "Pending Pipes", Slug: "pending", Status: ProviderStatusPending})
	deleted := time.Now()
	m.AddProvider(Provider{BusinessName: "Gone Pipes", Slug: "gone", DeletedAt: &deleted})

	all, total, err := m.SearchProviders(ctx, ProviderFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "ravi", all[0].Slug, "featured first by default")
	require.NotNil(t, all[0].Category)
	assert.Equal(t, "plumbing", all[0].Category.Slug)

	byRating, _, err := m.SearchProviders(ctx, ProviderFilter{Sort: SortRating})
	require.NoError(t, err)
	assert.Equal(t, "quick", byRating[0].Slug)

	city, _, err := m.SearchProviders(ctx, ProviderFilter{City: "bengaluru"})
	require.NoError(t, err)
	require.Len(t, city, 1)

	text, _, err := m.SearchProviders(ctx, ProviderFilter{Query: "pipes", AnyStatus: true, IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, text, 3)

	page, total, err := m.SearchProviders(ctx, ProviderFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, page, 1)
}

func TestMockRepositoryErrorInjection(t *testing.T) {
	m := NewMockRepository()
	injected := errors.New("boom")
	m.ErrorOnNextCall = injected

	_, err := m.ListCategories(context.Background(), false)
	assert.ErrorIs(t, err, injected)

	_, err = m.ListCategories(context.Background(), false)
	assert.NoError(t, err, "error is cleared after one call")
}

func TestMockRepositoryReviewsAndConflicts(t *testing.T) {
	m := NewMockRepository()
	ctx := context.Background()
	p := m.AddProvider(Provider{BusinessName: "Ravi", Slug: "ravi"})
	m.AddUser(User{ID: "u1", FullName: "Asha"})

	r, err := m.CreateReview(ctx, ReviewInput{ProviderID: p.ID, UserID: "u1", Rating: 4})
	require.NoError(t, err)
	require.NotNil(t, r.User)
	assert.Equal(t, "Asha", r.User.FullName)

	_, err = m.CreateReview(ctx, ReviewInput{ProviderID: p.ID, UserID: "u1", Rating: 5})
	assert.True(t, IsConflict(err))

	hidden := ReviewStatusHidden
	_, err = m.UpdateReview(ctx, r.ID, ReviewUpdate{Status: &hidden})
	require.NoError(t, err)

	ratings, err := m.PublishedRatings(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, ratings)

	assert.True(t, IsNotFound(m.DeleteReview(ctx, "missing")))
}

func TestMockRepositoryFavoritesIdempotent(t *testing.T) {
	m := NewMockRepository()
	ctx := context.Background()
	p := m.AddProvider(Provider{BusinessName: "Ravi", Slug: "ravi"})

	first, err := m.AddFavorite(ctx, "u1", p.ID)
	require.NoError(t, err)
	second, err := m.AddFavorite(ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	favs, err := m.ListFavorites(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.Equal(t, "ravi", favs[0].Provider.Slug)

	require.NoError(t, m.RemoveFavorite(ctx, "u1", p.ID))
	require.NoError(t, m.RemoveFavorite(ctx, "u1", p.ID))
}

func TestMockRepositoryStoriesAndEvents(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewMockRepository()
	m.Now = func() time.Time { return now }
	ctx := context.Background()

	m.AddStory(Story{ProviderID: "p1", ExpiresAt: now.Add(time.Hour)})
	expired := m.AddStory(Story{ProviderID: "p1", ExpiresAt: now})

	active, err := m.ListActiveStories(ctx, now)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	old, err := m.ListExpiredStories(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, expired.ID, old[0].ID)

	require.NoError(t, m.RecordEvent(ctx, &AnalyticsEvent{EventType: EventSearch, CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, m.RecordEvent(ctx, &AnalyticsEvent{EventType: EventPageView}))
	assert.Error(t, m.RecordEvent(ctx, &AnalyticsEvent{EventType: "bogus"}))

	n, err := m.DeleteEventsBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, m.Events(), 1)
}
