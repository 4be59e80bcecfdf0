package stories

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/needful-app/needful/internal/database"
	feed "github.com/needful-app/needful/internal/stories"
	"github.com/needful-app/needful/services/common/servicetest"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }

func newTestService(t *testing.T) (*database.MockRepository, *mux.Router) {
	t.Helper()
	repo := database.NewMockRepository()
	repo.Now = func() time.Time { return now }
	router := mux.NewRouter()
	New(Config{
		Router:          router,
		Auth:            servicetest.Auth{},
		DB:              repo,
		DefaultRadiusKm: 25,
		MaxRadiusKm:     100,
		Now:             func() time.Time { return now },
	})

	// Bengaluru centre, a shop ~5 km away, one in Mysuru (~128 km), a
	// pending listing and one without coordinates.
	repo.AddProvider(database.Provider{ID: "near", BusinessName: "Near", Slug: "near", Latitude: f64(12.9352), Longitude: f64(77.6245)})
	repo.AddProvider(database.Provider{ID: "far", BusinessName: "Far", Slug: "far", Latitude: f64(12.2958), Longitude: f64(76.6394)})
	repo.AddProvider(database.Provider{ID: "pending", BusinessName: "Pending", Slug: "pending", Status: database.ProviderStatusPending, Latitude: f64(12.97), Longitude: f64(77.59)})
	repo.AddProvider(database.Provider{ID: "nowhere", BusinessName: "Nowhere", Slug: "nowhere"})

	for _, s := range []database.Story{
		{ID: "near-1", ProviderID: "near", CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "near-2", ProviderID: "near", CreatedAt: now.Add(-1 * time.Hour)},
		{ID: "near-old", ProviderID: "near", CreatedAt: now.Add(-30 * time.Hour), ExpiresAt: now.Add(-6 * time.Hour)},
		{ID: "far-1", ProviderID: "far", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "pending-1", ProviderID: "pending", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "nowhere-1", ProviderID: "nowhere", CreatedAt: now.Add(-2 * time.Hour)},
	} {
		s.MediaURL = "https://cdn.test/" + s.ID + ".jpg"
		s.MediaType = database.MediaTypeImage
		if s.ExpiresAt.IsZero() {
			s.ExpiresAt = s.CreatedAt.Add(24 * time.Hour)
		}
		repo.AddStory(s)
	}
	return repo, router
}

func feedOf(t *testing.T, router *mux.Router, path string) []feed.Group {
	t.Helper()
	rec := servicetest.Do(t, router, servicetest.Request{Path: path})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var groups []feed.Group
	servicetest.Decode(t, rec, &groups)
	return groups
}

func providerIDs(groups []feed.Group) []string {
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.Provider.ID)
	}
	return ids
}

func TestFeedWithoutLocation(t *testing.T) {
	_, router := newTestService(t)

	groups := feedOf(t, router, "/stories")
	// Newest story first when there is no distance to order by.
	assert.Equal(t, []string{"near", "far", "nowhere"}, providerIDs(groups))

	require.Len(t, groups[0].Stories, 2, "expired stories are dropped")
	assert.Equal(t, "near-1", groups[0].Stories[0].ID)
	assert.Equal(t, "near-2", groups[0].Stories[1].ID)
	assert.Nil(t, groups[0].DistanceKm)
}

func TestFeedRadius(t *testing.T) {
	_, router := newTestService(t)

	groups := feedOf(t, router, "/stories?lat=12.9716&lon=77.5946")
	assert.Equal(t, []string{"near"}, providerIDs(groups), "default radius excludes Mysuru and listings without coordinates")
	require.NotNil(t, groups[0].DistanceKm)
	assert.InDelta(t, 5.0, *groups[0].DistanceKm, 1.0)

	groups = feedOf(t, router, "/stories?lat=12.9716&lon=77.5946&radius_km=500")
	assert.Equal(t, []string{"near"}, providerIDs(groups), "radius is clamped to the configured maximum")

	groups = feedOf(t, router, "/stories?lat=12.2958&lon=76.6394&radius_km=1")
	assert.Equal(t, []string{"far"}, providerIDs(groups))
}

func TestFeedValidation(t *testing.T) {
	_, router := newTestService(t)
	for _, path := range []string{
		"/stories?lat=12.9",
		"/stories?lat=abc&lon=77",
		"/stories?lat=91&lon=77",
		"/stories?lat=12.9&lon=77.5&radius_km=0",
	} {
		rec := servicetest.Do(t, router, servicetest.Request{Path: path})
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestFeedEmpty(t *testing.T) {
	repo := database.NewMockRepository()
	router := mux.NewRouter()
	New(Config{Router: router, Auth: servicetest.Auth{}, DB: repo})

	rec := servicetest.Do(t, router, servicetest.Request{Path: "/stories"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRecordView(t *testing.T) {
	repo, router := newTestService(t)

	rec := servicetest.Do(t, router, servicetest.Request{
		Method: http.MethodPost, Path: "/stories/near-2/view", UserID: "viewer",
		Header: http.Header{"X-Session-Id": {"sess-1"}},
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	story, err := repo.GetStory(context.Background(), "near-2")
	require.NoError(t, err)
	assert.Equal(t, 1, story.ViewCount)

	events := repo.Events()
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, database.EventStoryView, e.EventType)
	require.NotNil(t, e.ProviderID)
	assert.Equal(t, "near", *e.ProviderID)
	require.NotNil(t, e.UserID)
	assert.Equal(t, "viewer", *e.UserID)
	assert.Equal(t, "sess-1", e.SessionID)
	assert.Equal(t, "near-2", e.Metadata["story_id"])

	rec = servicetest.Do(t, router, servicetest.Request{Method: http.MethodPost, Path: "/stories/near-old/view"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = servicetest.Do(t, router, servicetest.Request{Method: http.MethodPost, Path: "/stories/missing/view"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
