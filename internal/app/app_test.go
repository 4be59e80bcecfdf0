package app

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/needful-app/needful/internal/cache"
	"github.com/needful-app/needful/internal/config"
	"github.com/needful-app/needful/internal/database"
	"github.com/needful-app/needful/internal/jobs"
	"github.com/needful-app/needful/internal/media"
	"github.com/needful-app/needful/services/common/servicetest"
)

type testApp struct {
	*Application
	repo  *database.MockRepository
	cache *cache.MemoryCache
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *testApp {
	t.Helper()
	cfg := config.Default()
	cfg.Server.CORSOrigins = []string{"https://needful.app"}
	if mutate != nil {
		mutate(cfg)
	}
	repo := database.NewMockRepository()
	mc := cache.NewMemory()
	t.Cleanup(func() { _ = mc.Close() })

	a, err := Assemble(cfg, Deps{
		DB:      repo,
		Auth:    servicetest.Auth{},
		Cache:   mc,
		Images:  media.NewMemoryBucket("https://cdn.test/images"),
		Stories: media.NewMemoryBucket("https://cdn.test/stories"),
	})
	require.NoError(t, err)
	return &testApp{Application: a, repo: repo, cache: mc}
}

func (a *testApp) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAssembleRequiresStoreAndAuth(t *testing.T) {
	_, err := Assemble(config.Default(), Deps{Auth: servicetest.Auth{}})
	assert.Error(t, err)
	_, err = Assemble(config.Default(), Deps{DB: database.NewMockRepository()})
	assert.Error(t, err)
}

func TestHealthAndInfo(t *testing.T) {
	a := newTestApp(t, nil)

	rec := a.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}
	servicetest.Decode(t, rec, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, ServiceName, health.Service)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))

	rec = a.get(t, "/info")
	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		Statistics map[string]any `json:"statistics"`
	}
	servicetest.Decode(t, rec, &info)
	assert.Equal(t, false, info.Statistics["assistant"])
	assert.Equal(t, true, info.Statistics["rate_limited"])
	assert.ElementsMatch(t,
		[]any{jobs.NamePurgeStories, jobs.NamePruneAnalytics, jobs.NameWarmCache, jobs.NameSweepCache},
		info.Statistics["jobs"])
}

func TestHealthUnhealthyWhenStoreDown(t *testing.T) {
	a := newTestApp(t, nil)
	a.repo.ErrorOnNextCall = assert.AnError

	rec := a.get(t, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServicesMountedUnderAPI(t *testing.T) {
	a := newTestApp(t, nil)
	a.repo.AddCategory(database.Category{ID: "c1", Name: "Plumbing", Slug: "plumbing", IsActive: true})

	rec := a.get(t, "/api/categories")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "plumbing")

	assert.Equal(t, http.StatusNotFound, a.get(t, "/categories").Code)

	routes := map[string]bool{}
	_ = a.Router().Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		if tpl, err := route.GetPathTemplate(); err == nil {
			routes[tpl] = true
		}
		return nil
	})
	for _, p := range []string{"/api/providers", "/api/reviews", "/api/favorites", "/api/stories", "/api/dashboard/listing", "/api/analytics/events", "/api/admin/stats", "/api/admin/chat", "/metrics"} {
		assert.True(t, routes[p], "route %s not mounted", p)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestApp(t, nil)
	a.get(t, "/api/categories")

	rec := a.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "needful_")
}

func TestCORSPreflight(t *testing.T) {
	a := newTestApp(t, nil)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/admin/stats", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("https://needful.app")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://needful.app", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = preflight("https://evil.example")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestJobsRegisteredWithoutSchedules(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) { cfg.Jobs.Enabled = false })

	ctx := context.Background()
	require.NoError(t, a.cache.Set(ctx, "stale", []byte("x"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, a.Scheduler().Run(ctx, jobs.NameSweepCache))
	assert.Zero(t, a.cache.Len())
	assert.ErrorIs(t, a.Scheduler().Run(ctx, "nope"), jobs.ErrUnknownJob)
}

func TestRealtimeInvalidation(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	for _, k := range []string{cache.KeyCategories, cache.KeyFeaturedProvider, cache.KeyAdminStats} {
		require.NoError(t, a.cache.Set(ctx, k, []byte("{}"), time.Minute))
	}

	a.invalidate("reviews", "UPDATE", invalidations["reviews"])
	_, ok, _ := a.cache.Get(ctx, cache.KeyCategories)
	assert.True(t, ok)
	_, ok, _ = a.cache.Get(ctx, cache.KeyFeaturedProvider)
	assert.False(t, ok)
	_, ok, _ = a.cache.Get(ctx, cache.KeyAdminStats)
	assert.False(t, ok)

	a.invalidate("providers", "INSERT", invalidations["providers"])
	assert.Zero(t, a.cache.Len())
}

func TestServeShutsDownOnCancel(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Jobs.Enabled = false
		cfg.Server.ShutdownTimeout = time.Second
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err = http.Get(url)
	assert.Error(t, err)
}
