package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/needful-app/needful/internal/database"
	svcerrors "github.com/needful-app/needful/internal/errors"
)

func TestHealthStatus(t *testing.T) {
	dbErr := error(nil)
	cacheErr := error(nil)
	b := NewBase(BaseConfig{
		Name:    "needful",
		Version: "test",
		DB:      PingFunc(func(context.Context) error { return dbErr }),
		Checks: map[string]Pinger{
			"cache": PingFunc(func(context.Context) error { return cacheErr }),
		},
	})
	ctx := context.Background()

	assert.Equal(t, "healthy", b.HealthStatus(ctx))

	cacheErr = errors.New("redis down")
	assert.Equal(t, "degraded", b.HealthStatus(ctx))
	checks := b.HealthDetails()["checks"].(map[string]string)
	assert.Equal(t, "redis down", checks["cache"])

	dbErr = errors.New("postgrest down")
	assert.Equal(t, "unhealthy", b.HealthStatus(ctx))
	assert.Equal(t, false, b.HealthDetails()["db_connected"])
}

func TestStandardRoutes(t *testing.T) {
	b := NewBase(BaseConfig{Name: "needful", Version: "1.2.3"}).
		WithStats(func() map[string]any { return map[string]any{"workers": 0} })
	b.RegisterStandardRoutes()

	rec := httptest.NewRecorder()
	b.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "1.2.3", health.Version)

	rec = httptest.NewRecorder()
	b.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	var info InfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "needful", info.Service)
	assert.EqualValues(t, 0, info.Statistics["workers"])
}

func TestUnhealthyAnswers503(t *testing.T) {
	b := NewBase(BaseConfig{Name: "needful", DB: PingFunc(func(context.Context) error { return errors.New("down") })})
	b.RegisterStandardRoutes()

	rec := httptest.NewRecorder()
	b.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHydrateAndTickerWorker(t *testing.T) {
	var hydrated atomic.Bool
	var ticks atomic.Int32
	b := NewBase(BaseConfig{Name: "jobs"}).
		WithHydrate(func(context.Context) error { hydrated.Store(true); return nil })
	b.AddTickerWorker(5*time.Millisecond, func(context.Context) error {
		ticks.Add(1)
		return errors.New("logged, not fatal")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))
	assert.True(t, hydrated.Load())
	assert.Equal(t, 1, b.WorkerCount())

	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Stop())
	require.NoError(t, b.Stop())
}

func TestHydrateErrorFailsStart(t *testing.T) {
	b := NewBase(BaseConfig{Name: "x"}).WithHydrate(func(context.Context) error { return errors.New("boom") })
	assert.ErrorContains(t, b.Start(context.Background()), "hydrate")
}

func TestStoreError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{database.NewNotFoundError("provider", "p1"), http.StatusNotFound},
		{database.ErrConflict, http.StatusConflict},
		{database.ValidateStatus("bogus", database.ProviderStatuses), http.StatusBadRequest},
		{svcerrors.Forbidden(""), http.StatusForbidden},
		{errors.New("socket closed"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, svcerrors.HTTPStatus(StoreError(tc.err, "provider", "p1")), tc.err.Error())
	}
	assert.NoError(t, StoreError(nil, "provider", ""))
}
