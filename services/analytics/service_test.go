package analytics

import (
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/needful-app/needful/internal/database"
	"github.com/needful-app/needful/services/common/servicetest"
)

func newTestService(t *testing.T) (*database.MockRepository, *mux.Router) {
	t.Helper()
	repo := database.NewMockRepository()
	router := mux.NewRouter()
	New(Config{Router: router, Auth: servicetest.Auth{}, DB: repo})
	return repo, router
}

func TestTrackEvent(t *testing.T) {
	repo, router := newTestService(t)

	rec := servicetest.Do(t, router, servicetest.Request{
		Method: http.MethodPost,
		Path:   "/analytics/events",
		Body:   EventRequest{EventType: "search", Metadata: map[string]any{"query": "plumber"}},
		Header: http.Header{"X-Session-Id": {"s-1"}},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	provider := "p1"
	rec = servicetest.Do(t, router, servicetest.Request{
		Method: http.MethodPost,
		Path:   "/analytics/events",
		UserID: "u1",
		Body:   EventRequest{EventType: "contact_click", ProviderID: &provider, SessionID: "s-2", Metadata: map[string]any{"channel": "whatsapp"}},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	events := repo.Events()
	require.Len(t, events, 2)
	assert.Equal(t, database.EventSearch, events[0].EventType)
	assert.Nil(t, events[0].UserID)
	assert.Equal(t, "s-1", events[0].SessionID)
	assert.Equal(t, "plumber", events[0].Metadata["query"])

	assert.Equal(t, database.EventContactClick, events[1].EventType)
	require.NotNil(t, events[1].UserID)
	assert.Equal(t, "u1", *events[1].UserID)
	assert.Equal(t, "s-2", events[1].SessionID)
	require.NotNil(t, events[1].ProviderID)
	assert.Equal(t, "p1", *events[1].ProviderID)
}

func TestTrackEventValidation(t *testing.T) {
	repo, router := newTestService(t)
	big := map[string]any{}
	for i := 0; i < 25; i++ {
		big[string(rune('a'+i))] = i
	}

	tests := []struct {
		name string
		body any
	}{
		{"unknown type", EventRequest{EventType: "purchase"}},
		{"empty type", EventRequest{}},
		{"provider view without provider", EventRequest{EventType: "provider_view"}},
		{"too many keys", EventRequest{EventType: "page_view", Metadata: big}},
		{"unknown field", map[string]any{"event_type": "page_view", "user_id": "spoofed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := servicetest.Do(t, router, servicetest.Request{Method: http.MethodPost, Path: "/analytics/events", Body: tt.body})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, repo.Events())
}

func TestTrackEventStoreFailure(t *testing.T) {
	repo, router := newTestService(t)
	repo.ErrorOnNextCall = assert.AnError

	rec := servicetest.Do(t, router, servicetest.Request{Method: http.MethodPost, Path: "/analytics/events", Body: EventRequest{EventType: "page_view"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
