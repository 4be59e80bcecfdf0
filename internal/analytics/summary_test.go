package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/needful-app/needful/internal/database"
)

var now = time.Date(2024, 6, 10, 15, 30, 0, 0, time.UTC)

func str(s string) *string { return &s }

func TestWindow(t *testing.T) {
	q := Window(now, 7)
	assert.Equal(t, time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC), q.Since)
	assert.Equal(t, time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC), q.Until)

	one := Window(now, 0)
	assert.Equal(t, 24*time.Hour, one.Until.Sub(one.Since))
}

func TestSummarize(t *testing.T) {
	events := []database.AnalyticsEvent{
		{EventType: database.EventProviderView, ProviderID: str("p1"), CreatedAt: now},
		{EventType: database.EventProviderView, ProviderID: str("p1"), CreatedAt: now.Add(-24 * time.Hour)},
		{EventType: database.EventProviderView, ProviderID: str("p2"), CreatedAt: now},
		{EventType: database.EventSearch, Metadata: map[string]any{"query": "  Plumber "}, CreatedAt: now},
		{EventType: database.EventSearch, Metadata: map[string]any{"query": "plumber"}, CreatedAt: now},
		{EventType: database.EventSearch, Metadata: map[string]any{"query": "AC  repair"}, CreatedAt: now},
		{EventType: database.EventPageView, CreatedAt: now.Add(-30 * 24 * time.Hour)},
	}
	q := Window(now, 2)
	q.TopN = 1

	s := Summarize(events, q)

	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 3, s.Totals[database.EventProviderView])
	assert.Equal(t, 0, s.Totals[database.EventPageView], "out-of-window events are ignored")
	require.Len(t, s.Daily, 2)
	assert.Equal(t, "2024-06-09", s.Daily[0].Date)
	assert.Equal(t, 1, s.Daily[0].Total)
	assert.Equal(t, 5, s.Daily[1].Total)

	if diff := cmp.Diff([]ProviderCount{{ProviderID: "p1", Views: 2}}, s.TopProviders); diff != "" {
		t.Errorf("top providers (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]SearchCount{{Query: "plumber", Count: 2}}, s.TopSearches); diff != "" {
		t.Errorf("top searches (-want +got):\n%s", diff)
	}
}

func TestSummarizeProviderFilter(t *testing.T) {
	events := []database.AnalyticsEvent{
		{EventType: database.EventProviderView, ProviderID: str("p1"), CreatedAt: now},
		{EventType: database.EventContactClick, ProviderID: str("p1"), CreatedAt: now},
		{EventType: database.EventProviderView, ProviderID: str("p2"), CreatedAt: now},
		{EventType: database.EventSearch, CreatedAt: now},
	}
	q := Window(now, 1)
	q.ProviderID = "p1"

	s := Summarize(events, q)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Totals[database.EventContactClick])
}

func TestSummarizeEmptyWindowHasZeroSeries(t *testing.T) {
	s := Summarize(nil, Window(now, 30))
	assert.Len(t, s.Daily, 30)
	assert.NotNil(t, s.TopProviders)
	assert.NotNil(t, s.TopSearches)
	for _, typ := range database.EventTypes {
		_, ok := s.Totals[typ]
		assert.True(t, ok, typ)
	}
}

func TestEventSource(t *testing.T) {
	repo := database.NewMockRepository()
	repo.Now = func() time.Time { return now }
	ctx := context.Background()
	require.NoError(t, repo.RecordEvent(ctx, &database.AnalyticsEvent{EventType: database.EventShare}))

	s, err := EventSource{Store: repo}.Summary(ctx, Window(now, 7))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Totals[database.EventShare])

	repo.ErrorOnNextCall = errors.New("down")
	_, err = EventSource{Store: repo}.Summary(ctx, Window(now, 7))
	assert.Error(t, err)
}
