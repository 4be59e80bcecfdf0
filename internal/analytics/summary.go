// Package analytics aggregates tracked events into dashboard summaries.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/needful-app/needful/internal/database"
)

const dayLayout = "2006-01-02"

// DefaultTopN is used when a query does not set TopN.
const DefaultTopN = 10

// Query selects the events to summarize. Until is exclusive.
type Query struct {
	Since      time.Time
	Until      time.Time
	ProviderID string
	TopN       int
}

// Window returns a query covering the last days calendar days (UTC),
// including today.
func Window(now time.Time, days int) Query {
	if days <= 0 {
		days = 1
	}
	today := now.UTC().Truncate(24 * time.Hour)
	return Query{
		Since: today.AddDate(0, 0, -(days - 1)),
		Until: today.AddDate(0, 0, 1),
	}
}

// DailyCount is the event volume of one UTC day.
type DailyCount struct {
	Date   string         `json:"date"`
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
}

// ProviderCount ranks providers by profile views.
type ProviderCount struct {
	ProviderID   string `json:"provider_id"`
	BusinessName string `json:"business_name,omitempty"`
	Views        int    `json:"views"`
}

// SearchCount ranks search terms.
type SearchCount struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// Summary is the aggregated view of a time window.
type Summary struct {
	Since        time.Time       `json:"since"`
	Until        time.Time       `json:"until"`
	Total        int             `json:"total"`
	Totals       map[string]int  `json:"totals"`
	Daily        []DailyCount    `json:"daily"`
	TopProviders []ProviderCount `json:"top_providers"`
	TopSearches  []SearchCount   `json:"top_searches"`
}

// Source produces summaries.
type Source interface {
	Summary(ctx context.Context, q Query) (*Summary, error)
}

// builder accumulates counts into a Summary with a zero-filled daily series.
type builder struct {
	s     *Summary
	index map[string]int
}

func newBuilder(q Query) *builder {
	b := &builder{
		s: &Summary{
			Since:  q.Since.UTC(),
			Until:  q.Until.UTC(),
			Totals: make(map[string]int, len(database.EventTypes)),
		},
		index: make(map[string]int),
	}
	for _, t := range database.EventTypes {
		b.s.Totals[t] = 0
	}
	for d := q.Since.UTC().Truncate(24 * time.Hour); d.Before(q.Until); d = d.AddDate(0, 0, 1) {
		b.index[d.Format(dayLayout)] = len(b.s.Daily)
		b.s.Daily = append(b.s.Daily, DailyCount{Date: d.Format(dayLayout), ByType: map[string]int{}})
	}
	return b
}

func (b *builder) add(day, eventType string, n int) {
	b.s.Total += n
	b.s.Totals[eventType] += n
	if i, ok := b.index[day]; ok {
		b.s.Daily[i].Total += n
		b.s.Daily[i].ByType[eventType] += n
	}
}

func (b *builder) finish(providers map[string]int, searches map[string]int, topN int) *Summary {
	if topN <= 0 {
		topN = DefaultTopN
	}
	b.s.TopProviders = make([]ProviderCount, 0, len(providers))
	for id, n := range providers {
		b.s.TopProviders = append(b.s.TopProviders, ProviderCount{ProviderID: id, Views: n})
	}
	sort.Slice(b.s.TopProviders, func(i, j int) bool {
		a, c := b.s.TopProviders[i], b.s.TopProviders[j]
		if a.Views != c.Views {
			return a.Views > c.Views
		}
		return a.ProviderID < c.ProviderID
	})
	if len(b.s.TopProviders) > topN {
		b.s.TopProviders = b.s.TopProviders[:topN]
	}

	b.s.TopSearches = make([]SearchCount, 0, len(searches))
	for q, n := range searches {
		b.s.TopSearches = append(b.s.TopSearches, SearchCount{Query: q, Count: n})
	}
	sort.Slice(b.s.TopSearches, func(i, j int) bool {
		a, c := b.s.TopSearches[i], b.s.TopSearches[j]
		if a.Count != c.Count {
			return a.Count > c.Count
		}
		return a.Query < c.Query
	})
	if len(b.s.TopSearches) > topN {
		b.s.TopSearches = b.s.TopSearches[:topN]
	}
	return b.s
}

// NormalizeSearch folds a search term for ranking.
func NormalizeSearch(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Summarize aggregates events in memory. Events outside [Since, Until) or
// for another provider are ignored.
func Summarize(events []database.AnalyticsEvent, q Query) *Summary {
	b := newBuilder(q)
	providers := make(map[string]int)
	searches := make(map[string]int)

	for _, e := range events {
		if e.CreatedAt.Before(q.Since) || !e.CreatedAt.Before(q.Until) {
			continue
		}
		if q.ProviderID != "" && (e.ProviderID == nil || *e.ProviderID != q.ProviderID) {
			continue
		}
		b.add(e.CreatedAt.UTC().Format(dayLayout), e.EventType, 1)

		switch e.EventType {
		case database.EventProviderView:
			if e.ProviderID != nil {
				providers[*e.ProviderID]++
			}
		case database.EventSearch:
			if term, ok := e.Metadata["query"].(string); ok {
				if term = NormalizeSearch(term); term != "" {
					searches[term]++
				}
			}
		}
	}
	return b.finish(providers, searches, q.TopN)
}

// EventSource summarizes events read through the repository.
type EventSource struct {
	Store database.AnalyticsStore
}

// Summary implements Source.
func (s EventSource) Summary(ctx context.Context, q Query) (*Summary, error) {
	events, err := s.Store.ListEvents(ctx, database.EventFilter{
		ProviderID: q.ProviderID,
		Since:      q.Since,
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return Summarize(events, q), nil
}
