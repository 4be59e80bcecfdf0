// Package stories folds active provider stories into per-provider groups for
// the story feed, optionally limited to a radius around the viewer.
package stories

import (
	"math"
	"sort"
	"time"

	"github.com/needful-app/needful/internal/database"
	"github.com/needful-app/needful/internal/geo"
)

// ProviderSummary is the slice of a listing the feed shows.
type ProviderSummary struct {
	ID           string `json:"id"`
	BusinessName string `json:"business_name"`
	Slug         string `json:"slug"`
	LogoURL      string `json:"logo_url,omitempty"`
	City         string `json:"city,omitempty"`
	IsVerified   bool   `json:"is_verified"`
}

// Group is one provider's active stories.
type Group struct {
	Provider   ProviderSummary  `json:"provider"`
	DistanceKm *float64         `json:"distance_km,omitempty"`
	LatestAt   time.Time        `json:"latest_at"`
	Stories    []database.Story `json:"stories"`
}

// Filter limits grouping to providers near Origin. A nil Origin disables the
// radius check.
type Filter struct {
	Origin   *geo.Point
	RadiusKm float64
	Now      time.Time
}

// GroupByProvider drops expired stories and stories whose provider is unknown,
// not public, or strictly farther than RadiusKm from Origin. Providers without
// coordinates are dropped whenever Origin is set. Groups are ordered by
// distance ascending, then by most recent story; stories inside a group run
// oldest to newest.
func GroupByProvider(all []database.Story, providers []database.Provider, f Filter) []Group {
	byID := make(map[string]*database.Provider, len(providers))
	for i := range providers {
		byID[providers[i].ID] = &providers[i]
	}

	groups := make(map[string]*Group)
	for _, s := range all {
		if !f.Now.IsZero() && s.Expired(f.Now) {
			continue
		}
		p, ok := byID[s.ProviderID]
		if !ok || !p.IsPublic() {
			continue
		}

		g, seen := groups[p.ID]
		if !seen {
			var dist *float64
			if f.Origin != nil {
				loc, ok := geo.PointFrom(p.Latitude, p.Longitude)
				if !ok {
					continue
				}
				d := geo.Distance(*f.Origin, loc)
				if math.IsNaN(d) || d > f.RadiusKm {
					continue
				}
				dist = &d
			}
			g = &Group{Provider: summarize(p), DistanceKm: dist}
			groups[p.ID] = g
		}
		g.Stories = append(g.Stories, s)
		if s.CreatedAt.After(g.LatestAt) {
			g.LatestAt = s.CreatedAt
		}
	}

	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		sort.SliceStable(g.Stories, func(i, j int) bool {
			if g.Stories[i].CreatedAt.Equal(g.Stories[j].CreatedAt) {
				return g.Stories[i].ID < g.Stories[j].ID
			}
			return g.Stories[i].CreatedAt.Before(g.Stories[j].CreatedAt)
		})
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DistanceKm != nil && b.DistanceKm != nil && *a.DistanceKm != *b.DistanceKm {
			return *a.DistanceKm < *b.DistanceKm
		}
		if !a.LatestAt.Equal(b.LatestAt) {
			return a.LatestAt.After(b.LatestAt)
		}
		return a.Provider.ID < b.Provider.ID
	})
	return out
}

func summarize(p *database.Provider) ProviderSummary {
	return ProviderSummary{
		ID:           p.ID,
		BusinessName: p.BusinessName,
		Slug:         p.Slug,
		LogoURL:      p.LogoURL,
		City:         p.City,
		IsVerified:   p.IsVerified,
	}
}

// ProviderIDs returns the distinct provider ids referenced by stories, in
// first-seen order.
func ProviderIDs(all []database.Story) []string {
	seen := make(map[string]struct{}, len(all))
	var ids []string
	for _, s := range all {
		if _, ok := seen[s.ProviderID]; ok {
			continue
		}
		seen[s.ProviderID] = struct{}{}
		ids = append(ids, s.ProviderID)
	}
	return ids
}
