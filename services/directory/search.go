package directory

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"

	"github.com/needful-app/needful/internal/database"
	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/geo"
	"github.com/needful-app/needful/internal/httputil"
)

var sorts = map[string]bool{
	"":                    true,
	database.SortRating:   true,
	database.SortReviews:  true,
	database.SortNewest:   true,
	database.SortViews:    true,
	database.SortDistance: true,
}

// SearchParams are the parsed query parameters of GET /providers.
type SearchParams struct {
	Query        string
	CategorySlug string
	CategoryID   string
	City         string
	MinRating    *float64
	Verified     *bool
	Featured     *bool
	Origin       *geo.Point
	RadiusKm     float64
	Sort         string
	Page         httputil.Pagination
}

func (s *Service) parseSearch(q url.Values) (SearchParams, error) {
	p := SearchParams{
		Query:        strings.TrimSpace(q.Get("q")),
		CategorySlug: strings.TrimSpace(q.Get("category")),
		CategoryID:   strings.TrimSpace(q.Get("category_id")),
		City:         strings.TrimSpace(q.Get("city")),
		Sort:         strings.ToLower(strings.TrimSpace(q.Get("sort"))),
	}
	if !sorts[p.Sort] {
		return p, svcerrors.Validation("sort", "sort must be one of rating, reviews, newest, views, distance")
	}

	var err error
	if p.Page, err = httputil.ParsePagination(q, defaultPageSize, maxPageSize); err != nil {
		return p, svcerrors.BadRequest(err.Error())
	}
	if p.MinRating, err = httputil.QueryFloat(q, "min_rating"); err != nil {
		return p, svcerrors.BadRequest(err.Error())
	}
	if p.MinRating != nil && (*p.MinRating < 0 || *p.MinRating > 5) {
		return p, svcerrors.Validation("min_rating", "min_rating must be between 0 and 5")
	}
	if p.Verified, err = httputil.QueryBool(q, "verified"); err != nil {
		return p, svcerrors.BadRequest(err.Error())
	}
	if p.Featured, err = httputil.QueryBool(q, "featured"); err != nil {
		return p, svcerrors.BadRequest(err.Error())
	}

	lat, err := httputil.QueryFloat(q, "lat")
	if err != nil {
		return p, svcerrors.BadRequest(err.Error())
	}
	lon, err := httputil.QueryFloat(q, "lon")
	if err != nil {
		return p, svcerrors.BadRequest(err.Error())
	}
	if (lat == nil) != (lon == nil) {
		return p, svcerrors.BadRequest("lat and lon must be given together")
	}
	if lat != nil {
		origin, ok := geo.PointFrom(lat, lon)
		if !ok {
			return p, svcerrors.BadRequest("lat/lon out of range")
		}
		p.Origin = &origin

		radius, err := httputil.QueryFloat(q, "radius_km")
		if err != nil {
			return p, svcerrors.BadRequest(err.Error())
		}
		p.RadiusKm = s.defaultRadiusKm
		if radius != nil {
			if *radius <= 0 {
				return p, svcerrors.Validation("radius_km", "radius_km must be positive")
			}
			p.RadiusKm = min(*radius, s.maxRadiusKm)
		}
	}
	if p.Sort == database.SortDistance && p.Origin == nil {
		return p, svcerrors.Validation("sort", "sort=distance requires lat and lon")
	}
	return p, nil
}

// Search runs a provider search. With an origin, candidates inside the
// bounding box are filtered by great-circle distance and paginated here.
func (s *Service) Search(ctx context.Context, p SearchParams) ([]database.Provider, int, error) {
	f := database.ProviderFilter{
		Query:      p.Query,
		CategoryID: p.CategoryID,
		City:       p.City,
		MinRating:  p.MinRating,
		Verified:   p.Verified,
		Featured:   p.Featured,
		Sort:       p.Sort,
		Limit:      p.Page.Limit,
		Offset:     p.Page.Offset,
	}
	if p.CategorySlug != "" {
		cat, err := s.db.GetCategoryBySlug(ctx, p.CategorySlug)
		if database.IsNotFound(err) {
			return []database.Provider{}, 0, nil
		}
		if err != nil {
			return nil, 0, fmt.Errorf("resolve category: %w", err)
		}
		f.CategoryID = cat.ID
	}

	if p.Origin == nil {
		providers, total, err := s.db.SearchProviders(ctx, f)
		if err != nil {
			return nil, 0, err
		}
		return providers, total, nil
	}

	box := geo.BoundingBox(*p.Origin, p.RadiusKm)
	f.MinLat, f.MaxLat, f.MinLon, f.MaxLon = &box.MinLat, &box.MaxLat, &box.MinLon, &box.MaxLon
	if f.Sort == database.SortDistance {
		f.Sort = ""
	}
	f.Limit, f.Offset = radiusCandidateLimit, 0

	candidates, _, err := s.db.SearchProviders(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	if len(candidates) == radiusCandidateLimit {
		s.Logger().WithContext(ctx).WithField("radius_km", p.RadiusKm).Warn("radius search hit the candidate limit")
	}

	nearby := WithinRadius(candidates, *p.Origin, p.RadiusKm)
	if p.Sort == "" || p.Sort == database.SortDistance {
		SortByDistance(nearby)
	}
	total := len(nearby)
	return pageOf(nearby, p.Page), total, nil
}

// WithinRadius keeps providers no farther than radiusKm from origin and
// sets their DistanceKm, rounded to 10 m. Providers without coordinates
// are dropped.
func WithinRadius(providers []database.Provider, origin geo.Point, radiusKm float64) []database.Provider {
	out := make([]database.Provider, 0, len(providers))
	for _, p := range providers {
		pt, ok := geo.PointFrom(p.Latitude, p.Longitude)
		if !ok {
			continue
		}
		d := geo.Distance(origin, pt)
		if d > radiusKm {
			continue
		}
		rounded := math.Round(d*100) / 100
		p.DistanceKm = &rounded
		out = append(out, p)
	}
	return out
}

// SortByDistance orders providers nearest first; ties keep their order.
func SortByDistance(providers []database.Provider) {
	sort.SliceStable(providers, func(i, j int) bool {
		return *providers[i].DistanceKm < *providers[j].DistanceKm
	})
}

func pageOf(all []database.Provider, p httputil.Pagination) []database.Provider {
	if p.Offset >= len(all) {
		return []database.Provider{}
	}
	end := len(all)
	if p.Limit > 0 && p.Offset+p.Limit < end {
		end = p.Offset + p.Limit
	}
	return all[p.Offset:end]
}
