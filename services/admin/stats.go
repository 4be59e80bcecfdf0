package admin

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/needful-app/needful/internal/analytics"
	"github.com/needful-app/needful/internal/cache"
	"github.com/needful-app/needful/internal/database"
	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/httputil"
)

// ratingSampleLimit bounds the listings read to average ratings.
const ratingSampleLimit = 1000

// Stats is the admin dashboard summary.
type Stats struct {
	Providers      map[string]int `json:"providers"`
	TotalProviders int            `json:"total_providers"`
	Users          int            `json:"users"`
	Reviews        int            `json:"reviews"`
	FlaggedReviews int            `json:"flagged_reviews"`
	AverageRating  float64        `json:"average_rating"`
	Categories     int            `json:"categories"`
	EventsLast30d  int            `json:"events_last_30_days"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := cache.Remember(r.Context(), s.cache, cache.KeyAdminStats, s.statsTTL, s.observe, s.loadStats)
	if err != nil {
		s.writeError(w, r, err, "stats")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// loadStats runs the independent counts concurrently.
func (s *Service) loadStats(ctx context.Context) (*Stats, error) {
	out := &Stats{GeneratedAt: s.now().UTC()}
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		counts, err := s.db.CountProvidersByStatus(egCtx)
		if err != nil {
			return fmt.Errorf("count providers: %w", err)
		}
		out.Providers = make(map[string]int, len(database.ProviderStatuses))
		for _, status := range database.ProviderStatuses {
			out.Providers[status] = counts[status]
			out.TotalProviders += counts[status]
		}
		return nil
	})
	eg.Go(func() error {
		n, err := s.db.CountUsers(egCtx)
		if err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		out.Users = n
		return nil
	})
	eg.Go(func() error {
		n, err := s.countReviews(egCtx, database.ReviewStatusPublished)
		out.Reviews = n
		return err
	})
	eg.Go(func() error {
		n, err := s.countReviews(egCtx, database.ReviewStatusFlagged)
		out.FlaggedReviews = n
		return err
	})
	eg.Go(func() error {
		avg, err := s.averageRating(egCtx)
		out.AverageRating = avg
		return err
	})
	eg.Go(func() error {
		cats, err := s.db.ListCategories(egCtx, true)
		if err != nil {
			return fmt.Errorf("list categories: %w", err)
		}
		out.Categories = len(cats)
		return nil
	})
	eg.Go(func() error {
		if s.analytics == nil {
			return nil
		}
		summary, err := s.analytics.Summary(egCtx, analytics.Window(s.now(), statsWindowDays))
		if err != nil {
			return fmt.Errorf("summarize events: %w", err)
		}
		out.EventsLast30d = summary.Total
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) countReviews(ctx context.Context, status string) (int, error) {
	_, total, err := s.db.ListReviews(ctx, database.ReviewFilter{Status: status, Limit: 1})
	if err != nil {
		return 0, fmt.Errorf("count %s reviews: %w", status, err)
	}
	return total, nil
}

// averageRating is the review-weighted mean over approved listings.
func (s *Service) averageRating(ctx context.Context) (float64, error) {
	providers, _, err := s.db.SearchProviders(ctx, database.ProviderFilter{
		Status: database.ProviderStatusApproved,
		Limit:  ratingSampleLimit,
	})
	if err != nil {
		return 0, fmt.Errorf("list approved providers: %w", err)
	}
	var sum float64
	var n int
	for _, p := range providers {
		if p.ReviewCount == 0 {
			continue
		}
		sum += p.Rating * float64(p.ReviewCount)
		n += p.ReviewCount
	}
	if n == 0 {
		return 0, nil
	}
	return math.Round(sum/float64(n)*10) / 10, nil
}

// OverviewResponse is the body of GET /admin/analytics.
type OverviewResponse struct {
	Days    int                `json:"days"`
	Summary *analytics.Summary `json:"summary"`
}

func (s *Service) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	days, err := httputil.QueryInt(r.URL.Query(), "days", statsWindowDays)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if days < 1 || days > maxAnalyticsDays {
		httputil.BadRequest(w, fmt.Sprintf("days must be between 1 and %d", maxAnalyticsDays))
		return
	}
	if s.analytics == nil {
		httputil.WriteError(w, r, svcerrors.Unavailable("analytics are not configured", nil))
		return
	}

	ctx := r.Context()
	summary, err := s.analytics.Summary(ctx, analytics.Window(s.now(), days))
	if err != nil {
		s.writeError(w, r, err, "analytics")
		return
	}
	s.nameProviders(ctx, summary.TopProviders)
	httputil.WriteJSON(w, http.StatusOK, OverviewResponse{Days: days, Summary: summary})
}

// nameProviders fills in business names. Lookup failures leave ids only.
func (s *Service) nameProviders(ctx context.Context, ranked []analytics.ProviderCount) {
	if len(ranked) == 0 {
		return
	}
	ids := make([]string, 0, len(ranked))
	for _, pc := range ranked {
		ids = append(ids, pc.ProviderID)
	}
	providers, err := s.db.ListProvidersByIDs(ctx, ids)
	if err != nil {
		s.Logger().WithContext(ctx).WithError(err).Warn("provider name lookup failed")
		return
	}
	names := make(map[string]string, len(providers))
	for _, p := range providers {
		names[p.ID] = p.BusinessName
	}
	for i := range ranked {
		ranked[i].BusinessName = names[ranked[i].ProviderID]
	}
}
