// Package ratings keeps a provider's cached rating and review count in step
// with its published reviews.
package ratings

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/needful-app/needful/internal/database"
)

// Store is what Recompute needs.
type Store interface {
	PublishedRatings(ctx context.Context, providerID string) ([]int, error)
	UpdateProvider(ctx context.Context, id string, u database.ProviderUpdate) (*database.Provider, error)
}

// Average returns the mean rounded to one decimal, or 0 for no ratings.
func Average(ratings []int) float64 {
	if len(ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	return math.Round(float64(sum)/float64(len(ratings))*10) / 10
}

// Recompute writes the provider's rating and review_count from its
// published reviews.
func Recompute(ctx context.Context, store Store, providerID string) (float64, int, error) {
	published, err := store.PublishedRatings(ctx, providerID)
	if err != nil {
		return 0, 0, fmt.Errorf("load ratings: %w", err)
	}
	avg := Average(published)
	count := len(published)
	now := time.Now().UTC()
	if _, err := store.UpdateProvider(ctx, providerID, database.ProviderUpdate{
		Rating:      &avg,
		ReviewCount: &count,
		UpdatedAt:   &now,
	}); err != nil {
		return 0, 0, fmt.Errorf("update provider rating: %w", err)
	}
	return avg, count, nil
}
