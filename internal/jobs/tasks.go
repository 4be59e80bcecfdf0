package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/needful-app/needful/internal/database"
	"github.com/needful-app/needful/internal/logging"
	"github.com/needful-app/needful/internal/media"
)

// Job names accepted by `needful jobs run`.
const (
	NamePurgeStories   = "purge_stories"
	NamePruneAnalytics = "prune_analytics"
	NameWarmCache      = "warm_cache"
	NameSweepCache     = "sweep_cache"
)

const (
	purgeBatchSize  = 100
	purgeMaxBatches = 50
)

// StoryPurger is the story storage used by PurgeStories.
type StoryPurger interface {
	ListExpiredStories(ctx context.Context, now time.Time, limit int) ([]database.Story, error)
	DeleteStory(ctx context.Context, id string) error
}

// PurgeStories deletes expired stories and their media objects. Rows whose
// objects could not be removed are kept for the next run.
func PurgeStories(store StoryPurger, bucket media.Bucket, now func() time.Time, logger *logging.Logger) Func {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return func(ctx context.Context) error {
		cutoff := now().UTC()
		purged := 0
		for batch := 0; batch < purgeMaxBatches; batch++ {
			expired, err := store.ListExpiredStories(ctx, cutoff, purgeBatchSize)
			if err != nil {
				return fmt.Errorf("list expired stories: %w", err)
			}
			if len(expired) == 0 {
				break
			}

			paths := make([]string, 0, len(expired))
			for _, s := range expired {
				if p, ok := media.ObjectPathOf(bucket, s.StoragePath, s.MediaURL); ok {
					paths = append(paths, p)
				}
			}
			if bucket != nil && len(paths) > 0 {
				if err := bucket.Remove(ctx, paths...); err != nil {
					return fmt.Errorf("remove story media: %w", err)
				}
			}

			for _, s := range expired {
				if err := store.DeleteStory(ctx, s.ID); err != nil && !database.IsNotFound(err) {
					return fmt.Errorf("delete story %s: %w", s.ID, err)
				}
				purged++
			}
			if len(expired) < purgeBatchSize {
				break
			}
		}
		logger.WithContext(ctx).WithField("purged", purged).Info("expired stories purged")
		return nil
	}
}

// PruneFunc deletes analytics events created before cutoff.
type PruneFunc func(ctx context.Context, cutoff time.Time) (int, error)

// PruneAnalytics removes events older than retentionDays. A non-positive
// retention keeps everything.
func PruneAnalytics(prune PruneFunc, retentionDays int, now func() time.Time, logger *logging.Logger) Func {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return func(ctx context.Context) error {
		if retentionDays <= 0 {
			return nil
		}
		cutoff := now().UTC().AddDate(0, 0, -retentionDays)
		n, err := prune(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("prune analytics: %w", err)
		}
		logger.WithContext(ctx).WithField("deleted", n).WithField("cutoff", cutoff.Format(time.RFC3339)).Info("analytics events pruned")
		return nil
	}
}

// WarmCache runs every loader and reports all failures.
func WarmCache(loaders ...Func) Func {
	return func(ctx context.Context) error {
		var errs []error
		for _, load := range loaders {
			if err := load(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// Sweeper drops expired entries from an in-process cache.
type Sweeper interface {
	Sweep() int
}

func SweepCache(s Sweeper) Func {
	return func(context.Context) error {
		s.Sweep()
		return nil
	}
}
