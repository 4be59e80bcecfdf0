package app

import (
	"context"
	"time"

	"github.com/needful-app/needful/internal/cache"
	"github.com/needful-app/needful/supabase/client"
)

const invalidateTimeout = 5 * time.Second

// invalidations maps watched tables to the cache keys their writes stale.
// Writes made through this server already invalidate; the listener covers
// edits made in the Supabase dashboard or by other instances.
var invalidations = map[string][]string{
	"categories": {cache.KeyCategories, cache.KeyAdminStats},
	"providers":  {cache.KeyCategories, cache.KeyFeaturedProvider, cache.KeyAdminStats},
	"reviews":    {cache.KeyFeaturedProvider, cache.KeyAdminStats},
	"users":      {cache.KeyAdminStats},
}

func (a *Application) subscribeRealtime() {
	rt := a.deps.Realtime
	if rt == nil {
		return
	}
	for table := range invalidations {
		rt.OnPostgresChanges(client.PostgresChangesConfig{
			Event:  client.EventAll,
			Schema: "public",
			Table:  table,
		}, a.onChange)
	}
}

// onChange runs on the realtime reader goroutine, so the cache round trip
// happens elsewhere.
func (a *Application) onChange(ev client.ChangeEvent) {
	keys, ok := invalidations[ev.Table]
	if !ok {
		return
	}
	go a.invalidate(ev.Table, ev.Type, keys)
}

func (a *Application) invalidate(table, event string, keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()
	log := a.logger.WithComponent("realtime").WithField("table", table).WithField("event", event)
	if err := a.deps.Cache.Delete(ctx, keys...); err != nil {
		log.WithError(err).Warn("cache invalidation failed")
		return
	}
	log.Debug("cache invalidated")
}
