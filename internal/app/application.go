package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/needful-app/needful/internal/analytics"
	"github.com/needful-app/needful/internal/cache"
	"github.com/needful-app/needful/internal/config"
	"github.com/needful-app/needful/internal/database"
	"github.com/needful-app/needful/internal/jobs"
	"github.com/needful-app/needful/internal/llm"
	"github.com/needful-app/needful/internal/logging"
	"github.com/needful-app/needful/internal/media"
	"github.com/needful-app/needful/internal/metrics"
	"github.com/needful-app/needful/internal/middleware"
	"github.com/needful-app/needful/services/admin"
	analyticssvc "github.com/needful-app/needful/services/analytics"
	commonservice "github.com/needful-app/needful/services/common/service"
	"github.com/needful-app/needful/services/dashboard"
	"github.com/needful-app/needful/services/directory"
	"github.com/needful-app/needful/services/reviews"
	"github.com/needful-app/needful/services/stories"
	"github.com/needful-app/needful/supabase/client"
)

const (
	ServiceName = "needful"
	Version     = "1.0.0"
)

const (
	rateLimitCleanupInterval = 5 * time.Minute
	rateLimitMaxIdle         = 10 * time.Minute
	sweepSchedule            = "@every 1m"
)

// Deps are the external collaborators of the server. New builds them from
// configuration; tests pass fakes to Assemble.
type Deps struct {
	DB      database.RepositoryInterface
	Auth    commonservice.Authenticator
	Cache   cache.Cache
	Images  media.Bucket
	Stories media.Bucket
	// Analytics defaults to summarizing events read through DB.
	Analytics analytics.Source
	// Prune defaults to DB.DeleteEventsBefore.
	Prune jobs.PruneFunc
	// LLM is nil when the admin assistant is disabled.
	LLM      llm.Client
	Realtime *client.RealtimeClient
	Checks   map[string]commonservice.Pinger
	Metrics  *metrics.Metrics
	Logger   *logging.Logger
	Now      func() time.Time
}

// Application is an assembled server.
type Application struct {
	cfg     *config.Config
	deps    Deps
	logger  *logging.Logger
	router  *mux.Router
	handler http.Handler

	base      *commonservice.BaseService
	directory *directory.Service
	scheduler *jobs.Scheduler
	limiter   *middleware.RateLimiter

	closers []func() error
}

// New builds every dependency from cfg and assembles the server.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Application, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	m := metrics.New()

	sb, err := client.New(client.Config{
		URL:        cfg.Supabase.URL,
		APIKey:     cfg.Supabase.ServiceKey,
		Timeout:    cfg.Supabase.Timeout,
		Resilience: ptr(client.DefaultResilientClientConfig()),
	})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	repo := database.NewRepository(sb)

	deps := Deps{
		DB:      repo,
		Images:  media.NewSupabaseBucket(sb, cfg.Supabase.ImagesBucket),
		Stories: media.NewSupabaseBucket(sb, cfg.Supabase.StoriesBucket),
		Checks:  map[string]commonservice.Pinger{},
		Metrics: m,
		Logger:  logger,
	}
	var closers []func() error

	auth, err := middleware.NewAuthMiddleware(middleware.AuthConfig{
		JWTSecret: cfg.Supabase.JWTSecret,
		Remote:    sb.Auth(),
		Roles:     middleware.NewRoleResolver(cfg.Admin.UserIDs, cfg.Admin.SuperUserIDs),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("auth middleware: %w", err)
	}
	deps.Auth = auth

	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Namespace: "needful:",
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		deps.Cache = rc
		deps.Checks["redis"] = rc
		closers = append(closers, rc.Close)
	} else {
		deps.Cache = cache.NewMemory()
		closers = append(closers, deps.Cache.Close)
	}

	if cfg.Database.DSN != "" {
		db, err := OpenDB(ctx, cfg.Database)
		if err != nil {
			closeAll(closers, logger)
			return nil, err
		}
		store := analytics.NewSQLStore(db)
		deps.Analytics = store
		deps.Prune = store.DeleteBefore
		deps.Checks["postgres"] = store
		closers = append(closers, store.Close)
	}

	deps.LLM, err = llm.New(ctx, cfg.LLM, m, logger)
	switch {
	case errors.Is(err, llm.ErrDisabled):
		logger.WithComponent("app").Warn("llm.api_key not set; admin assistant disabled")
		deps.LLM = nil
	case err != nil:
		closeAll(closers, logger)
		return nil, fmt.Errorf("llm client: %w", err)
	}

	if cfg.Supabase.Realtime {
		rt, err := client.NewRealtimeClient(client.RealtimeConfig{
			URL:    cfg.Supabase.URL,
			APIKey: cfg.Supabase.ServiceKey,
			Logger: logger,
		})
		if err != nil {
			closeAll(closers, logger)
			return nil, fmt.Errorf("realtime client: %w", err)
		}
		deps.Realtime = rt
	}

	a, err := Assemble(cfg, deps)
	if err != nil {
		closeAll(closers, logger)
		return nil, err
	}
	a.closers = closers
	return a, nil
}

// OpenDB opens the direct Postgres pool used for aggregates.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// Assemble mounts the services on a fresh router and registers jobs.
func Assemble(cfg *config.Config, deps Deps) (*Application, error) {
	if deps.DB == nil || deps.Auth == nil {
		return nil, errors.New("app: DB and Auth are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Analytics == nil {
		deps.Analytics = analytics.EventSource{Store: deps.DB}
	}
	if deps.Prune == nil {
		deps.Prune = deps.DB.DeleteEventsBefore
	}

	a := &Application{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
		router: mux.NewRouter(),
	}
	a.base = commonservice.NewBase(commonservice.BaseConfig{
		Name:    ServiceName,
		Version: Version,
		Router:  a.router,
		DB:      deps.DB,
		Checks:  deps.Checks,
		Logger:  deps.Logger,
	})
	a.base.RegisterStandardRoutes()
	a.base.WithStats(a.stats)
	a.router.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)

	a.router.Use(middleware.MetricsMiddleware(ServiceName, deps.Metrics))
	if cfg.RateLimit.Enabled {
		a.limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.IsProduction(), deps.Logger)
		a.router.Use(a.limiter.Handler)
		a.base.AddTickerWorker(rateLimitCleanupInterval, func(context.Context) error {
			a.limiter.Cleanup(rateLimitMaxIdle)
			return nil
		})
	}

	a.mountServices()
	if err := a.registerJobs(); err != nil {
		return nil, err
	}
	a.subscribeRealtime()

	// CORS and tracing wrap the router so preflights and unmatched routes
	// are covered too.
	cors := middleware.NewCORSMiddleware(cfg.Server.CORSOrigins)
	tracing := middleware.NewTracingMiddleware(deps.Logger)
	a.handler = tracing.Handler(cors.Handler(a.router))
	return a, nil
}

func (a *Application) mountServices() {
	cfg, d := a.cfg, a.deps
	api := a.router.PathPrefix("/api").Subrouter()

	a.directory = directory.New(directory.Config{
		Router:          api,
		Auth:            d.Auth,
		DB:              d.DB,
		Cache:           d.Cache,
		CategoryTTL:     cfg.Cache.CategoriesTTL,
		FeaturedTTL:     cfg.Cache.FeaturedTTL,
		DefaultRadiusKm: cfg.Stories.DefaultRadiusKm,
		MaxRadiusKm:     cfg.Stories.MaxRadiusKm,
		Metrics:         d.Metrics,
		Logger:          d.Logger,
	})
	reviews.New(reviews.Config{Router: api, Auth: d.Auth, DB: d.DB, Logger: d.Logger})
	dashboard.New(dashboard.Config{
		Router:        api,
		Auth:          d.Auth,
		DB:            d.DB,
		Images:        d.Images,
		Stories:       d.Stories,
		Analytics:     d.Analytics,
		StoryTTL:      cfg.Stories.TTL,
		MaxImageBytes: cfg.Uploads.MaxImageBytes,
		MaxStoryBytes: cfg.Uploads.MaxStoryBytes,
		Logger:        d.Logger,
		Now:           d.Now,
	})
	stories.New(stories.Config{
		Router:          api,
		Auth:            d.Auth,
		DB:              d.DB,
		DefaultRadiusKm: cfg.Stories.DefaultRadiusKm,
		MaxRadiusKm:     cfg.Stories.MaxRadiusKm,
		Logger:          d.Logger,
		Now:             d.Now,
	})
	analyticssvc.New(analyticssvc.Config{Router: api, Auth: d.Auth, DB: d.DB, Logger: d.Logger})
	admin.New(admin.Config{
		Router:         api,
		Auth:           d.Auth,
		DB:             d.DB,
		Analytics:      d.Analytics,
		Cache:          d.Cache,
		StatsTTL:       cfg.Cache.StatsTTL,
		LLM:            d.LLM,
		MaxChatHistory: cfg.LLM.MaxHistory,
		Metrics:        d.Metrics,
		Logger:         d.Logger,
		Now:            d.Now,
	})
}

// registerJobs adds every maintenance job. Jobs are always registered so
// `needful jobs run` works; only enabled specs are scheduled.
func (a *Application) registerJobs() error {
	cfg, d := a.cfg, a.deps
	a.scheduler = jobs.NewScheduler(d.Logger, d.Metrics)

	schedule := func(s string) string {
		if !cfg.Jobs.Enabled {
			return ""
		}
		return s
	}
	list := []jobs.Job{
		{Name: jobs.NamePurgeStories, Spec: schedule(cfg.Jobs.PurgeStories), Run: jobs.PurgeStories(d.DB, d.Stories, d.Now, d.Logger)},
		{Name: jobs.NamePruneAnalytics, Spec: schedule(cfg.Jobs.PruneAnalytics), Run: jobs.PruneAnalytics(d.Prune, cfg.Analytics.RetentionDays, d.Now, d.Logger)},
		{Name: jobs.NameWarmCache, Spec: schedule(cfg.Jobs.WarmCache), Run: jobs.WarmCache(a.directory.Warm)},
	}
	if sw, ok := d.Cache.(jobs.Sweeper); ok {
		list = append(list, jobs.Job{Name: jobs.NameSweepCache, Spec: schedule(sweepSchedule), Run: jobs.SweepCache(sw)})
	}
	for _, job := range list {
		if err := a.scheduler.Register(job); err != nil {
			return fmt.Errorf("register job %s: %w", job.Name, err)
		}
	}
	return nil
}

// Handler is the fully wrapped HTTP handler.
func (a *Application) Handler() http.Handler { return a.handler }

// Router exposes the route table.
func (a *Application) Router() *mux.Router { return a.router }

// Scheduler exposes the job scheduler for one-shot runs.
func (a *Application) Scheduler() *jobs.Scheduler { return a.scheduler }

func (a *Application) stats() map[string]any {
	return map[string]any{
		"jobs":           a.scheduler.Names(),
		"jobs_scheduled": a.cfg.Jobs.Enabled,
		"assistant":      a.deps.LLM != nil,
		"realtime":       a.deps.Realtime != nil,
		"rate_limited":   a.limiter != nil,
	}
}

// Close releases connections opened by New.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func closeAll(closers []func() error, logger *logging.Logger) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.WithComponent("app").WithError(err).Warn("close failed")
		}
	}
}

func ptr[T any](v T) *T { return &v }
