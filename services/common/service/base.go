// Package service provides the shared lifecycle, health and routing
// scaffolding embedded by every API service.
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/needful-app/needful/internal/logging"
)

const healthCheckTimeout = 5 * time.Second

// Pinger is a dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// BaseConfig contains shared configuration for all services.
type BaseConfig struct {
	Name    string
	Version string
	// Router is shared between services mounted on one server. A nil
	// router gets a fresh one.
	Router *mux.Router
	// DB is the primary store. A failing DB makes the service unhealthy.
	DB Pinger
	// Checks are optional dependencies. A failing check degrades the
	// service without marking it unhealthy.
	Checks map[string]Pinger
	Logger *logging.Logger
}

// BaseService carries the hooks common to every service:
// an optional hydrate step, background workers, stats for /info and a
// cached health view.
type BaseService struct {
	name    string
	version string
	router  *mux.Router
	logger  *logging.Logger
	db      Pinger
	checks  map[string]Pinger

	stopCh   chan struct{}
	stopOnce sync.Once

	hydrate func(context.Context) error
	statsFn func() map[string]any
	workers []func(context.Context)

	healthMu        sync.RWMutex
	dbHealthy       bool
	failedChecks    map[string]string
	lastHealthCheck time.Time
	startTime       time.Time
}

// NewBase constructs a BaseService from shared config.
func NewBase(cfg BaseConfig) *BaseService {
	router := cfg.Router
	if router == nil {
		router = mux.NewRouter()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &BaseService{
		name:         cfg.Name,
		version:      cfg.Version,
		router:       router,
		logger:       logger,
		db:           cfg.DB,
		checks:       cfg.Checks,
		stopCh:       make(chan struct{}),
		dbHealthy:    cfg.DB == nil,
		failedChecks: map[string]string{},
	}
}

func (b *BaseService) Name() string            { return b.name }
func (b *BaseService) Version() string         { return b.version }
func (b *BaseService) Router() *mux.Router     { return b.router }
func (b *BaseService) Logger() *logging.Logger { return b.logger }

// WithHydrate sets a hook executed once during Start, before workers.
func (b *BaseService) WithHydrate(fn func(context.Context) error) *BaseService {
	b.hydrate = fn
	return b
}

// WithStats sets the statistics provider for /info.
func (b *BaseService) WithStats(fn func() map[string]any) *BaseService {
	b.statsFn = fn
	return b
}

// AddWorker registers a background worker started after hydrate.
// Workers must return when ctx is done or StopChan closes.
func (b *BaseService) AddWorker(fn func(context.Context)) *BaseService {
	b.workers = append(b.workers, fn)
	return b
}

// AddTickerWorker registers fn to run every interval until Stop.
func (b *BaseService) AddTickerWorker(interval time.Duration, fn func(context.Context) error) *BaseService {
	worker := func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					b.logger.WithComponent(b.name).WithError(err).Warn("worker error")
				}
			}
		}
	}
	b.workers = append(b.workers, worker)
	return b
}

// StopChan exposes the stop channel for worker goroutines.
func (b *BaseService) StopChan() <-chan struct{} {
	return b.stopCh
}

// Start runs hydrate once, then spins workers.
func (b *BaseService) Start(ctx context.Context) error {
	b.healthMu.Lock()
	if b.startTime.IsZero() {
		b.startTime = time.Now()
	}
	b.healthMu.Unlock()

	if b.hydrate != nil {
		if err := b.hydrate(ctx); err != nil {
			return fmt.Errorf("%s hydrate: %w", b.name, err)
		}
	}

	for _, w := range b.workers {
		go w(ctx)
	}
	return nil
}

// Stop signals workers. It is safe to call more than once.
func (b *BaseService) Stop() error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	return nil
}

// WorkerCount returns the number of registered workers.
func (b *BaseService) WorkerCount() int {
	return len(b.workers)
}

// CheckHealth refreshes the cached health state by probing dependencies.
func (b *BaseService) CheckHealth(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	dbHealthy := true
	if b.db != nil {
		if err := b.db.Ping(ctx); err != nil {
			dbHealthy = false
			b.logger.WithContext(ctx).WithError(err).Warn("database health check failed")
		}
	}

	failed := make(map[string]string)
	for name, check := range b.checks {
		if check == nil {
			continue
		}
		if err := check.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	b.healthMu.Lock()
	b.dbHealthy = dbHealthy
	b.failedChecks = failed
	b.lastHealthCheck = time.Now()
	b.healthMu.Unlock()
}

// HealthStatus checks dependencies and returns healthy, degraded or
// unhealthy.
func (b *BaseService) HealthStatus(ctx context.Context) string {
	b.CheckHealth(ctx)
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()
	return b.healthStatusLocked()
}

// HealthDetails describes the most recent health state.
func (b *BaseService) HealthDetails() map[string]any {
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()

	details := map[string]any{
		"db_connected": b.dbHealthy,
	}
	if len(b.checks) > 0 {
		names := make([]string, 0, len(b.checks))
		for name := range b.checks {
			names = append(names, name)
		}
		sort.Strings(names)
		checks := make(map[string]string, len(names))
		for _, name := range names {
			if msg, bad := b.failedChecks[name]; bad {
				checks[name] = msg
			} else {
				checks[name] = "ok"
			}
		}
		details["checks"] = checks
	}

	if !b.lastHealthCheck.IsZero() {
		details["last_check"] = b.lastHealthCheck.Format(time.RFC3339)
	} else {
		details["last_check"] = ""
	}

	uptime := time.Duration(0)
	if !b.startTime.IsZero() {
		uptime = time.Since(b.startTime)
	}
	details["uptime"] = uptime.String()
	return details
}

func (b *BaseService) healthStatusLocked() string {
	if b.db != nil && !b.dbHealthy {
		return "unhealthy"
	}
	if len(b.failedChecks) > 0 {
		return "degraded"
	}
	return "healthy"
}
