// Package jobs runs periodic maintenance tasks on a cron schedule.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/needful-app/needful/internal/logging"
	"github.com/needful-app/needful/internal/metrics"
)

// ErrUnknownJob is returned by Run for unregistered names.
var ErrUnknownJob = errors.New("unknown job")

const defaultJobTimeout = 5 * time.Minute

// Func is one execution of a job.
type Func func(ctx context.Context) error

// Job is a named task. An empty Spec registers the job for one-shot runs
// only.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     Func
}

// Scheduler owns the cron loop. Runs of the same job never overlap.
type Scheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	jobs    map[string]Job
	running map[string]bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a stopped scheduler. Specs accept an optional
// leading seconds field and descriptors such as @every 15m.
func NewScheduler(logger *logging.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		parser:  parser,
		logger:  logger,
		metrics: m,
		jobs:    make(map[string]Job),
		running: make(map[string]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds job. The cron expression is validated even when the
// scheduler never starts.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	if job.Spec != "" {
		if _, err := s.parser.Parse(job.Spec); err != nil {
			return fmt.Errorf("job %q: invalid schedule %q: %w", job.Name, job.Spec, err)
		}
		name := job.Name
		if _, err := s.cron.AddFunc(job.Spec, func() { _ = s.Run(s.ctx, name) }); err != nil {
			return fmt.Errorf("job %q: %w", job.Name, err)
		}
	}
	s.jobs[job.Name] = job
	return nil
}

// Names returns the registered job names in order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithComponent("jobs").WithField("jobs", s.Names()).Info("scheduler started")
}

// Stop halts the schedule, cancels running jobs and waits for them or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the named job once. A run that overlaps a previous run of
// the same job is skipped.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if s.running[name] {
		s.mu.Unlock()
		s.logger.WithComponent("jobs").WithField("job", name).Warn("previous run still in progress, skipping")
		return nil
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	runCtx, cancel := context.WithTimeout(logging.WithTraceID(ctx, logging.NewTraceID()), timeout)
	defer cancel()

	start := time.Now()
	err := job.Run(runCtx)
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordJobRun(name, elapsed, err == nil)
	}

	entry := s.logger.WithContext(runCtx).WithFields(logrus.Fields{
		"job":      name,
		"duration": elapsed.String(),
	})
	if err != nil {
		entry.WithError(err).Error("job failed")
		return fmt.Errorf("job %s: %w", name, err)
	}
	entry.Info("job completed")
	return nil
}
