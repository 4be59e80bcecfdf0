package llm

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/needful-app/needful/internal/logging"
	"github.com/needful-app/needful/internal/metrics"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoffStep = time.Second
)

// RetryConfig controls the retry loop around a provider.
type RetryConfig struct {
	Provider    string
	MaxAttempts int
	BackoffStep time.Duration
	Metrics     *metrics.Metrics
	Logger      *logging.Logger
}

// Retrying retries a Client with linear backoff: the wait after attempt n
// is n × BackoffStep.
type Retrying struct {
	inner Client
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetrying(inner Client, cfg RetryConfig) *Retrying {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = DefaultBackoffStep
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Retrying{inner: inner, cfg: cfg, sleep: sleepContext}
}

func (r *Retrying) Complete(ctx context.Context, system string, msgs []Message) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		out, err := r.inner.Complete(ctx, system, msgs)
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordLLMCall(r.cfg.Provider, Outcome(err), time.Since(start))
		}
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", err
		}
		if !Retryable(err) || attempt == r.cfg.MaxAttempts {
			break
		}

		wait := time.Duration(attempt) * r.cfg.BackoffStep
		r.cfg.Logger.WithContext(ctx).WithFields(logrus.Fields{
			"provider": r.cfg.Provider,
			"attempt":  attempt,
			"wait":     wait.String(),
		}).WithError(err).Warn("completion failed, retrying")

		if err := r.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
