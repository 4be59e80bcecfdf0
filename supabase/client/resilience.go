package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// Jitter adds randomness to backoff (0.0 to 1.0).
	Jitter               float64
	RetryableStatusCodes []int
}

// DefaultRetryConfig returns the retry settings used for PostgREST calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryableStatusCodes: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that close it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// OnStateChange is called synchronously, outside the breaker lock.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker stops calling the backend after repeated failures.
type CircuitBreaker struct {
	mu sync.Mutex

	config CircuitBreakerConfig
	state  CircuitState

	failures  int
	successes int
	lastError error
	openedAt  time.Time
	now       func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{config: config, state: CircuitClosed, now: time.Now}
}

// ErrCircuitOpen is returned when the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	var from, to CircuitState
	changed := false
	defer func() {
		cb.mu.Unlock()
		if changed {
			cb.notify(from, to)
		}
	}()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.openedAt) < cb.config.Timeout {
			return ErrCircuitOpen
		}
		from, to, changed = cb.transitionTo(CircuitHalfOpen)
	}
	return nil
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var from, to CircuitState
	changed := false
	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			from, to, changed = cb.transitionTo(CircuitClosed)
		}
	}
	cb.mu.Unlock()
	if changed {
		cb.notify(from, to)
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	var from, to CircuitState
	changed := false
	cb.lastError = err
	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			from, to, changed = cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		from, to, changed = cb.transitionTo(CircuitOpen)
	}
	cb.mu.Unlock()
	if changed {
		cb.notify(from, to)
	}
}

// transitionTo must be called with mu held.
func (cb *CircuitBreaker) transitionTo(next CircuitState) (CircuitState, CircuitState, bool) {
	prev := cb.state
	cb.state = next
	switch next {
	case CircuitClosed:
		cb.failures = 0
		cb.successes = 0
	case CircuitOpen:
		cb.openedAt = cb.now()
		cb.successes = 0
	case CircuitHalfOpen:
		cb.successes = 0
	}
	return prev, next, prev != next
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// LastError returns the last recorded error.
func (cb *CircuitBreaker) LastError() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastError
}

// ResilientClient wraps an HTTP client with retry and circuit breaking.
type ResilientClient struct {
	client         *http.Client
	retryConfig    RetryConfig
	circuitBreaker *CircuitBreaker
	sleep          func(ctx context.Context, d time.Duration) error

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	retriedRequests atomic.Int64
}

// ResilientClientConfig configures the resilient client.
type ResilientClientConfig struct {
	BaseClient           *http.Client
	RetryConfig          RetryConfig
	CircuitBreakerConfig CircuitBreakerConfig
}

// DefaultResilientClientConfig combines the default retry and breaker settings.
func DefaultResilientClientConfig() ResilientClientConfig {
	return ResilientClientConfig{
		RetryConfig:          DefaultRetryConfig(),
		CircuitBreakerConfig: DefaultCircuitBreakerConfig(),
	}
}

// NewResilientClient creates a new resilient HTTP client.
func NewResilientClient(config ResilientClientConfig) *ResilientClient {
	base := config.BaseClient
	if base == nil {
		base = &http.Client{Timeout: defaultTimeout}
	}
	return &ResilientClient{
		client:         base,
		retryConfig:    config.RetryConfig,
		circuitBreaker: NewCircuitBreaker(config.CircuitBreakerConfig),
		sleep:          sleepContext,
	}
}

// Do executes req, retrying transient failures. Request bodies are replayed
// through req.GetBody, so only requests built from in-memory readers retry.
func (rc *ResilientClient) Do(req *http.Request) (*http.Response, error) {
	rc.totalRequests.Add(1)

	if err := rc.circuitBreaker.Allow(); err != nil {
		rc.failedRequests.Add(1)
		return nil, err
	}

	ctx := req.Context()
	var lastErr error
	var resp *http.Response

	for attempt := 0; attempt <= rc.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			if req.Body != nil && req.GetBody == nil {
				break
			}
			rc.retriedRequests.Add(1)
			if err := rc.sleep(ctx, rc.calculateBackoff(attempt)); err != nil {
				rc.failedRequests.Add(1)
				return nil, err
			}
			next := req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("replay request body: %w", err)
				}
				next.Body = body
			}
			req = next
		}

		resp, lastErr = rc.client.Do(req)
		if lastErr != nil {
			if rc.isRetryableError(lastErr) {
				continue
			}
			rc.circuitBreaker.RecordFailure(lastErr)
			rc.failedRequests.Add(1)
			return nil, lastErr
		}

		if rc.isRetryableStatusCode(resp.StatusCode) && attempt < rc.retryConfig.MaxRetries {
			lastErr = &HTTPError{StatusCode: resp.StatusCode}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			resp = nil
			continue
		}

		if resp.StatusCode >= 500 {
			rc.circuitBreaker.RecordFailure(&HTTPError{StatusCode: resp.StatusCode})
			rc.failedRequests.Add(1)
		} else {
			rc.circuitBreaker.RecordSuccess()
			rc.successRequests.Add(1)
		}
		return resp, nil
	}

	rc.circuitBreaker.RecordFailure(lastErr)
	rc.failedRequests.Add(1)
	if resp != nil {
		return resp, nil
	}
	return nil, lastErr
}

func (rc *ResilientClient) calculateBackoff(attempt int) time.Duration {
	mult := rc.retryConfig.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	backoff := float64(rc.retryConfig.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if rc.retryConfig.MaxBackoff > 0 && backoff > float64(rc.retryConfig.MaxBackoff) {
		backoff = float64(rc.retryConfig.MaxBackoff)
	}
	if rc.retryConfig.Jitter > 0 {
		backoff += backoff * rc.retryConfig.Jitter * (rand.Float64()*2 - 1)
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

func (rc *ResilientClient) isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func (rc *ResilientClient) isRetryableStatusCode(code int) bool {
	for _, retryable := range rc.retryConfig.RetryableStatusCodes {
		if code == retryable {
			return true
		}
	}
	return false
}

// HTTPError is a retryable status that exhausted its attempts.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Metrics returns request counters.
func (rc *ResilientClient) Metrics() map[string]int64 {
	return map[string]int64{
		"total_requests":   rc.totalRequests.Load(),
		"success_requests": rc.successRequests.Load(),
		"failed_requests":  rc.failedRequests.Load(),
		"retried_requests": rc.retriedRequests.Load(),
	}
}

// CircuitState returns the current circuit breaker state.
func (rc *ResilientClient) CircuitState() CircuitState {
	return rc.circuitBreaker.State()
}

type resilientTransport struct {
	client *ResilientClient
}

func (rt *resilientTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt.client.Do(req)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type requestIDKey struct{}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateRequestID returns a new request ID.
func GenerateRequestID() string {
	return uuid.NewString()
}
