package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func fastRetry(codes ...int) RetryConfig {
	return RetryConfig{
		MaxRetries:           3,
		InitialBackoff:       time.Millisecond,
		MaxBackoff:           5 * time.Millisecond,
		BackoffMultiplier:    2.0,
		RetryableStatusCodes: codes,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.InitialBackoff != 100*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 100ms", cfg.InitialBackoff)
	}
	if len(cfg.RetryableStatusCodes) == 0 {
		t.Error("RetryableStatusCodes should not be empty")
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute})

	for i := 0; i < 3; i++ {
		if err := cb.Allow(); err != nil {
			t.Fatalf("Allow() before threshold: %v", err)
		}
		cb.RecordFailure(errors.New("boom"))
	}

	if cb.State() != CircuitOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute})

	cb.RecordFailure(errors.New("1"))
	cb.RecordFailure(errors.New("2"))
	cb.RecordSuccess()
	cb.RecordFailure(errors.New("3"))

	if cb.State() != CircuitClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenTransitions(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var changes []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          time.Second,
		OnStateChange: func(from, to CircuitState) {
			changes = append(changes, from.String()+"->"+to.String())
		},
	})
	cb.now = func() time.Time { return now }

	cb.RecordFailure(errors.New("down"))
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() inside timeout = %v", err)
	}

	now = now.Add(2 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after timeout = %v", err)
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("State() = %v, want half-open", cb.State())
	}

	cb.RecordFailure(errors.New("still down"))
	if cb.State() != CircuitOpen {
		t.Fatalf("half-open failure should reopen, got %v", cb.State())
	}

	now = now.Add(2 * time.Second)
	_ = cb.Allow()
	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatalf("State() = %v, want closed", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->open", "open->half-open", "half-open->closed"}
	if strings.Join(changes, ",") != strings.Join(want, ",") {
		t.Errorf("changes = %v, want %v", changes, want)
	}
}

func TestCircuitBreaker_LastError(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	if cb.LastError() != nil {
		t.Error("LastError() should be nil initially")
	}
	testErr := errors.New("test error")
	cb.RecordFailure(testErr)
	if cb.LastError() != testErr {
		t.Errorf("LastError() = %v, want %v", cb.LastError(), testErr)
	}
}

func TestCircuitState_String(t *testing.T) {
	testCases := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tc := range testCases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("String() = %s, want %s", got, tc.want)
		}
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); _ = cb.Allow() }()
		go func() { defer wg.Done(); cb.RecordSuccess() }()
		go func() { defer wg.Done(); cb.RecordFailure(errors.New("test")) }()
	}
	wg.Wait()
}

func TestResilientClient_RetryOnServerError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewResilientClient(ResilientClientConfig{
		RetryConfig:          fastRetry(http.StatusServiceUnavailable),
		CircuitBreakerConfig: DefaultCircuitBreakerConfig(),
	})
	client.sleep = noSleep

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if m := client.Metrics(); m["retried_requests"] != 2 {
		t.Errorf("retried_requests = %d, want 2", m["retried_requests"])
	}
}

func TestResilientClient_ReplaysBody(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		n := len(bodies)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewResilientClient(ResilientClientConfig{
		RetryConfig:          fastRetry(http.StatusBadGateway),
		CircuitBreakerConfig: DefaultCircuitBreakerConfig(),
	})
	client.sleep = noSleep

	req, _ := http.NewRequest(http.MethodPost, server.URL, strings.NewReader(`{"rating":5}`))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 || bodies[1] != `{"rating":5}` {
		t.Errorf("bodies = %q, want the payload twice", bodies)
	}
}

func TestResilientClient_NoRetryOnClientError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	client := NewResilientClient(ResilientClientConfig{
		RetryConfig:          fastRetry(http.StatusServiceUnavailable),
		CircuitBreakerConfig: DefaultCircuitBreakerConfig(),
	})
	client.sleep = noSleep

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	resp.Body.Close()

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if client.CircuitState() != CircuitClosed {
		t.Errorf("4xx must not trip the breaker")
	}
}

func TestResilientClient_CircuitOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewResilientClient(ResilientClientConfig{
		RetryConfig: RetryConfig{MaxRetries: 0, RetryableStatusCodes: []int{http.StatusServiceUnavailable}},
		CircuitBreakerConfig: CircuitBreakerConfig{
			FailureThreshold: 2,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
		},
	})

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("Do() #%d error: %v", i, err)
		}
		resp.Body.Close()
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	if _, err := client.Do(req); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Do() error = %v, want ErrCircuitOpen", err)
	}
}

func TestResilientClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewResilientClient(DefaultResilientClientConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	if _, err := client.Do(req); err == nil {
		t.Error("Do() should error on context cancellation")
	}
}

func TestRequestIDs(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID() = %s, want req-1", got)
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() = %s, want empty", got)
	}
	if GenerateRequestID() == GenerateRequestID() {
		t.Error("GenerateRequestID() should return unique IDs")
	}
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{StatusCode: http.StatusServiceUnavailable}
	if err.Error() != "http 503: Service Unavailable" {
		t.Errorf("Error() = %s", err.Error())
	}
}

func BenchmarkCircuitBreaker_Allow(b *testing.B) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cb.Allow()
	}
}
