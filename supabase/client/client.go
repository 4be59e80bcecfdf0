// Package client is a small Supabase client covering PostgREST, RPC,
// Auth user lookup, Storage and Realtime.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/internal/logging"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxResponseBytes = 8 << 20
)

// Client is a Supabase REST API client.
type Client struct {
	baseURL          string
	apiKey           string
	httpClient       *http.Client
	resilient        *ResilientClient
	maxResponseBytes int64
}

// Config holds client configuration.
type Config struct {
	URL    string
	APIKey string // service role key for server-side access
	// HTTPClient overrides the transport. When Resilience is set the client
	// is wrapped with retry and circuit breaking.
	HTTPClient       *http.Client
	Timeout          time.Duration
	Resilience       *ResilientClientConfig
	MaxResponseBytes int64
}

// New creates a new Supabase client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("APIKey is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		}
	}

	c := &Client{
		baseURL:          strings.TrimSuffix(strings.TrimSpace(cfg.URL), "/"),
		apiKey:           cfg.APIKey,
		httpClient:       httpClient,
		maxResponseBytes: cfg.MaxResponseBytes,
	}
	if c.maxResponseBytes <= 0 {
		c.maxResponseBytes = defaultMaxResponseBytes
	}

	if cfg.Resilience != nil {
		rcfg := *cfg.Resilience
		rcfg.BaseClient = httpClient
		c.resilient = NewResilientClient(rcfg)
		c.httpClient = &http.Client{
			Transport: &resilientTransport{client: c.resilient},
			Timeout:   timeout,
		}
	}

	return c, nil
}

// BaseURL returns the project URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Resilience returns the retrying transport, or nil when disabled.
func (c *Client) Resilience() *ResilientClient {
	return c.resilient
}

// RPC calls a Postgres function exposed by PostgREST.
func (c *Client) RPC(ctx context.Context, fn string, params any) (*Response, error) {
	if strings.TrimSpace(fn) == "" {
		return nil, fmt.Errorf("function name is required")
	}
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/rest/v1/rpc/"+fn, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	return req, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	requestID := GetRequestID(req.Context())
	if requestID == "" {
		requestID = logging.GetTraceID(req.Context())
	}
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
}

// do executes the request and returns an *APIError for non-2xx responses.
func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, truncated, err := httputil.ReadAllWithLimit(resp.Body, c.maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if truncated {
		return nil, fmt.Errorf("response exceeds %d bytes", c.maxResponseBytes)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
	}
	if err := out.Error(); err != nil {
		return out, err
	}
	return out, nil
}
