// Package llm provides chat completion clients for the admin assistant.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/needful-app/needful/internal/config"
	"github.com/needful-app/needful/internal/logging"
	"github.com/needful-app/needful/internal/metrics"
)

// Conversation roles accepted from callers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// ErrDisabled is returned when no completion provider is configured.
var ErrDisabled = errors.New("llm: no provider configured")

// ErrEmptyResponse is returned when the provider answers without text.
var ErrEmptyResponse = errors.New("llm: empty completion")

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client produces a completion for a system prompt and a conversation.
type Client interface {
	Complete(ctx context.Context, system string, msgs []Message) (string, error)
}

// StatusError is a non-2xx answer from a completion endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("llm: provider returned status %d: %s", e.StatusCode, body)
}

// Retryable reports whether err is worth another attempt: transport
// failures including per-attempt timeouts, 429 and 5xx. Cancellation and
// other 4xx are final. Whether the caller's own deadline has passed is
// checked by Retrying, not here.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	if code, ok := geminiStatus(err); ok {
		return code == http.StatusTooManyRequests || code >= 500
	}
	return true
}

// Outcome classifies err for metrics labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case Retryable(err):
		return "retryable"
	default:
		return "error"
	}
}

// Trim keeps the last max user/assistant turns with non-empty content.
func Trim(msgs []Message, max int) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != RoleUser && role != RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

// New builds the configured provider wrapped in the retry loop.
func New(ctx context.Context, cfg config.LLMConfig, m *metrics.Metrics, logger *logging.Logger) (Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}

	var (
		inner Client
		err   error
	)
	switch cfg.Provider {
	case "", ProviderOpenAI:
		inner = NewOpenAIClient(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Timeout:     cfg.Timeout,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case ProviderGemini:
		inner, err = NewGeminiClient(ctx, GeminiConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderOpenAI
	}
	return NewRetrying(inner, RetryConfig{
		Provider:    provider,
		MaxAttempts: cfg.MaxAttempts,
		BackoffStep: cfg.BackoffStep,
		Metrics:     m,
		Logger:      logger,
	}), nil
}

// timeoutOr returns d or the fallback when d is unset.
func timeoutOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
