package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/needful-app/needful/internal/analytics"
	"github.com/needful-app/needful/internal/cache"
	"github.com/needful-app/needful/internal/database"
	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/internal/llm"
)

const (
	chatTopN             = 5
	maxChatMessageLength = 4000
)

const systemPromptHeader = `You are the NeedFul admin assistant. NeedFul is a local services directory.
Answer questions about the platform using only the data below. If the data does not answer the question, say so.
Keep answers short and use plain numbers.

Platform data (JSON):
`

// ChatRequest is the body of POST /admin/chat.
type ChatRequest struct {
	Messages []llm.Message `json:"messages"`
}

// ChatResponse carries the assistant's reply.
type ChatResponse struct {
	Message llm.Message `json:"message"`
}

// CategoryCount ranks categories by approved listings.
type CategoryCount struct {
	Name      string `json:"name"`
	Providers int    `json:"providers"`
}

// ProviderViews ranks listings by profile views.
type ProviderViews struct {
	BusinessName string  `json:"business_name"`
	City         string  `json:"city,omitempty"`
	Views        int     `json:"views"`
	Rating       float64 `json:"rating"`
}

// PendingCounts is the moderation backlog.
type PendingCounts struct {
	Providers      int `json:"providers"`
	FlaggedReviews int `json:"flagged_reviews"`
}

// ChatContext is the platform snapshot given to the model.
type ChatContext struct {
	Stats         *Stats          `json:"stats"`
	TopCategories []CategoryCount `json:"top_categories"`
	TopProviders  []ProviderViews `json:"top_providers"`
	Events30d     map[string]int  `json:"events_last_30_days,omitempty"`
	Pending       PendingCounts   `json:"pending"`
}

func (s *Service) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		httputil.WriteError(w, r, svcerrors.Unavailable("the admin assistant is not configured", llm.ErrDisabled))
		return
	}
	var req ChatRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	for _, m := range req.Messages {
		if len([]rune(m.Content)) > maxChatMessageLength {
			httputil.WriteError(w, r, svcerrors.Validation("messages", fmt.Sprintf("messages are limited to %d characters", maxChatMessageLength)))
			return
		}
	}
	msgs := llm.Trim(req.Messages, s.maxChatHistory)
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != llm.RoleUser {
		httputil.WriteError(w, r, svcerrors.Validation("messages", "the conversation must end with a user message"))
		return
	}

	ctx := r.Context()
	chatCtx, err := s.buildChatContext(ctx)
	if err != nil {
		s.writeError(w, r, err, "chat context")
		return
	}
	system, err := SystemPrompt(chatCtx)
	if err != nil {
		s.writeError(w, r, err, "chat context")
		return
	}

	reply, err := s.llm.Complete(ctx, system, msgs)
	if err != nil {
		s.Logger().WithContext(ctx).WithError(err).Warn("admin assistant completion failed")
		httputil.WriteError(w, r, svcerrors.Upstream("the assistant is unavailable, try again later", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: reply}})
}

// SystemPrompt renders the platform snapshot as compact JSON under the
// assistant instructions.
func SystemPrompt(c *ChatContext) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode chat context: %w", err)
	}
	var b strings.Builder
	b.WriteString(systemPromptHeader)
	b.Write(raw)
	return b.String(), nil
}

// buildChatContext gathers the snapshot concurrently.
func (s *Service) buildChatContext(ctx context.Context) (*ChatContext, error) {
	out := &ChatContext{}
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		stats, err := cache.Remember(egCtx, s.cache, cache.KeyAdminStats, s.statsTTL, s.observe, s.loadStats)
		if err != nil {
			return err
		}
		out.Stats = stats
		out.Pending = PendingCounts{
			Providers:      stats.Providers[database.ProviderStatusPending],
			FlaggedReviews: stats.FlaggedReviews,
		}
		return nil
	})
	eg.Go(func() error {
		top, err := s.topCategories(egCtx)
		out.TopCategories = top
		return err
	})
	eg.Go(func() error {
		providers, _, err := s.db.SearchProviders(egCtx, database.ProviderFilter{
			Status: database.ProviderStatusApproved,
			Sort:   database.SortViews,
			Limit:  chatTopN,
		})
		if err != nil {
			return fmt.Errorf("top providers: %w", err)
		}
		out.TopProviders = make([]ProviderViews, 0, len(providers))
		for _, p := range providers {
			out.TopProviders = append(out.TopProviders, ProviderViews{
				BusinessName: p.BusinessName,
				City:         p.City,
				Views:        p.ViewCount,
				Rating:       p.Rating,
			})
		}
		return nil
	})
	eg.Go(func() error {
		if s.analytics == nil {
			return nil
		}
		summary, err := s.analytics.Summary(egCtx, analytics.Window(s.now(), statsWindowDays))
		if err != nil {
			return fmt.Errorf("event totals: %w", err)
		}
		out.Events30d = summary.Totals
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) topCategories(ctx context.Context) ([]CategoryCount, error) {
	cats, err := s.db.ListCategories(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	counts, err := s.db.CountProvidersByCategory(ctx)
	if err != nil {
		return nil, fmt.Errorf("count providers by category: %w", err)
	}
	out := make([]CategoryCount, 0, len(cats))
	for _, c := range cats {
		out = append(out, CategoryCount{Name: c.Name, Providers: counts[c.ID]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Providers != out[j].Providers {
			return out[i].Providers > out[j].Providers
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > chatTopN {
		out = out[:chatTopN]
	}
	return out, nil
}
