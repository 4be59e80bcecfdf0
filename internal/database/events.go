package database

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/needful-app/needful/supabase/client"
)

// maxEventRows caps unbounded event reads.
const maxEventRows = 100_000

// ValidateEventType checks an analytics event type.
func ValidateEventType(eventType string) error {
	if slices.Contains(EventTypes, eventType) {
		return nil
	}
	return fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, eventType)
}

// RecordEvent inserts an analytics event and fills in its id.
func (r *Repository) RecordEvent(ctx context.Context, e *AnalyticsEvent) error {
	if err := r.ready(); err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("%w: event cannot be nil", ErrInvalidInput)
	}
	if err := ValidateEventType(e.EventType); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	row := struct {
		EventType  string         `json:"event_type"`
		ProviderID *string        `json:"provider_id,omitempty"`
		UserID     *string        `json:"user_id,omitempty"`
		SessionID  string         `json:"session_id,omitempty"`
		Metadata   map[string]any `json:"metadata,omitempty"`
		CreatedAt  time.Time      `json:"created_at"`
	}{e.EventType, e.ProviderID, e.UserID, e.SessionID, e.Metadata, e.CreatedAt}

	resp, err := r.client.From("analytics_events").ExecuteInsert(ctx, row)
	if err != nil {
		return wrapError("record event", err)
	}
	saved, err := firstRow[AnalyticsEvent](resp, "analytics_event", e.EventType)
	if err != nil {
		return err
	}
	e.ID = saved.ID
	return nil
}

// ListEvents returns events matching f, newest first. A zero Limit reads
// every matching row up to an internal cap.
func (r *Repository) ListEvents(ctx context.Context, f EventFilter) ([]AnalyticsEvent, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 || limit > maxEventRows {
		limit = maxEventRows
	}
	return fetchAll[AnalyticsEvent](ctx, "list events", limit, func() *client.QueryBuilder {
		q := r.client.From("analytics_events").Select("*")
		if f.ProviderID != "" {
			q = q.Eq("provider_id", f.ProviderID)
		}
		if len(f.Types) > 0 {
			q = q.In("event_type", f.Types)
		}
		if !f.Since.IsZero() {
			q = q.Gte("created_at", timestamp(f.Since))
		}
		return q.Order("created_at", false).Order("id", true)
	})
}

// DeleteEventsBefore removes events created before cutoff and returns how
// many were deleted.
func (r *Repository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	if cutoff.IsZero() {
		return 0, fmt.Errorf("%w: cutoff is required", ErrInvalidInput)
	}
	resp, err := r.client.From("analytics_events").Lt("created_at", timestamp(cutoff)).ExecuteDelete(ctx)
	if err != nil {
		return 0, wrapError("delete events", err)
	}
	rows, err := decodeRows[struct {
		ID string `json:"id"`
	}](resp, "analytics_events")
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
