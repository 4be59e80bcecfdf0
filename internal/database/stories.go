package database

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// ListActiveStories returns every story that has not expired at now, oldest
// first.
func (r *Repository) ListActiveStories(ctx context.Context, now time.Time) ([]Story, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	resp, err := r.client.From("business_stories").
		Select("*").
		Gt("expires_at", timestamp(now)).
		Order("created_at", true).
		Execute(ctx)
	if err != nil {
		return nil, wrapError("list active stories", err)
	}
	return decodeRows[Story](resp, "business_stories")
}

// ListProviderStories returns a provider's stories, newest first. When
// activeAt is set only stories still live at that time are returned.
func (r *Repository) ListProviderStories(ctx context.Context, providerID string, activeAt *time.Time) ([]Story, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("provider_id", providerID); err != nil {
		return nil, err
	}
	q := r.client.From("business_stories").Select("*").Eq("provider_id", providerID)
	if activeAt != nil {
		q = q.Gt("expires_at", timestamp(*activeAt))
	}
	resp, err := q.Order("created_at", false).Execute(ctx)
	if err != nil {
		return nil, wrapError("list provider stories", err)
	}
	return decodeRows[Story](resp, "business_stories")
}

// GetStory fetches a story by id.
func (r *Repository) GetStory(ctx context.Context, id string) (*Story, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	resp, err := r.client.From("business_stories").Select("*").Eq("id", id).Limit(1).Execute(ctx)
	if err != nil {
		return nil, wrapError("get story", err)
	}
	return firstRow[Story](resp, "story", id)
}

// CreateStory inserts a story.
func (r *Repository) CreateStory(ctx context.Context, in StoryInput) (*Story, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("provider_id", in.ProviderID); err != nil {
		return nil, err
	}
	if err := requireID("media_url", in.MediaURL); err != nil {
		return nil, err
	}
	if !slices.Contains([]string{MediaTypeImage, MediaTypeVideo}, in.MediaType) {
		return nil, fmt.Errorf("%w: media_type must be image or video", ErrInvalidInput)
	}
	if in.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("%w: expires_at is required", ErrInvalidInput)
	}
	resp, err := r.client.From("business_stories").ExecuteInsert(ctx, in)
	if err != nil {
		return nil, wrapError("create story", err)
	}
	return firstRow[Story](resp, "story", in.MediaURL)
}

// DeleteStory removes a story row.
func (r *Repository) DeleteStory(ctx context.Context, id string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := requireID("id", id); err != nil {
		return err
	}
	resp, err := r.client.From("business_stories").Eq("id", id).ExecuteDelete(ctx)
	if err != nil {
		return wrapError("delete story", err)
	}
	_, err = firstRow[Story](resp, "story", id)
	return err
}

// IncrementStoryViews bumps view_count atomically in Postgres.
func (r *Repository) IncrementStoryViews(ctx context.Context, id string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := requireID("id", id); err != nil {
		return err
	}
	_, err := r.client.RPC(ctx, "increment_story_views", map[string]string{"story_id": id})
	return wrapError("increment story views", err)
}

// ListExpiredStories returns up to limit stories that expired at or before
// now, oldest expiry first.
func (r *Repository) ListExpiredStories(ctx context.Context, now time.Time, limit int) ([]Story, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > pageSize {
		limit = pageSize
	}
	resp, err := r.client.From("business_stories").
		Select("*").
		Lte("expires_at", timestamp(now)).
		Order("expires_at", true).
		Limit(limit).
		Execute(ctx)
	if err != nil {
		return nil, wrapError("list expired stories", err)
	}
	return decodeRows[Story](resp, "business_stories")
}
