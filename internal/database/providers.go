package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/needful-app/needful/supabase/client"
)

const providerSelect = "*,category:categories(*)"

// SearchProviders returns a page of listings matching f and the total count.
func (r *Repository) SearchProviders(ctx context.Context, f ProviderFilter) ([]Provider, int, error) {
	if err := r.ready(); err != nil {
		return nil, 0, err
	}

	q := r.client.From("providers").Select(providerSelect).Count(client.CountExact)
	if !f.AnyStatus {
		status := f.Status
		if status == "" {
			status = ProviderStatusApproved
		}
		if err := ValidateStatus(status, ProviderStatuses); err != nil {
			return nil, 0, err
		}
		q = q.Eq("status", status)
	}
	if !f.IncludeDeleted {
		q = q.Is("deleted_at", nil)
	}
	if text := client.EscapeLike(f.Query); text != "" {
		q = q.Or(fmt.Sprintf("business_name.ilike.*%s*,description.ilike.*%s*,city.ilike.*%s*", text, text, text))
	}
	if f.CategoryID != "" {
		q = q.Eq("category_id", f.CategoryID)
	}
	if city := client.EscapeLike(f.City); city != "" {
		q = q.ILike("city", city)
	}
	if f.UserID != "" {
		q = q.Eq("user_id", f.UserID)
	}
	if f.MinRating != nil {
		q = q.Gte("rating", *f.MinRating)
	}
	if f.Verified != nil {
		q = q.Eq("is_verified", *f.Verified)
	}
	if f.Featured != nil {
		q = q.Eq("is_featured", *f.Featured)
	}
	if f.MinLat != nil && f.MaxLat != nil && f.MinLon != nil && f.MaxLon != nil {
		q = q.Gte("latitude", *f.MinLat).Lte("latitude", *f.MaxLat).
			Gte("longitude", *f.MinLon).Lte("longitude", *f.MaxLon)
	}

	switch f.Sort {
	case SortRating:
		q = q.Order("rating", false).Order("review_count", false)
	case SortReviews:
		q = q.Order("review_count", false).Order("rating", false)
	case SortNewest:
		q = q.Order("created_at", false)
	case SortViews:
		q = q.Order("view_count", false)
	default:
		q = q.Order("is_featured", false).Order("rating", false)
	}
	q = applyRange(q.Order("id", true), f.Limit, f.Offset)

	resp, err := q.Execute(ctx)
	if err != nil {
		return nil, 0, wrapError("search providers", err)
	}
	providers, err := decodeRows[Provider](resp, "providers")
	if err != nil {
		return nil, 0, err
	}
	return providers, totalOf(resp, len(providers)), nil
}

// GetProvider fetches a listing by id, including soft-deleted ones.
func (r *Repository) GetProvider(ctx context.Context, id string) (*Provider, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	resp, err := r.client.From("providers").Select(providerSelect).Eq("id", id).Limit(1).Execute(ctx)
	if err != nil {
		return nil, wrapError("get provider", err)
	}
	return firstRow[Provider](resp, "provider", id)
}

// GetProviderBySlug fetches a listing by slug, including soft-deleted ones.
func (r *Repository) GetProviderBySlug(ctx context.Context, slug string) (*Provider, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("slug", slug); err != nil {
		return nil, err
	}
	resp, err := r.client.From("providers").Select(providerSelect).Eq("slug", slug).Limit(1).Execute(ctx)
	if err != nil {
		return nil, wrapError("get provider", err)
	}
	return firstRow[Provider](resp, "provider", slug)
}

// GetProviderByUser fetches the live listing owned by a user.
func (r *Repository) GetProviderByUser(ctx context.Context, userID string) (*Provider, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	resp, err := r.client.From("providers").
		Select(providerSelect).
		Eq("user_id", userID).
		Is("deleted_at", nil).
		Order("created_at", true).
		Limit(1).
		Execute(ctx)
	if err != nil {
		return nil, wrapError("get provider by user", err)
	}
	return firstRow[Provider](resp, "provider for user", userID)
}

// ListProvidersByIDs fetches listings by id. Missing ids are skipped.
func (r *Repository) ListProvidersByIDs(ctx context.Context, ids []string) ([]Provider, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	resp, err := r.client.From("providers").Select(providerSelect).In("id", ids).Execute(ctx)
	if err != nil {
		return nil, wrapError("list providers", err)
	}
	return decodeRows[Provider](resp, "providers")
}

// CreateProvider inserts a listing. Status defaults to pending.
func (r *Repository) CreateProvider(ctx context.Context, in ProviderInput) (*Provider, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("user_id", in.UserID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.BusinessName) == "" {
		return nil, fmt.Errorf("%w: business_name is required", ErrInvalidInput)
	}
	if err := requireID("slug", in.Slug); err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = ProviderStatusPending
	}
	if err := ValidateStatus(in.Status, ProviderStatuses); err != nil {
		return nil, err
	}

	resp, err := r.client.From("providers").Select(providerSelect).ExecuteInsert(ctx, in)
	if err != nil {
		return nil, wrapError("create provider", err)
	}
	return firstRow[Provider](resp, "provider", in.Slug)
}

// UpdateProvider patches a listing and stamps updated_at.
func (r *Repository) UpdateProvider(ctx context.Context, id string, u ProviderUpdate) (*Provider, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	if u.Status != nil {
		if err := ValidateStatus(*u.Status, ProviderStatuses); err != nil {
			return nil, err
		}
	}
	u.UpdatedAt = r.nowPtr()

	resp, err := r.client.From("providers").Select(providerSelect).Eq("id", id).ExecuteUpdate(ctx, u)
	if err != nil {
		return nil, wrapError("update provider", err)
	}
	return firstRow[Provider](resp, "provider", id)
}

// SlugExists reports whether any listing, live or deleted, uses slug.
func (r *Repository) SlugExists(ctx context.Context, slug string) (bool, error) {
	if err := r.ready(); err != nil {
		return false, err
	}
	resp, err := r.client.From("providers").Select("id").Eq("slug", slug).Limit(1).Execute(ctx)
	if err != nil {
		return false, wrapError("check slug", err)
	}
	rows, err := decodeRows[struct {
		ID string `json:"id"`
	}](resp, "providers")
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// IncrementProviderViews bumps view_count atomically in Postgres.
func (r *Repository) IncrementProviderViews(ctx context.Context, id string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := requireID("id", id); err != nil {
		return err
	}
	_, err := r.client.RPC(ctx, "increment_provider_views", map[string]string{"provider_id": id})
	return wrapError("increment provider views", err)
}

// CountProvidersByStatus counts live listings in every status.
func (r *Repository) CountProvidersByStatus(ctx context.Context) (map[string]int, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(ProviderStatuses))
	for _, status := range ProviderStatuses {
		q := r.client.From("providers").Select("id").Eq("status", status).Is("deleted_at", nil)
		n, err := count(ctx, "count providers", q)
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, nil
}
