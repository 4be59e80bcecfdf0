package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/needful-app/needful/supabase/client"
)

// ListCategories returns categories ordered for display.
func (r *Repository) ListCategories(ctx context.Context, activeOnly bool) ([]Category, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	q := r.client.From("categories").Select("*")
	if activeOnly {
		q = q.Eq("is_active", true)
	}
	resp, err := q.Order("display_order", true).Order("name", true).Execute(ctx)
	if err != nil {
		return nil, wrapError("list categories", err)
	}
	return decodeRows[Category](resp, "categories")
}

// GetCategory fetches a category by id.
func (r *Repository) GetCategory(ctx context.Context, id string) (*Category, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	resp, err := r.client.From("categories").Select("*").Eq("id", id).Limit(1).Execute(ctx)
	if err != nil {
		return nil, wrapError("get category", err)
	}
	return firstRow[Category](resp, "category", id)
}

// GetCategoryBySlug fetches a category by slug.
func (r *Repository) GetCategoryBySlug(ctx context.Context, slug string) (*Category, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("slug", slug); err != nil {
		return nil, err
	}
	resp, err := r.client.From("categories").Select("*").Eq("slug", slug).Limit(1).Execute(ctx)
	if err != nil {
		return nil, wrapError("get category", err)
	}
	return firstRow[Category](resp, "category", slug)
}

// CreateCategory inserts a category. Name and slug are required.
func (r *Repository) CreateCategory(ctx context.Context, in CategoryInput) (*Category, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if in.Slug == nil || strings.TrimSpace(*in.Slug) == "" {
		return nil, fmt.Errorf("%w: slug is required", ErrInvalidInput)
	}
	resp, err := r.client.From("categories").ExecuteInsert(ctx, in)
	if err != nil {
		return nil, wrapError("create category", err)
	}
	return firstRow[Category](resp, "category", *in.Slug)
}

// UpdateCategory patches a category.
func (r *Repository) UpdateCategory(ctx context.Context, id string, in CategoryInput) (*Category, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	resp, err := r.client.From("categories").Eq("id", id).ExecuteUpdate(ctx, in)
	if err != nil {
		return nil, wrapError("update category", err)
	}
	return firstRow[Category](resp, "category", id)
}

// DeleteCategory removes a category. Listings referencing it keep a null
// category_id.
func (r *Repository) DeleteCategory(ctx context.Context, id string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := requireID("id", id); err != nil {
		return err
	}
	resp, err := r.client.From("categories").Eq("id", id).ExecuteDelete(ctx)
	if err != nil {
		return wrapError("delete category", err)
	}
	_, err = firstRow[Category](resp, "category", id)
	return err
}

// CountProvidersByCategory counts public listings per category id.
func (r *Repository) CountProvidersByCategory(ctx context.Context) (map[string]int, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	type row struct {
		CategoryID *string `json:"category_id"`
	}
	rows, err := fetchAll[row](ctx, "count providers by category", 0, func() *client.QueryBuilder {
		return r.client.From("providers").
			Select("category_id").
			Eq("status", ProviderStatusApproved).
			Is("deleted_at", nil).
			Order("id", true)
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, rw := range rows {
		if rw.CategoryID != nil {
			counts[*rw.CategoryID]++
		}
	}
	return counts, nil
}
