package database

import (
	"context"
	"fmt"

	"github.com/needful-app/needful/supabase/client"
)

const reviewSelect = "*,user:users(full_name,avatar_url),provider:providers(id,business_name,slug)"

func validateRating(rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidInput)
	}
	return nil
}

// ListReviews returns a page of reviews, newest first, and the total count.
func (r *Repository) ListReviews(ctx context.Context, f ReviewFilter) ([]Review, int, error) {
	if err := r.ready(); err != nil {
		return nil, 0, err
	}
	q := r.client.From("reviews").Select(reviewSelect).Count(client.CountExact)
	if f.ProviderID != "" {
		q = q.Eq("provider_id", f.ProviderID)
	}
	if f.UserID != "" {
		q = q.Eq("user_id", f.UserID)
	}
	if f.Status != "" {
		if err := ValidateStatus(f.Status, ReviewStatuses); err != nil {
			return nil, 0, err
		}
		q = q.Eq("status", f.Status)
	}
	q = applyRange(q.Order("created_at", false).Order("id", true), f.Limit, f.Offset)

	resp, err := q.Execute(ctx)
	if err != nil {
		return nil, 0, wrapError("list reviews", err)
	}
	reviews, err := decodeRows[Review](resp, "reviews")
	if err != nil {
		return nil, 0, err
	}
	return reviews, totalOf(resp, len(reviews)), nil
}

// GetReview fetches a review by id.
func (r *Repository) GetReview(ctx context.Context, id string) (*Review, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	resp, err := r.client.From("reviews").Select(reviewSelect).Eq("id", id).Limit(1).Execute(ctx)
	if err != nil {
		return nil, wrapError("get review", err)
	}
	return firstRow[Review](resp, "review", id)
}

// CreateReview inserts a review. A second review by the same user for the
// same provider fails with ErrConflict.
func (r *Repository) CreateReview(ctx context.Context, in ReviewInput) (*Review, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("provider_id", in.ProviderID); err != nil {
		return nil, err
	}
	if err := requireID("user_id", in.UserID); err != nil {
		return nil, err
	}
	if err := validateRating(in.Rating); err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = ReviewStatusPublished
	}
	if err := ValidateStatus(in.Status, ReviewStatuses); err != nil {
		return nil, err
	}

	resp, err := r.client.From("reviews").Select(reviewSelect).ExecuteInsert(ctx, in)
	if err != nil {
		return nil, wrapError("create review", err)
	}
	return firstRow[Review](resp, "review", in.ProviderID)
}

// UpdateReview patches a review and stamps updated_at.
func (r *Repository) UpdateReview(ctx context.Context, id string, u ReviewUpdate) (*Review, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	if u.Rating != nil {
		if err := validateRating(*u.Rating); err != nil {
			return nil, err
		}
	}
	if u.Status != nil {
		if err := ValidateStatus(*u.Status, ReviewStatuses); err != nil {
			return nil, err
		}
	}
	u.UpdatedAt = r.nowPtr()

	resp, err := r.client.From("reviews").Select(reviewSelect).Eq("id", id).ExecuteUpdate(ctx, u)
	if err != nil {
		return nil, wrapError("update review", err)
	}
	return firstRow[Review](resp, "review", id)
}

// DeleteReview removes a review.
func (r *Repository) DeleteReview(ctx context.Context, id string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := requireID("id", id); err != nil {
		return err
	}
	resp, err := r.client.From("reviews").Eq("id", id).ExecuteDelete(ctx)
	if err != nil {
		return wrapError("delete review", err)
	}
	_, err = firstRow[Review](resp, "review", id)
	return err
}

// PublishedRatings returns the rating of every published review of a
// provider.
func (r *Repository) PublishedRatings(ctx context.Context, providerID string) ([]int, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("provider_id", providerID); err != nil {
		return nil, err
	}
	type row struct {
		Rating int `json:"rating"`
	}
	rows, err := fetchAll[row](ctx, "published ratings", 0, func() *client.QueryBuilder {
		return r.client.From("reviews").
			Select("rating").
			Eq("provider_id", providerID).
			Eq("status", ReviewStatusPublished).
			Order("id", true)
	})
	if err != nil {
		return nil, err
	}
	ratings := make([]int, len(rows))
	for i, rw := range rows {
		ratings[i] = rw.Rating
	}
	return ratings, nil
}
