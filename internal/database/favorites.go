package database

import "context"

const favoriteSelect = "*,provider:providers(*,category:categories(*))"

// ListFavorites returns a user's saved providers, most recent first.
func (r *Repository) ListFavorites(ctx context.Context, userID string) ([]Favorite, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	resp, err := r.client.From("favorites").
		Select(favoriteSelect).
		Eq("user_id", userID).
		Order("created_at", false).
		Execute(ctx)
	if err != nil {
		return nil, wrapError("list favorites", err)
	}
	return decodeRows[Favorite](resp, "favorites")
}

// AddFavorite saves a provider. Saving twice returns the existing row.
func (r *Repository) AddFavorite(ctx context.Context, userID, providerID string) (*Favorite, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	if err := requireID("provider_id", providerID); err != nil {
		return nil, err
	}
	row := map[string]string{"user_id": userID, "provider_id": providerID}
	resp, err := r.client.From("favorites").Upsert("user_id,provider_id").ExecuteInsert(ctx, row)
	if err != nil {
		return nil, wrapError("add favorite", err)
	}
	return firstRow[Favorite](resp, "favorite", providerID)
}

// RemoveFavorite deletes a saved provider. Removing a missing favorite is not
// an error.
func (r *Repository) RemoveFavorite(ctx context.Context, userID, providerID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := requireID("user_id", userID); err != nil {
		return err
	}
	if err := requireID("provider_id", providerID); err != nil {
		return err
	}
	_, err := r.client.From("favorites").Eq("user_id", userID).Eq("provider_id", providerID).ExecuteDelete(ctx)
	return wrapError("remove favorite", err)
}
