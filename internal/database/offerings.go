package database

import (
	"context"
	"fmt"
	"strings"
)

// ListServices returns the offerings of a provider, oldest first.
func (r *Repository) ListServices(ctx context.Context, providerID string, activeOnly bool) ([]ProviderService, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("provider_id", providerID); err != nil {
		return nil, err
	}
	q := r.client.From("services").Select("*").Eq("provider_id", providerID)
	if activeOnly {
		q = q.Eq("is_active", true)
	}
	resp, err := q.Order("created_at", true).Execute(ctx)
	if err != nil {
		return nil, wrapError("list services", err)
	}
	return decodeRows[ProviderService](resp, "services")
}

// CreateService inserts an offering.
func (r *Repository) CreateService(ctx context.Context, in ServiceInput) (*ProviderService, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("provider_id", in.ProviderID); err != nil {
		return nil, err
	}
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	resp, err := r.client.From("services").ExecuteInsert(ctx, in)
	if err != nil {
		return nil, wrapError("create service", err)
	}
	return firstRow[ProviderService](resp, "service", *in.Name)
}

// UpdateService patches an offering owned by providerID.
func (r *Repository) UpdateService(ctx context.Context, providerID, id string, in ServiceInput) (*ProviderService, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("provider_id", providerID); err != nil {
		return nil, err
	}
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	in.ProviderID = ""
	resp, err := r.client.From("services").Eq("id", id).Eq("provider_id", providerID).ExecuteUpdate(ctx, in)
	if err != nil {
		return nil, wrapError("update service", err)
	}
	return firstRow[ProviderService](resp, "service", id)
}

// DeleteService removes an offering owned by providerID.
func (r *Repository) DeleteService(ctx context.Context, providerID, id string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := requireID("provider_id", providerID); err != nil {
		return err
	}
	if err := requireID("id", id); err != nil {
		return err
	}
	resp, err := r.client.From("services").Eq("id", id).Eq("provider_id", providerID).ExecuteDelete(ctx)
	if err != nil {
		return wrapError("delete service", err)
	}
	_, err = firstRow[ProviderService](resp, "service", id)
	return err
}

// ListImages returns a provider's gallery in display order.
func (r *Repository) ListImages(ctx context.Context, providerID string) ([]ProviderImage, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("provider_id", providerID); err != nil {
		return nil, err
	}
	resp, err := r.client.From("provider_images").
		Select("*").
		Eq("provider_id", providerID).
		Order("display_order", true).
		Order("created_at", true).
		Execute(ctx)
	if err != nil {
		return nil, wrapError("list images", err)
	}
	return decodeRows[ProviderImage](resp, "provider_images")
}

// GetImage fetches a gallery image by id.
func (r *Repository) GetImage(ctx context.Context, id string) (*ProviderImage, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	resp, err := r.client.From("provider_images").Select("*").Eq("id", id).Limit(1).Execute(ctx)
	if err != nil {
		return nil, wrapError("get image", err)
	}
	return firstRow[ProviderImage](resp, "image", id)
}

// CreateImage inserts a gallery image row. ID and CreatedAt are assigned by
// the database.
func (r *Repository) CreateImage(ctx context.Context, img ProviderImage) (*ProviderImage, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("provider_id", img.ProviderID); err != nil {
		return nil, err
	}
	if err := requireID("image_url", img.ImageURL); err != nil {
		return nil, err
	}
	row := struct {
		ProviderID   string `json:"provider_id"`
		ImageURL     string `json:"image_url"`
		StoragePath  string `json:"storage_path,omitempty"`
		Caption      string `json:"caption,omitempty"`
		DisplayOrder int    `json:"display_order"`
	}{img.ProviderID, img.ImageURL, img.StoragePath, img.Caption, img.DisplayOrder}

	resp, err := r.client.From("provider_images").ExecuteInsert(ctx, row)
	if err != nil {
		return nil, wrapError("create image", err)
	}
	return firstRow[ProviderImage](resp, "image", img.ImageURL)
}

// DeleteImage removes a gallery image row.
func (r *Repository) DeleteImage(ctx context.Context, id string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := requireID("id", id); err != nil {
		return err
	}
	resp, err := r.client.From("provider_images").Eq("id", id).ExecuteDelete(ctx)
	if err != nil {
		return wrapError("delete image", err)
	}
	_, err = firstRow[ProviderImage](resp, "image", id)
	return err
}
