package database

import (
	"context"
	"fmt"

	"github.com/needful-app/needful/supabase/client"
)

// GetUser fetches a profile by auth uid.
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	resp, err := r.client.From("users").Select("*").Eq("id", id).Limit(1).Execute(ctx)
	if err != nil {
		return nil, wrapError("get user", err)
	}
	return firstRow[User](resp, "user", id)
}

// EnsureUser returns the stored profile for u.ID, inserting u first when the
// row does not exist yet. An existing row is never overwritten.
func (r *Repository) EnsureUser(ctx context.Context, u *User) (*User, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%w: user cannot be nil", ErrInvalidInput)
	}
	if err := requireID("id", u.ID); err != nil {
		return nil, err
	}

	existing, err := r.GetUser(ctx, u.ID)
	if err == nil {
		return existing, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	row := map[string]any{
		"id":    u.ID,
		"email": u.Email,
		"role":  UserRoleUser,
	}
	if u.FullName != "" {
		row["full_name"] = u.FullName
	}
	if u.AvatarURL != "" {
		row["avatar_url"] = u.AvatarURL
	}

	resp, err := r.client.From("users").ExecuteInsert(ctx, row)
	if err != nil {
		if client.IsConflict(err) {
			// Lost a race with a concurrent first request.
			return r.GetUser(ctx, u.ID)
		}
		return nil, wrapError("create user", err)
	}
	return firstRow[User](resp, "user", u.ID)
}

// UpdateUser patches a profile.
func (r *Repository) UpdateUser(ctx context.Context, id string, u UserUpdate) (*User, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	if u.Role != nil {
		if err := ValidateStatus(*u.Role, userRoles); err != nil {
			return nil, err
		}
	}
	u.UpdatedAt = r.nowPtr()

	resp, err := r.client.From("users").Eq("id", id).ExecuteUpdate(ctx, u)
	if err != nil {
		return nil, wrapError("update user", err)
	}
	return firstRow[User](resp, "user", id)
}

// ListUsers returns a page of users and the total matching count.
func (r *Repository) ListUsers(ctx context.Context, f UserFilter) ([]User, int, error) {
	if err := r.ready(); err != nil {
		return nil, 0, err
	}
	q := r.client.From("users").Select("*").Count(client.CountExact)
	if f.Role != "" {
		if err := ValidateStatus(f.Role, userRoles); err != nil {
			return nil, 0, err
		}
		q = q.Eq("role", f.Role)
	}
	if s := client.EscapeLike(f.Search); s != "" {
		q = q.Or(fmt.Sprintf("email.ilike.*%s*,full_name.ilike.*%s*", s, s))
	}
	q = applyRange(q.Order("created_at", false), f.Limit, f.Offset)

	resp, err := q.Execute(ctx)
	if err != nil {
		return nil, 0, wrapError("list users", err)
	}
	users, err := decodeRows[User](resp, "users")
	if err != nil {
		return nil, 0, err
	}
	return users, totalOf(resp, len(users)), nil
}

// UserRole returns the stored role of a user.
func (r *Repository) UserRole(ctx context.Context, id string) (string, error) {
	if err := r.ready(); err != nil {
		return "", err
	}
	if err := requireID("id", id); err != nil {
		return "", err
	}
	resp, err := r.client.From("users").Select("role").Eq("id", id).Limit(1).Execute(ctx)
	if err != nil {
		return "", wrapError("get user role", err)
	}
	row, err := firstRow[struct {
		Role string `json:"role"`
	}](resp, "user", id)
	if err != nil {
		return "", err
	}
	return row.Role, nil
}

// CountUsers returns the number of profiles.
func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	return count(ctx, "count users", r.client.From("users").Select("id"))
}
