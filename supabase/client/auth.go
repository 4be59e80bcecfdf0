package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// AuthClient wraps the GoTrue endpoints used server-side.
type AuthClient struct {
	client *Client
}

// Auth returns an auth client.
func (c *Client) Auth() *AuthClient {
	return &AuthClient{client: c}
}

// User is a Supabase Auth user.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	Phone            string         `json:"phone"`
	Role             string         `json:"role"`
	EmailConfirmedAt string         `json:"email_confirmed_at"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
	AppMetadata      map[string]any `json:"app_metadata"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

// AppRole returns app_metadata.role, which the project sets for admins.
func (u *User) AppRole() string {
	if u == nil || u.AppMetadata == nil {
		return ""
	}
	role, _ := u.AppMetadata["role"].(string)
	return role
}

// FullName returns user_metadata.full_name when present.
func (u *User) FullName() string {
	if u == nil || u.UserMetadata == nil {
		return ""
	}
	name, _ := u.UserMetadata["full_name"].(string)
	return name
}

// GetUser resolves an access token to its user.
func (a *AuthClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	req, err := a.client.newRequest(ctx, http.MethodGet, a.client.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}

	var user User
	if err := resp.JSON(&user); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("auth response missing user id")
	}
	return &user, nil
}
