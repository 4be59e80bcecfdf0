// Package middleware provides HTTP middleware for the directory API.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/internal/logging"
	"github.com/needful-app/needful/supabase/client"
)

// Claims are the fields of a Supabase access token used by the API.
type Claims struct {
	Email        string         `json:"email,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	Role         string         `json:"role,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// AppRole returns app_metadata.role.
func (c *Claims) AppRole() string {
	if c.AppMetadata == nil {
		return ""
	}
	role, _ := c.AppMetadata["role"].(string)
	return role
}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	UserID   string
	Email    string
	FullName string
	Role     string
	Granted  bool // Role comes from the configured allowlists
}

type identityKey struct{}

// WithIdentity stores id in ctx along with the logging user and role keys.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, identityKey{}, id)
	ctx = logging.WithUserID(ctx, id.UserID)
	if id.Role != "" {
		ctx = logging.WithRole(ctx, id.Role)
	}
	return ctx
}

// IdentityFromContext returns the caller identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// GetUserID extracts user ID from context.
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// GetUserRole extracts user role from context.
func GetUserRole(ctx context.Context) string {
	return logging.GetRole(ctx)
}

// UserFetcher resolves an access token remotely. *client.AuthClient
// satisfies it.
type UserFetcher interface {
	GetUser(ctx context.Context, accessToken string) (*client.User, error)
}

// AuthConfig configures AuthMiddleware. At least one of JWTSecret or Remote
// must be set.
type AuthConfig struct {
	JWTSecret string
	Remote    UserFetcher
	Roles     *RoleResolver
	Logger    *logging.Logger
}

// AuthMiddleware verifies Supabase access tokens. With a JWT secret tokens
// are verified locally (HS256); otherwise each token is checked against
// Supabase Auth.
type AuthMiddleware struct {
	secret []byte
	remote UserFetcher
	roles  *RoleResolver
	logger *logging.Logger
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(cfg AuthConfig) (*AuthMiddleware, error) {
	if cfg.JWTSecret == "" && cfg.Remote == nil {
		return nil, fmt.Errorf("auth requires a JWT secret or a remote verifier")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &AuthMiddleware{
		secret: []byte(cfg.JWTSecret),
		remote: cfg.Remote,
		roles:  cfg.Roles,
		logger: logger,
	}, nil
}

// Handler rejects requests without a valid bearer token.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		id, err := m.Authenticate(r.Context(), token)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := WithIdentity(r.Context(), id)
		m.logger.WithContext(ctx).Debug("authentication successful")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional attaches the identity when a valid token is present and
// otherwise serves the request anonymously.
func (m *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, err := bearerToken(r)
		if err == nil {
			var id Identity
			if id, err = m.Authenticate(r.Context(), token); err == nil {
				r = r.WithContext(WithIdentity(r.Context(), id))
			}
		}
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Debug("ignoring invalid token on public route")
		}
		next.ServeHTTP(w, r)
	})
}

// Authenticate verifies token and returns the caller identity.
func (m *AuthMiddleware) Authenticate(ctx context.Context, token string) (Identity, error) {
	if len(m.secret) > 0 {
		claims, err := m.validateToken(token)
		if err != nil {
			return Identity{}, err
		}
		id := Identity{UserID: claims.Subject, Email: claims.Email}
		if name, ok := claims.UserMetadata["full_name"].(string); ok {
			id.FullName = name
		}
		id.Role = m.roles.Resolve(id.UserID, claims.AppRole())
		id.Granted = m.roles.Granted(id.UserID)
		return id, nil
	}

	user, err := m.remote.GetUser(ctx, token)
	if err != nil {
		if client.IsUnauthorized(err) {
			return Identity{}, errors.InvalidToken(err)
		}
		return Identity{}, errors.Unavailable("authentication service unavailable", err)
	}
	return Identity{
		UserID:   user.ID,
		Email:    user.Email,
		FullName: user.FullName(),
		Role:     m.roles.Resolve(user.ID, user.AppRole()),
		Granted:  m.roles.Granted(user.ID),
	}, nil
}

func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.InvalidToken(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid claims")
	}
	if claims.Subject == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing subject")
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.Unauthorized("missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.Unauthorized("invalid Authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteError(w, r, err)

	m.logger.WithContext(r.Context()).WithError(err).WithFields(logrus.Fields{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": errors.HTTPStatus(err),
	}).Warn("authentication failed")
}

// RequireUserID ensures a user ID is present in context.
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			httputil.Unauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
