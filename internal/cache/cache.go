// Package cache provides a small key/value cache with Redis and in-memory
// backends plus JSON helpers.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Well-known keys.
const (
	KeyCategories       = "categories:all"
	KeyFeaturedProvider = "providers:featured"
	KeyAdminStats       = "stats:admin"
)

// Cache stores opaque values with a TTL.
type Cache interface {
	// Get returns the value and true, or nil and false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}

// Observer is told about every JSON lookup.
type Observer func(key string, hit bool)

// GetJSON decodes a cached value into v. A value that no longer decodes is
// treated as a miss.
func GetJSON(ctx context.Context, c Cache, key string, v any) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, nil
	}
	return true, nil
}

// SetJSON encodes v and stores it.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}

// Remember returns the cached value for key, or calls load, stores its
// result and returns it. Cache failures fall through to load; load errors
// are returned and nothing is stored. A nil cache always loads.
func Remember[T any](ctx context.Context, c Cache, key string, ttl time.Duration, observe Observer, load func(context.Context) (T, error)) (T, error) {
	var cached T
	if c != nil {
		hit, err := GetJSON(ctx, c, key, &cached)
		if observe != nil {
			observe(key, hit && err == nil)
		}
		if err == nil && hit {
			return cached, nil
		}
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if c != nil {
		// A failed write only costs a future miss.
		_ = SetJSON(ctx, c, key, value, ttl)
	}
	return value, nil
}

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("cache closed")
