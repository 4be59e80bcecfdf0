// Package database provides typed access to the NeedFul tables through the
// Supabase REST API.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/needful-app/needful/supabase/client"
)

// pageSize is the PostgREST max-rows default; bulk reads page at this size.
const pageSize = 1000

// Repository implements RepositoryInterface over PostgREST.
type Repository struct {
	client *client.Client
	now    func() time.Time
}

// NewRepository creates a repository backed by c.
func NewRepository(c *client.Client) *Repository {
	return &Repository{client: c, now: time.Now}
}

// Client returns the underlying Supabase client.
func (r *Repository) Client() *client.Client {
	if r == nil {
		return nil
	}
	return r.client
}

func (r *Repository) ready() error {
	if r == nil || r.client == nil {
		return fmt.Errorf("%w: repository not initialized", ErrDatabaseError)
	}
	return nil
}

// Ping checks that PostgREST answers queries.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.ready(); err != nil {
		return err
	}
	_, err := r.client.From("categories").Select("id").Limit(1).Execute(ctx)
	return wrapError("ping", err)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (r *Repository) nowPtr() *time.Time {
	t := r.now().UTC()
	return &t
}

func requireID(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrInvalidInput, name)
	}
	return nil
}

// decodeRows unmarshals an array response.
func decodeRows[T any](resp *client.Response, op string) ([]T, error) {
	var rows []T
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("%w: unmarshal %s: %v", ErrDatabaseError, op, err)
	}
	return rows, nil
}

// firstRow returns the first element of an array response or a not found
// error for entity/id.
func firstRow[T any](resp *client.Response, entity, id string) (*T, error) {
	rows, err := decodeRows[T](resp, entity)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, NewNotFoundError(entity, id)
	}
	return &rows[0], nil
}

// fetchAll pages through a query until fewer than pageSize rows come back or
// limit rows have been read. build must return a fresh, ordered builder.
func fetchAll[T any](ctx context.Context, op string, limit int, build func() *client.QueryBuilder) ([]T, error) {
	var out []T
	for offset := 0; ; offset += pageSize {
		resp, err := build().Range(offset, offset+pageSize-1).Execute(ctx)
		if err != nil {
			return nil, wrapError(op, err)
		}
		rows, err := decodeRows[T](resp, op)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
		if len(rows) < pageSize || (limit > 0 && len(out) >= limit) {
			break
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// count runs q with an exact count and returns the reported total.
func count(ctx context.Context, op string, q *client.QueryBuilder) (int, error) {
	resp, err := q.Count(client.CountExact).Limit(1).Execute(ctx)
	if err != nil {
		return 0, wrapError(op, err)
	}
	n, ok := resp.Count()
	if !ok {
		return 0, fmt.Errorf("%w: %s: missing row count", ErrDatabaseError, op)
	}
	return n, nil
}

// totalOf returns the Content-Range total, falling back to fallback.
func totalOf(resp *client.Response, fallback int) int {
	if n, ok := resp.Count(); ok {
		return n
	}
	return fallback
}

func applyRange(q *client.QueryBuilder, limit, offset int) *client.QueryBuilder {
	if limit <= 0 {
		return q
	}
	if offset < 0 {
		offset = 0
	}
	return q.Range(offset, offset+limit-1)
}
