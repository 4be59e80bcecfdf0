package analytics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/needful-app/needful/internal/database"
)

// SQLStore aggregates directly in Postgres. It is used when a database DSN
// is configured, so large windows never leave the database.
type SQLStore struct {
	db *sqlx.DB
}

// OpenSQLStore connects to Postgres with lib/pq.
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect analytics database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &SQLStore{db: db}, nil
}

// NewSQLStore wraps an existing handle.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Close closes the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// where builds the shared window/provider predicate starting at $1.
func where(q Query) (string, []any) {
	clauses := []string{"created_at >= $1", "created_at < $2"}
	args := []any{q.Since.UTC(), q.Until.UTC()}
	if q.ProviderID != "" {
		args = append(args, q.ProviderID)
		clauses = append(clauses, "provider_id = $"+strconv.Itoa(len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

type dailyRow struct {
	Day       time.Time `db:"day"`
	EventType string    `db:"event_type"`
	Count     int       `db:"count"`
}

type providerRow struct {
	ProviderID string `db:"provider_id"`
	Count      int    `db:"count"`
}

type searchRow struct {
	Query string `db:"query"`
	Count int    `db:"count"`
}

// Summary implements Source.
func (s *SQLStore) Summary(ctx context.Context, q Query) (*Summary, error) {
	topN := q.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	cond, args := where(q)
	b := newBuilder(q)

	var daily []dailyRow
	dailySQL := `SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day, event_type, COUNT(*) AS count
		FROM analytics_events WHERE ` + cond + `
		GROUP BY 1, 2 ORDER BY 1`
	if err := s.db.SelectContext(ctx, &daily, dailySQL, args...); err != nil {
		return nil, fmt.Errorf("daily event counts: %w", err)
	}
	for _, r := range daily {
		b.add(r.Day.UTC().Format(dayLayout), r.EventType, r.Count)
	}

	limitArg := "$" + strconv.Itoa(len(args)+1)
	withLimit := append(append([]any{}, args...), topN)

	var providers []providerRow
	providerSQL := `SELECT provider_id::text AS provider_id, COUNT(*) AS count
		FROM analytics_events WHERE ` + cond + ` AND event_type = '` + database.EventProviderView + `' AND provider_id IS NOT NULL
		GROUP BY 1 ORDER BY 2 DESC, 1 LIMIT ` + limitArg
	if err := s.db.SelectContext(ctx, &providers, providerSQL, withLimit...); err != nil {
		return nil, fmt.Errorf("top providers: %w", err)
	}

	var searches []searchRow
	searchSQL := `SELECT lower(trim(metadata->>'query')) AS query, COUNT(*) AS count
		FROM analytics_events WHERE ` + cond + ` AND event_type = '` + database.EventSearch + `' AND coalesce(trim(metadata->>'query'), '') <> ''
		GROUP BY 1 ORDER BY 2 DESC, 1 LIMIT ` + limitArg
	if err := s.db.SelectContext(ctx, &searches, searchSQL, withLimit...); err != nil {
		return nil, fmt.Errorf("top searches: %w", err)
	}

	pc := make(map[string]int, len(providers))
	for _, r := range providers {
		pc[r.ProviderID] = r.Count
	}
	sc := make(map[string]int, len(searches))
	for _, r := range searches {
		sc[NormalizeSearch(r.Query)] += r.Count
	}
	return b.finish(pc, sc, topN), nil
}

// DeleteBefore removes events older than cutoff and returns the row count.
func (s *SQLStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analytics_events WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
