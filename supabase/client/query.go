package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Count modes understood by PostgREST's Prefer header.
const (
	CountExact     = "exact"
	CountPlanned   = "planned"
	CountEstimated = "estimated"
)

type queryParam struct {
	key   string
	value string
}

// QueryBuilder builds PostgREST queries. Builders are single-use.
type QueryBuilder struct {
	client     *Client
	table      string
	columns    string
	filters    []queryParam
	orders     []string
	limit      int
	offset     int
	single     bool
	count      string
	onConflict string
	upsert     bool
}

// From starts a query builder for a table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{client: c, table: table}
}

// Select specifies columns to select, including embedded resources.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.columns = columns
	return q
}

func (q *QueryBuilder) filter(column, op string, value any) *QueryBuilder {
	q.filters = append(q.filters, queryParam{key: column, value: op + "." + formatValue(value)})
	return q
}

func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	return q.filter(column, "eq", value)
}

func (q *QueryBuilder) Neq(column string, value any) *QueryBuilder {
	return q.filter(column, "neq", value)
}

func (q *QueryBuilder) Gt(column string, value any) *QueryBuilder {
	return q.filter(column, "gt", value)
}

func (q *QueryBuilder) Gte(column string, value any) *QueryBuilder {
	return q.filter(column, "gte", value)
}

func (q *QueryBuilder) Lt(column string, value any) *QueryBuilder {
	return q.filter(column, "lt", value)
}

func (q *QueryBuilder) Lte(column string, value any) *QueryBuilder {
	return q.filter(column, "lte", value)
}

// Like adds a LIKE filter. Use * as the wildcard.
func (q *QueryBuilder) Like(column, pattern string) *QueryBuilder {
	return q.filter(column, "like", pattern)
}

// ILike adds a case-insensitive LIKE filter. Use * as the wildcard.
func (q *QueryBuilder) ILike(column, pattern string) *QueryBuilder {
	return q.filter(column, "ilike", pattern)
}

// In adds an IN filter. Values containing commas or parentheses are quoted.
func (q *QueryBuilder) In(column string, values []string) *QueryBuilder {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quoteListValue(v)
	}
	q.filters = append(q.filters, queryParam{key: column, value: "in.(" + strings.Join(quoted, ",") + ")"})
	return q
}

// Is adds an IS filter for null, true or false.
func (q *QueryBuilder) Is(column string, value any) *QueryBuilder {
	if value == nil {
		value = "null"
	}
	return q.filter(column, "is", value)
}

// Or adds a disjunction, e.g. "name.ilike.*plumb*,description.ilike.*plumb*".
func (q *QueryBuilder) Or(expr string) *QueryBuilder {
	q.filters = append(q.filters, queryParam{key: "or", value: "(" + expr + ")"})
	return q
}

// Order adds an ORDER BY clause. Nulls sort last.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.orders = append(q.orders, column+"."+dir+".nullslast")
	return q
}

func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.offset = n
	return q
}

// Range selects rows from..to inclusive.
func (q *QueryBuilder) Range(from, to int) *QueryBuilder {
	if from < 0 || to < from {
		return q
	}
	q.offset = from
	q.limit = to - from + 1
	return q
}

// Single expects exactly one row. Zero rows yields an APIError for which
// IsNotFound reports true.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.single = true
	return q
}

// Count asks PostgREST to report the total row count in Content-Range.
func (q *QueryBuilder) Count(mode string) *QueryBuilder {
	q.count = mode
	return q
}

// Upsert turns the next ExecuteInsert into an upsert resolving conflicts on
// the given comma-separated columns.
func (q *QueryBuilder) Upsert(onConflict string) *QueryBuilder {
	q.upsert = true
	q.onConflict = onConflict
	return q
}

func (q *QueryBuilder) tableURL(params url.Values) string {
	u := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, q.table)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (q *QueryBuilder) filterParams() url.Values {
	params := url.Values{}
	for _, f := range q.filters {
		params.Add(f.key, f.value)
	}
	return params
}

func (q *QueryBuilder) prefer(extra ...string) string {
	parts := append([]string{}, extra...)
	if q.count != "" {
		parts = append(parts, "count="+q.count)
	}
	return strings.Join(parts, ",")
}

// Execute runs a SELECT.
func (q *QueryBuilder) Execute(ctx context.Context) (*Response, error) {
	params := q.filterParams()
	if q.columns != "" {
		params.Set("select", q.columns)
	}
	if len(q.orders) > 0 {
		params.Set("order", strings.Join(q.orders, ","))
	}
	if q.limit > 0 {
		params.Set("limit", strconv.Itoa(q.limit))
	}
	if q.offset > 0 {
		params.Set("offset", strconv.Itoa(q.offset))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.tableURL(params), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}
	q.client.setHeaders(req)
	if p := q.prefer(); p != "" {
		req.Header.Set("Prefer", p)
	}
	return q.client.do(req)
}

// ExecuteInsert inserts one row or a slice of rows and returns the
// representation.
func (q *QueryBuilder) ExecuteInsert(ctx context.Context, data any) (*Response, error) {
	params := url.Values{}
	if q.columns != "" {
		params.Set("select", q.columns)
	}
	prefer := []string{"return=representation"}
	if q.upsert {
		prefer = append([]string{"resolution=merge-duplicates"}, prefer...)
		if q.onConflict != "" {
			params.Set("on_conflict", q.onConflict)
		}
	}
	return q.write(ctx, http.MethodPost, params, data, prefer)
}

// ExecuteUpdate patches every row matching the filters. At least one filter
// is required.
func (q *QueryBuilder) ExecuteUpdate(ctx context.Context, data any) (*Response, error) {
	if len(q.filters) == 0 {
		return nil, fmt.Errorf("update on %s requires a filter", q.table)
	}
	params := q.filterParams()
	if q.columns != "" {
		params.Set("select", q.columns)
	}
	return q.write(ctx, http.MethodPatch, params, data, []string{"return=representation"})
}

// ExecuteDelete deletes every row matching the filters. At least one filter
// is required.
func (q *QueryBuilder) ExecuteDelete(ctx context.Context) (*Response, error) {
	if len(q.filters) == 0 {
		return nil, fmt.Errorf("delete on %s requires a filter", q.table)
	}
	return q.write(ctx, http.MethodDelete, q.filterParams(), nil, []string{"return=representation"})
}

func (q *QueryBuilder) write(ctx context.Context, method string, params url.Values, data any, prefer []string) (*Response, error) {
	var body *bytes.Reader
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal data: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, q.tableURL(params), body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, q.tableURL(params), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q.client.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}
	req.Header.Set("Prefer", q.prefer(prefer...))
	return q.client.do(req)
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func quoteListValue(v string) string {
	if strings.ContainsAny(v, ",()\" ") {
		return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return v
}

// EscapeLike strips characters that have meaning inside PostgREST filter
// expressions so user text can be embedded in ilike and or filters.
func EscapeLike(s string) string {
	replacer := strings.NewReplacer(
		"*", "", "%", "", ",", " ", "(", " ", ")", " ", `"`, "", `\`, "", ":", " ",
	)
	return strings.TrimSpace(replacer.Replace(s))
}
