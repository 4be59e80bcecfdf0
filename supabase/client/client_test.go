package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/needful-app/needful/internal/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL + "/", APIKey: "service-key"})
	require.NoError(t, err)
	return c
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.Error(t, err)
	_, err = New(Config{URL: "http://x"})
	assert.Error(t, err)
}

func TestSelectBuildsPostgRESTQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/providers", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "id,business_name", q.Get("select"))
		assert.Equal(t, "eq.approved", q.Get("status"))
		assert.Equal(t, "is.null", q.Get("deleted_at"))
		assert.Equal(t, "gte.4.5", q.Get("rating"))
		assert.Equal(t, "(business_name.ilike.*plumb*,description.ilike.*plumb*)", q.Get("or"))
		assert.Equal(t, `in.(a,"b,c")`, q.Get("category_id"))
		assert.Equal(t, "rating.desc.nullslast,created_at.asc.nullslast", q.Get("order"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "20", q.Get("offset"))
		assert.Equal(t, "count=exact", r.Header.Get("Prefer"))
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		assert.Equal(t, "trace-1", r.Header.Get("X-Request-ID"))

		w.Header().Set("Content-Range", "20-29/57")
		_, _ = w.Write([]byte(`[{"id":"p1","business_name":"Ravi Plumbing"}]`))
	})

	ctx := logging.WithTraceID(context.Background(), "trace-1")
	resp, err := c.From("providers").
		Select("id,business_name").
		Eq("status", "approved").
		Is("deleted_at", nil).
		Gte("rating", 4.5).
		Or("business_name.ilike.*plumb*,description.ilike.*plumb*").
		In("category_id", []string{"a", "b,c"}).
		Order("rating", false).
		Order("created_at", true).
		Range(20, 29).
		Count(CountExact).
		Execute(ctx)
	require.NoError(t, err)

	total, ok := resp.Count()
	assert.True(t, ok)
	assert.Equal(t, 57, total)

	var rows []map[string]any
	require.NoError(t, resp.JSON(&rows))
	assert.Len(t, rows, 1)
}

func TestSingleNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.pgrst.object+json", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusNotAcceptable)
		_, _ = w.Write([]byte(`{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned"}`))
	})

	_, err := c.From("categories").Select("*").Eq("slug", "nope").Single().Execute(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
}

func TestInsertConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"23505","message":"duplicate key value violates unique constraint","details":"Key (provider_id, user_id) already exists."}`))
	})

	_, err := c.From("reviews").ExecuteInsert(context.Background(), map[string]any{"rating": 5})
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "23505", apiErr.Code)
	assert.Contains(t, apiErr.Details, "already exists")
}

func TestUpsertSetsResolution(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user_id,provider_id", r.URL.Query().Get("on_conflict"))
		assert.Equal(t, "resolution=merge-duplicates,return=representation", r.Header.Get("Prefer"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"user_id":"u1","provider_id":"p1"}`, string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	})

	resp, err := c.From("favorites").Upsert("user_id,provider_id").
		ExecuteInsert(context.Background(), map[string]string{"user_id": "u1", "provider_id": "p1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestUpdateAndDeleteRequireFilter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL)
	})
	_, err := c.From("providers").ExecuteUpdate(context.Background(), map[string]any{"is_featured": true})
	assert.Error(t, err)
	_, err = c.From("providers").ExecuteDelete(context.Background())
	assert.Error(t, err)
}

func TestUpdateSendsFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.p1", r.URL.Query().Get("id"))
		_, _ = w.Write([]byte(`[{"id":"p1","is_featured":true}]`))
	})
	_, err := c.From("providers").Eq("id", "p1").ExecuteUpdate(context.Background(), map[string]any{"is_featured": true})
	require.NoError(t, err)
}

func TestRPC(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/increment_provider_views", r.URL.Path)
		var params map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "p1", params["provider_id"])
		w.WriteHeader(http.StatusNoContent)
	})
	_, err := c.RPC(context.Background(), "increment_provider_views", map[string]string{"provider_id": "p1"})
	require.NoError(t, err)
}

func TestAuthGetUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer user-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1","email":"a@b.c","app_metadata":{"role":"admin"},"user_metadata":{"full_name":"Asha"}}`))
	})

	user, err := c.Auth().GetUser(context.Background(), "user-token")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "admin", user.AppRole())
	assert.Equal(t, "Asha", user.FullName())

	_, err = c.Auth().GetUser(context.Background(), "bad")
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.Contains(t, err.Error(), "invalid JWT")
}

func TestStorage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "/storage/v1/object/provider-images/p1/logo%20v2.png", r.URL.EscapedPath())
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			assert.Equal(t, "true", r.Header.Get("x-upsert"))
			_, _ = w.Write([]byte(`{"Key":"provider-images/p1/logo v2.png"}`))
		case http.MethodDelete:
			var body map[string][]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, []string{"p1/a.png"}, body["prefixes"])
			_, _ = w.Write([]byte(`[]`))
		}
	})

	bucket := c.Storage().From("provider-images")
	_, err := bucket.Upload(context.Background(), "p1/logo v2.png", []byte{0x89, 'P'}, UploadOptions{ContentType: "image/png", Upsert: true})
	require.NoError(t, err)

	_, err = bucket.Delete(context.Background(), []string{"p1/a.png"})
	require.NoError(t, err)

	public := bucket.GetPublicURL("p1/logo v2.png")
	assert.Equal(t, c.BaseURL()+"/storage/v1/object/public/provider-images/p1/logo%20v2.png", public)

	path, ok := bucket.PathFromPublicURL(public)
	assert.True(t, ok)
	assert.Equal(t, "p1/logo v2.png", path)

	_, ok = bucket.PathFromPublicURL("https://elsewhere.example/img.png")
	assert.False(t, ok)
}

func TestResponseCount(t *testing.T) {
	cases := map[string]struct {
		header string
		want   int
		ok     bool
	}{
		"range":   {"0-9/42", 42, true},
		"empty":   {"*/0", 0, true},
		"unknown": {"0-9/*", 0, false},
		"missing": {"", 0, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := &Response{Headers: http.Header{}}
			if tc.header != "" {
				r.Headers.Set("Content-Range", tc.header)
			}
			n, ok := r.Count()
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, n)
		})
	}
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, "ac repair", EscapeLike("ac* repair%"))
	assert.Equal(t, "a b", EscapeLike("a,b"))
}

func TestResilientClientIntegration(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	rcfg := DefaultResilientClientConfig()
	rcfg.RetryConfig.InitialBackoff = 0
	rcfg.RetryConfig.Jitter = 0
	c, err := New(Config{URL: srv.URL, APIKey: "k", Resilience: &rcfg})
	require.NoError(t, err)

	_, err = c.From("categories").Select("*").Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(1), c.Resilience().Metrics()["retried_requests"])
}
