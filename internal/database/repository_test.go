package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/needful-app/needful/supabase/client"
)

func newClientWithHandler(t *testing.T, handler http.HandlerFunc) *client.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := client.New(client.Config{URL: srv.URL, APIKey: "service-key"})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNilRepository(t *testing.T) {
	var r *Repository
	if _, err := r.GetProvider(context.Background(), "p1"); !errors.Is(err, ErrDatabaseError) {
		t.Fatalf("GetProvider() error = %v, want ErrDatabaseError", err)
	}
	if err := NewRepository(nil).Ping(context.Background()); !errors.Is(err, ErrDatabaseError) {
		t.Fatalf("Ping() error = %v, want ErrDatabaseError", err)
	}
}

func TestSearchProvidersBuildsQuery(t *testing.T) {
	var got map[string][]string
	c := newClientWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/providers" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if prefer := r.Header.Get("Prefer"); prefer != "count=exact" {
			t.Errorf("Prefer = %q", prefer)
		}
		got = r.URL.Query()
		w.Header().Set("Content-Range", "20-29/42")
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "p1", "business_name": "Ravi Plumbing", "slug": "ravi-plumbing"}})
	})

	minRating := 4.0
	verified := true
	minLat, maxLat, minLon, maxLon := 12.0, 13.0, 77.0, 78.0
	providers, total, err := NewRepository(c).SearchProviders(context.Background(), ProviderFilter{
		Query:      "plumb*er",
		CategoryID: "cat-1",
		City:       "Bengaluru",
		MinRating:  &minRating,
		Verified:   &verified,
		MinLat:     &minLat, MaxLat: &maxLat, MinLon: &minLon, MaxLon: &maxLon,
		Sort:   SortRating,
		Limit:  10,
		Offset: 20,
	})
	if err != nil {
		t.Fatalf("SearchProviders() error: %v", err)
	}
	if total != 42 || len(providers) != 1 || providers[0].Slug != "ravi-plumbing" {
		t.Fatalf("got %d providers, total %d", len(providers), total)
	}

	want := map[string]string{
		"status":      "eq.approved",
		"deleted_at":  "is.null",
		"category_id": "eq.cat-1",
		"city":        "ilike.Bengaluru",
		"rating":      "gte.4",
		"is_verified": "eq.true",
		"or":          "(business_name.ilike.*plumber*,description.ilike.*plumber*,city.ilike.*plumber*)",
		"order":       "rating.desc.nullslast,review_count.desc.nullslast,id.asc.nullslast",
		"limit":       "10",
		"offset":      "20",
		"select":      providerSelect,
	}
	for key, value := range want {
		if len(got[key]) != 1 || got[key][0] != value {
			t.Errorf("%s = %v, want %q", key, got[key], value)
		}
	}
	if lat := got["latitude"]; len(lat) != 2 || lat[0] != "gte.12" || lat[1] != "lte.13" {
		t.Errorf("latitude = %v", lat)
	}
}

func TestSearchProvidersAnyStatus(t *testing.T) {
	c := newClientWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("status") {
			t.Errorf("status filter should be absent: %s", r.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, []any{})
	})
	providers, total, err := NewRepository(c).SearchProviders(context.Background(), ProviderFilter{AnyStatus: true})
	if err != nil || total != 0 || len(providers) != 0 {
		t.Fatalf("got %v, %d, %v", providers, total, err)
	}

	if _, _, err := NewRepository(c).SearchProviders(context.Background(), ProviderFilter{Status: "archived"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("invalid status error = %v", err)
	}
}

func TestGetProviderBySlugNotFound(t *testing.T) {
	c := newClientWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []any{})
	})
	_, err := NewRepository(c).GetProviderBySlug(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("error = %v, want not found", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Entity != "provider" || nf.ID != "missing" {
		t.Fatalf("NotFoundError = %+v", nf)
	}
}

func TestCreateReviewConflict(t *testing.T) {
	c := newClientWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		writeJSON(w, http.StatusConflict, map[string]any{
			"code":    "23505",
			"message": `duplicate key value violates unique constraint "reviews_provider_id_user_id_key"`,
		})
	})
	_, err := NewRepository(c).CreateReview(context.Background(), ReviewInput{ProviderID: "p1", UserID: "u1", Rating: 5})
	if !IsConflict(err) {
		t.Fatalf("error = %v, want conflict", err)
	}
}

func TestCreateReviewValidatesBeforeRequest(t *testing.T) {
	c := newClientWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	repo := NewRepository(c)
	for _, rating := range []int{0, 6, -1} {
		_, err := repo.CreateReview(context.Background(), ReviewInput{ProviderID: "p1", UserID: "u1", Rating: rating})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("rating %d: error = %v", rating, err)
		}
	}
	if _, err := repo.CreateReview(context.Background(), ReviewInput{UserID: "u1", Rating: 3}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing provider: error = %v", err)
	}
}

func TestUpdateProviderSendsPatch(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := newClientWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Query().Get("id") != "eq.p1" {
			t.Errorf("%s %s", r.Method, r.URL.RawQuery)
		}
		body, _ := io.ReadAll(r.Body)
		var patch map[string]any
		if err := json.Unmarshal(body, &patch); err != nil {
			t.Fatalf("body: %v", err)
		}
		if patch["status"] != "approved" || patch["updated_at"] != "2024-05-01T10:00:00Z" {
			t.Errorf("patch = %v", patch)
		}
		if _, ok := patch["business_name"]; ok {
			t.Errorf("unset fields must be omitted: %v", patch)
		}
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "p1", "status": "approved"}})
	})
	repo := NewRepository(c)
	repo.now = func() time.Time { return fixed }

	status := ProviderStatusApproved
	p, err := repo.UpdateProvider(context.Background(), "p1", ProviderUpdate{Status: &status})
	if err != nil {
		t.Fatalf("UpdateProvider() error: %v", err)
	}
	if p.Status != ProviderStatusApproved {
		t.Fatalf("status = %q", p.Status)
	}

	bad := "archived"
	if _, err := repo.UpdateProvider(context.Background(), "p1", ProviderUpdate{Status: &bad}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("invalid status error = %v", err)
	}
}

func TestIncrementProviderViewsCallsRPC(t *testing.T) {
	c := newClientWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/rpc/increment_provider_views" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"provider_id":"p1"}` {
			t.Errorf("body = %s", body)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := NewRepository(c).IncrementProviderViews(context.Background(), "p1"); err != nil {
		t.Fatalf("IncrementProviderViews() error: %v", err)
	}
}

func TestEnsureUserInsertsOnce(t *testing.T) {
	var inserts int
	c := newClientWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, []any{})
		case http.MethodPost:
			inserts++
			var row map[string]any
			_ = json.NewDecoder(r.Body).Decode(&row)
			if row["role"] != UserRoleUser || row["full_name"] != "Asha" {
				t.Errorf("row = %v", row)
			}
			writeJSON(w, http.StatusCreated, []map[string]any{{"id": "u1", "email": "a@example.com", "role": "user"}})
		}
	})
	u, err := NewRepository(c).EnsureUser(context.Background(), &User{ID: "u1", Email: "a@example.com", FullName: "Asha"})
	if err != nil {
		t.Fatalf("EnsureUser() error: %v", err)
	}
	if u.ID != "u1" || inserts != 1 {
		t.Fatalf("user = %+v, inserts = %d", u, inserts)
	}
}

func TestEnsureUserKeepsExisting(t *testing.T) {
	c := newClientWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected %s", r.Method)
		}
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "u1", "role": "admin"}})
	})
	u, err := NewRepository(c).EnsureUser(context.Background(), &User{ID: "u1"})
	if err != nil || u.Role != UserRoleAdmin {
		t.Fatalf("EnsureUser() = %+v, %v", u, err)
	}
}

func TestPublishedRatingsPages(t *testing.T) {
	var calls int
	c := newClientWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		n := pageSize
		if offset > 0 {
			n = 3
		}
		rows := make([]map[string]int, n)
		for i := range rows {
			rows[i] = map[string]int{"rating": 4}
		}
		writeJSON(w, http.StatusOK, rows)
	})
	ratings, err := NewRepository(c).PublishedRatings(context.Background(), "p1")
	if err != nil {
		t.Fatalf("PublishedRatings() error: %v", err)
	}
	if len(ratings) != pageSize+3 || calls != 2 {
		t.Fatalf("ratings = %d, calls = %d", len(ratings), calls)
	}
}

func TestCountProvidersByStatus(t *testing.T) {
	totals := map[string]int{"approved": 12, "pending": 3, "rejected": 1, "suspended": 0}
	c := newClientWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		status := strings.TrimPrefix(r.URL.Query().Get("status"), "eq.")
		w.Header().Set("Content-Range", fmt.Sprintf("0-0/%d", totals[status]))
		writeJSON(w, http.StatusOK, []any{})
	})
	counts, err := NewRepository(c).CountProvidersByStatus(context.Background())
	if err != nil {
		t.Fatalf("CountProvidersByStatus() error: %v", err)
	}
	for status, want := range totals {
		if counts[status] != want {
			t.Errorf("%s = %d, want %d", status, counts[status], want)
		}
	}
}

func TestDeleteEventsBefore(t *testing.T) {
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newClientWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Query().Get("created_at") != "lt.2024-01-01T00:00:00Z" {
			t.Errorf("%s %s", r.Method, r.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, []map[string]string{{"id": "e1"}, {"id": "e2"}})
	})
	n, err := NewRepository(c).DeleteEventsBefore(context.Background(), cutoff)
	if err != nil || n != 2 {
		t.Fatalf("DeleteEventsBefore() = %d, %v", n, err)
	}
}

func TestRecordEventRejectsUnknownType(t *testing.T) {
	c := newClientWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	err := NewRepository(c).RecordEvent(context.Background(), &AnalyticsEvent{EventType: "click"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("error = %v", err)
	}
}

func TestAddFavoriteUpserts(t *testing.T) {
	c := newClientWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("on_conflict") != "user_id,provider_id" {
			t.Errorf("on_conflict = %q", r.URL.Query().Get("on_conflict"))
		}
		if !strings.Contains(r.Header.Get("Prefer"), "resolution=merge-duplicates") {
			t.Errorf("Prefer = %q", r.Header.Get("Prefer"))
		}
		writeJSON(w, http.StatusCreated, []map[string]string{{"id": "f1", "user_id": "u1", "provider_id": "p1"}})
	})
	f, err := NewRepository(c).AddFavorite(context.Background(), "u1", "p1")
	if err != nil || f.ID != "f1" {
		t.Fatalf("AddFavorite() = %+v, %v", f, err)
	}
}

func TestServerErrorIsDatabaseError(t *testing.T) {
	c := newClientWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
	})
	_, err := NewRepository(c).ListCategories(context.Background(), true)
	if !errors.Is(err, ErrDatabaseError) {
		t.Fatalf("error = %v", err)
	}
}

func TestValidateStatus(t *testing.T) {
	if err := ValidateStatus("pending", ProviderStatuses); err != nil {
		t.Fatalf("pending: %v", err)
	}
	if err := ValidateStatus("", ProviderStatuses); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty: %v", err)
	}
}
