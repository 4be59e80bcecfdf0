package reviews

import (
	"context"
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/needful-app/needful/internal/database"
	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/services/common/servicetest"
)

type fixture struct {
	repo     *database.MockRepository
	router   *mux.Router
	provider database.Provider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := database.NewMockRepository()
	router := mux.NewRouter()
	New(Config{Router: router, Auth: servicetest.Auth{}, DB: repo})

	repo.AddUser(database.User{ID: "owner", FullName: "Ravi"})
	repo.AddUser(database.User{ID: "alice", FullName: "Alice"})
	repo.AddUser(database.User{ID: "bob", FullName: "Bob"})
	p := repo.AddProvider(database.Provider{ID: "p1", UserID: "owner", BusinessName: "Ravi Plumbing", Slug: "ravi-plumbing"})
	return &fixture{repo: repo, router: router, provider: p}
}

func (f *fixture) provider1(t *testing.T) *database.Provider {
	t.Helper()
	p, err := f.repo.GetProvider(context.Background(), "p1")
	require.NoError(t, err)
	return p
}

func (f *fixture) createReview(t *testing.T, user string, rating int) database.Review {
	t.Helper()
	rec := servicetest.Do(t, f.router, servicetest.Request{
		Method: http.MethodPost,
		Path:   "/reviews",
		UserID: user,
		Body:   CreateReviewRequest{ProviderID: "p1", Rating: rating, Comment: "  quick fix  "},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var review database.Review
	servicetest.Decode(t, rec, &review)
	return review
}

func TestCreateReviewRecomputesRating(t *testing.T) {
	f := newFixture(t)

	review := f.createReview(t, "alice", 5)
	assert.Equal(t, "quick fix", review.Comment)
	assert.Equal(t, database.ReviewStatusPublished, review.Status)
	f.createReview(t, "bob", 4)

	p := f.provider1(t)
	assert.Equal(t, 4.5, p.Rating)
	assert.Equal(t, 2, p.ReviewCount)
}

func TestCreateReviewRules(t *testing.T) {
	f := newFixture(t)
	f.createReview(t, "alice", 4)
	f.repo.AddProvider(database.Provider{ID: "p2", UserID: "x", BusinessName: "Pending", Slug: "pending", Status: database.ProviderStatusPending})

	tests := []struct {
		name   string
		user   string
		body   any
		status int
		code   string
	}{
		{"anonymous", "", CreateReviewRequest{ProviderID: "p1", Rating: 4}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"rating too low", "bob", CreateReviewRequest{ProviderID: "p1", Rating: 0}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"rating too high", "bob", CreateReviewRequest{ProviderID: "p1", Rating: 6}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"missing provider", "bob", CreateReviewRequest{Rating: 3}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown provider", "bob", CreateReviewRequest{ProviderID: "nope", Rating: 3}, http.StatusNotFound, "NOT_FOUND"},
		{"pending provider", "bob", CreateReviewRequest{ProviderID: "p2", Rating: 3}, http.StatusNotFound, "NOT_FOUND"},
		{"own listing", "owner", CreateReviewRequest{ProviderID: "p1", Rating: 5}, http.StatusForbidden, "FORBIDDEN"},
		{"duplicate", "alice", CreateReviewRequest{ProviderID: "p1", Rating: 1}, http.StatusConflict, "CONFLICT"},
		{"unknown field", "bob", map[string]any{"provider_id": "p1", "rating": 3, "stars": 3}, http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := servicetest.Do(t, f.router, servicetest.Request{Method: http.MethodPost, Path: "/reviews", UserID: tt.user, Body: tt.body})
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, servicetest.ErrorCode(t, rec))
		})
	}

	p := f.provider1(t)
	assert.Equal(t, 4.0, p.Rating)
	assert.Equal(t, 1, p.ReviewCount)
}

func TestUpdateAndDeleteOwnReview(t *testing.T) {
	f := newFixture(t)
	alice := f.createReview(t, "alice", 5)
	f.createReview(t, "bob", 5)

	rating := 2
	rec := servicetest.Do(t, f.router, servicetest.Request{
		Method: http.MethodPut, Path: "/reviews/" + alice.ID, UserID: "alice",
		Body: UpdateReviewRequest{Rating: &rating},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3.5, f.provider1(t).Rating)

	rec = servicetest.Do(t, f.router, servicetest.Request{
		Method: http.MethodPut, Path: "/reviews/" + alice.ID, UserID: "bob",
		Body: UpdateReviewRequest{Rating: &rating},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	bad := 9
	rec = servicetest.Do(t, f.router, servicetest.Request{
		Method: http.MethodPut, Path: "/reviews/" + alice.ID, UserID: "alice",
		Body: UpdateReviewRequest{Rating: &bad},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = servicetest.Do(t, f.router, servicetest.Request{Method: http.MethodPut, Path: "/reviews/" + alice.ID, UserID: "alice", Body: map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = servicetest.Do(t, f.router, servicetest.Request{Method: http.MethodDelete, Path: "/reviews/" + alice.ID, UserID: "bob"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = servicetest.Do(t, f.router, servicetest.Request{Method: http.MethodDelete, Path: "/reviews/" + alice.ID, UserID: "alice"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	p := f.provider1(t)
	assert.Equal(t, 5.0, p.Rating)
	assert.Equal(t, 1, p.ReviewCount)

	rec = servicetest.Do(t, f.router, servicetest.Request{Method: http.MethodDelete, Path: "/reviews/" + alice.ID, UserID: "alice"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProviderReviewsOnlyPublished(t *testing.T) {
	f := newFixture(t)
	f.createReview(t, "alice", 5)
	f.repo.AddReview(database.Review{ProviderID: "p1", UserID: "bob", Rating: 1, Status: database.ReviewStatusHidden})

	rec := servicetest.Do(t, f.router, servicetest.Request{Path: "/providers/p1/reviews?limit=5"})
	require.Equal(t, http.StatusOK, rec.Code)
	var page httputil.Page[database.Review]
	servicetest.Decode(t, rec, &page)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 5, page.Limit)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "alice", page.Items[0].UserID)
	require.NotNil(t, page.Items[0].User)
	assert.Equal(t, "Alice", page.Items[0].User.FullName)

	rec = servicetest.Do(t, f.router, servicetest.Request{Path: "/providers/p1/reviews?limit=zero"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOwnerResponds(t *testing.T) {
	f := newFixture(t)
	review := f.createReview(t, "alice", 3)

	rec := servicetest.Do(t, f.router, servicetest.Request{
		Method: http.MethodPost, Path: "/reviews/" + review.ID + "/response", UserID: "alice",
		Body: RespondRequest{Response: "thanks"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = servicetest.Do(t, f.router, servicetest.Request{
		Method: http.MethodPost, Path: "/reviews/" + review.ID + "/response", UserID: "owner",
		Body: RespondRequest{Response: "   "},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = servicetest.Do(t, f.router, servicetest.Request{
		Method: http.MethodPost, Path: "/reviews/" + review.ID + "/response", UserID: "owner",
		Body: RespondRequest{Response: "Thanks, see you again"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got database.Review
	servicetest.Decode(t, rec, &got)
	assert.Equal(t, "Thanks, see you again", got.ProviderResponse)
	assert.NotNil(t, got.RespondedAt)
	assert.Equal(t, 3, got.Rating)
}

func TestFavorites(t *testing.T) {
	f := newFixture(t)
	f.repo.AddProvider(database.Provider{ID: "p2", UserID: "x", BusinessName: "Gone", Slug: "gone"})

	for i := 0; i < 2; i++ {
		rec := servicetest.Do(t, f.router, servicetest.Request{Method: http.MethodPost, Path: "/favorites", UserID: "alice", Body: AddFavoriteRequest{ProviderID: "p1"}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := servicetest.Do(t, f.router, servicetest.Request{Method: http.MethodPost, Path: "/favorites", UserID: "alice", Body: AddFavoriteRequest{ProviderID: "p2"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = servicetest.Do(t, f.router, servicetest.Request{Method: http.MethodPost, Path: "/favorites", UserID: "alice", Body: AddFavoriteRequest{ProviderID: "missing"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	suspended := database.ProviderStatusSuspended
	_, err := f.repo.UpdateProvider(context.Background(), "p2", database.ProviderUpdate{Status: &suspended})
	require.NoError(t, err)

	rec = servicetest.Do(t, f.router, servicetest.Request{Path: "/favorites", UserID: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	var favs []database.Favorite
	servicetest.Decode(t, rec, &favs)
	require.Len(t, favs, 1)
	assert.Equal(t, "p1", favs[0].ProviderID)
	require.NotNil(t, favs[0].Provider)
	assert.Equal(t, "Ravi Plumbing", favs[0].Provider.BusinessName)

	rec = servicetest.Do(t, f.router, servicetest.Request{Method: http.MethodDelete, Path: "/favorites/p1", UserID: "alice"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = servicetest.Do(t, f.router, servicetest.Request{Path: "/favorites", UserID: "alice"})
	servicetest.Decode(t, rec, &favs)
	assert.Empty(t, favs)

	rec = servicetest.Do(t, f.router, servicetest.Request{Path: "/favorites"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
