package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructorsSetStatus(t *testing.T) {
	cases := []struct {
		err    *ServiceError
		status int
		code   ErrorCode
	}{
		{BadRequest("bad"), http.StatusBadRequest, CodeBadRequest},
		{Validation("rating", "out of range"), http.StatusBadRequest, CodeValidation},
		{Unauthorized(""), http.StatusUnauthorized, CodeUnauthorized},
		{InvalidToken(nil), http.StatusUnauthorized, CodeInvalidToken},
		{Forbidden(""), http.StatusForbidden, CodeForbidden},
		{NotFound("provider", "p1"), http.StatusNotFound, CodeNotFound},
		{Conflict("dup"), http.StatusConflict, CodeConflict},
		{PayloadTooLarge(10), http.StatusRequestEntityTooLarge, CodePayloadTooLarge},
		{RateLimitExceeded(5, "1s"), http.StatusTooManyRequests, CodeRateLimitExceeded},
		{Internal("", nil), http.StatusInternalServerError, CodeInternal},
		{Unavailable("down", nil), http.StatusServiceUnavailable, CodeUnavailable},
		{Upstream("llm", nil), http.StatusBadGateway, CodeUpstream},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, tc.err.HTTPStatus, string(tc.code))
		assert.Equal(t, tc.code, tc.err.Code)
	}
}

func TestGetServiceErrorUnwraps(t *testing.T) {
	cause := stderrors.New("boom")
	wrapped := fmt.Errorf("handler: %w", Internal("failed", cause))

	se := GetServiceError(wrapped)
	if assert.NotNil(t, se) {
		assert.Equal(t, CodeInternal, se.Code)
		assert.ErrorIs(t, se, cause)
	}
	assert.Nil(t, GetServiceError(cause))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(cause))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("review", "")))
}

func TestIsMatchesByCode(t *testing.T) {
	assert.True(t, stderrors.Is(NotFound("a", "1"), NotFound("b", "2")))
	assert.False(t, stderrors.Is(NotFound("a", "1"), Conflict("x")))
}

func TestWithDetails(t *testing.T) {
	err := NotFound("category", "plumbers")
	assert.Equal(t, "plumbers", err.Details["id"])
	err.WithDetails("hint", "check slug")
	assert.Len(t, err.Details, 2)
}
