package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Response is a raw API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Count returns the total from a Content-Range header such as "0-9/42" or
// "*/0". ok is false when the server did not report a total.
func (r *Response) Count() (int, bool) {
	if r == nil || r.Headers == nil {
		return 0, false
	}
	cr := r.Headers.Get("Content-Range")
	idx := strings.LastIndex(cr, "/")
	if idx < 0 || idx == len(cr)-1 {
		return 0, false
	}
	total := cr[idx+1:]
	if total == "*" {
		return 0, false
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Error returns an *APIError if the response indicates failure.
func (r *Response) Error() error {
	if r.StatusCode < 400 {
		return nil
	}
	apiErr := &APIError{StatusCode: r.StatusCode}
	var body struct {
		Message          string `json:"message"`
		Msg              string `json:"msg"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Code             any    `json:"code"`
		Details          string `json:"details"`
		Hint             string `json:"hint"`
	}
	if err := json.Unmarshal(r.Body, &body); err == nil {
		apiErr.Message = firstNonEmpty(body.Message, body.Msg, body.ErrorDescription, body.Error)
		apiErr.Details = body.Details
		apiErr.Hint = body.Hint
		if body.Code != nil {
			apiErr.Code = fmt.Sprint(body.Code)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(r.StatusCode)
	}
	return apiErr
}

// APIError is a PostgREST, Auth or Storage error response.
type APIError struct {
	StatusCode int
	Code       string // PostgREST (PGRSTxxx) or Postgres SQLSTATE
	Message    string
	Details    string
	Hint       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err means no matching row or object.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || apiErr.Code == "PGRST116"
}

// IsConflict reports whether err is a unique or foreign key violation.
func IsConflict(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusConflict || apiErr.Code == "23505"
}

// IsUnauthorized reports whether the backend rejected the credentials.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
