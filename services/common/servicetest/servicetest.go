// Package servicetest holds helpers for exercising service handlers.
package servicetest

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/internal/middleware"
)

// Headers read by Auth in place of a bearer token.
const (
	HeaderUserID = "X-Test-User"
	HeaderRole   = "X-Test-Role"
)

// Auth trusts HeaderUserID and HeaderRole instead of verifying tokens.
type Auth struct{}

func (Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity(r)
		if !ok {
			httputil.Unauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r.WithContext(middleware.WithIdentity(r.Context(), id)))
	})
}

func (Auth) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := identity(r); ok {
			r = r.WithContext(middleware.WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func identity(r *http.Request) (middleware.Identity, bool) {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		return middleware.Identity{}, false
	}
	role := r.Header.Get(HeaderRole)
	if role == "" {
		role = middleware.RoleUser
	}
	// Header roles stand in for configured grants.
	return middleware.Identity{
		UserID:  userID,
		Role:    role,
		Email:   userID + "@example.com",
		Granted: middleware.IsAdminRole(role),
	}, true
}

// Request describes one call against a handler.
type Request struct {
	Method string
	Path   string
	Body   any
	UserID string
	Role   string
	Header http.Header
}

// Do serves req against h and returns the recorder.
func Do(t testing.TB, h http.Handler, req Request) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	switch b := req.Body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(b)
	case string:
		body = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	r := httptest.NewRequest(method, req.Path, body)
	for k, vs := range req.Header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	if req.Body != nil && r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", "application/json")
	}
	if req.UserID != "" {
		r.Header.Set(HeaderUserID, req.UserID)
	}
	if req.Role != "" {
		r.Header.Set(HeaderRole, req.Role)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

// Decode unmarshals the recorder body into v.
func Decode(t testing.TB, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// ErrorCode returns the error.code field of an error response.
func ErrorCode(t testing.TB, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body httputil.ErrorBody
	Decode(t, rec, &body)
	return body.Error.Code
}

// Multipart encodes one file part plus plain fields. It returns the body and
// the matching Content-Type header.
func Multipart(t testing.TB, field, filename, contentType string, data []byte, values map[string]string) ([]byte, http.Header) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range values {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if field != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return buf.Bytes(), http.Header{"Content-Type": {mw.FormDataContentType()}}
}
