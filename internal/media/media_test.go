package media

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/supabase/client"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

func multipartRequest(t *testing.T, field, contentType string, data []byte, values map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="upload.bin"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func TestKind(t *testing.T) {
	k, ok := Kind("image/png")
	assert.True(t, ok)
	assert.Equal(t, KindImage, k)
	k, ok = Kind("video/mp4; codecs=avc1")
	assert.True(t, ok)
	assert.Equal(t, KindVideo, k)
	_, ok = Kind("application/pdf")
	assert.False(t, ok)
}

func TestReadUploadSniffsImage(t *testing.T) {
	r := multipartRequest(t, "file", "application/octet-stream", pngBytes, map[string]string{"caption": "New shop"})
	up, values, err := ReadUpload(httptest.NewRecorder(), r, "file", 1<<20, KindImage)
	require.NoError(t, err)
	assert.Equal(t, "image/png", up.ContentType)
	assert.Equal(t, KindImage, up.Kind)
	assert.Equal(t, "New shop", values["caption"])
}

func TestReadUploadRejectsWrongKind(t *testing.T) {
	r := multipartRequest(t, "file", "text/plain", []byte("hello world"), nil)
	_, _, err := ReadUpload(httptest.NewRecorder(), r, "file", 1<<20, KindImage)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, svcerrors.HTTPStatus(err))
}

func TestReadUploadTooLarge(t *testing.T) {
	big := append(append([]byte(nil), pngBytes...), bytes.Repeat([]byte{1}, 4096)...)
	r := multipartRequest(t, "file", "image/png", big, nil)
	_, _, err := ReadUpload(httptest.NewRecorder(), r, "file", 1024, KindImage)
	require.Error(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, svcerrors.HTTPStatus(err))
}

func TestReadUploadMissingFile(t *testing.T) {
	r := multipartRequest(t, "other", "image/png", pngBytes, nil)
	_, _, err := ReadUpload(httptest.NewRecorder(), r, "file", 1<<20)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, svcerrors.HTTPStatus(err))
}

func TestObjectPath(t *testing.T) {
	p := ObjectPath("prov-1", "image/jpeg")
	assert.True(t, strings.HasPrefix(p, "prov-1/"))
	assert.True(t, strings.HasSuffix(p, ".jpg"))
	assert.NotEqual(t, p, ObjectPath("prov-1", "image/jpeg"))
}

func TestSupabaseBucket(t *testing.T) {
	var uploaded, deleted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/storage/v1/object/provider-images/p1/a.png":
			uploaded = true
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			_, _ = w.Write([]byte(`{"Key":"provider-images/p1/a.png"}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/storage/v1/object/provider-images":
			deleted = true
			_, _ = w.Write([]byte(`[]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := client.New(client.Config{URL: srv.URL, APIKey: "service"})
	require.NoError(t, err)
	b := NewSupabaseBucket(c, "provider-images")
	ctx := context.Background()

	url, err := b.Put(ctx, "p1/a.png", pngBytes, "image/png")
	require.NoError(t, err)
	assert.True(t, uploaded)
	assert.Equal(t, srv.URL+"/storage/v1/object/public/provider-images/p1/a.png", url)

	p, ok := b.PathFor(url)
	require.True(t, ok)
	assert.Equal(t, "p1/a.png", p)

	require.NoError(t, b.Remove(ctx, p))
	assert.True(t, deleted)
	require.NoError(t, b.Remove(ctx))
}

func TestMemoryBucket(t *testing.T) {
	b := NewMemoryBucket("https://cdn.test/bucket/")
	url, err := b.Put(context.Background(), "p1/x.png", pngBytes, "image/png")
	require.NoError(t, err)
	p, ok := ObjectPathOf(b, "", url)
	require.True(t, ok)
	assert.True(t, b.Has(p))
	require.NoError(t, b.Remove(context.Background(), p))
	assert.False(t, b.Has(p))

	p, ok = ObjectPathOf(b, "recorded/path.png", url)
	assert.True(t, ok)
	assert.Equal(t, "recorded/path.png", p)
}
