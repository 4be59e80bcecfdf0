// Package media stores uploaded provider images and story media in
// Supabase Storage buckets.
package media

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"

	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/supabase/client"
)

// Media kinds, matching business_stories.media_type.
const (
	KindImage = "image"
	KindVideo = "video"
)

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
}

// Kind classifies a content type as image or video.
func Kind(contentType string) (string, bool) {
	ct := normalize(contentType)
	if _, ok := extensions[ct]; !ok {
		return "", false
	}
	if strings.HasPrefix(ct, "image/") {
		return KindImage, true
	}
	return KindVideo, true
}

func normalize(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

// Bucket is the subset of object storage the services use.
type Bucket interface {
	// Put stores data and returns its public URL.
	Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, paths ...string) error
	// PathFor recovers the object path from a public URL of this bucket.
	PathFor(publicURL string) (string, bool)
}

// SupabaseBucket adapts a storage bucket client.
type SupabaseBucket struct {
	bucket *client.BucketClient
}

func NewSupabaseBucket(c *client.Client, name string) *SupabaseBucket {
	return &SupabaseBucket{bucket: c.Storage().From(name)}
}

func (b *SupabaseBucket) Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	if _, err := b.bucket.Upload(ctx, objectPath, data, client.UploadOptions{
		ContentType:  contentType,
		CacheControl: "3600",
	}); err != nil {
		return "", fmt.Errorf("upload %s: %w", objectPath, err)
	}
	return b.bucket.GetPublicURL(objectPath), nil
}

func (b *SupabaseBucket) Remove(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if _, err := b.bucket.Delete(ctx, paths); err != nil {
		return fmt.Errorf("delete objects: %w", err)
	}
	return nil
}

func (b *SupabaseBucket) PathFor(publicURL string) (string, bool) {
	return b.bucket.PathFromPublicURL(publicURL)
}

// ObjectPath names a new object under the owner's folder.
func ObjectPath(owner, contentType string) string {
	return path.Join(owner, uuid.NewString()+extensions[normalize(contentType)])
}

// Upload is a validated file read from a multipart request.
type Upload struct {
	Data        []byte
	ContentType string
	Kind        string
	Filename    string
}

// ErrNoFile is returned when the form has no file field.
var ErrNoFile = errors.New("file is required")

// ReadUpload reads the named multipart field, enforcing maxBytes and the
// allowed kinds. The content type is sniffed from the data; the declared
// type is only used to tell video containers apart.
func ReadUpload(w http.ResponseWriter, r *http.Request, field string, maxBytes int64, kinds ...string) (*Upload, map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, svcerrors.PayloadTooLarge(maxBytes)
		}
		return nil, nil, svcerrors.BadRequest("invalid multipart form")
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, nil, svcerrors.Validation(field, ErrNoFile.Error())
	}
	defer file.Close()

	data, truncated, err := httputil.ReadAllWithLimit(file, maxBytes)
	if err != nil {
		return nil, nil, svcerrors.BadRequest("could not read upload")
	}
	if truncated {
		return nil, nil, svcerrors.PayloadTooLarge(maxBytes)
	}
	if len(data) == 0 {
		return nil, nil, svcerrors.Validation(field, "file is empty")
	}

	contentType := sniff(data, header)
	kind, ok := Kind(contentType)
	if !ok || !allowed(kind, kinds) {
		return nil, nil, svcerrors.Validation(field, "unsupported file type "+contentType)
	}

	values := make(map[string]string, len(r.MultipartForm.Value))
	for k, v := range r.MultipartForm.Value {
		if len(v) > 0 {
			values[k] = v[0]
		}
	}
	return &Upload{Data: data, ContentType: contentType, Kind: kind, Filename: header.Filename}, values, nil
}

func sniff(data []byte, header *multipart.FileHeader) string {
	detected := normalize(http.DetectContentType(data))
	declared := normalize(header.Header.Get("Content-Type"))
	if _, known := extensions[detected]; known {
		return detected
	}
	// DetectContentType reports quicktime and some mp4 variants as
	// application/octet-stream.
	if detected == "application/octet-stream" && strings.HasPrefix(declared, "video/") {
		return declared
	}
	return detected
}

func allowed(kind string, kinds []string) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// MemoryBucket keeps objects in memory. It backs tests and local runs
// without storage.
type MemoryBucket struct {
	mu      sync.Mutex
	BaseURL string
	Objects map[string][]byte
	Fail    error
}

func NewMemoryBucket(baseURL string) *MemoryBucket {
	return &MemoryBucket{BaseURL: strings.TrimSuffix(baseURL, "/"), Objects: make(map[string][]byte)}
}

func (m *MemoryBucket) Put(_ context.Context, objectPath string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return "", m.Fail
	}
	m.Objects[objectPath] = append([]byte(nil), data...)
	return m.BaseURL + "/" + objectPath, nil
}

func (m *MemoryBucket) Remove(_ context.Context, paths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	for _, p := range paths {
		delete(m.Objects, p)
	}
	return nil
}

func (m *MemoryBucket) PathFor(publicURL string) (string, bool) {
	p, ok := strings.CutPrefix(publicURL, m.BaseURL+"/")
	return p, ok && p != ""
}

// Has reports whether an object exists.
func (m *MemoryBucket) Has(objectPath string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Objects[objectPath]
	return ok
}

// ObjectPathOf returns the stored path, preferring the recorded one.
func ObjectPathOf(b Bucket, storagePath, publicURL string) (string, bool) {
	if storagePath != "" {
		return storagePath, true
	}
	if publicURL == "" || b == nil {
		return "", false
	}
	return b.PathFor(publicURL)
}
