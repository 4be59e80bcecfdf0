package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// StorageClient handles object storage.
type StorageClient struct {
	client *Client
}

// Storage returns a storage client.
func (c *Client) Storage() *StorageClient {
	return &StorageClient{client: c}
}

// From returns a bucket client.
func (s *StorageClient) From(bucket string) *BucketClient {
	return &BucketClient{client: s.client, bucket: bucket}
}

// BucketClient handles operations on one bucket.
type BucketClient struct {
	client *Client
	bucket string
}

// UploadOptions controls an upload.
type UploadOptions struct {
	ContentType  string
	CacheControl string // seconds, e.g. "3600"
	Upsert       bool
}

func (b *BucketClient) objectURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", b.client.baseURL, b.bucket, escapePath(path))
}

// Upload stores data at path.
func (b *BucketClient) Upload(ctx context.Context, path string, data []byte, opts UploadOptions) (*Response, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("object path is required")
	}
	req, err := b.client.newRequest(ctx, http.MethodPost, b.objectURL(path), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	if opts.CacheControl != "" {
		req.Header.Set("Cache-Control", "max-age="+opts.CacheControl)
	}
	if opts.Upsert {
		req.Header.Set("x-upsert", "true")
	}
	return b.client.do(req)
}

// Download fetches an object.
func (b *BucketClient) Download(ctx context.Context, path string) ([]byte, error) {
	req, err := b.client.newRequest(ctx, http.MethodGet, b.objectURL(path), nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.do(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Delete removes objects by path.
func (b *BucketClient) Delete(ctx context.Context, paths []string) (*Response, error) {
	if len(paths) == 0 {
		return &Response{StatusCode: http.StatusOK}, nil
	}
	body, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return nil, fmt.Errorf("marshal paths: %w", err)
	}
	reqURL := fmt.Sprintf("%s/storage/v1/object/%s", b.client.baseURL, b.bucket)
	req, err := b.client.newRequest(ctx, http.MethodDelete, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return b.client.do(req)
}

// GetPublicURL returns the public URL for an object in a public bucket.
func (b *BucketClient) GetPublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", b.client.baseURL, b.bucket, escapePath(path))
}

// PathFromPublicURL recovers the object path from a public URL of this
// bucket. ok is false when the URL points elsewhere.
func (b *BucketClient) PathFromPublicURL(publicURL string) (string, bool) {
	prefix := fmt.Sprintf("%s/storage/v1/object/public/%s/", b.client.baseURL, b.bucket)
	if !strings.HasPrefix(publicURL, prefix) {
		return "", false
	}
	p, err := url.PathUnescape(strings.TrimPrefix(publicURL, prefix))
	if err != nil || p == "" {
		return "", false
	}
	return p, true
}

func escapePath(p string) string {
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
