package storage

import (
	"bytes"
	"context"
	"io"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	apperrors "github.com/jkindrix/plumbot/internal/errors"
)

const gcsUploadTimeout = 2 * time.Minute

// GCSStore keeps files in a Google Cloud Storage bucket.
type GCSStore struct {
	client  *gcs.Client
	bucket  string
	baseURL string
}

// NewGCSStore creates a bucket-backed store using application default
// credentials. baseURL defaults to the public storage.googleapis.com URL.
func NewGCSStore(ctx context.Context, bucket, baseURL string, opts ...option.ClientOption) (*GCSStore, error) {
	opts = append(opts, option.WithScopes(gcs.ScopeReadWrite))
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, apperrors.StorageError("storage.NewGCSStore", err)
	}
	if baseURL == "" || baseURL == "/media" {
		baseURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCSStore{client: client, bucket: bucket, baseURL: baseURL}, nil
}

// Save uploads the object.
func (s *GCSStore) Save(ctx context.Context, obj Object) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gcsUploadTimeout)
	defer cancel()

	key := Key(obj)
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = obj.MimeType
	if _, err := io.Copy(w, bytes.NewReader(obj.Data)); err != nil {
		_ = w.Close()
		return "", apperrors.StorageError("storage.GCSStore.Save", err)
	}
	if err := w.Close(); err != nil {
		return "", apperrors.StorageError("storage.GCSStore.Save", err)
	}
	return key, nil
}

// URL returns the object's public URL.
func (s *GCSStore) URL(ref string) string {
	return joinURL(s.baseURL, ref)
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

var _ Store = (*GCSStore)(nil)
