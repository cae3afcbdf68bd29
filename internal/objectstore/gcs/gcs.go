// Package gcs backs the object store with Google Cloud Storage. Content
// versions map onto object generations, so a locator pins exactly the bytes
// that triggered the ingestion event.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"cloud.google.com/go/storage"

	"certvault/internal/objectstore"
	"certvault/pkg/platform/sentinel"
)

// Store reads objects and signs download URLs for a single bucket.
type Store struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed object store for the given bucket.
func New(ctx context.Context, bucket string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs.New: bucket cannot be empty")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

func (s *Store) object(locator string) *storage.ObjectHandle {
	path, version := objectstore.SplitLocator(locator)
	obj := s.client.Bucket(s.bucket).Object(path)
	if generation, err := strconv.ParseInt(version, 10, 64); err == nil {
		obj = obj.Generation(generation)
	}
	return obj
}

// Get reads the full object pinned by the locator's generation.
func (s *Store) Get(ctx context.Context, locator string) ([]byte, error) {
	reader, err := s.object(locator).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object %s: %w", locator, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("open object %s: %w", locator, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", locator, err)
	}
	return data, nil
}

// SignURL mints a V4 signed URL for GET on exactly this object.
func (s *Store) SignURL(_ context.Context, locator string, ttl time.Duration) (string, time.Time, error) {
	path, _ := objectstore.SplitLocator(locator)
	expiresAt := time.Now().Add(ttl)
	url, err := s.client.Bucket(s.bucket).SignedURL(path, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: expiresAt,
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign url for %s: %w", locator, err)
	}
	return url, expiresAt, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
