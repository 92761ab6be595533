package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const maxSignedURLExpiry = 7 * 24 * time.Hour

// GCSStore writes uploads to a Cloud Storage bucket and hands out V4 signed download URLs.
type GCSStore struct {
	client      *gcs.Client
	bucket      string
	signerEmail string
	ttl         time.Duration
	now         func() time.Time
}

// GCSOption customises GCSStore.
type GCSOption func(*GCSStore)

// WithSignerEmail sets the service account used as GoogleAccessID when signing.
func WithSignerEmail(email string) GCSOption {
	return func(s *GCSStore) {
		s.signerEmail = strings.TrimSpace(email)
	}
}

// WithSignedURLTTL sets how long download URLs stay valid. Zero disables signing and yields public URLs.
func WithSignedURLTTL(ttl time.Duration) GCSOption {
	return func(s *GCSStore) {
		if ttl > maxSignedURLExpiry {
			ttl = maxSignedURLExpiry
		}
		s.ttl = ttl
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) GCSOption {
	return func(s *GCSStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewGCSStore binds a store to bucket.
func NewGCSStore(client *gcs.Client, bucket string, opts ...GCSOption) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("storage: gcs client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	s := &GCSStore{client: client, bucket: bucket, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Put streams body into the bucket.
func (s *GCSStore) Put(ctx context.Context, key, contentType string, body io.Reader) (Object, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Object{}, errors.New("storage: object name is required")
	}
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	size, err := io.Copy(w, body)
	if err != nil {
		_ = w.Close()
		return Object{}, fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return Object{}, fmt.Errorf("storage: finalize %s: %w", key, err)
	}

	downloadURL, err := s.downloadURL(key)
	if err != nil {
		return Object{}, err
	}
	return Object{Key: key, URL: downloadURL, ContentType: contentType, Size: size}, nil
}

// Ping verifies the bucket is reachable.
func (s *GCSStore) Ping(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		if errors.Is(err, gcs.ErrBucketNotExist) {
			return fmt.Errorf("storage: bucket %s does not exist", s.bucket)
		}
		return err
	}
	return nil
}

func (s *GCSStore) downloadURL(key string) (string, error) {
	if s.ttl <= 0 {
		return publicURL(s.bucket, key), nil
	}
	signed, err := s.client.Bucket(s.bucket).SignedURL(key, &gcs.SignedURLOptions{
		GoogleAccessID: s.signerEmail,
		Method:         http.MethodGet,
		Expires:        s.now().Add(s.ttl),
		Scheme:         gcs.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("storage: sign download url: %w", err)
	}
	return signed, nil
}

func publicURL(bucket, key string) string {
	return (&url.URL{Scheme: "https", Host: "storage.googleapis.com", Path: "/" + bucket + "/" + key}).String()
}
