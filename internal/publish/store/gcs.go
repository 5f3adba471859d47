package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"logpull/internal/config"
	"logpull/internal/publish"
)

func init() {
	publish.RegisterStore("gcs", func(ctx context.Context, cfg config.Store) (publish.Store, error) {
		return NewGCSStore(ctx, cfg)
	})
}

// GCSStore writes documents as Google Cloud Storage objects.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore uses application default credentials unless a credentials
// file is configured. Endpoint points the client at an emulator.
func NewGCSStore(ctx context.Context, cfg config.Store) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs store requires bucket")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Insert uploads the object. The write is only committed by Close on the
// writer, so its error decides success.
func (s *GCSStore) Insert(ctx context.Context, key string, value []byte) error {
	k := objectKey(s.prefix, key)
	w := s.client.Bucket(s.bucket).Object(k).NewWriter(ctx)
	w.ContentType = contentType(key)
	if _, err := w.Write(value); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s/%s: %w", s.bucket, k, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs commit %s/%s: %w", s.bucket, k, err)
	}
	return nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
