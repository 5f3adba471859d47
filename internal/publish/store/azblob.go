package store

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"logpull/internal/config"
	"logpull/internal/publish"
)

func init() {
	publish.RegisterStore("azblob", func(_ context.Context, cfg config.Store) (publish.Store, error) {
		return NewAzureStore(cfg)
	})
}

// AzureStore writes documents as block blobs.
type AzureStore struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureStore authenticates with a connection string, or with a SAS
// token embedded in AccountURL.
func NewAzureStore(cfg config.Store) (*AzureStore, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("azblob store requires container")
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.AccountURL != "":
		client, err = azblob.NewClientWithNoCredential(cfg.AccountURL, nil)
	default:
		return nil, fmt.Errorf("azblob store requires connection_string or account_url")
	}
	if err != nil {
		return nil, fmt.Errorf("azblob client: %w", err)
	}
	return &AzureStore{client: client, container: cfg.Container, prefix: cfg.Prefix}, nil
}

// Insert uploads the blob, replacing any existing one.
func (s *AzureStore) Insert(ctx context.Context, key string, value []byte) error {
	k := objectKey(s.prefix, key)
	if _, err := s.client.UploadBuffer(ctx, s.container, k, value, nil); err != nil {
		return fmt.Errorf("azblob upload %s/%s: %w", s.container, k, err)
	}
	return nil
}

// Close is a no-op.
func (s *AzureStore) Close() error { return nil }
