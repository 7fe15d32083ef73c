// Package azure provides a BlobStore backed by Azure Blob Storage.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

// Config captures the parameters required to connect to Azure Blob Storage.
type Config struct {
	ConnectionString string
	Container        string
}

// BlobStore writes page images to an Azure container.
type BlobStore struct {
	client    *azblob.Client
	container string
}

var _ epaper.BlobStore = (*BlobStore)(nil)

// New builds a client from the connection string. opts may be nil.
func New(cfg Config, opts *azblob.ClientOptions) (*BlobStore, error) {
	if strings.TrimSpace(cfg.ConnectionString) == "" {
		return nil, fmt.Errorf("azure connection string is required")
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("container name is required")
	}
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, opts)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}
	return &BlobStore{client: client, container: cfg.Container}, nil
}

// EnsureContainer creates the container, tolerating one that already exists.
func (s *BlobStore) EnsureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err == nil || bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil
	}
	return fmt.Errorf("%w: create container %s: %w", epaper.ErrStorage, s.container, err)
}

// PutObject uploads data, overwriting any existing blob, and returns the blob URL.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	opts := &azblob.UploadBufferOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}
	if _, err := s.client.UploadBuffer(ctx, s.container, key, data, opts); err != nil {
		return "", fmt.Errorf("%w: upload %s: %w", epaper.ErrStorage, key, err)
	}
	return s.blobClient(key).URL(), nil
}

// Exists reports whether key is present in the container.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.blobClient(key).GetProperties(ctx, nil)
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("%w: properties %s: %w", epaper.ErrStorage, key, err)
	}
}

// GetObject downloads the blob stored at key.
func (s *BlobStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("blob %s: %w", key, epaper.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: download %s: %w", epaper.ErrStorage, key, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", epaper.ErrStorage, key, err)
	}
	return data, nil
}

// DeleteObject removes key; deleting a missing blob is reported as epaper.ErrNotFound.
func (s *BlobStore) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, key, nil)
	switch {
	case err == nil:
		return nil
	case isNotFound(err):
		return fmt.Errorf("blob %s: %w", key, epaper.ErrNotFound)
	default:
		return fmt.Errorf("%w: delete %s: %w", epaper.ErrStorage, key, err)
	}
}

// List returns every blob whose name starts with prefix.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]epaper.ObjectInfo, error) {
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	var out []epaper.ObjectInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %w", epaper.ErrStorage, prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			info := epaper.ObjectInfo{Key: *item.Name, URI: s.blobClient(*item.Name).URL()}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					info.Size = *p.ContentLength
				}
				if p.LastModified != nil {
					info.LastModified = *p.LastModified
				}
				if p.ContentType != nil {
					info.ContentType = *p.ContentType
				}
			}
			out = append(out, info)
		}
	}
	return out, nil
}

func (s *BlobStore) blobClient(key string) *blob.Client {
	return s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key)
}

func isNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
