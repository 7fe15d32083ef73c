package epaper

import (
	"context"
	"net/http"
	"time"
)

// Response is a fully read 2xx HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Fetcher performs the HTTP requests the pipeline needs. Non-2xx responses are returned as
// *HTTPStatusError.
type Fetcher interface {
	Get(ctx context.Context, url string) (Response, error)
	Head(ctx context.Context, url string) (int, error)
	Download(ctx context.Context, url string, dest string) (int64, error)
}

// Renderer rasterises at most expected pages of a local PDF.
type Renderer interface {
	Render(ctx context.Context, pdfPath string, expected int) ([]RenderedImage, error)
}

// BlobStore is the cloud object store holding page images.
type BlobStore interface {
	PutObject(ctx context.Context, key string, contentType string, data []byte) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Checkpointer persists the last fully processed date.
type Checkpointer interface {
	// Load returns the date to resume from (persisted date + 1 day) and whether one was set.
	Load() (time.Time, bool, error)
	Save(date time.Time) error
}

// MissingLog records page slots that could not be produced.
type MissingLog interface {
	Record(ctx context.Context, page MissingPage) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Pauser waits between requests.
type Pauser interface {
	Pause(ctx context.Context, d time.Duration)
}
