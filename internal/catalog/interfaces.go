package catalog

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Renderer loads a URL in the shared browsing session and snapshots the DOM.
type Renderer interface {
	Render(ctx context.Context, request RenderRequest) (RenderedPage, error)
}

// Resolver turns an arbitrary product reference into a product id.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (Resolution, error)
}

// Extractor loads a canonical product page and extracts its metadata.
type Extractor interface {
	Extract(ctx context.Context, canonicalURL string) (Metadata, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Mirror receives a copy of the final catalog after the snapshot is persisted.
type Mirror interface {
	SyncCatalog(ctx context.Context, records []ProductRecord, summary RunSummary) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Resolution is a successful resolver outcome.
type Resolution struct {
	ID   ProductID
	Tier string
}

// SystemClock implements Clock using the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
