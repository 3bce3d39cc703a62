// Package catalog defines the product catalog domain: records, merge rules and the run-owned store.
package catalog

import (
	"errors"
	"net/http"
	"time"
)

// Sentinel errors shared by the pipeline stages.
var (
	// ErrUnresolved means every resolver tier failed to produce a product id.
	ErrUnresolved = errors.New("product id unresolved")
	// ErrExtraction means the product page could not be loaded or rendered.
	ErrExtraction = errors.New("product extraction failed")
)

// ProductID is the numeric identifier embedded in canonical product URLs.
type ProductID string

// SourceRow is one ingested reference from the tabular source.
type SourceRow struct {
	URL               string
	PreferredCategory string
}

// CategoryRule maps a slug to the keywords that select it.
type CategoryRule struct {
	Slug     string   `json:"slug" validate:"required"`
	Title    string   `json:"title" validate:"required"`
	Keywords []string `json:"keywords" validate:"dive,required"`
}

// Metadata is the live data extracted from a product page. Missing elements are zero values.
type Metadata struct {
	Title     string
	Price     string
	Images    []string
	Available bool
}

// ProductRecord is persisted for every resolved product. Timestamps are unix milliseconds
// so existing snapshots stay readable by downstream consumers.
type ProductRecord struct {
	ID           ProductID `json:"id"`
	Title        string    `json:"title"`
	Slug         string    `json:"slug"`
	CategorySlug string    `json:"category"`
	Price        string    `json:"price"`
	Images       []string  `json:"images"`
	OutboundURL  string    `json:"out_url"`
	Available    bool      `json:"available"`
	AddedAt      int64     `json:"added_at"`
	UpdatedAt    int64     `json:"updated_at"`
	CheckCount   int       `json:"checks"`
}

// Updated returns UpdatedAt as a time.
func (r ProductRecord) Updated() time.Time {
	return time.UnixMilli(r.UpdatedAt).UTC()
}

// Added returns AddedAt as a time.
func (r ProductRecord) Added() time.Time {
	return time.UnixMilli(r.AddedAt).UTC()
}

// FetchRequest captures everything needed to fetch a URL over plain HTTP.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// RenderRequest describes one navigation in the shared browsing session.
type RenderRequest struct {
	URL     string
	Timeout time.Duration
	// Settle is slept after the document is ready and before the DOM snapshot.
	Settle time.Duration
}

// RenderedPage is the DOM snapshot of a rendered document.
type RenderedPage struct {
	URL      string
	FinalURL string
	HTML     string
	Duration time.Duration
}

// RunSummary holds the counters reported at the end of a run.
type RunSummary struct {
	RunID         string `json:"run_id"`
	RowsSeen      int    `json:"rows_seen"`
	Resolved      int    `json:"resolved"`
	Failed        int    `json:"failed"`
	Merged        int    `json:"merged"`
	Duplicates    int    `json:"duplicates"`
	Rechecked     int    `json:"rechecked"`
	RecheckFailed int    `json:"recheck_failed"`
	CatalogSize   int    `json:"catalog_size"`
	StartedAt     int64  `json:"started_at"`
	FinishedAt    int64  `json:"finished_at"`
}
