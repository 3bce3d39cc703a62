// Package ingest fetches the published CSV export of the product sheet and turns it
// into ordered source rows.
package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
	"github.com/JakeFAU/affiliate-catalog/internal/policy/retry"
)

// ErrIngestion marks a source fetch or parse failure. It aborts the run before any
// catalog mutation.
var ErrIngestion = errors.New("source ingestion failed")

const defaultMaxRows = 80

// Config controls ingestion.
type Config struct {
	SourceURL string
	MaxRows   int
	// MaxAttempts bounds fetch attempts for transient failures.
	MaxAttempts int
	Timeout     time.Duration
}

// Ingester loads source rows through a catalog.Fetcher.
type Ingester struct {
	cfg     Config
	fetcher catalog.Fetcher
	retry   *retry.Exponential
	logger  *zap.Logger
}

// New builds an Ingester.
func New(cfg Config, fetcher catalog.Fetcher, logger *zap.Logger) *Ingester {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		cfg:     cfg,
		fetcher: fetcher,
		retry:   retry.NewExponential(cfg.MaxAttempts),
		logger:  logger,
	}
}

// Rows fetches and parses the source. Every failure wraps ErrIngestion.
func (i *Ingester) Rows(ctx context.Context) ([]catalog.SourceRow, error) {
	if strings.TrimSpace(i.cfg.SourceURL) == "" {
		return nil, fmt.Errorf("%w: source url is empty", ErrIngestion)
	}
	var body []byte
	err := i.retry.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		body, fetchErr = i.fetch(ctx)
		if fetchErr != nil {
			i.logger.Warn("source fetch failed", zap.String("url", i.cfg.SourceURL), zap.Error(fetchErr))
		}
		return fetchErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %w", ErrIngestion, i.cfg.SourceURL, err)
	}
	rows, err := Parse(bytes.NewReader(body), i.cfg.MaxRows)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIngestion, err)
	}
	if len(rows) == 0 && len(bytes.TrimSpace(body)) > 0 {
		i.logger.Warn("source body produced no rows; is the sheet still published as csv?",
			zap.String("url", i.cfg.SourceURL), zap.Int("bytes", len(body)))
	}
	i.logger.Info("source rows ingested", zap.Int("rows", len(rows)), zap.Int("bytes", len(body)))
	return rows, nil
}

func (i *Ingester) fetch(ctx context.Context) ([]byte, error) {
	if i.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.Timeout)
		defer cancel()
	}
	resp, err := i.fetcher.Fetch(ctx, catalog.FetchRequest{
		URL:     i.cfg.SourceURL,
		Headers: http.Header{"Accept": {"text/csv, text/plain;q=0.9, */*;q=0.1"}},
	})
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, retry.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return resp.Body, nil
}

// Parse reads CSV records: column 0 is the URL, column 1 an optional category slug.
// No header is assumed. Rows whose first cell is not URL-shaped are dropped, as are
// repeated URLs. At most maxRows rows are returned; maxRows <= 0 means unbounded.
func Parse(r io.Reader, maxRows int) ([]catalog.SourceRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	seen := make(map[string]struct{})
	var rows []catalog.SourceRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		rawURL := strings.TrimSpace(record[0])
		if !catalog.IsURLShaped(rawURL) {
			continue
		}
		if _, dup := seen[rawURL]; dup {
			continue
		}
		seen[rawURL] = struct{}{}
		row := catalog.SourceRow{URL: rawURL}
		if len(record) > 1 {
			row.PreferredCategory = strings.TrimSpace(record[1])
		}
		rows = append(rows, row)
		if maxRows > 0 && len(rows) >= maxRows {
			break
		}
	}
	return rows, nil
}
