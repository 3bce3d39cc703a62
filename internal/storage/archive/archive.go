// Package archive mirrors each run's catalog snapshot and summary into a blob store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
	"github.com/JakeFAU/affiliate-catalog/internal/storage/local"
)

const contentTypeJSON = "application/json"

// Mirror writes runs/<run_id>/{products,summary}.json and latest/products.json.
type Mirror struct {
	store  catalog.BlobStore
	logger *zap.Logger
}

// New builds a Mirror over store.
func New(store catalog.BlobStore, logger *zap.Logger) (*Mirror, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{store: store, logger: logger}, nil
}

// SyncCatalog implements catalog.Mirror.
func (m *Mirror) SyncCatalog(ctx context.Context, records []catalog.ProductRecord, summary catalog.RunSummary) error {
	if summary.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	products, err := local.Encode(records)
	if err != nil {
		return err
	}
	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	runDir := path.Join("runs", summary.RunID)
	objects := []struct {
		path string
		data []byte
	}{
		{path.Join(runDir, "products.json"), products},
		{path.Join(runDir, "summary.json"), summaryJSON},
		{path.Join("latest", "products.json"), products},
	}
	var errs []error
	for _, obj := range objects {
		uri, err := m.store.PutObject(ctx, obj.path, contentTypeJSON, bytes.NewReader(obj.data))
		if err != nil {
			errs = append(errs, fmt.Errorf("put %s: %w", obj.path, err))
			continue
		}
		m.logger.Debug("archived object", zap.String("uri", uri), zap.Int("bytes", len(obj.data)))
	}
	return errors.Join(errs...)
}
