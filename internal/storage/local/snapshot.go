// Package local persists the catalog snapshot and run artifacts on the local filesystem.
package local

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
)

// ErrPersist marks a failure to write the catalog snapshot. The previous snapshot on
// disk stays authoritative.
var ErrPersist = errors.New("catalog persistence failed")

// Snapshot reads and writes the catalog JSON file consumed by the front end.
type Snapshot struct {
	path string
}

// NewSnapshot returns a Snapshot bound to path.
func NewSnapshot(path string) (*Snapshot, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	return &Snapshot{path: path}, nil
}

// Path returns the snapshot location.
func (s *Snapshot) Path() string {
	return s.path
}

// Load reads the snapshot. A missing file is an empty catalog.
func (s *Snapshot) Load() ([]catalog.ProductRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var records []catalog.ProductRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}
	return records, nil
}

// Save writes records atomically, ordered by updated_at descending.
func (s *Snapshot) Save(records []catalog.ProductRecord) error {
	data, err := Encode(records)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := writeAtomic(s.path, bytes.NewReader(data), 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// Encode renders records as the snapshot JSON: a 2-space indented array ordered by
// updated_at descending (ties by id), images never null, trailing newline.
func Encode(records []catalog.ProductRecord) ([]byte, error) {
	out := make([]catalog.ProductRecord, len(records))
	copy(out, records)
	for i := range out {
		if out[i].Images == nil {
			out[i].Images = []string{}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID < out[j].ID
	})
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return append(data, '\n'), nil
}
