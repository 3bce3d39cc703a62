package catalog

import (
	"sort"
	"sync"
)

// Store is the run-owned in-memory catalog keyed by product id. It is safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[ProductID]ProductRecord
}

// NewStore seeds a store from a previously persisted snapshot. Records without an id
// are dropped; when an id repeats, the most recently updated record wins.
func NewStore(records []ProductRecord) *Store {
	s := &Store{records: make(map[ProductID]ProductRecord, len(records))}
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if prev, ok := s.records[rec.ID]; ok && prev.UpdatedAt >= rec.UpdatedAt {
			continue
		}
		s.records[rec.ID] = rec
	}
	return s
}

// Get returns the record for id.
func (s *Store) Get(id ProductID) (ProductRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Apply runs merge against the current record for id (nil when unseen) and stores
// the result under the write lock. The stored record always carries id.
func (s *Store) Apply(id ProductID, merge func(existing *ProductRecord) ProductRecord) ProductRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var existing *ProductRecord
	if rec, ok := s.records[id]; ok {
		existing = &rec
	}
	next := merge(existing)
	next.ID = id
	s.records[id] = next
	return next
}

// Snapshot returns every record ordered by UpdatedAt descending, ties broken by id.
func (s *Store) Snapshot() []ProductRecord {
	out := s.all()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Oldest selects at most n records with the smallest UpdatedAt, skipping ids in
// exclude. The result is ordered oldest first.
func (s *Store) Oldest(n int, exclude map[ProductID]struct{}) []ProductRecord {
	if n <= 0 {
		return nil
	}
	all := s.all()
	candidates := all[:0]
	for _, rec := range all {
		if _, skip := exclude[rec.ID]; skip {
			continue
		}
		candidates = append(candidates, rec)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].UpdatedAt != candidates[j].UpdatedAt {
			return candidates[i].UpdatedAt < candidates[j].UpdatedAt
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

func (s *Store) all() []ProductRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProductRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}
