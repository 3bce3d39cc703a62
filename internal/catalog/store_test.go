package catalog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewStore_DeduplicatesByID(t *testing.T) {
	t.Parallel()

	s := NewStore([]ProductRecord{
		{ID: "1111111111", Title: "old", UpdatedAt: 1},
		{ID: "1111111111", Title: "new", UpdatedAt: 2},
		{ID: "", Title: "orphan"},
		{ID: "2222222222", Title: "other", UpdatedAt: 3},
	})

	require.Equal(t, 2, s.Len())
	rec, ok := s.Get("1111111111")
	require.True(t, ok)
	require.Equal(t, "new", rec.Title)
}

func TestStore_SnapshotOrderedByUpdatedDesc(t *testing.T) {
	t.Parallel()

	s := NewStore([]ProductRecord{
		{ID: "1111111111", UpdatedAt: 10},
		{ID: "3333333333", UpdatedAt: 30},
		{ID: "2222222222", UpdatedAt: 30},
		{ID: "4444444444", UpdatedAt: 20},
	})

	snap := s.Snapshot()
	ids := make([]ProductID, 0, len(snap))
	for _, rec := range snap {
		ids = append(ids, rec.ID)
	}
	require.Equal(t, []ProductID{"2222222222", "3333333333", "4444444444", "1111111111"}, ids)
}

func TestStore_OldestSelectsBoundedStalestSubset(t *testing.T) {
	t.Parallel()

	records := make([]ProductRecord, 0, 500)
	for i := 0; i < 500; i++ {
		// Interleave timestamps so selection cannot rely on insertion order.
		ts := int64((i*7919)%500) + 1
		records = append(records, ProductRecord{ID: ProductID(fmt.Sprintf("%010d", i)), UpdatedAt: ts})
	}
	s := NewStore(records)

	picked := s.Oldest(40, nil)
	require.Len(t, picked, 40)
	for i, rec := range picked {
		require.Equal(t, int64(i+1), rec.UpdatedAt)
	}
}

func TestStore_OldestHonoursExclusions(t *testing.T) {
	t.Parallel()

	s := NewStore([]ProductRecord{
		{ID: "1111111111", UpdatedAt: 1},
		{ID: "2222222222", UpdatedAt: 2},
		{ID: "3333333333", UpdatedAt: 3},
	})

	picked := s.Oldest(2, map[ProductID]struct{}{"1111111111": {}})
	require.Len(t, picked, 2)
	require.Equal(t, ProductID("2222222222"), picked[0].ID)
	require.Equal(t, ProductID("3333333333"), picked[1].ID)
	require.Nil(t, s.Oldest(0, nil))
}

func TestStore_ApplyKeepsOneRecordPerID(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.Apply("1234567890", func(existing *ProductRecord) ProductRecord {
				return Merge(existing, Metadata{Title: "Lamp"}, "1234567890", "decor", "", time.UnixMilli(int64(n)))
			})
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, s.Len())
	rec, ok := s.Get("1234567890")
	require.True(t, ok)
	require.Equal(t, 50, rec.CheckCount)
	require.Equal(t, int64(49), rec.UpdatedAt)
}
