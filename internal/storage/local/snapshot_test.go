package local

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
)

func sampleRecords() []catalog.ProductRecord {
	return []catalog.ProductRecord{
		{
			ID:           "601099500000001",
			Title:        "Ceramic Vase",
			Slug:         "ceramic-vase",
			CategorySlug: "room-decor",
			OutboundURL:  "https://www.temu.com/goods.html?goods_id=601099500000001",
			AddedAt:      1690000000000,
			UpdatedAt:    1690000000000,
			CheckCount:   1,
		},
		{
			ID:           "601099512345678",
			Title:        "Cozy Lamp",
			Slug:         "cozy-lamp",
			CategorySlug: "lighting",
			Price:        "12.99",
			Images:       []string{"https://img.example/media/a.jpg"},
			OutboundURL:  "https://temu.to/k/e4xyz",
			Available:    true,
			AddedAt:      1700000000000,
			UpdatedAt:    1700000500000,
			CheckCount:   3,
		},
	}
}

func TestEncodeMatchesGolden(t *testing.T) {
	t.Parallel()

	data, err := Encode(sampleRecords())
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "snapshot", data)
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "products.json")
	snap, err := NewSnapshot(path)
	require.NoError(t, err)

	require.NoError(t, snap.Save(sampleRecords()))
	loaded, err := snap.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, catalog.ProductID("601099512345678"), loaded[0].ID)
	require.Equal(t, []string{}, loaded[1].Images)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}

func TestSnapshotLoadMissingIsEmpty(t *testing.T) {
	t.Parallel()

	snap, err := NewSnapshot(filepath.Join(t.TempDir(), "products.json"))
	require.NoError(t, err)
	records, err := snap.Load()
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestSnapshotLoadRejectsCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "products.json")
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0o600))
	snap, err := NewSnapshot(path)
	require.NoError(t, err)
	_, err = snap.Load()
	require.Error(t, err)
}

func TestSnapshotSaveFailureKeepsPreviousFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "products.json")
	require.NoError(t, os.WriteFile(path, []byte("[]\n"), 0o600))

	// A regular file where the parent directory should be makes the write fail.
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("file"), 0o600))
	bad, err := NewSnapshot(filepath.Join(blocked, "products.json"))
	require.NoError(t, err)
	require.ErrorIs(t, bad.Save(sampleRecords()), ErrPersist)

	data, err := os.ReadFile(path) // #nosec G304 -- test reads from the controlled temp directory.
	require.NoError(t, err)
	require.Equal(t, "[]\n", string(data))
}

func TestNewSnapshotRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewSnapshot(" ")
	require.Error(t, err)
}
