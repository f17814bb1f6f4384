package verify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/biodiversity-meets-data/occmirror/server/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeParquet writes a small single-column parquet file and returns its size
func writeParquet(t *testing.T, path string, ids []int64) int64 {
	t.Helper()

	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "gbifid", Type: arrow.PrimitiveTypes.Int64},
	}, nil)

	builder := array.NewRecordBuilder(mem, schema)
	defer builder.Release()
	builder.Field(0).(*array.Int64Builder).AppendValues(ids, nil)
	rec := builder.NewRecord()
	defer rec.Release()

	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	// WriteTable closes the sink itself
	require.NoError(t, pqarrow.WriteTable(tbl, f, 1024, nil, pqarrow.DefaultWriterProps()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}

func TestVerifyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000000")
	size := writeParquet(t, path, []int64{1, 2, 3, 4, 5})

	v := New(nil, zerolog.Nop())

	rows, err := v.VerifyFile(path, size)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rows)
}

func TestVerifyFileSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000000")
	size := writeParquet(t, path, []int64{1, 2, 3})

	v := New(nil, zerolog.Nop())

	_, err := v.VerifyFile(path, size+1)
	assert.Error(t, err)
}

func TestVerifyFileCorruptFooter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000000")
	content := []byte("this is not a parquet file")
	require.NoError(t, os.WriteFile(path, content, 0644))

	v := New(nil, zerolog.Nop())

	_, err := v.VerifyFile(path, int64(len(content)))
	assert.Error(t, err)
}

func TestVerifyFileMissing(t *testing.T) {
	v := New(nil, zerolog.Nop())

	_, err := v.VerifyFile(filepath.Join(t.TempDir(), "absent"), 10)
	assert.Error(t, err)
}

func newVerifyStore(t *testing.T) *registry.Store {
	t.Helper()
	store, err := registry.NewStore(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestVerifySnapshot(t *testing.T) {
	ctx := context.Background()
	store := newVerifyStore(t)
	dir := t.TempDir()

	snap, err := store.UpsertSnapshot(ctx, "2025-10-01", "eu-central-1", "gbif-open-data-eu-central-1")
	require.NoError(t, err)

	goodPath := filepath.Join(dir, "000000")
	goodSize := writeParquet(t, goodPath, []int64{1, 2, 3})

	badPath := filepath.Join(dir, "000001")
	badContent := []byte("garbage, not parquet")
	require.NoError(t, os.WriteFile(badPath, badContent, 0644))

	seeds := []registry.PartitionSeed{
		{Key: "occurrence/2025-10-01/occurrence.parquet/000000", LocalPath: goodPath, Size: goodSize},
		{Key: "occurrence/2025-10-01/occurrence.parquet/000001", LocalPath: badPath, Size: int64(len(badContent))},
	}
	require.NoError(t, store.SeedPartitions(ctx, snap.ID, seeds))

	parts, err := store.PartitionsByState(ctx, snap.ID, registry.PartitionPending)
	require.NoError(t, err)
	for _, pf := range parts {
		require.NoError(t, store.SetPartitionState(ctx, pf.ID, registry.PartitionComplete))
	}
	_, err = store.RefreshSnapshotState(ctx, snap.ID)
	require.NoError(t, err)

	v := New(store, zerolog.Nop())

	report, err := v.VerifySnapshot(ctx, snap.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, int64(3), report.Rows)

	// The corrupt file is gone and its row reset to pending
	_, statErr := os.Stat(badPath)
	assert.True(t, os.IsNotExist(statErr))

	pending, err := store.PartitionsByState(ctx, snap.ID, registry.PartitionPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "occurrence/2025-10-01/occurrence.parquet/000001", pending[0].Key)

	// The snapshot is no longer complete
	got, err := store.GetSnapshot(ctx, "2025-10-01")
	require.NoError(t, err)
	assert.Equal(t, registry.SnapshotSyncing, got.State)

	// The good partition carries a verification timestamp
	verified, err := store.PartitionsByState(ctx, snap.ID, registry.PartitionComplete)
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.NotNil(t, verified[0].VerifiedAt)
}
