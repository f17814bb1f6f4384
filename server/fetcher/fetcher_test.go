package fetcher

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/biodiversity-meets-data/occmirror/server/config"
	"github.com/biodiversity-meets-data/occmirror/server/registry"
	"github.com/biodiversity-meets-data/occmirror/server/remote"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "gbif-open-data-eu-central-1"

type fetcherEnv struct {
	backend *s3mem.Backend
	client  *remote.Client
	store   *registry.Store
	fetcher *Fetcher
	baseDir string
}

func newFetcherEnv(t *testing.T) *fetcherEnv {
	t.Helper()

	backend := s3mem.New()
	faker := gofakes3.New(backend)
	ts := httptest.NewServer(faker.Server())
	t.Cleanup(ts.Close)
	require.NoError(t, backend.CreateBucket(testBucket))

	cfg := &config.MirrorConfig{
		Region:        "eu-central-1",
		Bucket:        testBucket,
		DatasetPrefix: "occurrence",
	}
	client, err := remote.NewClientWithEndpoint(strings.TrimPrefix(ts.URL, "http://"), false, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	baseDir := t.TempDir()
	store, err := registry.NewStore(filepath.Join(baseDir, "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := New(client, store, Config{
		MaxConcurrent: 4,
		Retries:       1,
		TempDir:       filepath.Join(baseDir, "tmp"),
	}, zerolog.Nop())

	return &fetcherEnv{backend: backend, client: client, store: store, fetcher: f, baseDir: baseDir}
}

func (e *fetcherEnv) put(t *testing.T, key, content string) {
	t.Helper()
	// gofakes3 serves objects seeded without metadata with an empty
	// Last-Modified header, which minio-go rejects
	meta := map[string]string{"Last-Modified": time.Now().UTC().Format(http.TimeFormat)}
	_, err := e.backend.PutObject(testBucket, key, meta, strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)
}

// seed registers a snapshot plus partitions and returns the pending rows.
// etags maps keys to listing etags; keys absent from it get none.
func (e *fetcherEnv) seed(t *testing.T, contents map[string]string, etags map[string]string) []*registry.PartitionFile {
	t.Helper()
	ctx := context.Background()

	snap, err := e.store.UpsertSnapshot(ctx, "2025-10-01", "eu-central-1", testBucket)
	require.NoError(t, err)

	var seeds []registry.PartitionSeed
	for key, content := range contents {
		seeds = append(seeds, registry.PartitionSeed{
			Key:       key,
			LocalPath: filepath.Join(e.baseDir, key),
			Size:      int64(len(content)),
			ETag:      etags[key],
		})
	}
	require.NoError(t, e.store.SeedPartitions(ctx, snap.ID, seeds))

	parts, err := e.store.PartitionsByState(ctx, snap.ID,
		registry.PartitionPending, registry.PartitionFailed)
	require.NoError(t, err)
	return parts
}

func md5Hex(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestFetchPartitionsDownloadsAll(t *testing.T) {
	env := newFetcherEnv(t)
	contents := map[string]string{
		"occurrence/2025-10-01/occurrence.parquet/000000": "first partition bytes",
		"occurrence/2025-10-01/occurrence.parquet/000001": "second",
		"occurrence/2025-10-01/occurrence.parquet/000002": "third partition",
	}
	for key, content := range contents {
		env.put(t, key, content)
	}
	parts := env.seed(t, contents, nil)

	var calls int32
	result, err := env.fetcher.FetchPartitions(context.Background(), parts, func(key string, size int64, err error) {
		atomic.AddInt32(&calls, 1)
		assert.NoError(t, err)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Downloaded)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	for key, content := range contents {
		data, err := os.ReadFile(filepath.Join(env.baseDir, key))
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	}

	// All rows flipped to complete
	for _, pf := range parts {
		got, err := env.store.GetPartition(context.Background(), pf.ID)
		require.NoError(t, err)
		assert.Equal(t, registry.PartitionComplete, got.State)
	}
}

func TestFetchPartitionsSkipsExistingFiles(t *testing.T) {
	env := newFetcherEnv(t)
	content := "already mirrored"
	key := "occurrence/2025-10-01/occurrence.parquet/000000"
	env.put(t, key, content)
	parts := env.seed(t, map[string]string{key: content}, nil)

	localPath := parts[0].LocalPath
	require.NoError(t, os.MkdirAll(filepath.Dir(localPath), 0755))
	require.NoError(t, os.WriteFile(localPath, []byte(content), 0644))

	result, err := env.fetcher.FetchPartitions(context.Background(), parts, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Downloaded)
	assert.Equal(t, 1, result.Skipped)

	got, err := env.store.GetPartition(context.Background(), parts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, registry.PartitionComplete, got.State)
}

func TestFetchPartitionsRedownloadsTruncatedFile(t *testing.T) {
	env := newFetcherEnv(t)
	content := "full partition content"
	key := "occurrence/2025-10-01/occurrence.parquet/000000"
	env.put(t, key, content)
	parts := env.seed(t, map[string]string{key: content}, nil)

	// A file with the wrong size is treated as absent
	localPath := parts[0].LocalPath
	require.NoError(t, os.MkdirAll(filepath.Dir(localPath), 0755))
	require.NoError(t, os.WriteFile(localPath, []byte("trunc"), 0644))

	result, err := env.fetcher.FetchPartitions(context.Background(), parts, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Downloaded)

	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestFetchPartitionsReportsMissingObject(t *testing.T) {
	env := newFetcherEnv(t)
	// Registered in the registry but never uploaded to the bucket
	parts := env.seed(t, map[string]string{
		"occurrence/2025-10-01/occurrence.parquet/000000": "vanished",
	}, nil)

	var failedKey string
	result, err := env.fetcher.FetchPartitions(context.Background(), parts, func(key string, size int64, err error) {
		if err != nil {
			failedKey = key
		}
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, parts[0].Key, failedKey)

	got, err := env.store.GetPartition(context.Background(), parts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, registry.PartitionFailed, got.State)
	// One initial attempt plus one retry
	assert.Equal(t, 2, got.Attempts)

	// No partial file published
	_, statErr := os.Stat(parts[0].LocalPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchPartitionsRejectsEtagMismatch(t *testing.T) {
	env := newFetcherEnv(t)
	content := "tampered partition bytes"
	key := "occurrence/2025-10-01/occurrence.parquet/000000"
	env.put(t, key, content)
	// The registered etag does not match what the bucket serves
	parts := env.seed(t, map[string]string{key: content},
		map[string]string{key: strings.Repeat("0", 32)})

	result, err := env.fetcher.FetchPartitions(context.Background(), parts, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	got, err := env.store.GetPartition(context.Background(), parts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, registry.PartitionFailed, got.State)

	// The mismatching download is discarded, never published
	_, statErr := os.Stat(parts[0].LocalPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchPartitionsReplacesStaleLocalFile(t *testing.T) {
	env := newFetcherEnv(t)
	content := "fresh bytes"
	stale := "stale bytes"
	require.Equal(t, len(content), len(stale))

	key := "occurrence/2025-10-01/occurrence.parquet/000000"
	env.put(t, key, content)
	parts := env.seed(t, map[string]string{key: content},
		map[string]string{key: md5Hex(content)})

	// Same size as the remote object but different content
	localPath := parts[0].LocalPath
	require.NoError(t, os.MkdirAll(filepath.Dir(localPath), 0755))
	require.NoError(t, os.WriteFile(localPath, []byte(stale), 0644))

	result, err := env.fetcher.FetchPartitions(context.Background(), parts, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Downloaded)
	assert.Equal(t, 0, result.Skipped)

	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestFetchPartitionsCanceledContext(t *testing.T) {
	env := newFetcherEnv(t)
	content := "partition bytes"
	key := "occurrence/2025-10-01/occurrence.parquet/000000"
	env.put(t, key, content)
	parts := env.seed(t, map[string]string{key: content}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.fetcher.FetchPartitions(ctx, parts, nil)
	assert.Error(t, err)
}
