package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/biodiversity-meets-data/occmirror/server/config"
	"github.com/biodiversity-meets-data/occmirror/server/fetcher"
	"github.com/biodiversity-meets-data/occmirror/server/paths"
	"github.com/biodiversity-meets-data/occmirror/server/registry"
	"github.com/biodiversity-meets-data/occmirror/server/remote"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "gbif-open-data-eu-central-1"

type syncEnv struct {
	backend *s3mem.Backend
	store   *registry.Store
	paths   *paths.Manager
	coord   *Coordinator
}

func newSyncEnv(t *testing.T, keep int) *syncEnv {
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
	pm := paths.NewManager(baseDir, "occurrence")

	store, err := registry.NewStore(filepath.Join(baseDir, "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := fetcher.New(client, store, fetcher.Config{
		MaxConcurrent: 4,
		Retries:       0,
		TempDir:       pm.GetTempPath(),
	}, zerolog.Nop())

	coord := New(client, store, pm, f, Config{KeepSnapshots: keep}, zerolog.Nop())
	return &syncEnv{backend: backend, store: store, paths: pm, coord: coord}
}

func (e *syncEnv) put(t *testing.T, key, content string) {
	t.Helper()
	// gofakes3 serves objects seeded without metadata with an empty
	// Last-Modified header, which minio-go rejects
	meta := map[string]string{"Last-Modified": time.Now().UTC().Format(http.TimeFormat)}
	_, err := e.backend.PutObject(testBucket, key, meta, strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)
}

func (e *syncEnv) putSnapshot(t *testing.T, date string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		e.put(t, "occurrence/"+date+"/occurrence.parquet/"+name, content)
	}
}

func TestPlanCountsPendingWork(t *testing.T) {
	env := newSyncEnv(t, 1)
	env.putSnapshot(t, "2025-10-01", map[string]string{
		"000000": "first",
		"000001": "second one",
	})

	plan, err := env.coord.Plan(context.Background(), "2025-10-01")
	require.NoError(t, err)

	assert.Equal(t, "2025-10-01", plan.Snapshot)
	assert.Equal(t, 2, plan.FilesTotal)
	assert.Equal(t, 2, plan.FilesNeeded)
	assert.Equal(t, int64(len("first")+len("second one")), plan.BytesNeeded)
}

func TestSyncMirrorsSnapshot(t *testing.T) {
	env := newSyncEnv(t, 1)
	files := map[string]string{
		"000000": "partition zero",
		"000001": "partition one",
	}
	env.putSnapshot(t, "2025-10-01", files)

	outcome, err := env.coord.Sync(context.Background(), "2025-10-01", nil)
	require.NoError(t, err)

	assert.True(t, outcome.Complete)
	assert.Equal(t, 2, outcome.Result.Downloaded)
	assert.NotEmpty(t, outcome.RunID)

	for name, content := range files {
		path := filepath.Join(env.paths.GetPartitionDir("2025-10-01"), name)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	}

	snap, err := env.store.GetSnapshot(context.Background(), "2025-10-01")
	require.NoError(t, err)
	assert.Equal(t, registry.SnapshotComplete, snap.State)

	runs, err := env.store.ListSyncRuns(context.Background(), snap.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, registry.SyncSucceeded, runs[0].State)
	assert.Equal(t, 2, runs[0].FilesDownloaded)
}

func TestSyncIsIdempotent(t *testing.T) {
	env := newSyncEnv(t, 1)
	env.putSnapshot(t, "2025-10-01", map[string]string{"000000": "stable bytes"})

	_, err := env.coord.Sync(context.Background(), "2025-10-01", nil)
	require.NoError(t, err)

	// A fresh mirror downloads nothing on the second pass
	outcome, err := env.coord.Sync(context.Background(), "2025-10-01", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Result.Downloaded)
	assert.True(t, outcome.Complete)
}

func TestSyncLatestResolvesNewestSnapshot(t *testing.T) {
	env := newSyncEnv(t, 2)
	env.putSnapshot(t, "2025-09-01", map[string]string{"000000": "old"})
	env.putSnapshot(t, "2025-10-01", map[string]string{"000000": "new"})

	outcome, err := env.coord.SyncLatest(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "2025-10-01", outcome.Snapshot)
}

func TestStale(t *testing.T) {
	env := newSyncEnv(t, 2)
	env.putSnapshot(t, "2025-09-01", map[string]string{"000000": "old"})

	// Nothing mirrored yet: stale
	stale, upstream, err := env.coord.Stale(context.Background())
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Equal(t, "2025-09-01", upstream)

	_, err = env.coord.Sync(context.Background(), "2025-09-01", nil)
	require.NoError(t, err)

	// Mirror matches upstream: fresh
	stale, _, err = env.coord.Stale(context.Background())
	require.NoError(t, err)
	assert.False(t, stale)

	// A new release appears upstream
	env.putSnapshot(t, "2025-10-01", map[string]string{"000000": "new"})
	env.coord.remote.InvalidateIndex()

	stale, upstream, err = env.coord.Stale(context.Background())
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Equal(t, "2025-10-01", upstream)
}

func TestPruneKeepsNewestSnapshots(t *testing.T) {
	env := newSyncEnv(t, 1)
	env.putSnapshot(t, "2025-08-01", map[string]string{"000000": "aug"})
	env.putSnapshot(t, "2025-09-01", map[string]string{"000000": "sep"})
	env.putSnapshot(t, "2025-10-01", map[string]string{"000000": "oct"})

	for _, date := range []string{"2025-08-01", "2025-09-01", "2025-10-01"} {
		_, err := env.coord.Sync(context.Background(), date, nil)
		require.NoError(t, err)
	}

	pruned, err := env.coord.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-09-01", "2025-08-01"}, pruned)

	// Newest snapshot survives on disk, pruned ones are gone
	_, err = os.Stat(env.paths.GetSnapshotPath("2025-10-01"))
	assert.NoError(t, err)
	for _, date := range pruned {
		_, statErr := os.Stat(env.paths.GetSnapshotPath(date))
		assert.True(t, os.IsNotExist(statErr))
	}

	snap, err := env.store.GetSnapshot(context.Background(), "2025-09-01")
	require.NoError(t, err)
	assert.Equal(t, registry.SnapshotPruned, snap.State)

	// Nothing left to prune
	pruned, err = env.coord.Prune(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pruned)
}

func TestPrunedSnapshotResyncsFromScratch(t *testing.T) {
	env := newSyncEnv(t, 1)
	env.putSnapshot(t, "2025-09-01", map[string]string{"000000": "sep"})
	env.putSnapshot(t, "2025-10-01", map[string]string{"000000": "oct"})

	for _, date := range []string{"2025-09-01", "2025-10-01"} {
		_, err := env.coord.Sync(context.Background(), date, nil)
		require.NoError(t, err)
	}

	pruned, err := env.coord.Prune(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"2025-09-01"}, pruned)

	// Syncing a pruned snapshot must re-download it, not trust the old
	// partition rows whose files are gone
	outcome, err := env.coord.Sync(context.Background(), "2025-09-01", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Result.Downloaded)
	assert.True(t, outcome.Complete)

	data, err := os.ReadFile(filepath.Join(env.paths.GetPartitionDir("2025-09-01"), "000000"))
	require.NoError(t, err)
	assert.Equal(t, "sep", string(data))

	snap, err := env.store.GetSnapshot(context.Background(), "2025-09-01")
	require.NoError(t, err)
	assert.Equal(t, registry.SnapshotComplete, snap.State)
}

func TestPlanRejectsInvalidDate(t *testing.T) {
	env := newSyncEnv(t, 1)
	env.putSnapshot(t, "2025-10-01", map[string]string{"000000": "a"})

	_, err := env.coord.Plan(context.Background(), "not-a-date")
	require.Error(t, err)

	// The bad input must not leave a row behind
	snaps, err := env.store.ListSnapshots(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestSyncReportsMissingObjects(t *testing.T) {
	env := newSyncEnv(t, 1)
	env.putSnapshot(t, "2025-10-01", map[string]string{"000000": "present"})

	// Seed the plan, then delete the object so the download fails
	_, err := env.coord.Plan(context.Background(), "2025-10-01")
	require.NoError(t, err)
	_, err = env.backend.DeleteObject(testBucket, "occurrence/2025-10-01/occurrence.parquet/000000")
	require.NoError(t, err)

	outcome, err := env.coord.Sync(context.Background(), "2025-10-01", nil)
	require.Error(t, err)
	require.NotNil(t, outcome)
	assert.False(t, outcome.Complete)
	assert.Equal(t, 1, outcome.Result.Failed)

	snap, getErr := env.store.GetSnapshot(context.Background(), "2025-10-01")
	require.NoError(t, getErr)

	runs, runsErr := env.store.ListSyncRuns(context.Background(), snap.ID)
	require.NoError(t, runsErr)
	require.Len(t, runs, 1)
	assert.Equal(t, registry.SyncFailed, runs[0].State)
}
