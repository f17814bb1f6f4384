package sync

import (
	"context"
	"os"
	"sync"

	"github.com/biodiversity-meets-data/occmirror/pkg/errors"
	"github.com/biodiversity-meets-data/occmirror/pkg/ulid"
	"github.com/biodiversity-meets-data/occmirror/server/fetcher"
	"github.com/biodiversity-meets-data/occmirror/server/paths"
	"github.com/biodiversity-meets-data/occmirror/server/registry"
	"github.com/biodiversity-meets-data/occmirror/server/remote"
	"github.com/rs/zerolog"
)

// ComponentType defines the sync coordinator component type identifier
const ComponentType = "sync"

// LatestAlias resolves to the newest snapshot published upstream
const LatestAlias = "latest"

// Config tunes sync behavior
type Config struct {
	// KeepSnapshots is how many complete snapshots Prune retains
	KeepSnapshots int
}

// Plan describes the work one sync would perform
type Plan struct {
	Snapshot    string
	SnapshotID  int64
	FilesTotal  int
	FilesNeeded int
	BytesNeeded int64
}

// Outcome reports a finished sync run
type Outcome struct {
	RunID    string
	Snapshot string
	Result   fetcher.Result
	Complete bool
}

// Coordinator drives snapshot mirroring: it discovers upstream partitions,
// seeds the registry, hands pending files to the fetcher, and records the
// run. Only one sync runs at a time.
type Coordinator struct {
	remote  *remote.Client
	store   *registry.Store
	paths   paths.PathManager
	fetcher *fetcher.Fetcher
	cfg     Config
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a sync coordinator
func New(remoteClient *remote.Client, store *registry.Store, pathManager paths.PathManager, f *fetcher.Fetcher, cfg Config, logger zerolog.Logger) *Coordinator {
	if cfg.KeepSnapshots < 1 {
		cfg.KeepSnapshots = 1
	}
	return &Coordinator{
		remote:  remoteClient,
		store:   store,
		paths:   pathManager,
		fetcher: f,
		cfg:     cfg,
		logger:  logger.With().Str("component", "sync").Logger(),
	}
}

// Running reports whether a sync is currently in flight
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Coordinator) tryStart() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}
	c.running = true
	return true
}

func (c *Coordinator) finish() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// resolveSnapshot maps the latest alias (or an empty string) to the newest
// upstream snapshot date
func (c *Coordinator) resolveSnapshot(ctx context.Context, snapshot string) (string, error) {
	if snapshot == "" || snapshot == LatestAlias {
		return c.remote.LatestSnapshot(ctx)
	}
	return snapshot, nil
}

// Plan discovers a snapshot's partitions, seeds the registry, and reports
// how much work a sync would do. A plan with FilesNeeded == 0 means the
// mirror is already current for that snapshot.
func (c *Coordinator) Plan(ctx context.Context, snapshot string) (*Plan, error) {
	resolved, err := c.resolveSnapshot(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	// Reject bad dates before they leave a junk row in the registry
	if err := paths.ValidateSnapshotDate(resolved); err != nil {
		return nil, err
	}

	snap, err := c.store.UpsertSnapshot(ctx, resolved, c.remote.Region(), c.remote.Bucket())
	if err != nil {
		return nil, err
	}

	partitions, err := c.remote.ListPartitions(ctx, resolved)
	if err != nil {
		return nil, err
	}

	seeds := make([]registry.PartitionSeed, 0, len(partitions))
	for _, p := range partitions {
		localPath, err := c.paths.LocalPathForKey(p.Key)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, registry.PartitionSeed{
			Key:       p.Key,
			LocalPath: localPath,
			Size:      p.Size,
			ETag:      p.ETag,
		})
	}
	if err := c.store.SeedPartitions(ctx, snap.ID, seeds); err != nil {
		return nil, err
	}

	pending, err := c.store.PartitionsByState(ctx, snap.ID,
		registry.PartitionPending, registry.PartitionFailed, registry.PartitionDownloading)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Snapshot:    resolved,
		SnapshotID:  snap.ID,
		FilesTotal:  len(partitions),
		FilesNeeded: len(pending),
	}
	for _, pf := range pending {
		plan.BytesNeeded += pf.Size
	}
	return plan, nil
}

// Sync mirrors one snapshot. Already-complete partitions are not touched,
// so re-running a finished sync downloads nothing.
func (c *Coordinator) Sync(ctx context.Context, snapshot string, onProgress fetcher.ProgressFunc) (*Outcome, error) {
	if !c.tryStart() {
		return nil, errors.New(ErrSyncInProgress, "a sync is already running", nil)
	}
	defer c.finish()

	plan, err := c.Plan(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	runID := ulid.NewString()
	if _, err := c.store.CreateSyncRun(ctx, runID, plan.SnapshotID, plan.FilesTotal); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("snapshot", plan.Snapshot).
		Str("run_id", runID).
		Int("files_needed", plan.FilesNeeded).
		Int64("bytes_needed", plan.BytesNeeded).
		Msg("Starting snapshot sync")

	if plan.FilesNeeded > 0 {
		if err := c.store.SetSnapshotState(ctx, plan.SnapshotID, registry.SnapshotSyncing); err != nil {
			return nil, err
		}
	}

	pending, err := c.store.PartitionsByState(ctx, plan.SnapshotID,
		registry.PartitionPending, registry.PartitionFailed, registry.PartitionDownloading)
	if err != nil {
		return nil, err
	}

	result, fetchErr := c.fetcher.FetchPartitions(ctx, pending, onProgress)

	snap, refreshErr := c.store.RefreshSnapshotState(ctx, plan.SnapshotID)
	if refreshErr != nil {
		return nil, refreshErr
	}

	runState := registry.SyncSucceeded
	if fetchErr != nil || result.Failed > 0 {
		runState = registry.SyncFailed
	}
	if err := c.store.FinishSyncRun(ctx, runID, runState, result.Downloaded, result.Bytes, fetchErr); err != nil {
		return nil, err
	}

	outcome := &Outcome{
		RunID:    runID,
		Snapshot: plan.Snapshot,
		Result:   result,
		Complete: snap.State == registry.SnapshotComplete,
	}
	if fetchErr != nil {
		return outcome, fetchErr
	}
	if result.Failed > 0 {
		return outcome, errors.Newf(ErrSyncIncomplete, "%d partitions failed to download", result.Failed).
			AddContext("snapshot", plan.Snapshot)
	}

	c.logger.Info().
		Str("snapshot", plan.Snapshot).
		Int("downloaded", result.Downloaded).
		Int("skipped", result.Skipped).
		Int64("bytes", result.Bytes).
		Msg("Snapshot sync finished")
	return outcome, nil
}

// SyncLatest mirrors the newest upstream snapshot
func (c *Coordinator) SyncLatest(ctx context.Context, onProgress fetcher.ProgressFunc) (*Outcome, error) {
	return c.Sync(ctx, LatestAlias, onProgress)
}

// Stale reports whether upstream has published a snapshot newer than the
// newest complete local one. The returned date is the upstream latest.
func (c *Coordinator) Stale(ctx context.Context) (bool, string, error) {
	upstream, err := c.remote.LatestSnapshot(ctx)
	if err != nil {
		return false, "", err
	}

	local, err := c.store.LatestCompleteSnapshot(ctx)
	if err != nil {
		if errors.HasCode(err, registry.ErrNoCompleteSnapshots) {
			return true, upstream, nil
		}
		return false, "", err
	}
	return upstream > local.Date, upstream, nil
}

// Prune removes old complete snapshots from disk, keeping the configured
// number of newest ones. The newest complete snapshot is never pruned.
// It returns the dates of the snapshots removed.
func (c *Coordinator) Prune(ctx context.Context) ([]string, error) {
	complete, err := c.store.CompleteSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	if len(complete) <= c.cfg.KeepSnapshots {
		return nil, nil
	}

	// CompleteSnapshots returns newest first
	var pruned []string
	for _, snap := range complete[c.cfg.KeepSnapshots:] {
		dir := c.paths.GetSnapshotPath(snap.Date)
		if err := os.RemoveAll(dir); err != nil {
			return pruned, errors.New(ErrPruneFailed, "failed to remove snapshot directory", err).
				AddContext("snapshot", snap.Date)
		}
		if err := c.store.MarkSnapshotPruned(ctx, snap.ID); err != nil {
			return pruned, err
		}
		c.logger.Info().Str("snapshot", snap.Date).Msg("Pruned snapshot")
		pruned = append(pruned, snap.Date)
	}
	return pruned, nil
}
