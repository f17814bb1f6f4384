package registry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/biodiversity-meets-data/occmirror/pkg/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// ComponentType defines the registry component type identifier
const ComponentType = "registry"

// Store tracks mirror state in an embedded SQLite database via bun
type Store struct {
	db     *bun.DB
	dbPath string
}

// NewStore opens (or creates) the registry database and migrates it to
// the latest schema
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, errors.New(ErrOpenFailed, "failed to create registry directory", err).AddContext("path", dbPath)
	}

	sqldb, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, errors.New(ErrOpenFailed, "failed to open registry database", err).AddContext("path", dbPath)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()
	if err := migrateToLatest(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetType returns the component type identifier
func (s *Store) GetType() string {
	return ComponentType
}

// Shutdown gracefully shuts down the store
func (s *Store) Shutdown(ctx context.Context) error {
	return s.Close()
}

// UpsertSnapshot registers a snapshot if unknown and returns its row
func (s *Store) UpsertSnapshot(ctx context.Context, date, region, bucket string) (*Snapshot, error) {
	snap := &Snapshot{
		Date:      date,
		Region:    region,
		Bucket:    bucket,
		State:     SnapshotDiscovered,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(snap).
		On("CONFLICT (date) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, errors.New(ErrQueryFailed, "failed to upsert snapshot", err).AddContext("date", date)
	}
	return s.GetSnapshot(ctx, date)
}

// GetSnapshot returns the snapshot row for a date
func (s *Store) GetSnapshot(ctx context.Context, date string) (*Snapshot, error) {
	snap := new(Snapshot)
	err := s.db.NewSelect().Model(snap).Where("date = ?", date).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(ErrSnapshotNotFound, "snapshot is not registered", nil).AddContext("date", date)
		}
		return nil, errors.New(ErrQueryFailed, "failed to load snapshot", err).AddContext("date", date)
	}
	return snap, nil
}

// ListSnapshots returns all known snapshots, newest first
func (s *Store) ListSnapshots(ctx context.Context) ([]*Snapshot, error) {
	var snaps []*Snapshot
	err := s.db.NewSelect().Model(&snaps).Order("date DESC").Scan(ctx)
	if err != nil {
		return nil, errors.New(ErrQueryFailed, "failed to list snapshots", err)
	}
	return snaps, nil
}

// CompleteSnapshots returns fully mirrored snapshots, newest first
func (s *Store) CompleteSnapshots(ctx context.Context) ([]*Snapshot, error) {
	var snaps []*Snapshot
	err := s.db.NewSelect().
		Model(&snaps).
		Where("state = ?", SnapshotComplete).
		Order("date DESC").
		Scan(ctx)
	if err != nil {
		return nil, errors.New(ErrQueryFailed, "failed to list complete snapshots", err)
	}
	return snaps, nil
}

// LatestCompleteSnapshot returns the newest fully mirrored snapshot
func (s *Store) LatestCompleteSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := new(Snapshot)
	err := s.db.NewSelect().
		Model(snap).
		Where("state = ?", SnapshotComplete).
		Order("date DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(ErrNoCompleteSnapshots, "no complete snapshot is mirrored yet", nil)
		}
		return nil, errors.New(ErrQueryFailed, "failed to load latest complete snapshot", err)
	}
	return snap, nil
}

// SetSnapshotState updates a snapshot's state
func (s *Store) SetSnapshotState(ctx context.Context, snapshotID int64, state string) error {
	_, err := s.db.NewUpdate().
		Model((*Snapshot)(nil)).
		Set("state = ?", state).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", snapshotID).
		Exec(ctx)
	if err != nil {
		return errors.New(ErrQueryFailed, "failed to update snapshot state", err).AddContext("state", state)
	}
	return nil
}

// SeedPartitions registers the remote listing of a snapshot. Existing
// partition rows are left untouched so completed downloads survive
// repeated syncs; totals on the snapshot row are refreshed.
func (s *Store) SeedPartitions(ctx context.Context, snapshotID int64, seeds []PartitionSeed) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		var totalSize int64
		for _, seed := range seeds {
			totalSize += seed.Size
			pf := &PartitionFile{
				SnapshotID: snapshotID,
				Key:        seed.Key,
				LocalPath:  seed.LocalPath,
				Size:       seed.Size,
				ETag:       seed.ETag,
				State:      PartitionPending,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if _, err := tx.NewInsert().
				Model(pf).
				On("CONFLICT (snapshot_id, key) DO NOTHING").
				Exec(ctx); err != nil {
				return err
			}
		}

		_, err := tx.NewUpdate().
			Model((*Snapshot)(nil)).
			Set("file_count = ?", len(seeds)).
			Set("total_size = ?", totalSize).
			Set("updated_at = ?", now).
			Where("id = ?", snapshotID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return errors.New(ErrTransactionFailed, "failed to seed partitions", err)
	}
	return nil
}

// PartitionsByState returns a snapshot's partitions in the given states;
// with no states given it returns all of them, ordered by key
func (s *Store) PartitionsByState(ctx context.Context, snapshotID int64, states ...string) ([]*PartitionFile, error) {
	var parts []*PartitionFile
	q := s.db.NewSelect().
		Model(&parts).
		Where("snapshot_id = ?", snapshotID).
		Order("key ASC")
	if len(states) > 0 {
		q = q.Where("state IN (?)", bun.In(states))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, errors.New(ErrQueryFailed, "failed to list partitions", err)
	}
	return parts, nil
}

// GetPartition returns one partition row by ID
func (s *Store) GetPartition(ctx context.Context, id int64) (*PartitionFile, error) {
	pf := new(PartitionFile)
	err := s.db.NewSelect().Model(pf).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(ErrPartitionNotFound, "partition is not registered", nil)
		}
		return nil, errors.New(ErrQueryFailed, "failed to load partition", err)
	}
	return pf, nil
}

// SetPartitionState updates the state of one partition, bumping the
// attempt counter when it enters downloading
func (s *Store) SetPartitionState(ctx context.Context, id int64, state string) error {
	q := s.db.NewUpdate().
		Model((*PartitionFile)(nil)).
		Set("state = ?", state).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	if state == PartitionDownloading {
		q = q.Set("attempts = attempts + 1")
	}
	if _, err := q.Exec(ctx); err != nil {
		return errors.New(ErrQueryFailed, "failed to update partition state", err).AddContext("state", state)
	}
	return nil
}

// MarkSnapshotPruned flips a snapshot to pruned and resets its partition
// rows to pending, so a later sync of the snapshot re-downloads the removed
// files instead of trusting rows whose data is gone from disk
func (s *Store) MarkSnapshotPruned(ctx context.Context, snapshotID int64) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.NewUpdate().
			Model((*PartitionFile)(nil)).
			Set("state = ?", PartitionPending).
			Set("verified_at = NULL").
			Set("updated_at = ?", now).
			Where("snapshot_id = ?", snapshotID).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewUpdate().
			Model((*Snapshot)(nil)).
			Set("state = ?", SnapshotPruned).
			Set("updated_at = ?", now).
			Where("id = ?", snapshotID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return errors.New(ErrTransactionFailed, "failed to mark snapshot pruned", err)
	}
	return nil
}

// MarkPartitionVerified records a successful integrity check
func (s *Store) MarkPartitionVerified(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	_, err := s.db.NewUpdate().
		Model((*PartitionFile)(nil)).
		Set("verified_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return errors.New(ErrQueryFailed, "failed to mark partition verified", err)
	}
	return nil
}

// SnapshotProgress summarizes partition states for one snapshot
func (s *Store) SnapshotProgress(ctx context.Context, snapshotID int64) (Progress, error) {
	parts, err := s.PartitionsByState(ctx, snapshotID)
	if err != nil {
		return Progress{}, err
	}

	var p Progress
	for _, pf := range parts {
		p.Total++
		p.BytesTotal += pf.Size
		switch pf.State {
		case PartitionComplete:
			p.Complete++
			p.BytesComplete += pf.Size
		case PartitionFailed:
			p.Failed++
		}
	}
	return p, nil
}

// RefreshSnapshotState recomputes a snapshot's state from its partitions
// and returns the refreshed row. A snapshot is complete iff every
// partition row is complete.
func (s *Store) RefreshSnapshotState(ctx context.Context, snapshotID int64) (*Snapshot, error) {
	progress, err := s.SnapshotProgress(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	state := SnapshotSyncing
	if progress.IsComplete() {
		state = SnapshotComplete
	} else if progress.Total == 0 {
		state = SnapshotDiscovered
	}

	if err := s.SetSnapshotState(ctx, snapshotID, state); err != nil {
		return nil, err
	}

	snap := new(Snapshot)
	if err := s.db.NewSelect().Model(snap).Where("id = ?", snapshotID).Scan(ctx); err != nil {
		return nil, errors.New(ErrQueryFailed, "failed to reload snapshot", err)
	}
	return snap, nil
}

// CreateSyncRun records the start of a sync attempt
func (s *Store) CreateSyncRun(ctx context.Context, id string, snapshotID int64, filesTotal int) (*SyncRun, error) {
	run := &SyncRun{
		ID:         id,
		SnapshotID: snapshotID,
		State:      SyncRunning,
		FilesTotal: filesTotal,
		StartedAt:  time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(run).Exec(ctx); err != nil {
		return nil, errors.New(ErrQueryFailed, "failed to create sync run", err)
	}
	return run, nil
}

// FinishSyncRun records the outcome of a sync attempt
func (s *Store) FinishSyncRun(ctx context.Context, id string, state string, downloaded int, bytes int64, runErr error) error {
	now := time.Now().UTC()
	q := s.db.NewUpdate().
		Model((*SyncRun)(nil)).
		Set("state = ?", state).
		Set("files_downloaded = ?", downloaded).
		Set("bytes_downloaded = ?", bytes).
		Set("finished_at = ?", now).
		Where("id = ?", id)
	if runErr != nil {
		q = q.Set("error = ?", runErr.Error())
	}
	if _, err := q.Exec(ctx); err != nil {
		return errors.New(ErrQueryFailed, "failed to finish sync run", err)
	}
	return nil
}

// ListSyncRuns returns sync runs for a snapshot, newest first
func (s *Store) ListSyncRuns(ctx context.Context, snapshotID int64) ([]*SyncRun, error) {
	var runs []*SyncRun
	err := s.db.NewSelect().
		Model(&runs).
		Where("snapshot_id = ?", snapshotID).
		Order("started_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, errors.New(ErrQueryFailed, "failed to list sync runs", err)
	}
	return runs, nil
}
