package registry

import (
	"time"

	"github.com/uptrace/bun"
)

// Snapshot states
const (
	SnapshotDiscovered = "discovered"
	SnapshotSyncing    = "syncing"
	SnapshotComplete   = "complete"
	SnapshotPruned     = "pruned"
)

// Partition file states
const (
	PartitionPending     = "pending"
	PartitionDownloading = "downloading"
	PartitionComplete    = "complete"
	PartitionFailed      = "failed"
)

// Sync run states
const (
	SyncRunning   = "running"
	SyncSucceeded = "succeeded"
	SyncFailed    = "failed"
)

// Snapshot represents one mirrored GBIF snapshot release
type Snapshot struct {
	bun.BaseModel `bun:"table:snapshots"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	Date      string    `bun:"date,notnull,unique" json:"date"`
	Region    string    `bun:"region,notnull" json:"region"`
	Bucket    string    `bun:"bucket,notnull" json:"bucket"`
	State     string    `bun:"state,notnull,default:'discovered'" json:"state"`
	FileCount int       `bun:"file_count,notnull,default:0" json:"file_count"`
	TotalSize int64     `bun:"total_size,notnull,default:0" json:"total_size"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// PartitionFile represents one Parquet partition file of a snapshot
type PartitionFile struct {
	bun.BaseModel `bun:"table:partition_files"`

	ID         int64      `bun:"id,pk,autoincrement" json:"id"`
	SnapshotID int64      `bun:"snapshot_id,notnull" json:"snapshot_id"`
	Key        string     `bun:"key,notnull" json:"key"`
	LocalPath  string     `bun:"local_path,notnull" json:"local_path"`
	Size       int64      `bun:"size,notnull,default:0" json:"size"`
	ETag       string     `bun:"etag" json:"etag"`
	State      string     `bun:"state,notnull,default:'pending'" json:"state"`
	Attempts   int        `bun:"attempts,notnull,default:0" json:"attempts"`
	VerifiedAt *time.Time `bun:"verified_at" json:"verified_at,omitempty"`
	CreatedAt  time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt  time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	// Relations
	Snapshot *Snapshot `bun:"rel:belongs-to,join:snapshot_id=id" json:"-"`
}

// SyncRun records one sync attempt against a snapshot
type SyncRun struct {
	bun.BaseModel `bun:"table:sync_runs"`

	ID              string     `bun:"id,pk" json:"id"` // ULID
	SnapshotID      int64      `bun:"snapshot_id,notnull" json:"snapshot_id"`
	State           string     `bun:"state,notnull,default:'running'" json:"state"`
	FilesTotal      int        `bun:"files_total,notnull,default:0" json:"files_total"`
	FilesDownloaded int        `bun:"files_downloaded,notnull,default:0" json:"files_downloaded"`
	BytesDownloaded int64      `bun:"bytes_downloaded,notnull,default:0" json:"bytes_downloaded"`
	Error           string     `bun:"error" json:"error,omitempty"`
	StartedAt       time.Time  `bun:"started_at,notnull,default:current_timestamp" json:"started_at"`
	FinishedAt      *time.Time `bun:"finished_at" json:"finished_at,omitempty"`
}

// PartitionSeed is the input for registering a snapshot's remote listing
type PartitionSeed struct {
	Key       string
	LocalPath string
	Size      int64
	ETag      string
}

// Progress summarizes partition states for one snapshot
type Progress struct {
	Total         int   `json:"total"`
	Complete      int   `json:"complete"`
	Failed        int   `json:"failed"`
	BytesTotal    int64 `json:"bytes_total"`
	BytesComplete int64 `json:"bytes_complete"`
}

// IsComplete reports whether every partition has been mirrored
func (p Progress) IsComplete() bool {
	return p.Total > 0 && p.Complete == p.Total
}
