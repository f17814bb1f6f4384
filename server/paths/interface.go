package paths

// PathManager centralizes every filesystem location occmirror uses so the
// mirror layout stays consistent across components.
type PathManager interface {
	// GetBasePath returns the base data path
	GetBasePath() string

	// GetSnapshotPath returns the local root of one mirrored snapshot
	GetSnapshotPath(snapshot string) string

	// GetPartitionDir returns the directory holding a snapshot's Parquet
	// partition files
	GetPartitionDir(snapshot string) string

	// GetPartitionGlob returns the glob covering a snapshot's partition files
	GetPartitionGlob(snapshot string) string

	// LocalPathForKey maps a remote object key to its mirrored local path
	LocalPathForKey(key string) (string, error)

	// GetInternalPath returns the internal state directory
	GetInternalPath() string

	// GetRegistryDBPath returns the mirror registry database path
	GetRegistryDBPath() string

	// GetTempPath returns the staging directory for in-flight downloads
	GetTempPath() string
}
