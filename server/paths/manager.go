package paths

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/biodiversity-meets-data/occmirror/pkg/errors"
	"github.com/biodiversity-meets-data/occmirror/server/config"
)

// ComponentType defines the path manager component type identifier
const ComponentType = "paths"

// Manager implements the PathManager interface. The mirror preserves the
// remote key layout under the base path:
//
//	<base>/occurrence/<snapshot>/occurrence.parquet/<file>
//
// so rewritten queries only swap the URL prefix for the base path.
type Manager struct {
	basePath      string
	datasetPrefix string
}

// NewManager creates a new path manager
func NewManager(basePath, datasetPrefix string) *Manager {
	if datasetPrefix == "" {
		datasetPrefix = config.DefaultDatasetPrefix
	}
	return &Manager{
		basePath:      basePath,
		datasetPrefix: datasetPrefix,
	}
}

// GetBasePath returns the base data path
func (pm *Manager) GetBasePath() string {
	return pm.basePath
}

// GetSnapshotPath returns the local root of one mirrored snapshot
func (pm *Manager) GetSnapshotPath(snapshot string) string {
	return filepath.Join(pm.basePath, pm.datasetPrefix, snapshot)
}

// GetPartitionDir returns the directory holding a snapshot's partition files
func (pm *Manager) GetPartitionDir(snapshot string) string {
	return filepath.Join(pm.GetSnapshotPath(snapshot), config.SnapshotDirName)
}

// GetPartitionGlob returns the glob covering a snapshot's partition files
func (pm *Manager) GetPartitionGlob(snapshot string) string {
	return filepath.Join(pm.GetPartitionDir(snapshot), "*")
}

// LocalPathForKey maps a remote object key to its mirrored local path.
// Keys must live under the dataset prefix and must not escape the base
// path via traversal segments.
func (pm *Manager) LocalPathForKey(key string) (string, error) {
	if !strings.HasPrefix(key, pm.datasetPrefix+"/") {
		return "", errors.New(ErrKeyOutsideDataset, "object key is outside the mirrored dataset", nil).AddContext("key", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "" {
			return "", errors.New(ErrUnsafeKey, "object key contains unsafe path segments", nil).AddContext("key", key)
		}
	}
	return filepath.Join(pm.basePath, filepath.FromSlash(key)), nil
}

// GetInternalPath returns the internal state directory
func (pm *Manager) GetInternalPath() string {
	return filepath.Join(pm.basePath, ".occmirror")
}

// GetRegistryDBPath returns the mirror registry database path
func (pm *Manager) GetRegistryDBPath() string {
	return filepath.Join(pm.GetInternalPath(), "mirror.db")
}

// GetTempPath returns the staging directory for in-flight downloads
func (pm *Manager) GetTempPath() string {
	return filepath.Join(pm.GetInternalPath(), "tmp")
}

// ValidateSnapshotDate checks that a snapshot name is a real YYYY-MM-DD date
func ValidateSnapshotDate(snapshot string) error {
	t, err := time.Parse(config.SnapshotDateLayout, snapshot)
	if err != nil {
		return errors.New(ErrInvalidSnapshotDate, "snapshot is not a YYYY-MM-DD date", err).AddContext("snapshot", snapshot)
	}
	if t.Format(config.SnapshotDateLayout) != snapshot {
		return errors.New(ErrInvalidSnapshotDate, "snapshot date is not normalized", nil).AddContext("snapshot", snapshot)
	}
	return nil
}
