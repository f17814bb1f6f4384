package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotLayout(t *testing.T) {
	pm := NewManager("/data", "occurrence")

	assert.Equal(t, "/data", pm.GetBasePath())
	assert.Equal(t, filepath.Join("/data", "occurrence", "2025-10-01"), pm.GetSnapshotPath("2025-10-01"))
	assert.Equal(t, filepath.Join("/data", "occurrence", "2025-10-01", "occurrence.parquet"), pm.GetPartitionDir("2025-10-01"))
	assert.Equal(t, filepath.Join("/data", "occurrence", "2025-10-01", "occurrence.parquet", "*"), pm.GetPartitionGlob("2025-10-01"))
}

func TestInternalPaths(t *testing.T) {
	pm := NewManager("/data", "")

	assert.Equal(t, filepath.Join("/data", ".occmirror"), pm.GetInternalPath())
	assert.Equal(t, filepath.Join("/data", ".occmirror", "mirror.db"), pm.GetRegistryDBPath())
	assert.Equal(t, filepath.Join("/data", ".occmirror", "tmp"), pm.GetTempPath())
}

func TestLocalPathForKey(t *testing.T) {
	pm := NewManager("/data", "occurrence")

	path, err := pm.LocalPathForKey("occurrence/2025-10-01/occurrence.parquet/000042")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "occurrence", "2025-10-01", "occurrence.parquet", "000042"), path)
}

func TestLocalPathForKeyRejectsForeignPrefix(t *testing.T) {
	pm := NewManager("/data", "occurrence")

	_, err := pm.LocalPathForKey("checklists/2025-10-01/file")
	assert.Error(t, err)
}

func TestLocalPathForKeyRejectsTraversal(t *testing.T) {
	pm := NewManager("/data", "occurrence")

	_, err := pm.LocalPathForKey("occurrence/../../../etc/passwd")
	assert.Error(t, err)

	_, err = pm.LocalPathForKey("occurrence//double-slash")
	assert.Error(t, err)
}

func TestValidateSnapshotDate(t *testing.T) {
	assert.NoError(t, ValidateSnapshotDate("2025-10-01"))
	assert.NoError(t, ValidateSnapshotDate("2023-06-01"))

	assert.Error(t, ValidateSnapshotDate("2025-13-01"))
	assert.Error(t, ValidateSnapshotDate("2025-10-1"))
	assert.Error(t, ValidateSnapshotDate("latest"))
	assert.Error(t, ValidateSnapshotDate(""))
}
