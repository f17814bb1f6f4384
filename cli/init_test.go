package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/biodiversity-meets-data/occmirror/server/config"
	"github.com/biodiversity-meets-data/occmirror/server/paths"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCreatesMirrorLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gbif-mirror")

	err := runInit(initCmd, []string{dir})
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, config.ConfigFileName)
	require.FileExists(t, cfgPath)

	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultRegion, cfg.Mirror.Region)
	assert.Equal(t, config.BucketForRegion(config.DefaultRegion), cfg.Mirror.Bucket)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Mirror.DataPath)

	pm := paths.NewManager(cfg.Mirror.DataPath, cfg.Mirror.DatasetPrefix)
	assert.DirExists(t, pm.GetTempPath())
	assert.FileExists(t, pm.GetRegistryDBPath())
}

func TestInitRefusesExistingMirror(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gbif-mirror")

	require.NoError(t, runInit(initCmd, []string{dir}))

	err := runInit(initCmd, []string{dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.ConfigFileName)
}

func TestInitWarnsOnUnknownRegionButProceeds(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gbif-mirror")

	initOpts.region = "mars-north-1"
	defer func() { initOpts.region = config.DefaultRegion }()

	err := runInit(initCmd, []string{dir})
	require.NoError(t, err)

	cfg, err := config.LoadConfig(filepath.Join(dir, config.ConfigFileName))
	require.NoError(t, err)
	assert.Equal(t, "mars-north-1", cfg.Mirror.Region)
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "0 B", humanBytes(0))
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.0 KiB", humanBytes(1024))
	assert.Equal(t, "1.5 MiB", humanBytes(3*1024*1024/2))
	assert.Equal(t, "2.0 GiB", humanBytes(2*1024*1024*1024))
}

func TestFindConfigWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	cfg := config.LoadDefaultConfig()
	cfg.Mirror.DataPath = filepath.Join(root, "data")
	require.NoError(t, config.SaveConfig(cfg, filepath.Join(root, config.ConfigFileName)))

	wd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(wd)
	require.NoError(t, os.Chdir(nested))

	loaded, err := findConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "data"), loaded.Mirror.DataPath)
}
