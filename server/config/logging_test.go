package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotateIfOversized(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "occmirror.log")
	cfg := &LogConfig{FilePath: logPath, MaxSize: 1}

	// Under the limit: nothing happens
	require.NoError(t, os.WriteFile(logPath, []byte("small"), 0644))
	require.NoError(t, rotateIfOversized(cfg))
	_, err := os.Stat(logPath)
	assert.NoError(t, err)

	// At the limit the live file is renamed away
	require.NoError(t, os.WriteFile(logPath, []byte(strings.Repeat("x", 1024*1024)), 0644))
	require.NoError(t, rotateIfOversized(cfg))

	_, err = os.Stat(logPath)
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "occmirror.log."))
}

func TestTrimBackupsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "occmirror.log")
	cfg := &LogConfig{FilePath: logPath, MaxBackups: 2}

	for _, stamp := range []string{"a", "b", "c", "d"} {
		require.NoError(t, os.WriteFile(logPath+"."+stamp, []byte(stamp), 0644))
	}

	require.NoError(t, trimBackups(cfg))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestOpenLogFileCreatesDirectory(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "occmirror.log")

	w, err := openLogFile(&LogConfig{FilePath: logPath})
	require.NoError(t, err)
	if closer, ok := w.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	_, err = os.Stat(logPath)
	assert.NoError(t, err)
}

func TestCleanupLogFileTruncates(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "occmirror.log")
	require.NoError(t, os.WriteFile(logPath, []byte("old entries"), 0644))

	require.NoError(t, CleanupLogFile(logPath))

	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	// A missing file is not an error
	assert.NoError(t, CleanupLogFile(filepath.Join(t.TempDir(), "absent.log")))
}
