package config

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/biodiversity-meets-data/occmirror/pkg/errors"
	"github.com/rs/zerolog"
)

// CleanupLogFile truncates the live log file so a fresh run starts with an
// empty log. Missing files are fine.
func CleanupLogFile(filePath string) error {
	if filePath == "" {
		return nil
	}
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}
	if err := os.Truncate(filePath, 0); err != nil {
		return errors.New(ErrLogFileOpenFailed, "failed to truncate log file", err).AddContext("path", filePath)
	}
	return nil
}

// openLogFile opens the log for appending, rotating it out of the way first
// when it has outgrown max_size. Rotated copies live beside the live file as
// <name>.<timestamp> and are trimmed by max_backups and max_age.
func openLogFile(cfg *LogConfig) (io.Writer, error) {
	if cfg.FilePath == "" {
		return nil, errors.New(ErrLogFilePathRequired, "no log file path specified", nil)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil, errors.New(ErrLogDirectoryCreationFailed, "failed to create log directory", err)
	}
	if err := rotateIfOversized(cfg); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.New(ErrLogFileOpenFailed, "failed to open log file", err).AddContext("path", cfg.FilePath)
	}
	return file, nil
}

func rotateIfOversized(cfg *LogConfig) error {
	if cfg.MaxSize <= 0 {
		return nil
	}

	info, err := os.Stat(cfg.FilePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.New(ErrLogFileStatFailed, "failed to stat log file", err)
	}
	if info.Size() < int64(cfg.MaxSize)*1024*1024 {
		return nil
	}

	backup := cfg.FilePath + "." + time.Now().Format("2006-01-02-15-04-05")
	if err := os.Rename(cfg.FilePath, backup); err != nil {
		return errors.New(ErrLogRotationFailed, "failed to rotate log file", err)
	}
	return trimBackups(cfg)
}

// trimBackups deletes rotated log copies beyond the count and age limits
func trimBackups(cfg *LogConfig) error {
	if cfg.MaxBackups <= 0 && cfg.MaxAge <= 0 {
		return nil
	}

	dir := filepath.Dir(cfg.FilePath)
	prefix := filepath.Base(cfg.FilePath) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.New(ErrLogBackupReadFailed, "failed to read log directory", err)
	}

	type backup struct {
		path string
		mod  time.Time
	}
	var backups []backup
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{path: filepath.Join(dir, entry.Name()), mod: info.ModTime()})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].mod.Before(backups[j].mod) })

	var stale []string
	if cfg.MaxBackups > 0 && len(backups) > cfg.MaxBackups {
		over := len(backups) - cfg.MaxBackups
		for _, b := range backups[:over] {
			stale = append(stale, b.path)
		}
		backups = backups[over:]
	}
	if cfg.MaxAge > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.MaxAge)
		for _, b := range backups {
			if b.mod.Before(cutoff) {
				stale = append(stale, b.path)
			}
		}
	}

	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			return errors.New(ErrLogBackupRemoveFailed, "failed to remove old backup", err).AddContext("backup_path", path)
		}
	}
	return nil
}

// SetupConsoleLogger creates a console-only logger at a fixed level,
// suitable for CLI commands that print their own output
func SetupConsoleLogger(level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(consoleWriter).Level(level).With().
		Timestamp().
		Logger()
}

// SetupLogger creates a configured zerolog logger based on the configuration
func SetupLogger(cfg *Config) (zerolog.Logger, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer

	if cfg.Log.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	if cfg.Log.FilePath != "" {
		if cfg.Log.Cleanup {
			if err := CleanupLogFile(cfg.Log.FilePath); err != nil {
				return zerolog.Logger{}, errors.New(ErrLogCleanupFailed, "failed to cleanup log file", err)
			}
		}

		fileWriter, err := openLogFile(&cfg.Log)
		if err != nil {
			return zerolog.Logger{}, errors.New(ErrLogFileWriterSetupFailed, "failed to setup file writer", err)
		}
		writers = append(writers, fileWriter)
	}

	var out io.Writer
	if len(writers) == 1 {
		out = writers[0]
	} else {
		out = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(out).With().
		Timestamp().
		Str("component", "occmirror").
		Logger(), nil
}
