package fetcher

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/biodiversity-meets-data/occmirror/pkg/errors"
	"github.com/biodiversity-meets-data/occmirror/pkg/ulid"
	"github.com/biodiversity-meets-data/occmirror/server/registry"
	"github.com/biodiversity-meets-data/occmirror/server/remote"
	"github.com/rs/zerolog"
)

// ComponentType defines the fetcher component type identifier
const ComponentType = "fetcher"

// Config tunes the download pool
type Config struct {
	MaxConcurrent int
	Retries       int
	TempDir       string
}

// Result summarizes one fetch pass
type Result struct {
	Downloaded int
	Skipped    int
	Failed     int
	Bytes      int64
}

// ProgressFunc is invoked after each partition attempt settles
type ProgressFunc func(key string, size int64, err error)

// Fetcher downloads partition files with bounded concurrency. Files are
// staged in a temp directory and renamed into place, so a partition file
// visible at its final path is always complete.
type Fetcher struct {
	remote *remote.Client
	store  *registry.Store
	cfg    Config
	logger zerolog.Logger

	// inflight dedups concurrent downloads of the same object across
	// overlapping sync runs
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// New creates a fetcher
func New(remoteClient *remote.Client, store *registry.Store, cfg Config, logger zerolog.Logger) *Fetcher {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Fetcher{
		remote:   remoteClient,
		store:    store,
		cfg:      cfg,
		logger:   logger.With().Str("component", "fetcher").Logger(),
		inflight: make(map[string]struct{}),
	}
}

// FetchPartitions downloads the given partitions, skipping files that are
// already present with the expected size. It keeps going past individual
// failures and only returns an error when the context is canceled or the
// staging directory cannot be created.
func (f *Fetcher) FetchPartitions(ctx context.Context, parts []*registry.PartitionFile, onProgress ProgressFunc) (Result, error) {
	if err := os.MkdirAll(f.cfg.TempDir, 0755); err != nil {
		return Result{}, errors.New(ErrTempDirFailed, "failed to create staging directory", err).AddContext("path", f.cfg.TempDir)
	}

	var (
		mu     sync.Mutex
		result Result
		wg     sync.WaitGroup
		sem    = make(chan struct{}, f.cfg.MaxConcurrent)
	)

	for _, pf := range parts {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(pf *registry.PartitionFile) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			status, err := f.fetchOne(ctx, pf)

			mu.Lock()
			switch {
			case err != nil:
				result.Failed++
			case status == statusSkipped:
				result.Skipped++
			default:
				result.Downloaded++
				result.Bytes += pf.Size
			}
			mu.Unlock()

			if onProgress != nil {
				onProgress(pf.Key, pf.Size, err)
			}
		}(pf)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return result, errors.New(errors.CommonCanceled, "fetch canceled", err)
	}
	return result, nil
}

type fetchStatus int

const (
	statusDownloaded fetchStatus = iota
	statusSkipped
)

// fetchOne downloads a single partition with retries
func (f *Fetcher) fetchOne(ctx context.Context, pf *registry.PartitionFile) (fetchStatus, error) {
	if !f.acquire(pf.Key) {
		// Another run is already downloading this object
		return statusSkipped, nil
	}
	defer f.release(pf.Key)

	// Already mirrored with the expected size and content: nothing to do
	if info, err := os.Stat(pf.LocalPath); err == nil && info.Size() == pf.Size {
		match := true
		if etagComparable(pf.ETag) {
			sum, hashErr := fileMD5(pf.LocalPath)
			match = hashErr == nil && etagMatches(pf.ETag, sum)
		}
		if match {
			if pf.State != registry.PartitionComplete {
				if err := f.store.SetPartitionState(ctx, pf.ID, registry.PartitionComplete); err != nil {
					return statusSkipped, err
				}
			}
			return statusSkipped, nil
		}
		// Right size, wrong content: discard and re-download
		f.logger.Warn().Str("key", pf.Key).Msg("Local file does not match the listed etag, re-downloading")
		if err := os.Remove(pf.LocalPath); err != nil {
			return statusSkipped, errors.New(ErrPublishFailed, "failed to remove stale partition file", err).
				AddContext("path", pf.LocalPath)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= f.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return statusDownloaded, errors.New(errors.CommonCanceled, "download canceled", err).AddContext("key", pf.Key)
		}
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			f.logger.Debug().Str("key", pf.Key).Int("attempt", attempt).Dur("backoff", backoff).Msg("Retrying download")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return statusDownloaded, errors.New(errors.CommonCanceled, "download canceled", ctx.Err()).AddContext("key", pf.Key)
			}
		}

		if err := f.store.SetPartitionState(ctx, pf.ID, registry.PartitionDownloading); err != nil {
			return statusDownloaded, err
		}

		lastErr = f.download(ctx, pf)
		if lastErr == nil {
			if err := f.store.SetPartitionState(ctx, pf.ID, registry.PartitionComplete); err != nil {
				return statusDownloaded, err
			}
			return statusDownloaded, nil
		}

		f.logger.Warn().Str("key", pf.Key).Err(lastErr).Msg("Download attempt failed")
		if markErr := f.store.SetPartitionState(ctx, pf.ID, registry.PartitionFailed); markErr != nil {
			return statusDownloaded, markErr
		}
	}

	return statusDownloaded, errors.New(ErrDownloadFailed, "partition download failed after retries", lastErr).
		AddContext("key", pf.Key)
}

// download streams one object to a temp file and renames it into place
func (f *Fetcher) download(ctx context.Context, pf *registry.PartitionFile) error {
	reader, err := f.remote.GetObject(ctx, pf.Key)
	if err != nil {
		return err
	}
	defer reader.Close()

	tempPath := filepath.Join(f.cfg.TempDir, ulid.NewString())
	temp, err := os.Create(tempPath)
	if err != nil {
		return errors.New(ErrTempDirFailed, "failed to create temp file", err).AddContext("path", tempPath)
	}

	hash := md5.New()
	written, err := io.Copy(io.MultiWriter(temp, hash), reader)
	closeErr := temp.Close()
	if err != nil || closeErr != nil {
		os.Remove(tempPath)
		if err == nil {
			err = closeErr
		}
		return errors.New(ErrDownloadFailed, "failed to stream object", err).AddContext("key", pf.Key)
	}

	if written != pf.Size {
		os.Remove(tempPath)
		return errors.Newf(ErrSizeMismatch, "downloaded %d bytes, expected %d", written, pf.Size).
			AddContext("key", pf.Key)
	}
	if etagComparable(pf.ETag) && !etagMatches(pf.ETag, hash.Sum(nil)) {
		os.Remove(tempPath)
		return errors.New(ErrChecksumMismatch, "downloaded content does not match the listed etag", nil).
			AddContext("key", pf.Key)
	}

	if err := os.MkdirAll(filepath.Dir(pf.LocalPath), 0755); err != nil {
		os.Remove(tempPath)
		return errors.New(ErrPublishFailed, "failed to create partition directory", err).AddContext("path", pf.LocalPath)
	}
	if err := os.Rename(tempPath, pf.LocalPath); err != nil {
		os.Remove(tempPath)
		return errors.New(ErrPublishFailed, "failed to publish partition file", err).AddContext("path", pf.LocalPath)
	}

	return nil
}

// etagComparable reports whether an ETag is a plain content MD5. Multipart
// uploads carry composite ETags that cannot be recomputed from the file.
func etagComparable(etag string) bool {
	etag = strings.Trim(etag, `"`)
	if len(etag) != 2*md5.Size {
		return false
	}
	_, err := hex.DecodeString(etag)
	return err == nil
}

func etagMatches(etag string, sum []byte) bool {
	return strings.Trim(etag, `"`) == hex.EncodeToString(sum)
}

func fileMD5(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return nil, err
	}
	return hash.Sum(nil), nil
}

func (f *Fetcher) acquire(key string) bool {
	f.inflightMu.Lock()
	defer f.inflightMu.Unlock()
	if _, busy := f.inflight[key]; busy {
		return false
	}
	f.inflight[key] = struct{}{}
	return true
}

func (f *Fetcher) release(key string) {
	f.inflightMu.Lock()
	defer f.inflightMu.Unlock()
	delete(f.inflight, key)
}
