package query

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/biodiversity-meets-data/occmirror/pkg/errors"
	"github.com/biodiversity-meets-data/occmirror/server/config"
	"github.com/biodiversity-meets-data/occmirror/server/paths"
	"github.com/biodiversity-meets-data/occmirror/server/registry"
	"github.com/rs/zerolog"
)

// Rewrite is the outcome of scanning a query for remote snapshot references
type Rewrite struct {
	// Query is the input with mirrored references swapped for local paths
	Query string
	// Hits are remote references that now point at the local mirror
	Hits []RewriteHit
	// Misses are references left untouched because the snapshot is not
	// fully mirrored; the engine reads those from upstream
	Misses []string
}

// RewriteHit records one redirected reference
type RewriteHit struct {
	Snapshot string
	Remote   string
	Local    string
}

// Rewriter redirects GBIF snapshot URLs in SQL to the local mirror. It
// recognizes both the s3:// form and the virtual-hosted https form of the
// open-data buckets, in any region, and the latest alias in place of a
// snapshot date. Only the reference text changes; the rest of the query
// passes through untouched.
type Rewriter struct {
	store   *registry.Store
	paths   paths.PathManager
	pattern *regexp.Regexp
	logger  zerolog.Logger
}

// NewRewriter creates a rewriter for the given dataset prefix
func NewRewriter(store *registry.Store, pm paths.PathManager, datasetPrefix string, logger zerolog.Logger) *Rewriter {
	if datasetPrefix == "" {
		datasetPrefix = config.DefaultDatasetPrefix
	}
	pattern := regexp.MustCompile(
		`(?:s3://` + regexp.QuoteMeta(config.BucketPrefix) + `[a-z0-9-]+` +
			`|https?://` + regexp.QuoteMeta(config.BucketPrefix) + `[a-z0-9-]+\.s3\.[a-z0-9-]+\.amazonaws\.com)` +
			`/` + regexp.QuoteMeta(datasetPrefix) +
			`/(\d{4}-\d{2}-\d{2}|` + LatestSnapshotAlias + `)` +
			`/` + regexp.QuoteMeta(config.SnapshotDirName) +
			`(/[^'"\s)]*)?`)
	return &Rewriter{
		store:   store,
		paths:   pm,
		pattern: pattern,
		logger:  logger.With().Str("component", "rewriter").Logger(),
	}
}

// LatestSnapshotAlias stands in for the newest complete local snapshot in
// query references
const LatestSnapshotAlias = "latest"

// Rewrite scans a query and redirects every reference to a fully mirrored
// snapshot at the local copy. References to snapshots that are not complete
// locally are left as-is.
func (r *Rewriter) Rewrite(ctx context.Context, query string) (*Rewrite, error) {
	result := &Rewrite{Query: query}

	var rewriteErr error
	rewritten := r.pattern.ReplaceAllStringFunc(query, func(ref string) string {
		if rewriteErr != nil {
			return ref
		}

		sub := r.pattern.FindStringSubmatch(ref)
		snapshot, suffix := sub[1], sub[2]

		local, resolved, err := r.resolve(ctx, snapshot, suffix)
		if err != nil {
			rewriteErr = err
			return ref
		}
		if local == "" {
			result.Misses = append(result.Misses, ref)
			return ref
		}

		result.Hits = append(result.Hits, RewriteHit{Snapshot: resolved, Remote: ref, Local: local})
		return local
	})
	if rewriteErr != nil {
		return nil, rewriteErr
	}

	result.Query = rewritten
	for _, hit := range result.Hits {
		r.logger.Debug().Str("remote", hit.Remote).Str("local", hit.Local).Msg("Redirected reference to mirror")
	}
	return result, nil
}

// resolve maps one reference to its local path. An empty path with a nil
// error means the snapshot is not mirrored and the reference passes through.
func (r *Rewriter) resolve(ctx context.Context, snapshot, suffix string) (string, string, error) {
	if snapshot == LatestSnapshotAlias {
		snap, err := r.store.LatestCompleteSnapshot(ctx)
		if err != nil {
			if errors.HasCode(err, registry.ErrNoCompleteSnapshots) {
				return "", "", errors.New(ErrNoLocalSnapshot,
					"the latest alias needs at least one complete local snapshot", err)
			}
			return "", "", err
		}
		return r.localPath(snap.Date, suffix), snap.Date, nil
	}

	snap, err := r.store.GetSnapshot(ctx, snapshot)
	if err != nil {
		if errors.HasCode(err, registry.ErrSnapshotNotFound) {
			return "", snapshot, nil
		}
		return "", "", err
	}
	if snap.State != registry.SnapshotComplete {
		return "", snapshot, nil
	}
	return r.localPath(snapshot, suffix), snapshot, nil
}

// localPath maps the key suffix after occurrence.parquet to a local file or
// the partition glob
func (r *Rewriter) localPath(snapshot, suffix string) string {
	trimmed := strings.Trim(suffix, "/")
	if trimmed == "" || trimmed == "*" {
		return r.paths.GetPartitionGlob(snapshot)
	}
	return filepath.Join(r.paths.GetPartitionDir(snapshot), filepath.FromSlash(trimmed))
}
