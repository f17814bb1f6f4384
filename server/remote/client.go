package remote

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/biodiversity-meets-data/occmirror/pkg/errors"
	"github.com/biodiversity-meets-data/occmirror/server/config"
	"github.com/biodiversity-meets-data/occmirror/server/paths"
	"github.com/jellydator/ttlcache/v3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// ComponentType defines the remote client component type identifier
const ComponentType = "remote"

// snapshotIndexTTL bounds how long the snapshot index is served from cache.
// GBIF releases monthly, so a short TTL is generous already.
const snapshotIndexTTL = 15 * time.Minute

// PartitionInfo describes one remote Parquet partition file
type PartitionInfo struct {
	Key  string
	Size int64
	ETag string
}

// Client discovers and reads GBIF occurrence snapshots from the public
// open-data bucket using anonymous S3 access.
type Client struct {
	s3     *minio.Client
	bucket string
	region string
	prefix string
	logger zerolog.Logger

	// Snapshot listings are immutable once published; the index of
	// available snapshots is the only thing that moves.
	indexCache     *ttlcache.Cache[string, []string]
	partitionCache *ttlcache.Cache[string, []PartitionInfo]
}

// NewClient creates a client against the public GBIF bucket for the
// configured region
func NewClient(cfg *config.MirrorConfig, logger zerolog.Logger) (*Client, error) {
	endpoint := config.S3EndpointForRegion(cfg.Region)
	return NewClientWithEndpoint(endpoint, true, cfg, logger)
}

// NewClientWithEndpoint creates a client against an explicit S3 endpoint.
// Used directly by tests running against a local fake S3 server.
func NewClientWithEndpoint(endpoint string, secure bool, cfg *config.MirrorConfig, logger zerolog.Logger) (*Client, error) {
	s3, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("", "", ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.New(ErrClientSetupFailed, "failed to create S3 client", err).AddContext("endpoint", endpoint)
	}

	indexCache := ttlcache.New[string, []string](
		ttlcache.WithTTL[string, []string](snapshotIndexTTL),
	)
	partitionCache := ttlcache.New[string, []PartitionInfo](
		ttlcache.WithTTL[string, []PartitionInfo](24 * time.Hour),
	)
	go indexCache.Start()
	go partitionCache.Start()

	return &Client{
		s3:             s3,
		bucket:         cfg.Bucket,
		region:         cfg.Region,
		prefix:         cfg.DatasetPrefix,
		logger:         logger.With().Str("component", "remote").Str("bucket", cfg.Bucket).Logger(),
		indexCache:     indexCache,
		partitionCache: partitionCache,
	}, nil
}

// Bucket returns the bucket this client reads from
func (c *Client) Bucket() string {
	return c.bucket
}

// Region returns the AWS region the bucket lives in
func (c *Client) Region() string {
	return c.region
}

// ListSnapshots returns the available snapshot dates, oldest first
func (c *Client) ListSnapshots(ctx context.Context) ([]string, error) {
	if item := c.indexCache.Get("snapshots"); item != nil {
		return item.Value(), nil
	}

	var snapshots []string
	opts := minio.ListObjectsOptions{
		Prefix:    c.prefix + "/",
		Recursive: false,
	}
	for object := range c.s3.ListObjects(ctx, c.bucket, opts) {
		if object.Err != nil {
			return nil, errors.New(ErrListFailed, "failed to list snapshot prefixes", object.Err).AddContext("bucket", c.bucket)
		}
		// Non-recursive listings surface snapshot directories as common
		// prefixes like "occurrence/2025-10-01/".
		name := strings.TrimSuffix(strings.TrimPrefix(object.Key, c.prefix+"/"), "/")
		if name == "" {
			continue
		}
		if err := paths.ValidateSnapshotDate(name); err != nil {
			c.logger.Debug().Str("prefix", object.Key).Msg("Skipping non-snapshot prefix")
			continue
		}
		snapshots = append(snapshots, name)
	}

	sort.Strings(snapshots)
	c.indexCache.Set("snapshots", snapshots, ttlcache.DefaultTTL)
	return snapshots, nil
}

// LatestSnapshot returns the most recent remote snapshot date
func (c *Client) LatestSnapshot(ctx context.Context) (string, error) {
	snapshots, err := c.ListSnapshots(ctx)
	if err != nil {
		return "", err
	}
	if len(snapshots) == 0 {
		return "", errors.New(ErrNoSnapshots, "bucket has no snapshots under the dataset prefix", nil).AddContext("bucket", c.bucket).AddContext("prefix", c.prefix)
	}
	return snapshots[len(snapshots)-1], nil
}

// ListPartitions returns the Parquet partition files of one snapshot
func (c *Client) ListPartitions(ctx context.Context, snapshot string) ([]PartitionInfo, error) {
	if err := paths.ValidateSnapshotDate(snapshot); err != nil {
		return nil, err
	}

	if item := c.partitionCache.Get(snapshot); item != nil {
		return item.Value(), nil
	}

	prefix := c.partitionPrefix(snapshot)
	var partitions []PartitionInfo
	opts := minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}
	for object := range c.s3.ListObjects(ctx, c.bucket, opts) {
		if object.Err != nil {
			return nil, errors.New(ErrListFailed, "failed to list snapshot partitions", object.Err).AddContext("snapshot", snapshot)
		}
		if strings.HasSuffix(object.Key, "/") {
			continue
		}
		partitions = append(partitions, PartitionInfo{
			Key:  object.Key,
			Size: object.Size,
			ETag: strings.Trim(object.ETag, `"`),
		})
	}

	if len(partitions) == 0 {
		return nil, errors.New(ErrSnapshotNotFound, "snapshot has no partition files", nil).AddContext("snapshot", snapshot).AddContext("prefix", prefix)
	}

	sort.Slice(partitions, func(i, j int) bool { return partitions[i].Key < partitions[j].Key })
	c.partitionCache.Set(snapshot, partitions, ttlcache.DefaultTTL)
	return partitions, nil
}

// StatObject returns metadata for one remote object
func (c *Client) StatObject(ctx context.Context, key string) (PartitionInfo, error) {
	info, err := c.s3.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return PartitionInfo{}, errors.New(ErrStatFailed, "failed to stat remote object", err).AddContext("key", key)
	}
	return PartitionInfo{
		Key:  key,
		Size: info.Size,
		ETag: strings.Trim(info.ETag, `"`),
	}, nil
}

// GetObject opens a remote object for streaming reads
func (c *Client) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := c.s3.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.New(ErrGetFailed, "failed to open remote object", err).AddContext("key", key)
	}
	return object, nil
}

// InvalidateIndex drops the cached snapshot index so the next listing hits S3
func (c *Client) InvalidateIndex() {
	c.indexCache.Delete("snapshots")
}

// Close stops the listing caches
func (c *Client) Close() {
	c.indexCache.Stop()
	c.partitionCache.Stop()
}

func (c *Client) partitionPrefix(snapshot string) string {
	return c.prefix + "/" + snapshot + "/" + config.SnapshotDirName + "/"
}
