package config

import "fmt"

// GBIF publishes monthly occurrence snapshots as Parquet into public
// per-region buckets named gbif-open-data-<region>.
const (
	// BucketPrefix is the common prefix of the GBIF open-data buckets
	BucketPrefix = "gbif-open-data-"

	// DefaultRegion is where most European mirrors pull from
	DefaultRegion = "eu-central-1"

	// DefaultDatasetPrefix is the key prefix holding snapshot directories
	DefaultDatasetPrefix = "occurrence"

	// SnapshotDirName is the directory each snapshot nests its Parquet
	// partition files under
	SnapshotDirName = "occurrence.parquet"

	// SnapshotDateLayout is the time layout of snapshot directory names
	SnapshotDateLayout = "2006-01-02"

	// ConfigFileName is the per-project configuration file
	ConfigFileName = ".occmirror.yml"
)

// KnownRegions are the regions GBIF replicates the open-data bucket to
var KnownRegions = []string{
	"us-east-1",
	"eu-central-1",
	"ap-southeast-2",
	"sa-east-1",
	"af-south-1",
}

// BucketForRegion returns the GBIF open-data bucket name for a region
func BucketForRegion(region string) string {
	return BucketPrefix + region
}

// S3EndpointForRegion returns the public S3 endpoint host for a region
func S3EndpointForRegion(region string) string {
	return fmt.Sprintf("s3.%s.amazonaws.com", region)
}

// Network constants for the HTTP control API. The port is fixed and
// selected to avoid common development ports (8080, 3000, 5000) and
// database ports (5432, 9000).
const (
	HTTP_SERVER_PORT = 2961

	DEFAULT_SERVER_ADDRESS = "0.0.0.0"
	LOCALHOST_ADDRESS      = "127.0.0.1"
)

// Port validation constants
const (
	MIN_PORT = 1
	MAX_PORT = 65535
)

// IsValidPort checks if a port number is within valid range
func IsValidPort(port int) bool {
	return port >= MIN_PORT && port <= MAX_PORT
}
