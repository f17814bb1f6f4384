package registry

import "github.com/biodiversity-meets-data/occmirror/pkg/errors"

// Registry-specific error codes
var (
	ErrOpenFailed          = errors.MustNewCode("registry.open_failed")
	ErrMigrationFailed     = errors.MustNewCode("registry.migration_failed")
	ErrSchemaVerification  = errors.MustNewCode("registry.schema_verification_failed")
	ErrSnapshotNotFound    = errors.MustNewCode("registry.snapshot_not_found")
	ErrPartitionNotFound   = errors.MustNewCode("registry.partition_not_found")
	ErrTransactionFailed   = errors.MustNewCode("registry.transaction_failed")
	ErrQueryFailed         = errors.MustNewCode("registry.query_failed")
	ErrNoCompleteSnapshots = errors.MustNewCode("registry.no_complete_snapshots")
)
