package paths

import "github.com/biodiversity-meets-data/occmirror/pkg/errors"

// Path-specific error codes
var (
	ErrInvalidSnapshotDate = errors.MustNewCode("paths.invalid_snapshot_date")
	ErrKeyOutsideDataset   = errors.MustNewCode("paths.key_outside_dataset")
	ErrUnsafeKey           = errors.MustNewCode("paths.unsafe_key")
)
