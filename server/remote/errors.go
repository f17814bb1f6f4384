package remote

import "github.com/biodiversity-meets-data/occmirror/pkg/errors"

// Remote-specific error codes
var (
	ErrClientSetupFailed = errors.MustNewCode("remote.client_setup_failed")
	ErrListFailed        = errors.MustNewCode("remote.list_failed")
	ErrStatFailed        = errors.MustNewCode("remote.stat_failed")
	ErrGetFailed         = errors.MustNewCode("remote.get_failed")
	ErrNoSnapshots       = errors.MustNewCode("remote.no_snapshots")
	ErrSnapshotNotFound  = errors.MustNewCode("remote.snapshot_not_found")
)
