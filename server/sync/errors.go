package sync

import "github.com/biodiversity-meets-data/occmirror/pkg/errors"

// Sync coordinator error codes
var (
	ErrSyncInProgress = errors.MustNewCode("sync.in_progress")
	ErrSyncIncomplete = errors.MustNewCode("sync.incomplete")
	ErrPruneFailed    = errors.MustNewCode("sync.prune_failed")
)
