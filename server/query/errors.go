package query

import "github.com/biodiversity-meets-data/occmirror/pkg/errors"

// Query-specific error codes
var (
	ErrEngineSetupFailed = errors.MustNewCode("query.engine_setup_failed")
	ErrEngineClosed      = errors.MustNewCode("query.engine_closed")
	ErrQueryBlocked      = errors.MustNewCode("query.blocked")
	ErrQueryFailed       = errors.MustNewCode("query.execution_failed")
	ErrScanFailed        = errors.MustNewCode("query.scan_failed")
	ErrNoLocalSnapshot   = errors.MustNewCode("query.no_local_snapshot")
)
