package gateway

import "github.com/biodiversity-meets-data/occmirror/pkg/errors"

// Gateway-specific error codes
var (
	ErrAlreadyStarted = errors.MustNewCode("gateway.already_started")
	ErrShutdownFailed = errors.MustNewCode("gateway.shutdown_failed")
)
