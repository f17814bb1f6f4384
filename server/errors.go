package server

import "github.com/biodiversity-meets-data/occmirror/pkg/errors"

// Server lifecycle error codes
var (
	ErrAlreadyStarted  = errors.MustNewCode("server.already_started")
	ErrShutdownTimeout = errors.MustNewCode("server.shutdown_timeout")
)
