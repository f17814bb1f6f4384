package fetcher

import "github.com/biodiversity-meets-data/occmirror/pkg/errors"

// Fetcher-specific error codes
var (
	ErrTempDirFailed    = errors.MustNewCode("fetcher.temp_dir_failed")
	ErrDownloadFailed   = errors.MustNewCode("fetcher.download_failed")
	ErrSizeMismatch     = errors.MustNewCode("fetcher.size_mismatch")
	ErrChecksumMismatch = errors.MustNewCode("fetcher.checksum_mismatch")
	ErrPublishFailed    = errors.MustNewCode("fetcher.publish_failed")
)
