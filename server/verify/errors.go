package verify

import "github.com/biodiversity-meets-data/occmirror/pkg/errors"

// Verifier-specific error codes
var (
	ErrFileMissing   = errors.MustNewCode("verify.file_missing")
	ErrSizeMismatch  = errors.MustNewCode("verify.size_mismatch")
	ErrCorruptFooter = errors.MustNewCode("verify.corrupt_footer")
	ErrResetFailed   = errors.MustNewCode("verify.reset_failed")
)
