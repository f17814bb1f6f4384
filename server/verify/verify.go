package verify

import (
	"context"
	"os"

	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/biodiversity-meets-data/occmirror/pkg/errors"
	"github.com/biodiversity-meets-data/occmirror/server/registry"
	"github.com/rs/zerolog"
)

// ComponentType defines the verifier component type identifier
const ComponentType = "verify"

// Report summarizes a snapshot verification pass
type Report struct {
	Checked int
	Passed  int
	Failed  int
	Rows    int64
}

// Verifier validates mirrored partition files against their Parquet footers.
// A file that fails verification is removed and its registry row reset to
// pending so the next sync re-downloads it.
type Verifier struct {
	store  *registry.Store
	logger zerolog.Logger
}

// New creates a verifier
func New(store *registry.Store, logger zerolog.Logger) *Verifier {
	return &Verifier{
		store:  store,
		logger: logger.With().Str("component", "verify").Logger(),
	}
}

// VerifyFile checks that a mirrored partition file has the expected size and
// a readable Parquet footer. It returns the row count recorded in the footer.
func (v *Verifier) VerifyFile(path string, expectedSize int64) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, errors.New(ErrFileMissing, "partition file not found", err).AddContext("path", path)
	}
	if info.Size() != expectedSize {
		return 0, errors.Newf(ErrSizeMismatch, "file is %d bytes, expected %d", info.Size(), expectedSize).
			AddContext("path", path)
	}

	reader, err := file.OpenParquetFile(path, false)
	if err != nil {
		return 0, errors.New(ErrCorruptFooter, "failed to read parquet footer", err).AddContext("path", path)
	}
	defer reader.Close()

	if reader.NumRowGroups() == 0 {
		return 0, errors.New(ErrCorruptFooter, "parquet file has no row groups", nil).AddContext("path", path)
	}
	return reader.NumRows(), nil
}

// VerifySnapshot checks every complete partition of a snapshot. Files that
// pass are marked verified; files that fail are deleted and reset to pending.
func (v *Verifier) VerifySnapshot(ctx context.Context, snapshotID int64) (Report, error) {
	parts, err := v.store.PartitionsByState(ctx, snapshotID, registry.PartitionComplete)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, pf := range parts {
		if err := ctx.Err(); err != nil {
			return report, errors.New(errors.CommonCanceled, "verification canceled", err)
		}
		report.Checked++

		rows, verifyErr := v.VerifyFile(pf.LocalPath, pf.Size)
		if verifyErr == nil {
			report.Passed++
			report.Rows += rows
			if err := v.store.MarkPartitionVerified(ctx, pf.ID); err != nil {
				return report, err
			}
			continue
		}

		report.Failed++
		v.logger.Warn().Str("key", pf.Key).Err(verifyErr).Msg("Partition failed verification, resetting")
		// Remove the bad file so the size short-circuit cannot resurrect it
		if err := os.Remove(pf.LocalPath); err != nil && !os.IsNotExist(err) {
			return report, errors.New(ErrResetFailed, "failed to remove corrupt partition file", err).
				AddContext("path", pf.LocalPath)
		}
		if err := v.store.SetPartitionState(ctx, pf.ID, registry.PartitionPending); err != nil {
			return report, err
		}
	}

	if report.Failed > 0 {
		if _, err := v.store.RefreshSnapshotState(ctx, snapshotID); err != nil {
			return report, err
		}
	}
	return report, nil
}
