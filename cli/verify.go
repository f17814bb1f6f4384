package cli

import (
	"github.com/biodiversity-meets-data/occmirror/server/verify"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [snapshot]",
	Short: "Check mirrored Parquet files for corruption",
	Long: `Validate every mirrored partition of a snapshot against its Parquet
footer. Corrupt files are removed and reset so the next sync re-downloads
them. Without arguments the newest complete snapshot is verified.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := cliLogger(cmd)

	cfg, err := findConfig()
	if err != nil {
		pterm.Error.Println("No mirror configuration found")
		return err
	}

	m, err := openMirror(cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	var date string
	if len(args) > 0 {
		date = args[0]
	} else {
		latest, err := m.store.LatestCompleteSnapshot(ctx)
		if err != nil {
			pterm.Error.Println("No complete snapshot to verify")
			return err
		}
		date = latest.Date
	}

	snap, err := m.store.GetSnapshot(ctx, date)
	if err != nil {
		return err
	}

	spinner, _ := pterm.DefaultSpinner.Start("Verifying " + date + "...")
	report, err := verify.New(m.store, logger).VerifySnapshot(ctx, snap.ID)
	if err != nil {
		spinner.Fail("Verification failed")
		return err
	}

	if report.Failed > 0 {
		spinner.Warning(pterm.Sprintf("%d of %d files failed verification and were reset",
			report.Failed, report.Checked))
		pterm.Info.Println("Run 'occmirror sync' to re-download the reset files")
	} else {
		spinner.Success(pterm.Sprintf("All %d files verified (%d rows)", report.Checked, report.Rows))
	}
	return nil
}
