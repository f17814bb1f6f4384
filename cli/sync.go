package cli

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync [snapshot]",
	Short: "Mirror a GBIF snapshot locally",
	Long: `Mirror the Parquet partitions of one GBIF occurrence snapshot.

Without arguments the newest upstream snapshot is mirrored. Re-running a
finished sync downloads nothing; an interrupted sync resumes where it
stopped.

Examples:
  occmirror sync
  occmirror sync 2025-10-01
  occmirror sync --plan`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

type syncOptions struct {
	planOnly bool
}

var syncOpts = &syncOptions{}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVar(&syncOpts.planOnly, "plan", false, "show what would be downloaded without syncing")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := cliLogger(cmd)

	cfg, err := findConfig()
	if err != nil {
		pterm.Error.Println("No mirror configuration found")
		pterm.Info.Println("Run 'occmirror init' first to create a mirror")
		return err
	}

	m, err := openMirror(cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	snapshot := ""
	if len(args) > 0 {
		snapshot = args[0]
	}

	spinner, _ := pterm.DefaultSpinner.Start("Discovering upstream partitions...")
	plan, err := m.coord.Plan(ctx, snapshot)
	if err != nil {
		spinner.Fail("Discovery failed")
		return err
	}
	spinner.Success(pterm.Sprintf("Snapshot %s: %d files, %d to download (%s)",
		plan.Snapshot, plan.FilesTotal, plan.FilesNeeded, humanBytes(plan.BytesNeeded)))

	if syncOpts.planOnly {
		return nil
	}
	if plan.FilesNeeded == 0 {
		pterm.Success.Printfln("Mirror is already current for %s", plan.Snapshot)
		return nil
	}

	bar, _ := pterm.DefaultProgressbar.
		WithTotal(plan.FilesNeeded).
		WithTitle("Downloading " + plan.Snapshot).
		Start()

	outcome, err := m.coord.Sync(ctx, plan.Snapshot, func(key string, size int64, fileErr error) {
		if fileErr != nil {
			pterm.Warning.Printfln("Failed: %s (%v)", key, fileErr)
		}
		bar.Increment()
	})
	if _, stopErr := bar.Stop(); stopErr != nil {
		logger.Debug().Err(stopErr).Msg("Progress bar stop failed")
	}
	if err != nil {
		pterm.Error.Printfln("Sync did not complete: %v", err)
		pterm.Info.Println("Re-run 'occmirror sync' to retry the failed files")
		return err
	}

	pterm.Success.Printfln("Mirrored %s: %d downloaded, %d already present, %s",
		outcome.Snapshot, outcome.Result.Downloaded, outcome.Result.Skipped, humanBytes(outcome.Result.Bytes))
	return nil
}

// humanBytes renders a byte count for terminal output
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return pterm.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return pterm.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
