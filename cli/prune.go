package cli

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old snapshots from disk",
	Long: `Remove mirrored snapshots beyond the configured retention
(keep_snapshots). The newest complete snapshot is never removed.`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
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

	pruned, err := m.coord.Prune(ctx)
	if err != nil {
		return err
	}
	if len(pruned) == 0 {
		pterm.Info.Printfln("Nothing to prune (keeping %d snapshots)", cfg.Mirror.KeepSnapshots)
		return nil
	}
	for _, date := range pruned {
		pterm.Success.Printfln("Pruned %s", date)
	}
	return nil
}
