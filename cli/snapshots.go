package cli

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List snapshots known to the mirror",
	Long: `List the snapshots the registry knows about, with their mirror state.

With --remote, list the snapshots currently published upstream instead.`,
	Args: cobra.NoArgs,
	RunE: runSnapshots,
}

type snapshotsOptions struct {
	remote bool
}

var snapshotsOpts = &snapshotsOptions{}

func init() {
	rootCmd.AddCommand(snapshotsCmd)

	snapshotsCmd.Flags().BoolVar(&snapshotsOpts.remote, "remote", false, "list snapshots published upstream")
}

func runSnapshots(cmd *cobra.Command, args []string) error {
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

	if snapshotsOpts.remote {
		dates, err := m.remote.ListSnapshots(ctx)
		if err != nil {
			return err
		}
		pterm.Info.Printfln("Upstream snapshots in %s:", m.remote.Bucket())
		for _, date := range dates {
			pterm.Println("  " + date)
		}
		return nil
	}

	snaps, err := m.store.ListSnapshots(ctx)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		pterm.Info.Println("No snapshots mirrored yet; run 'occmirror sync'")
		return nil
	}

	rows := pterm.TableData{{"Snapshot", "State", "Files", "Size"}}
	for _, snap := range snaps {
		rows = append(rows, []string{
			snap.Date,
			snap.State,
			pterm.Sprintf("%d", snap.FileCount),
			humanBytes(snap.TotalSize),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
