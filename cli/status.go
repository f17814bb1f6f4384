package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/biodiversity-meets-data/occmirror/pkg/errors"
	"github.com/biodiversity-meets-data/occmirror/server/registry"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mirror freshness and progress",
	Long: `Show the mirror's state: the newest complete local snapshot, whether
upstream has published a newer one, and in-flight sync progress.

With --server, query a running occmirror server over HTTP instead of
opening the registry directly.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

type statusOptions struct {
	server   string
	jsonOut  bool
	noRemote bool
}

var statusOpts = &statusOptions{}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusOpts.server, "server", "", "query a running server (host:port) instead of the registry")
	statusCmd.Flags().BoolVar(&statusOpts.jsonOut, "json", false, "emit machine-readable JSON")
	statusCmd.Flags().BoolVar(&statusOpts.noRemote, "no-remote", false, "skip the upstream freshness check")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusOpts.server != "" {
		return runServerStatus()
	}
	return runLocalStatus(cmd)
}

// runServerStatus asks a running server for its status over HTTP
func runServerStatus() error {
	url := fmt.Sprintf("http://%s/status", statusOpts.server)
	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		pterm.Error.Printfln("Server %s is unreachable", statusOpts.server)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", resp.Status, body)
	}

	if statusOpts.jsonOut {
		fmt.Println(string(body))
		return nil
	}

	parsed := gjson.ParseBytes(body)
	pterm.Info.Printfln("Server:   %s", statusOpts.server)
	pterm.Info.Printfln("Engine:   %s", parsed.Get("engine").String())
	pterm.Info.Printfln("Bucket:   %s", parsed.Get("bucket").String())
	if latest := parsed.Get("latest_snapshot"); latest.Exists() && latest.Type != gjson.Null {
		pterm.Success.Printfln("Latest complete snapshot: %s (%d files, %s)",
			latest.String(),
			parsed.Get("latest_snapshot_files").Int(),
			humanBytes(parsed.Get("latest_snapshot_bytes").Int()))
	} else {
		pterm.Warning.Println("No complete snapshot mirrored yet")
	}
	if parsed.Get("sync_running").Bool() {
		pterm.Info.Println("A sync is currently running")
	}
	return nil
}

type localStatus struct {
	Region         string `json:"region"`
	Bucket         string `json:"bucket"`
	DataPath       string `json:"data_path"`
	LatestSnapshot string `json:"latest_snapshot,omitempty"`
	Files          int    `json:"files,omitempty"`
	Bytes          int64  `json:"bytes,omitempty"`
	UpstreamLatest string `json:"upstream_latest,omitempty"`
	Stale          *bool  `json:"stale,omitempty"`
}

// runLocalStatus opens the registry directly
func runLocalStatus(cmd *cobra.Command) error {
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

	status := localStatus{
		Region:   cfg.Mirror.Region,
		Bucket:   cfg.Mirror.Bucket,
		DataPath: cfg.Mirror.DataPath,
	}

	latest, err := m.store.LatestCompleteSnapshot(ctx)
	switch {
	case err == nil:
		status.LatestSnapshot = latest.Date
		status.Files = latest.FileCount
		status.Bytes = latest.TotalSize
	case errors.HasCode(err, registry.ErrNoCompleteSnapshots):
	default:
		return err
	}

	if !statusOpts.noRemote {
		stale, upstream, err := m.coord.Stale(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Upstream freshness check failed")
		} else {
			status.UpstreamLatest = upstream
			status.Stale = &stale
		}
	}

	if statusOpts.jsonOut {
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	pterm.Info.Printfln("Region:   %s", status.Region)
	pterm.Info.Printfln("Bucket:   %s", status.Bucket)
	pterm.Info.Printfln("Data:     %s", status.DataPath)
	if status.LatestSnapshot != "" {
		pterm.Success.Printfln("Latest complete snapshot: %s (%d files, %s)",
			status.LatestSnapshot, status.Files, humanBytes(status.Bytes))
	} else {
		pterm.Warning.Println("No complete snapshot mirrored yet")
	}
	if status.Stale != nil {
		if *status.Stale {
			pterm.Warning.Printfln("Upstream has a newer snapshot: %s (run 'occmirror sync')", status.UpstreamLatest)
		} else {
			pterm.Success.Printfln("Mirror is fresh (upstream latest is %s)", status.UpstreamLatest)
		}
	}
	return nil
}
