package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/biodiversity-meets-data/occmirror/server/config"
	"github.com/biodiversity-meets-data/occmirror/server/paths"
	"github.com/biodiversity-meets-data/occmirror/server/registry"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a new mirror directory",
	Long: `Initialize a new occmirror project.

This creates the target directory (default: gbif-mirror) and sets up:
- ` + config.ConfigFileName + ` configuration file
- the data directory for mirrored Parquet partitions
- the registry database tracking snapshot state

Pick the bucket region closest to this host with --region.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

type initOptions struct {
	region string
	keep   int
}

var initOpts = &initOptions{}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initOpts.region, "region", config.DefaultRegion, "GBIF open-data bucket region")
	initCmd.Flags().IntVar(&initOpts.keep, "keep", 2, "number of complete snapshots to retain")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "gbif-mirror"
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		pterm.Error.Printf("Failed to create directory %s: %v\n", absPath, err)
		return err
	}

	configPath := filepath.Join(absPath, config.ConfigFileName)
	if _, err := os.Stat(configPath); err == nil {
		pterm.Error.Printfln("Directory already contains a mirror (found %s)", config.ConfigFileName)
		return fmt.Errorf("directory already contains a mirror (found %s)", config.ConfigFileName)
	}

	known := false
	for _, r := range config.KnownRegions {
		if r == initOpts.region {
			known = true
			break
		}
	}
	if !known {
		pterm.Warning.Printfln("Region %s is not a known GBIF open-data region %v", initOpts.region, config.KnownRegions)
	}

	cfg := config.LoadDefaultConfig()
	cfg.Mirror.DataPath = filepath.Join(absPath, "data")
	cfg.Mirror.Region = initOpts.region
	cfg.Mirror.Bucket = config.BucketForRegion(initOpts.region)
	cfg.Mirror.KeepSnapshots = initOpts.keep
	cfg.Log.FilePath = filepath.Join(absPath, "logs", "occmirror.log")

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.SaveConfig(cfg, configPath); err != nil {
		pterm.Error.Printf("Failed to write configuration: %v\n", err)
		return err
	}

	// Create the data layout and the registry up front so the first sync
	// starts clean
	pm := paths.NewManager(cfg.Mirror.DataPath, cfg.Mirror.DatasetPrefix)
	if err := os.MkdirAll(pm.GetTempPath(), 0755); err != nil {
		return err
	}
	store, err := registry.NewStore(pm.GetRegistryDBPath())
	if err != nil {
		pterm.Error.Printf("Failed to initialize registry: %v\n", err)
		return err
	}
	store.Close()

	pterm.Success.Printfln("Initialized mirror in %s", absPath)
	pterm.Info.Printfln("Region: %s (bucket %s)", cfg.Mirror.Region, cfg.Mirror.Bucket)
	pterm.Info.Printfln("Next: cd %s && occmirror sync", targetDir)
	return nil
}
