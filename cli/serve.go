package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/biodiversity-meets-data/occmirror/server"
	"github.com/biodiversity-meets-data/occmirror/server/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mirror server",
	Long: `Run the long-lived mirror server. The server keeps the local
mirror fresh against upstream releases and exposes the HTTP control
API for status, sync and query requests.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := findConfig()
	if err != nil {
		pterm.Error.Println("No mirror configuration found")
		return err
	}

	logger, err := config.SetupLogger(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := srv.Start(ctx); err != nil {
		return err
	}

	if cfg.IsHTTPServerEnabled() {
		pterm.Success.Printfln("Mirror server listening on %s:%d", cfg.GetHTTPAddress(), cfg.GetHTTPPort())
	} else {
		pterm.Success.Println("Mirror server started (HTTP API disabled)")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown did not complete cleanly")
		return err
	}
	pterm.Info.Println("Mirror server stopped")
	return nil
}
