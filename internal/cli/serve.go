package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tutu-network/pana/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "listen host (overrides [api].host)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides [api].port)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pana API server",
	Long: `Run the HTTP API. Commands are served under /api and observer
events stream from /api/events as Server-Sent Events.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.API.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.API.Port = port
	}

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("home", cfg.Home).Str("engine", cfg.Engine.BaseURL).Msg("pana starting")
	return d.Run(ctx)
}
