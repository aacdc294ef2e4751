// Package cli implements pana's command-line interface.
package cli

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tutu-network/pana/internal/daemon"
	"github.com/tutu-network/pana/internal/infra/logging"
)

var (
	configPath string
	logLevel   string
	logPretty  bool

	cfg daemon.Config
	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pana",
	Short: "Local chat with a locally hosted language model",
	Long: `pana manages local models and chat sessions: it downloads model
artifacts, keeps one model loaded, streams replies from a local
OpenAI-compatible engine and stores each day's conversation.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $PANA_HOME/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", false, "human-readable logs")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, args []string) error {
	// .env in the working directory, then in the data directory.
	for _, path := range []string{".env", filepath.Join(daemon.Home(), ".env")} {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	c, err := daemon.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if logPretty {
		c.Log.Pretty = true
	}
	cfg = c
	log = logging.New(logging.Config{Level: c.Log.Level, Pretty: c.Log.Pretty, Output: os.Stderr})
	return nil
}
