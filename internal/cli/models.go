package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/pana/internal/daemon"
	"github.com/tutu-network/pana/internal/domain"
)

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsSyncCmd)
	modelsCmd.AddCommand(modelsPullCmd)
	modelsCmd.AddCommand(modelsRemoveCmd)
	modelsCmd.AddCommand(modelsDirCmd)
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage local models",
}

// ─── models list ────────────────────────────────────────────────────────────

var modelsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List catalog models and their local state",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(cfg, log)
		if err != nil {
			return err
		}
		defer d.Close()

		models, err := d.Session().ListModels()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIZE\tFORMAT\tPULLED")
		for _, m := range models {
			pulled := "-"
			if m.Pulled {
				pulled = m.PulledAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, domain.HumanSize(m.SizeBytes), m.Format, pulled)
		}
		return w.Flush()
	},
}

// ─── models sync ────────────────────────────────────────────────────────────

var modelsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the model catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(cfg, log)
		if err != nil {
			return err
		}
		defer d.Close()

		n, err := d.Session().SyncModelCatalog()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Catalog updated: %d models.\n", n)
		return nil
	},
}

// ─── models pull ────────────────────────────────────────────────────────────

var modelsPullCmd = &cobra.Command{
	Use:   "pull MODEL",
	Short: "Download a model and wait for it",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsPull,
}

func runModelsPull(cmd *cobra.Command, args []string) error {
	progress := make(chan domain.Progress, 16)
	result := make(chan domain.Event, 4)
	watch := domain.ObserverFunc(func(ev domain.Event) {
		switch {
		case ev.Kind == domain.EventProgress && ev.Progress != nil:
			select {
			case progress <- *ev.Progress:
			default: // terminal lags; skip
			}
		case ev.Kind == domain.EventError,
			ev.Kind == domain.EventNotification && ev.Message == domain.MsgModelDownloaded:
			select {
			case result <- ev:
			default:
			}
		}
	})

	d, err := daemon.New(cfg, log, watch)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Session().StartDownload(args[0]); err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	var last time.Time
	for {
		select {
		case <-interrupt:
			fmt.Fprintln(os.Stdout)
			return d.Session().StopDownload()
		case p := <-progress:
			if time.Since(last) < 200*time.Millisecond && p.Percent < 100 {
				continue
			}
			last = time.Now()
			fmt.Fprintf(os.Stdout, "\rpulling %s  %5.1f%%  %s / %s", p.Model, p.Percent,
				domain.HumanSize(p.Downloaded), domain.HumanSize(p.Total))
		case ev := <-result:
			fmt.Fprintln(os.Stdout)
			if ev.Kind == domain.EventError {
				return errors.New(ev.Message)
			}
			fmt.Fprintf(os.Stdout, "✅ %s\n", ev.Message)
			return nil
		}
	}
}

// ─── models rm ──────────────────────────────────────────────────────────────

var modelsRemoveCmd = &cobra.Command{
	Use:     "rm MODEL",
	Aliases: []string{"remove"},
	Short:   "Delete a downloaded model",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(cfg, log)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.Session().DeleteModel(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "✅ Model %q deleted.\n", args[0])
		return nil
	},
}

// ─── models dir ─────────────────────────────────────────────────────────────

var modelsDirCmd = &cobra.Command{
	Use:   "dir",
	Short: "Print the directory model files are stored in",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(os.Stdout, cfg.ModelsDir())
		return nil
	},
}
