package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tutu-network/pana/internal/daemon"
	"github.com/tutu-network/pana/internal/domain"
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyClearCmd)
	historyCmd.AddCommand(historyDaysCmd)
	historyShowCmd.Flags().String("day", "", "day to show (YYYY-MM-DD, default: today)")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect stored conversations",
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a day's conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(cfg, log)
		if err != nil {
			return err
		}
		defer d.Close()

		var turns []domain.Turn
		if day, _ := cmd.Flags().GetString("day"); day != "" {
			tree, err := d.DB().OpenTree(day)
			if err != nil {
				return err
			}
			turns, err = tree.History()
			if err != nil {
				return err
			}
		} else {
			turns, err = d.Session().SyncHistory()
			if err != nil {
				return err
			}
		}

		if len(turns) == 0 {
			fmt.Fprintln(os.Stdout, "No conversation stored.")
			return nil
		}
		for _, t := range turns {
			fmt.Fprintf(os.Stdout, "%s: %s\n", t.Role.Label(), t.Text)
		}
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete today's conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(cfg, log)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.Session().ClearHistory(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "✅ %s\n", domain.MsgHistoryCleared)
		return nil
	},
}

var historyDaysCmd = &cobra.Command{
	Use:   "days",
	Short: "List days with stored conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(cfg, log)
		if err != nil {
			return err
		}
		defer d.Close()

		days, err := d.DB().Trees()
		if err != nil {
			return err
		}
		for _, day := range days {
			fmt.Fprintln(os.Stdout, day)
		}
		return nil
	},
}
