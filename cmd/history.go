package cmd

import (
	"os"
	"time"

	"github.com/radek00/PeerDrop/internal/config"
	"github.com/radek00/PeerDrop/internal/history"
	"github.com/radek00/PeerDrop/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagHistoryLimit int
	flagHistoryPrune time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past transfers",
	Long: `List the outcome of recent transfers, newest first.

Examples:
  peerdrop history
  peerdrop history --limit 5
  peerdrop history --prune 720h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showHistory()
	},
}

func showHistory() error {
	cfg, err := config.Load(clientFlags)
	if err != nil {
		return err
	}

	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if flagHistoryPrune > 0 {
		n, err := store.Prune(time.Now().Add(-flagHistoryPrune))
		if err != nil {
			return err
		}
		ui.PrintInfof("Removed %d old transfer(s)", n)
	}

	records, err := store.List(flagHistoryLimit)
	if err != nil {
		return err
	}
	ui.RenderHistory(os.Stdout, records)
	return nil
}

func init() {
	rootCmd.AddCommand(historyCmd)

	f := historyCmd.Flags()
	f.StringVar(&clientFlags.HistoryPath, "history", "", "Transfer history database")
	f.IntVarP(&flagHistoryLimit, "limit", "n", history.DefaultListLimit, "Number of transfers to show")
	f.DurationVar(&flagHistoryPrune, "prune", 0, "Delete transfers older than this first")
}
