package cmd

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"github.com/storacha/torrent-sync/pkg/eventlog"
	"github.com/storacha/torrent-sync/pkg/model"
)

var resultsCmd = &cobra.Command{
	Use:   "results <path to results csv>",
	Short: "Summarise transfer outcomes",
	Long:  "Reads the results CSV written by listen and prints a count per terminal state followed by every failed transfer.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.Open(args[0])
		cobra.CheckErr(err)
		defer data.Close()

		counts := map[string]int{}
		var failed []model.Transfer
		for t, err := range eventlog.NewCSVReader[model.Transfer](data).Iterator() {
			cobra.CheckErr(err)
			counts[t.State]++
			if t.Error.Message != "" {
				failed = append(failed, t)
			}
		}

		out := cmd.OutOrStdout()
		for _, state := range slices.Sorted(maps.Keys(counts)) {
			fmt.Fprintf(out, "%s: %d\n", state, counts[state])
		}
		for _, t := range failed {
			fmt.Fprintf(out, "%s %s %s (%s): %s\n", t.Ended.Format("2006-01-02 15:04:05"), t.Username, t.TorrentID, t.State, t.Error.Message)
		}
	},
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}
