package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/storacha/torrent-sync/pkg/keys"
)

var sweepDir string

var sweepCmd = &cobra.Command{
	Use:   "sweep [max age]",
	Short: "Remove stale keys",
	Long: "Removes key files older than max age (default 24h) from the key folder. Keys only outlive " +
		"their transfer when the process died mid-transfer; their grants may need revoking by hand.",
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		maxAge := 24 * time.Hour
		if len(args) > 0 {
			d, err := time.ParseDuration(args[0])
			cobra.CheckErr(err)
			maxAge = d
		}
		dir := sweepDir
		if dir == "" {
			dir = os.Getenv("KEY_FOLDER_PATH")
		}
		if dir == "" {
			cobra.CheckErr("no key folder: pass --dir or set KEY_FOLDER_PATH")
		}

		manager := keys.NewManager(afero.NewOsFs(), dir, nil)
		removed, err := manager.Sweep(maxAge, time.Now())
		for _, p := range removed {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		cobra.CheckErr(err)
	},
}

func init() {
	sweepCmd.Flags().StringVar(&sweepDir, "dir", "", "key folder, defaults to KEY_FOLDER_PATH")
	rootCmd.AddCommand(sweepCmd)
}
