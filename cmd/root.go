package cmd

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"github.com/storacha/torrent-sync/pkg/config"
)

var log = logging.Logger("cmd")

var (
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "torrent-sync",
	Short: "Pull finished downloads over single-use SSH credentials",
	Long: "Listens on an MQTT bus for transfer requests and pulls each one with rsync, " +
		"using an SSH key that is authorized for the duration of that transfer only.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(envFile); err != nil {
			return err
		}
		level := logLevel
		if level == "" {
			level = os.Getenv("LOG_LEVEL")
		}
		if level == "" {
			level = "info"
		}
		return logging.SetLogLevel("*", level)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error), overrides LOG_LEVEL")
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
