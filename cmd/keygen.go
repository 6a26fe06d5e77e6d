package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/storacha/torrent-sync/pkg/keys"
)

var (
	keygenDir       string
	keygenGenerator string
	keygenKeep      bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen <transfer id>",
	Short: "Generate a transfer key",
	Long:  "Generates a key the same way a transfer does and prints the public half. The key is removed again unless --keep is set.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := keygenDir
		if dir == "" {
			dir = os.Getenv("KEY_FOLDER_PATH")
		}
		if dir == "" {
			cobra.CheckErr("no key folder: pass --dir or set KEY_FOLDER_PATH")
		}
		generator := keygenGenerator
		if generator == "" {
			generator = os.Getenv("KEYGEN")
		}

		fsys := afero.NewOsFs()
		manager := keys.NewManager(fsys, dir, newGenerator(generator, fsys))
		cred, err := manager.Create(cmd.Context(), args[0])
		cobra.CheckErr(err)
		fmt.Fprintln(cmd.OutOrStdout(), cred.PublicKey)

		if !keygenKeep {
			cobra.CheckErr(manager.Destroy(args[0]))
		} else {
			log.Infof("kept key at %s", cred.PrivateKeyPath)
		}
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenDir, "dir", "", "key folder, defaults to KEY_FOLDER_PATH")
	keygenCmd.Flags().StringVar(&keygenGenerator, "generator", "", "native or ssh-keygen, defaults to KEYGEN")
	keygenCmd.Flags().BoolVar(&keygenKeep, "keep", false, "leave the generated key on disk")
	rootCmd.AddCommand(keygenCmd)
}
