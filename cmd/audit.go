package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"github.com/storacha/torrent-sync/pkg/eventlog"
	"github.com/storacha/torrent-sync/pkg/model"
)

type auditRow struct {
	Time        string `json:"time"`
	Topic       string `json:"topic"`
	Username    string `json:"username"`
	TorrentID   string `json:"torrentId"`
	ContentPath string `json:"contentPath"`
}

var auditCmd = &cobra.Command{
	Use:   "audit <path to message log>",
	Short: "Print the message log as CSV",
	Long:  "Reads the JSON lines message log written by listen and writes it to stdout as CSV.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.Open(args[0])
		cobra.CheckErr(err)
		defer data.Close()

		records := eventlog.NewJSONLReader[model.AuditRecord](data)
		rows := eventlog.NewCSVWriter[auditRow](cmd.OutOrStdout())
		for rec, err := range records.Iterator() {
			cobra.CheckErr(err)
			row := auditRow{Time: rec.Time.Format(model.AuditTimeLayout), Topic: rec.Topic}
			var req model.TransferRequest
			if json.Unmarshal(rec.Payload, &req) == nil {
				row.Username = req.Username
				row.TorrentID = req.TorrentID
				row.ContentPath = req.ContentPath
			}
			cobra.CheckErr(rows.Append(row))
		}
		cobra.CheckErr(rows.Flush())
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
