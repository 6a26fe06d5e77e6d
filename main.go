package main

import "github.com/storacha/torrent-sync/cmd"

func main() {
	cmd.Execute()
}
