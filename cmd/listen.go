package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/storacha/torrent-sync/pkg/bus"
	"github.com/storacha/torrent-sync/pkg/client"
	"github.com/storacha/torrent-sync/pkg/config"
	"github.com/storacha/torrent-sync/pkg/dispatch"
	"github.com/storacha/torrent-sync/pkg/eventlog"
	"github.com/storacha/torrent-sync/pkg/keys"
	"github.com/storacha/torrent-sync/pkg/metrics"
	"github.com/storacha/torrent-sync/pkg/model"
	"github.com/storacha/torrent-sync/pkg/runner"
	"github.com/storacha/torrent-sync/pkg/server"
	"github.com/storacha/torrent-sync/pkg/transfer"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Listen for transfer requests",
	Long: "Subscribes to the configured MQTT topics and runs a transfer for every request on the work topic. " +
		"The first SIGINT/SIGTERM stops accepting requests and waits for running transfers; a second one " +
		"interrupts them (credentials are still revoked).",
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		cobra.CheckErr(err)

		fsys := afero.NewOsFs()
		credentials := keys.NewManager(fsys, cfg.KeyDir, newGenerator(cfg.KeyGenerator, fsys))
		authorizer := client.New(cfg.Endpoints, cfg.SSHUsername, client.WithTimeout(cfg.HTTPTimeout))

		auditFile, err := os.OpenFile(cfg.AuditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		cobra.CheckErr(err)
		defer auditFile.Close()
		audit := eventlog.NewJSONLWriter[model.AuditRecord](auditFile)

		var results eventlog.Appender[model.Transfer]
		if cfg.ResultsPath != "" {
			resultsFile, err := os.OpenFile(cfg.ResultsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			cobra.CheckErr(err)
			defer resultsFile.Close()
			resultsCSV := eventlog.NewCSVWriter[model.Transfer](resultsFile)
			defer resultsCSV.Flush()
			results = resultsCSV
		}

		m := metrics.New()
		transfers := runner.NewTransferRunner(
			runner.Settings{
				SSHUsername:     cfg.SSHUsername,
				SSHPort:         cfg.SSHPort,
				Destination:     cfg.Destination,
				SettleDelay:     cfg.SettleDelay,
				TransferTimeout: cfg.TransferTimeout,
				CleanupTimeout:  cfg.HTTPTimeout,
			},
			credentials,
			authorizer,
			transfer.Rsync{},
			cfg.Aliases,
			runner.NewGate(),
			results,
			m,
		)

		unitCtx, cancelUnits := context.WithCancel(context.Background())
		defer cancelUnits()
		dispatcher := dispatch.New(unitCtx, cfg.WorkTopic, audit, transfers, cfg.MaxConcurrent, m)

		subscriber, err := bus.NewSubscriber(bus.Config{
			Broker:   cfg.BrokerHost,
			Username: cfg.BrokerUser,
			Password: cfg.BrokerPass,
			ClientID: cfg.ClientID,
			Topics:   cfg.Topics,
		}, dispatcher.Handle)
		cobra.CheckErr(err)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Serves until in-flight units have drained.
		serverCtx, stopServer := context.WithCancel(context.Background())
		defer stopServer()
		if cfg.MetricsAddr != "" {
			go func() {
				if err := server.Serve(serverCtx, cfg.MetricsAddr, server.NewRouter(m.Registry, dispatcher)); err != nil {
					log.Errorf("metrics server: %s", err)
				}
			}()
		}

		log.Infof("listening on %s for topics %v (work topic %q)", cfg.BrokerHost, cfg.Topics, cfg.WorkTopic)
		runErr := subscriber.Run(ctx)
		stop()
		// Paho may still be delivering messages on its own goroutines.
		dispatcher.Close()

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(interrupt)
		go func() {
			select {
			case <-interrupt:
				log.Warn("interrupting running transfers")
				cancelUnits()
			case <-unitCtx.Done():
			}
		}()

		log.Infof("waiting for %d in-flight transfers", dispatcher.InFlight())
		dispatcher.Wait()
		stopServer()
		cobra.CheckErr(runErr)
	},
}

func newGenerator(name string, fsys afero.Fs) keys.Generator {
	if name == "ssh-keygen" {
		return keys.SSHKeygenGenerator{}
	}
	return keys.NativeGenerator{Fs: fsys}
}

func init() {
	rootCmd.AddCommand(listenCmd)
}
