// Command oscdispatch runs an OSC server that prints every received
// message matching one of the address nodes created with --address.
package main

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dnaka91/go-oscdispatch/server"
)

var (
	bindHost       string
	bindPort       uint16
	logLevel       string
	monitoringPort int
	addresses      []string
)

var rootCmd = &cobra.Command{
	Use:          "oscdispatch",
	Short:        "OSC 1.1 server with pattern-matched dispatch",
	SilenceUsage: true,
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Listen for OSC packets and log every message matching a created node",
	RunE:  runMonitor,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "loglevel", "l", "info",
		"log level, one of: debug, info, warning, error")

	monitorCmd.Flags().StringVar(&bindHost, "host", server.DefaultBindHost, "address to listen on")
	monitorCmd.Flags().Uint16Var(&bindPort, "port", server.DefaultBindPort, "port to listen on")
	monitorCmd.Flags().IntVar(&monitoringPort, "monitoringport", 0,
		"port to serve prometheus metrics on (0 disables)")
	monitorCmd.Flags().StringSliceVarP(&addresses, "address", "a", nil,
		"address to create a node for, repeat for multiple")

	rootCmd.AddCommand(monitorCmd)
}

func setLogLevel() error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	return nil
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	if err := setLogLevel(); err != nil {
		return err
	}

	cfg := server.Config{
		BindHost:       bindHost,
		BindPort:       bindPort,
		MonitoringPort: monitoringPort,
	}

	srv := server.NewServer(cfg, nil)
	sp := srv.AddressSpace()

	for _, addr := range addresses {
		if _, _, err := sp.CreateFromAddress(addr, ""); err != nil {
			return err
		}
		log.Infof("created node %s", addr)
	}
	if len(addresses) == 0 {
		log.Warn("no --address nodes created, only messages matching existing nodes are logged")
	}

	events := sp.Subscribe(64)
	go func() {
		for ev := range events {
			log.WithFields(log.Fields{
				"address": ev.Address.Pattern,
				"rx":      ev.TimeTag.Time(),
			}).Infof("received %v", ev.Message)
		}
	}()

	if err := srv.Open(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	sp.Unsubscribe(events)

	return srv.Close()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
