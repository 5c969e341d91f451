// Command ebusgwd bridges a physical eBUS line to TCP clients: it wins
// the bus on behalf of connected clients, forwards raw and enhanced
// framed traffic, and exits on prolonged bus silence for an external
// supervisor to restart it.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/mlanger/ebusgw"
)

func main() {
	flag.Parse()
	cfg := ebusgw.MustConfig()

	log := ebusgw.NewLogger(logrus.InfoLevel)
	log.WithField("device", cfg.SerialDevice).Info("starting ebusgwd")

	adapter, err := ebusgw.NewAdapter(cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize adapter")
	}
	defer adapter.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := adapter.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("adapter exited")
		os.Exit(1)
	}
	log.Info("ebusgwd shut down cleanly")
}
