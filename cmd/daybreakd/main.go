package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/eqemu-go/daybreak/daybreak"
	"github.com/eqemu-go/daybreak/pkg/logger"
)

const (
	version = "1.0.0"
	author  = "eqemu-go"
)

func main() {
	logger.Banner("Daybreak Session Engine", version)

	cfg := loadConfig()

	opts := daybreak.DefaultConnectionManagerOptions()
	opts.Port = cfg.port
	opts.MaxPacketSize = cfg.maxPacketSize
	opts.CRCLength = cfg.crcLength
	opts.OutgoingDataRate = cfg.outgoingDataRate

	logger.Info("Engine version: %s", version)
	logger.Info("Listening on port %d", cfg.port)
	logger.Info("Max packet size: %d", cfg.maxPacketSize)
	logger.Info("CRC length: %d", cfg.crcLength)
	logger.Info("Metrics address: %s", cfg.metricsAddr)
	logger.Success("Configuration loaded successfully")

	manager := daybreak.NewConnectionManager(func(o *daybreak.ConnectionManagerOptions) { *o = opts })

	registry := prometheus.NewRegistry()
	collector := daybreak.NewManagerCollector()
	registry.MustRegister(collector)
	manager.SetMetricsCollector(collector)

	manager.SetOnNewConnection(func(conn *daybreak.Connection) {
		logger.Success("New connection from %s", conn.Peer().String())
	})
	manager.SetOnConnectionStateChange(func(conn *daybreak.Connection, from, to daybreak.Status) {
		logger.Info("Connection %s: %s -> %s", conn.Peer().String(), from, to)
	})
	manager.SetOnErrorMessage(func(conn *daybreak.Connection, event daybreak.ErrorEvent) {
		logger.Warn("Connection %s error (%s): %v", conn.Peer().String(), event.Kind, event.Err)
	})
	manager.SetOnPacketRecv(func(conn *daybreak.Connection, stream int, payload []byte) {
		logger.Debug("Received %d bytes on stream %d from %s", len(payload), stream, conn.Peer().String())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsSrv := &http.Server{
		Addr:    cfg.metricsAddr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("Metrics server error: %v", err)
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		errChan <- manager.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errChan:
		if err != nil {
			logger.Fatal("Manager error: %v", err)
		}
	case sig := <-sigChan:
		logger.Warn("Received signal: %v", sig)
		logger.Info("Shutting down gracefully...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		metricsSrv.Shutdown(shutdownCtx)

		<-errChan
		logger.Success("Manager stopped")
	}
}

type config struct {
	port             int
	maxPacketSize    uint32
	crcLength        uint32
	outgoingDataRate float64
	metricsAddr      string
}

func loadConfig() config {
	port := pflag.IntP("port", "p", 9000, "UDP port to listen on")
	maxPacketSize := pflag.Uint32("max-packet-size", 512, "Maximum datagram size in bytes")
	crcLength := pflag.Uint32("crc-length", 2, "CRC trailer length: 0, 2, or 4 bytes")
	outgoingDataRate := pflag.Float64("outgoing-rate-kib", 0, "Outgoing send budget in KiB/s (0 disables budgeting)")
	metricsAddr := pflag.String("metrics-addr", "127.0.0.1:9090", "Address to serve Prometheus metrics on")
	pflag.Parse()

	return config{
		port:             *port,
		maxPacketSize:    *maxPacketSize,
		crcLength:        *crcLength,
		outgoingDataRate: *outgoingDataRate,
		metricsAddr:      *metricsAddr,
	}
}
