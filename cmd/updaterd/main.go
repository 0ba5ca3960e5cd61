// Command updaterd hosts an updater.Server over a mutual-TLS TCP
// transport: it loads an UpdaterConfig, pre-declares the configured
// caches against an in-memory store, registers the LoadRequest handler,
// and serves until signalled.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/distkv/streamer/internal/config"
	"github.com/distkv/streamer/internal/kvmodel"
	"github.com/distkv/streamer/internal/logging"
	"github.com/distkv/streamer/internal/memstore"
	"github.com/distkv/streamer/internal/pki"
	"github.com/distkv/streamer/internal/receiver"
	"github.com/distkv/streamer/internal/transport"
	"github.com/distkv/streamer/internal/updater"
)

func main() {
	configPath := flag.String("config", "/etc/distkv/updaterd.yaml", "path to updaterd YAML config")
	flag.Parse()

	cfg, err := config.LoadUpdaterConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "updaterd: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.NewLogger("updaterd", cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer closer.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("updaterd exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.UpdaterConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverTLS, err := pki.NewServerTLSConfig(cfg.TLS.CACert, cfg.TLS.ServerCert, cfg.TLS.ServerKey)
	if err != nil {
		return fmt.Errorf("building server TLS config: %w", err)
	}

	store := memstore.New(kvmodel.TopologyVersion{Major: 1})
	for _, name := range cfg.Caches {
		store.EnsureCache(name)
	}

	srv := updater.NewServer(memstore.ServerView{Store: store}, receiver.NewIsolated(receiver.AllowAll{}), logger)
	srv.SetReadOnly(cfg.ReadOnly)

	tp, err := transport.NewTCPTransport(transport.TCPConfig{
		ListenAddr: cfg.Server.Listen,
		ServerTLS:  serverTLS,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("constructing transport: %w", err)
	}
	defer tp.Close()

	srv.RegisterOn(tp)

	logger.Info("updaterd listening", "addr", cfg.Server.Listen, "caches", cfg.Caches, "read_only", cfg.ReadOnly)
	<-ctx.Done()
	logger.Info("updaterd shutting down", "applied", srv.Applied(), "rejected", srv.Rejected())
	return nil
}
