// Command streamclient is a demo streamer.Streamer host: it loads a
// ClientConfig, builds a mutual-TLS transport to the configured updater
// address, opens one Streamer per configured cache, optionally flushes
// them on the config's cron flush_schedule, and closes them on signal —
// the client-side counterpart to cmd/updaterd. It submits no entries of
// its own: nothing in it calls Add.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/distkv/streamer/internal/affinity"
	"github.com/distkv/streamer/internal/config"
	"github.com/distkv/streamer/internal/discovery"
	"github.com/distkv/streamer/internal/kvmodel"
	"github.com/distkv/streamer/internal/logging"
	"github.com/distkv/streamer/internal/memstore"
	"github.com/distkv/streamer/internal/pki"
	"github.com/distkv/streamer/internal/streamer"
	"github.com/distkv/streamer/internal/transport"
)

func main() {
	configPath := flag.String("config", "/etc/distkv/streamclient.yaml", "path to streamclient YAML config")
	nodeID := flag.String("node", "local", "this process's node id")
	partitions := flag.Int("partitions", 64, "partition count for the demo affinity resolver")
	flag.Parse()

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "streamclient: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.NewLogger("streamclient", cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer closer.Close()

	if err := run(*nodeID, *partitions, cfg, logger); err != nil {
		logger.Error("streamclient exiting", "error", err)
		os.Exit(1)
	}
}

func run(nodeID string, partitions int, cfg *config.ClientConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clientTLS, err := pki.NewClientTLSConfig(cfg.TLS.CACert, cfg.TLS.ClientCert, cfg.TLS.ClientKey)
	if err != nil {
		return fmt.Errorf("building client TLS config: %w", err)
	}

	addresses := transport.StaticAddressBook{kvmodel.NodeID(cfg.Server.Address): cfg.Server.Address}
	tp, err := transport.NewTCPTransport(transport.TCPConfig{
		Addresses:      addresses,
		ClientTLS:      clientTLS,
		BytesPerSecond: cfg.BandwidthLimitRaw,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("constructing transport: %w", err)
	}
	defer tp.Close()

	disc := discovery.NewInMemory(kvmodel.NodeID(nodeID))
	disc.AddNode(discovery.Node{ID: kvmodel.NodeID(cfg.Server.Address), Addr: cfg.Server.Address})
	disc.SetTopologyVersion(kvmodel.TopologyVersion{Major: 1})

	resolver := affinity.NewHashResolver(partitions)
	nodes := make([][]kvmodel.NodeID, partitions)
	for i := range nodes {
		nodes[i] = []kvmodel.NodeID{kvmodel.NodeID(cfg.Server.Address)}
	}
	resolver.Publish(kvmodel.AffinityAssignment{Topology: kvmodel.TopologyVersion{Major: 1}, Nodes: nodes})

	local := memstore.New(kvmodel.TopologyVersion{Major: 1})

	streamers := make(map[string]*streamer.Streamer, len(cfg.Streamers))
	for _, sc := range cfg.Streamers {
		opts := streamer.Options{
			CacheName:           sc.CacheName,
			PerThreadBufferSize: sc.PerThreadBufferSize,
			PerNodeBufferSize:   sc.PerNodeBufferSize,
			PerNodeParallelOps:  sc.PerNodeParallelOps,
			StripeCount:         sc.StripeCount,
			Timeout:             sc.Timeout,
			AutoFlushPeriod:     sc.AutoFlushPeriod,
			AllowOverwrite:      sc.AllowOverwrite,
			SkipStore:           sc.SkipStore,
			KeepBinary:          sc.KeepBinary,
			MaxRemapCount:       sc.MaxRemapCount,
		}
		s, err := streamer.New(opts, resolver, disc, tp, local, logger.With("cache", sc.CacheName))
		if err != nil {
			return fmt.Errorf("constructing streamer for %q: %w", sc.CacheName, err)
		}
		streamers[sc.CacheName] = s
	}

	var scheduler *cron.Cron
	if cfg.FlushSchedule != "" {
		scheduler = cron.New()
		if _, err := scheduler.AddFunc(cfg.FlushSchedule, func() { flushAll(streamers, logger) }); err != nil {
			return fmt.Errorf("scheduling flush_schedule %q: %w", cfg.FlushSchedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	logger.Info("streamclient started", "node", nodeID, "streamers", len(streamers))
	<-ctx.Done()
	logger.Info("streamclient shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for name, s := range streamers {
		if err := s.Close(shutdownCtx, false); err != nil {
			logger.Warn("streamer close failed", "cache", name, "error", err)
		}
	}
	return nil
}

// flushAll runs a calendar-scheduled Flush against every configured
// streamer, logging but not propagating a per-cache failure so one
// stuck cache never skips the rest of the run.
func flushAll(streamers map[string]*streamer.Streamer, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for name, s := range streamers {
		if err := s.Flush(ctx); err != nil {
			logger.Warn("scheduled flush failed", "cache", name, "error", err)
		}
	}
}
