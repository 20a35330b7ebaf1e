// Command gateway is the process entrypoint: load config, wire every
// collaborator described in SPEC_FULL.md, serve HTTP, and shut down
// gracefully on SIGINT/SIGTERM.
//
// Grounded on the reference node's cmd/node + internal/app lifecycle:
// signal.Notify, a blocking wait on the signal channel, then Stop with a
// bounded timeout.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Chigala/bitcoin-pay/internal/config"
	"github.com/Chigala/bitcoin-pay/internal/core/descriptor"
	"github.com/Chigala/bitcoin-pay/internal/core/events"
	"github.com/Chigala/bitcoin-pay/internal/core/gateway"
	clockimpl "github.com/Chigala/bitcoin-pay/internal/core/infrastructure/clock"
	logimpl "github.com/Chigala/bitcoin-pay/internal/core/infrastructure/log"
	"github.com/Chigala/bitcoin-pay/internal/core/infrastructure/metrics"
	"github.com/Chigala/bitcoin-pay/internal/core/intent"
	"github.com/Chigala/bitcoin-pay/internal/core/nodeclient"
	"github.com/Chigala/bitcoin-pay/internal/core/reconciler"
	"github.com/Chigala/bitcoin-pay/internal/core/scheduler"
	memorystore "github.com/Chigala/bitcoin-pay/internal/core/storage/memory"
	sqlitestore "github.com/Chigala/bitcoin-pay/internal/core/storage/sqlite"
	"github.com/Chigala/bitcoin-pay/internal/core/token"
	"github.com/Chigala/bitcoin-pay/internal/core/zmqsub"
	"github.com/Chigala/bitcoin-pay/internal/httpapi"
	"github.com/Chigala/bitcoin-pay/internal/httpapi/wshub"
	clockiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/clock"
	logiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/log"
	storageiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/storage"
)

func main() {
	storageKind := flag.String("storage", "memory", "storage backend: memory|sqlite")
	dsn := flag.String("db", "gateway.db", "sqlite DSN, used when -storage=sqlite")
	flag.Parse()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logimpl.New(cfg.LogLevel)
	clk := clockimpl.NewSystemClock()

	store, closeStore, err := buildStore(*storageKind, *dsn, clk)
	if err != nil {
		logger.Error("gateway: opening storage failed", logiface.F("error", err.Error()))
		os.Exit(1)
	}
	defer closeStore()

	descr, err := descriptor.New(cfg.Descriptor)
	if err != nil {
		logger.Error("gateway: building descriptor engine failed", logiface.F("error", err.Error()))
		os.Exit(1)
	}
	codec := token.New(cfg.Token, clk)

	hub := wshub.New(logger)
	dispatcher := events.New(logger, 32, hub.OnEvent)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	watched := gateway.NewWatchedAddressSet()
	if err := watched.Load(context.Background(), store); err != nil {
		logger.Error("gateway: loading watched addresses failed", logiface.F("error", err.Error()))
		os.Exit(1)
	}

	machine := intent.New(store, clk, cfg.Watcher.MatchMode)
	rpc, scanner := buildWatcherBackend(cfg, logger)
	recon := reconciler.New(rpc, store, machine, watched, clk, logger, dispatcher.Emit)
	recon.SetMetrics(m)
	sched := scheduler.New(cfg.Scheduler, store, recon, scanner, machine, dispatcher, clk, logger)
	sched.SetMetrics(m)

	gw, err := gateway.New(context.Background(), gateway.Config{
		API: cfg.API, Token: cfg.Token, Watcher: cfg.Watcher, Scheduler: cfg.Scheduler,
	}, store, descr, codec, sched, watched, dispatcher, clk, logger)
	if err != nil {
		logger.Error("gateway: building gateway failed", logiface.F("error", err.Error()))
		os.Exit(1)
	}

	server := httpapi.New(cfg.API, gw, store, hub, reg, logger)

	sched.Start()
	if err := server.Start(); err != nil {
		logger.Error("gateway: starting http server failed", logiface.F("error", err.Error()))
		os.Exit(1)
	}

	zmqCtx, cancelZMQ := context.WithCancel(context.Background())
	defer cancelZMQ()
	if !cfg.Watcher.ZMQ.Inert() {
		go runZMQSubscriber(zmqCtx, cfg, recon, logger)
	}

	logger.Info("gateway: started", logiface.F("storage", *storageKind))
	waitForShutdown(logger)

	cancelZMQ()
	sched.Stop()
	dispatcher.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway: http shutdown failed", logiface.F("error", err.Error()))
	}
	logger.Info("gateway: stopped")
}

// waitForShutdown blocks until SIGINT or SIGTERM arrives.
func waitForShutdown(logger logiface.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	logger.Info("gateway: received signal, shutting down", logiface.F("signal", sig.String()))
}

func buildStore(kind, dsn string, clk clockiface.Clock) (storageiface.Core, func(), error) {
	switch kind {
	case "sqlite":
		s, err := sqlitestore.Open(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store at %s: %w", dsn, err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return memorystore.New(clk), func() {}, nil
	}
}

// buildWatcherBackend picks the RPC or indexer client per §4.D.
// config.Validate requires at least one; when both are configured the RPC
// client is used and the indexer is not consulted.
func buildWatcherBackend(cfg config.Config, logger logiface.Logger) (reconciler.RPC, scheduler.AddressScanner) {
	if cfg.Watcher.RPC.Enabled() {
		rpc := nodeclient.NewRPCClient(nodeclient.RPCConfig{
			URL:            fmt.Sprintf("http://%s:%d", cfg.Watcher.RPC.Host, cfg.Watcher.RPC.Port),
			Username:       cfg.Watcher.RPC.Username,
			Password:       cfg.Watcher.RPC.Password,
			ConnectTimeout: cfg.Watcher.RPC.ConnectTimeout,
			CallTimeout:    cfg.Watcher.RPC.CallTimeout,
		}, logger)
		return rpc, rpc
	}

	indexer := nodeclient.NewIndexerClient(nodeclient.IndexerConfig{BaseURL: cfg.Watcher.Indexer.APIURL}, http.DefaultClient, logger)
	return indexer, indexer
}

// runZMQSubscriber bridges push notifications into the reconciler: a
// hashtx event carries a txid, which is reconciled the same way a
// scheduler poll hit would be. hashblock, sequence and raw tx/block
// frames are accepted per §4.E's topic set but not acted on here (no
// component needs them once the reconciler can re-fetch verbose data by
// txid, and the scheduler's poll picks up confirmation growth).
func runZMQSubscriber(ctx context.Context, cfg config.Config, recon *reconciler.Reconciler, logger logiface.Logger) {
	sub := zmqsub.New(cfg.Watcher.ZMQ, logger)
	go func() {
		for ev := range sub.Events() {
			if ev.Kind != "hashtx" || ev.Hash == "" {
				continue
			}
			if err := recon.Reconcile(ctx, ev.Hash, 0); err != nil {
				logger.Warn("gateway: zmq-triggered reconcile failed",
					logiface.F("txid", ev.Hash), logiface.F("error", err.Error()))
			}
		}
	}()
	if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("gateway: zmq subscriber exited", logiface.F("error", err.Error()))
	}
}
