// Command gatewayctl is the operator CLI: it talks to the gateway's core
// verbs directly against the same storage the gateway process uses,
// without going through HTTP. Useful for one-off operator actions
// (force a scan, mint a magic link) against a stopped or co-located
// gateway.
//
// Grounded on the reference node's cmd/cli package: one cobra root
// command, global flags parsed once in PersistentPreRunE, subcommands
// grouped by resource.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Chigala/bitcoin-pay/internal/config"
	"github.com/Chigala/bitcoin-pay/internal/core/descriptor"
	"github.com/Chigala/bitcoin-pay/internal/core/events"
	"github.com/Chigala/bitcoin-pay/internal/core/gateway"
	clockimpl "github.com/Chigala/bitcoin-pay/internal/core/infrastructure/clock"
	logimpl "github.com/Chigala/bitcoin-pay/internal/core/infrastructure/log"
	"github.com/Chigala/bitcoin-pay/internal/core/intent"
	"github.com/Chigala/bitcoin-pay/internal/core/nodeclient"
	"github.com/Chigala/bitcoin-pay/internal/core/reconciler"
	"github.com/Chigala/bitcoin-pay/internal/core/scheduler"
	memorystore "github.com/Chigala/bitcoin-pay/internal/core/storage/memory"
	sqlitestore "github.com/Chigala/bitcoin-pay/internal/core/storage/sqlite"
	"github.com/Chigala/bitcoin-pay/internal/core/token"
	logiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/log"
	storageiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/storage"
)

var (
	storageKind string
	dsn         string

	gw    *gateway.Gateway
	store storageiface.Core
)

var rootCmd = &cobra.Command{
	Use:   "gatewayctl",
	Short: "Operator CLI for the Bitcoin payment gateway",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return wireGateway()
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&storageKind, "storage", "memory", "storage backend: memory|sqlite")
	rootCmd.PersistentFlags().StringVar(&dsn, "db", "gateway.db", "sqlite DSN, used when --storage=sqlite")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// wireGateway builds the same collaborator graph as cmd/gateway, minus
// the HTTP server and the background scheduler tickers: every verb is
// invoked on demand by a subcommand, not on a timer.
func wireGateway() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("gatewayctl: invalid config: %w", err)
	}

	logger := logimpl.New(cfg.LogLevel)
	clk := clockimpl.NewSystemClock()

	var err error
	switch storageKind {
	case "sqlite":
		store, err = sqlitestore.Open(dsn)
	default:
		store = memorystore.New(clk)
	}
	if err != nil {
		return fmt.Errorf("gatewayctl: opening storage: %w", err)
	}

	descr, err := descriptor.New(cfg.Descriptor)
	if err != nil {
		return fmt.Errorf("gatewayctl: building descriptor engine: %w", err)
	}
	codec := token.New(cfg.Token, clk)
	dispatcher := events.New(logger, 32)

	watched := gateway.NewWatchedAddressSet()
	if err := watched.Load(context.Background(), store); err != nil {
		return fmt.Errorf("gatewayctl: loading watched addresses: %w", err)
	}

	machine := intent.New(store, clk, cfg.Watcher.MatchMode)
	rpc, scanner := buildWatcherBackend(cfg, logger)
	recon := reconciler.New(rpc, store, machine, watched, clk, logger, dispatcher.Emit)
	sched := scheduler.New(cfg.Scheduler, store, recon, scanner, machine, dispatcher, clk, logger)

	gw, err = gateway.New(context.Background(), gateway.Config{
		API: cfg.API, Token: cfg.Token, Watcher: cfg.Watcher, Scheduler: cfg.Scheduler,
	}, store, descr, codec, sched, watched, dispatcher, clk, logger)
	if err != nil {
		return fmt.Errorf("gatewayctl: building gateway: %w", err)
	}
	return nil
}

// buildWatcherBackend mirrors cmd/gateway's backend selection: the RPC
// client when it is configured, otherwise the indexer.
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

	indexer := nodeclient.NewIndexerClient(nodeclient.IndexerConfig{BaseURL: cfg.Watcher.Indexer.APIURL}, nil, logger)
	return indexer, indexer
}
