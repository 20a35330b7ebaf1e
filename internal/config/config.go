// Package config aggregates the per-domain config packages into one
// root Config, mirroring the reference node's internal/config layering
// (one package per concern, a root that composes them).
package config

import (
	"fmt"
	"os"

	apicfg "github.com/Chigala/bitcoin-pay/internal/config/api"
	descriptorcfg "github.com/Chigala/bitcoin-pay/internal/config/descriptor"
	schedulercfg "github.com/Chigala/bitcoin-pay/internal/config/scheduler"
	tokencfg "github.com/Chigala/bitcoin-pay/internal/config/token"
	watchercfg "github.com/Chigala/bitcoin-pay/internal/config/watcher"
)

// Config is the root configuration handle threaded explicitly through
// the gateway's constructors, per design note 9 ("explicit context" over
// a module-scope singleton).
type Config struct {
	Descriptor descriptorcfg.Config
	Watcher    watchercfg.Config
	Scheduler  schedulercfg.Config
	Token      tokencfg.Config
	API        apicfg.Config
	LogLevel   string
}

// Load reads every recognized key from the environment (§6) via
// os.Getenv.
func Load() Config {
	return Config{
		Descriptor: descriptorcfg.Load(os.Getenv),
		Watcher:    watchercfg.Load(os.Getenv),
		Scheduler:  schedulercfg.Load(os.Getenv),
		Token:      tokencfg.Load(os.Getenv),
		API:        apicfg.Load(os.Getenv),
		LogLevel:   envOr("logLevel", "info"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate checks the cross-field invariants §6 calls out: at least one
// of rpc or indexer must be configured (both may be set; the RPC path
// then takes precedence), and the descriptor + secret must be present.
func (c Config) Validate() error {
	if c.Descriptor.Descriptor == "" {
		return fmt.Errorf("config: descriptor is required")
	}
	if len(c.Token.Secret) == 0 {
		return fmt.Errorf("config: secret is required")
	}
	rpcPath := c.Watcher.RPC.Enabled()
	indexerPath := c.Watcher.Indexer.Enabled()
	if !rpcPath && !indexerPath {
		return fmt.Errorf("config: one of watcher.rpc or indexer must be configured")
	}
	if c.Descriptor.Network == "regtest" && !rpcPath && c.Watcher.Indexer.Network == "" {
		return fmt.Errorf("config: regtest requires an explicit indexer.network when rpc is not configured")
	}
	return nil
}
