package watcher

import "time"

// Defaults returns the watcher's default configuration: no RPC, no ZMQ,
// no indexer configured (the deployer must set exactly one of
// rpc+zmq or indexer, per §4.D), firstOutputMeets matching, 1 confirmation.
func Defaults() Config {
	return Config{
		RPC: RPCConfig{
			ConnectTimeout: defaultTimeout,
			CallTimeout:    defaultTimeout,
		},
		MatchMode:             FirstOutputMeets,
		DefaultRequiredConfs:  1,
	}
}

const defaultTimeout = 30 * time.Second
