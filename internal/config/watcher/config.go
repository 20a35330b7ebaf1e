// Package watcher holds configuration for the node client (§4.D), ZMQ
// subscriber (§4.E) and the amount-matching policy knob left open in
// spec §9.
package watcher

import "time"

// MatchMode resolves the open question in §9: whether an intent is
// marked paid by the first output meeting the amount, or by the sum of
// outputs to the watched address.
type MatchMode string

const (
	FirstOutputMeets  MatchMode = "firstOutputMeets"
	SumOfOutputsMeets MatchMode = "sumOfOutputsMeets"
)

// RPCConfig configures the JSON-RPC client to a Bitcoin full node (§4.D.1).
type RPCConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// ConnectTimeout/CallTimeout default to 30s per §4.D.
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
}

// Enabled reports whether the RPC client is configured at all.
func (c RPCConfig) Enabled() bool {
	return c.Host != "" && c.Port != 0
}

// ZMQConfig configures the ZMQ subscriber (§4.E). A zero port means that
// topic is not subscribed; if every port is zero the subscriber is inert.
type ZMQConfig struct {
	Host          string
	HashTxPort    int
	HashBlockPort int
	RawTxPort     int
	RawBlockPort  int
	SequencePort  int
}

// Inert reports whether no topic has a configured port, per §4.E.
func (c ZMQConfig) Inert() bool {
	return c.HashTxPort == 0 && c.HashBlockPort == 0 && c.RawTxPort == 0 &&
		c.RawBlockPort == 0 && c.SequencePort == 0
}

// IndexerConfig configures the Esplora-style REST fallback (§4.D.2).
type IndexerConfig struct {
	APIURL  string
	Network string
}

// Enabled reports whether an indexer backend is configured.
func (c IndexerConfig) Enabled() bool {
	return c.APIURL != ""
}

// Config aggregates the watcher's sub-configs plus the match-mode
// open-question policy knob from §9.
type Config struct {
	RPC       RPCConfig
	ZMQ       ZMQConfig
	Indexer   IndexerConfig
	MatchMode MatchMode
	// DefaultRequiredConfs backs the "confirmations" config key (§6),
	// default requiredConfs for new intents.
	DefaultRequiredConfs int
}

// Load builds a Config from environment variables.
func Load(getenv func(string) string) Config {
	cfg := Defaults()

	if v := getenv("watcher.rpc.host"); v != "" {
		cfg.RPC.Host = v
	}
	if v := getenv("watcher.rpc.port"); v != "" {
		if n, ok := atoi(v); ok {
			cfg.RPC.Port = n
		}
	}
	if v := getenv("watcher.rpc.username"); v != "" {
		cfg.RPC.Username = v
	}
	if v := getenv("watcher.rpc.password"); v != "" {
		cfg.RPC.Password = v
	}

	if v := getenv("watcher.zmq.host"); v != "" {
		cfg.ZMQ.Host = v
	}
	if v := getenv("watcher.zmq.hashtxPort"); v != "" {
		if n, ok := atoi(v); ok {
			cfg.ZMQ.HashTxPort = n
		}
	}
	if v := getenv("watcher.zmq.hashblockPort"); v != "" {
		if n, ok := atoi(v); ok {
			cfg.ZMQ.HashBlockPort = n
		}
	}
	if v := getenv("watcher.zmq.rawtxPort"); v != "" {
		if n, ok := atoi(v); ok {
			cfg.ZMQ.RawTxPort = n
		}
	}
	if v := getenv("watcher.zmq.rawblockPort"); v != "" {
		if n, ok := atoi(v); ok {
			cfg.ZMQ.RawBlockPort = n
		}
	}
	if v := getenv("watcher.zmq.sequencePort"); v != "" {
		if n, ok := atoi(v); ok {
			cfg.ZMQ.SequencePort = n
		}
	}

	if v := getenv("indexer.apiUrl"); v != "" {
		cfg.Indexer.APIURL = v
	}
	if v := getenv("indexer.network"); v != "" {
		cfg.Indexer.Network = v
	}

	if v := getenv("confirmations"); v != "" {
		if n, ok := atoi(v); ok {
			cfg.DefaultRequiredConfs = n
		}
	}

	return cfg
}

func atoi(s string) (int, bool) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, len(s) > 0
}
