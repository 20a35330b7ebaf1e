// Package descriptor holds configuration for the watch-only descriptor
// engine (spec §4.A, §6 "descriptor"/"network" keys).
package descriptor

// Network selects address encoding + default RPC/indexer URLs (§6).
type Network string

const (
	Mainnet  Network = "mainnet"
	Testnet  Network = "testnet"
	Regtest  Network = "regtest"
	Signet   Network = "signet"
)

// Config is the descriptor engine's configuration.
type Config struct {
	// Descriptor is the watch-only descriptor string, e.g.
	// "wpkh([fingerprint/84'/0'/0']xpub.../0/*)".
	Descriptor string
	Network    Network
	// GapLimit bounds how far past the highest index derived so far the
	// engine will derive; Derive rejects an index beyond it with
	// ErrGapLimitExceeded (advanced.gapLimit, default 20; 0 disables it).
	GapLimit int
}

// Load builds a Config from environment variables, falling back to
// Defaults() for anything unset.
func Load(getenv func(string) string) Config {
	cfg := Defaults()
	if v := getenv("descriptor"); v != "" {
		cfg.Descriptor = v
	}
	if v := getenv("network"); v != "" {
		cfg.Network = Network(v)
	}
	if v := getenv("advanced.gapLimit"); v != "" {
		if n, ok := parseInt(v); ok {
			cfg.GapLimit = n
		}
	}
	return cfg
}

func parseInt(s string) (int, bool) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, len(s) > 0
}
