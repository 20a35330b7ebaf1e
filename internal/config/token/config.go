// Package token holds configuration for magic-link token issuance and
// verification (§4.B, §6 "secret"/"magicLinkTTL" keys, §9 "tokenReuse").
package token

import "time"

// ReusePolicy resolves the open question in §9: whether a consumed
// token remains redeemable (idempotent replay) until it expires, or is
// blocked after first use.
type ReusePolicy string

const (
	ReuseUntilExpiry ReusePolicy = "untilExpiry"
	ReuseSingleUse   ReusePolicy = "singleUse"
)

// Config is the token codec's configuration.
type Config struct {
	// Secret is the HMAC key (§4.B). Minimum 32 bytes recommended; the
	// gateway logs a warning (not an error) if shorter, since the spec
	// only recommends, not requires, the length.
	Secret []byte
	// DefaultTTL backs "magicLinkTTL" (§6), default 86400s.
	DefaultTTL time.Duration
	Reuse      ReusePolicy
	// BaseURL is used to build the magic-link URL returned by issueToken.
	BaseURL string
}

// Load builds a Config from environment variables.
func Load(getenv func(string) string) Config {
	cfg := Defaults()
	if v := getenv("secret"); v != "" {
		cfg.Secret = []byte(v)
	}
	if v := getenv("baseURL"); v != "" {
		cfg.BaseURL = v
	}
	if v := getenv("magicLinkTTL"); v != "" {
		if n, ok := atoi(v); ok {
			cfg.DefaultTTL = time.Duration(n) * time.Second
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
