package token

import "time"

// Defaults returns the token codec's default configuration. Secret is
// left empty — a deployment must supply one; the gateway refuses to
// start without it.
func Defaults() Config {
	return Config{
		Secret:     nil,
		DefaultTTL: 24 * time.Hour,
		Reuse:      ReuseUntilExpiry,
	}
}
