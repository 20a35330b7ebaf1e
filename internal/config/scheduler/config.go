// Package scheduler holds configuration for the cooperative periodic
// driver (§4.H). Per design note 9, the accepted cron grammar is resolved
// to a plain duration at load time so the scheduler itself only ever
// deals with "tick every D".
package scheduler

import "time"

// Config is the scheduler's configuration.
type Config struct {
	// PendingPollInterval is resolved from the "pollInterval" cron
	// string, default "*/5 * * * *" -> 5 minutes.
	PendingPollInterval time.Duration
	// ExpirySweepInterval is fixed at one minute per §4.H; exposed as a
	// field (not a constant) so tests can shrink it.
	ExpirySweepInterval time.Duration
	// IntentExpiryMinutes backs "intentExpiryMinutes" (§6), default 60.
	IntentExpiryMinutes int
}

// Load builds a Config from environment variables.
func Load(getenv func(string) string) Config {
	cfg := Defaults()
	if v := getenv("pollInterval"); v != "" {
		if d, err := ParseCronStride(v); err == nil {
			cfg.PendingPollInterval = d
		}
	}
	if v := getenv("advanced.intentExpiryMinutes"); v != "" {
		if n, ok := atoi(v); ok {
			cfg.IntentExpiryMinutes = n
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
