package scheduler

import "time"

// Defaults returns the scheduler's default configuration: poll every 5
// minutes, sweep expiry every minute, 60-minute intent TTL.
func Defaults() Config {
	return Config{
		PendingPollInterval: 5 * time.Minute,
		ExpirySweepInterval: 1 * time.Minute,
		IntentExpiryMinutes: 60,
	}
}
