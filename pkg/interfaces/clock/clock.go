// Package clock defines the time-source contract used by the scheduler,
// token codec and intent state machine so tests never depend on wall
// time.
package clock

import "time"

// Clock abstracts time.Now for testability, mirroring the reference
// node's infrastructure/clock contract.
type Clock interface {
	Now() time.Time
}
