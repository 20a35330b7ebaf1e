package types

import "time"

// DepositAddress is a derived watch-only address, optionally assigned to
// an intent (spec §3). An address is assigned iff IntentID is non-empty.
type DepositAddress struct {
	ID               string
	Address          string
	DerivationIndex  int
	ScriptPubKeyHex  string
	IntentID         string
	AssignedAt       *time.Time
	CreatedAt        time.Time
}

// Assigned reports whether this address has been handed to an intent.
func (a *DepositAddress) Assigned() bool {
	return a.IntentID != ""
}
