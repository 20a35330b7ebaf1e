package types

import "time"

// ObservationStatus mirrors spec §3's TxObservation.status.
type ObservationStatus string

const (
	ObservationMempool   ObservationStatus = "mempool"
	ObservationConfirmed ObservationStatus = "confirmed"
)

// TxObservation is a per-output sighting of a transaction paying a
// watched address. (txid, vout) is unique.
type TxObservation struct {
	ID              string
	Txid            string
	Vout            uint32
	ValueSats       int64
	Confirmations   int
	AddressID       string
	ScriptPubKeyHex string
	Status          ObservationStatus
	SeenAt          time.Time
	UpdatedAt       time.Time
}

// ObservationSource tags where an ObservationDelta originated, per design
// note 9 ("tagged-union deltas"). The state machine treats all sources
// identically; the tag exists for logging/metrics only.
type ObservationSource string

const (
	SourceZMQ     ObservationSource = "zmq"
	SourceRPCPoll ObservationSource = "rpc_poll"
	SourceIndexer ObservationSource = "indexer"
)

// ObservationDelta is the normalized unit the reconciler (§4.F) hands to
// the intent state machine (§4.G): one output paying one watched address.
type ObservationDelta struct {
	Txid            string
	Vout            uint32
	AddressID       string
	Address         string
	ScriptPubKeyHex string
	ValueSats       int64
	Confirmations   int
	SeenAt          time.Time
	Source          ObservationSource
	// IsNew is true when this (txid,vout) had no prior observation row;
	// the reconciler sets this after its upsert so the state machine can
	// apply the correct trigger row in §4.G's table.
	IsNew bool
	// Missing is true when the reconciler's RPC fetch reported the
	// transaction unknown — the reorg trigger. Txid and AddressID identify
	// the demoted observation; the vout, value and confirmation fields are
	// unset in this case.
	Missing bool
}
