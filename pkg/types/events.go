package types

// EventKind tags which lifecycle transition an Event carries, per §4.J.
type EventKind string

const (
	EventIntentCreated EventKind = "intent_created"
	EventProcessing    EventKind = "processing"
	EventConfirmed     EventKind = "confirmed"
	EventExpired       EventKind = "expired"
	EventReorg         EventKind = "reorg"
)

// Event is the tagged-union payload delivered by the event dispatcher
// (§4.J, design note "typed channel / visitor"). One concrete type
// carries every event kind; handlers switch on Kind.
type Event struct {
	Kind      EventKind `json:"kind"`
	Intent    Intent    `json:"intent"`
	Txid      string    `json:"txid,omitempty"`
	ValueSats int64     `json:"valueSats,omitempty"`
	Confs     int       `json:"confs,omitempty"`
}
