package types

import "time"

// IntentStatus is the lifecycle state of a PaymentIntent (spec §3).
type IntentStatus string

const (
	IntentPending    IntentStatus = "pending"
	IntentProcessing IntentStatus = "processing"
	IntentConfirmed  IntentStatus = "confirmed"
	IntentExpired    IntentStatus = "expired"
	IntentFailed     IntentStatus = "failed"
)

// Intent is a merchant's record of an expected payment.
type Intent struct {
	ID            string       `json:"id"`
	AmountSats    int64        `json:"amountSats"`
	Status        IntentStatus `json:"status"`
	AddressID     string       `json:"addressId,omitempty"` // empty until ensureAssigned
	RequiredConfs int          `json:"requiredConfs"`
	ExpiresAt     time.Time    `json:"expiresAt"`
	ConfirmedAt   *time.Time   `json:"confirmedAt,omitempty"`
	CustomerID    string       `json:"customerId,omitempty"`
	Email         string       `json:"email,omitempty"`
	Memo          string       `json:"memo,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// IsTerminal reports whether no further transitions are possible.
func (i *Intent) IsTerminal() bool {
	switch i.Status {
	case IntentConfirmed, IntentExpired, IntentFailed:
		return true
	default:
		return false
	}
}

// CreateIntentParams is the input to Gateway.CreateIntent (§4.I).
type CreateIntentParams struct {
	AmountSats       int64  `json:"amountSats"`
	RequiredConfs    int    `json:"requiredConfs,omitempty"`
	ExpiresInMinutes int    `json:"expiresInMinutes,omitempty"`
	Email            string `json:"email,omitempty"`
	CustomerID       string `json:"customerId,omitempty"`
	Memo             string `json:"memo,omitempty"`
}

// IntentStatusView is the response shape for getStatus (§4.I / §6).
type IntentStatusView struct {
	Status      IntentStatus `json:"status"`
	AmountSats  int64        `json:"amountSats"`
	ExpiresAt   time.Time    `json:"expiresAt"`
	ConfirmedAt *time.Time   `json:"confirmedAt,omitempty"`
	Confs       int          `json:"confs"`
	Txid        string       `json:"txid,omitempty"`
	ValueSats   int64        `json:"valueSats,omitempty"`
}

// AssignedView is the response shape for ensureAssigned (§4.I / §6).
type AssignedView struct {
	Address    string       `json:"address"`
	BIP21      string       `json:"bip21"`
	AmountSats int64        `json:"amountSats"`
	ExpiresAt  time.Time    `json:"expiresAt"`
	Status     IntentStatus `json:"status"`
}
