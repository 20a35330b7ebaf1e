// Package storage defines the abstract persistence contract from spec
// §4.C and §6. Per design note 9, the original duck-typed adapter
// (intents + addresses + observations + tokens + metadata + optional
// customers/subscriptions) is split into a required Core interface and
// composable optional capability interfaces; callers feature-gate by
// type-asserting a capability, never by probing for nil methods.
package storage

import (
	"context"

	"github.com/Chigala/bitcoin-pay/pkg/types"
)

// Core is the required storage contract every gateway deployment must
// provide. Each method is linearizable on its own row; AssignAddressToIntent
// is the one operation the core assumes is transactional across the
// DepositAddress and Intent tables (§4.C).
type Core interface {
	// Intents
	CreateIntent(ctx context.Context, intent *types.Intent) error
	GetIntent(ctx context.Context, id string) (*types.Intent, error)
	UpdateIntent(ctx context.Context, intent *types.Intent) error
	ListIntentsByStatus(ctx context.Context, statuses ...types.IntentStatus) ([]*types.Intent, error)
	ListExpirable(ctx context.Context, now int64) ([]*types.Intent, error)

	// Addresses
	CreateAddress(ctx context.Context, addr *types.DepositAddress) error
	GetAddressByID(ctx context.Context, id string) (*types.DepositAddress, error)
	GetAddressByValue(ctx context.Context, address string) (*types.DepositAddress, error)
	NextDerivationIndex(ctx context.Context) (int, error)
	NextUnassignedAddress(ctx context.Context) (*types.DepositAddress, error)
	// AssignAddressToIntent links addr -> intent in one transaction,
	// satisfying invariant 2 (bidirectional reference) atomically.
	AssignAddressToIntent(ctx context.Context, addressID, intentID string) error
	ListAssignedAddresses(ctx context.Context) ([]*types.DepositAddress, error)

	// Observations
	GetObservation(ctx context.Context, txid string, vout uint32) (*types.TxObservation, error)
	UpsertObservation(ctx context.Context, obs *types.TxObservation) (created bool, err error)
	ListObservationsByAddress(ctx context.Context, addressID string) ([]*types.TxObservation, error)
	LatestObservationForIntent(ctx context.Context, addressID string) (*types.TxObservation, error)
	ResetObservationsToMempool(ctx context.Context, txid string) error

	// Tokens
	CreateToken(ctx context.Context, token *types.MagicLinkToken) error
	GetTokenByValue(ctx context.Context, token string) (*types.MagicLinkToken, error)
	MarkTokenConsumed(ctx context.Context, id string, consumedAt int64) error

	// Metadata
	GetMetadata(ctx context.Context, key string) (string, bool, error)
	SetMetadata(ctx context.Context, key, value string) error
}

// CustomerRecord is the optional customer-profile row referenced by
// design note 9's composable capability set.
type CustomerRecord struct {
	ID    string
	Email string
	Name  string
}

// CustomerStore is an optional capability: implementations that support
// merchant customer profiles implement this in addition to Core. Callers
// type-assert: `if cs, ok := store.(storage.CustomerStore); ok { ... }`.
type CustomerStore interface {
	UpsertCustomer(ctx context.Context, c *CustomerRecord) error
	GetCustomer(ctx context.Context, id string) (*CustomerRecord, error)
}

// SubscriptionStore is a second optional capability (subscription
// billing is named an out-of-scope collaborator in §1, but its storage
// shape is a natural composable capability per design note 9). No
// component in this gateway implements it; it is declared so a deployment
// that adds subscription billing on top has a contract to implement
// against without touching Core.
type SubscriptionStore interface {
	ListActiveSubscriptions(ctx context.Context, customerID string) ([]string, error)
}
