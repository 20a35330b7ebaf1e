// Package memory implements storage.Core in process memory, used by the
// unit tests of every component above the storage boundary. Grounded on
// the reference node's in-memory channel-db test double: one mutex
// guarding a handful of maps, no persistence, deterministic iteration via
// sorted keys where order matters.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	clockiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/clock"
	storageiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/storage"
	"github.com/Chigala/bitcoin-pay/pkg/types"
)

var (
	_ storageiface.Core          = (*Store)(nil)
	_ storageiface.CustomerStore = (*Store)(nil)
)

// Store is an in-memory implementation of storage.Core.
type Store struct {
	mu sync.Mutex

	intents        map[string]*types.Intent
	addresses      map[string]*types.DepositAddress
	addressByValue map[string]string // address string -> id
	observations   map[string]*types.TxObservation // key: txid|vout
	tokens         map[string]*types.MagicLinkToken
	tokenByValue   map[string]string // token string -> id
	metadata       map[string]string
	customers      map[string]*storageiface.CustomerRecord

	nextDerivation int
	seq            int
	clock          clockiface.Clock
}

// New builds an empty Store. clk is used only to stamp AssignedAt in
// AssignAddressToIntent; callers set every other timestamp on the
// records they pass in.
func New(clk clockiface.Clock) *Store {
	return &Store{
		intents:        make(map[string]*types.Intent),
		addresses:      make(map[string]*types.DepositAddress),
		addressByValue: make(map[string]string),
		observations:   make(map[string]*types.TxObservation),
		tokens:         make(map[string]*types.MagicLinkToken),
		tokenByValue:   make(map[string]string),
		metadata:       make(map[string]string),
		customers:      make(map[string]*storageiface.CustomerRecord),
		clock:          clk,
	}
}

func obsKey(txid string, vout uint32) string {
	return fmt.Sprintf("%s|%d", txid, vout)
}

// --- Intents ---

func (s *Store) CreateIntent(ctx context.Context, intent *types.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.intents[intent.ID]; exists {
		return fmt.Errorf("%w: intent %s already exists", types.ErrConflict, intent.ID)
	}
	cp := *intent
	s.intents[intent.ID] = &cp
	return nil
}

func (s *Store) GetIntent(ctx context.Context, id string) (*types.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: intent %s", types.ErrNotFound, id)
	}
	cp := *i
	return &cp, nil
}

func (s *Store) UpdateIntent(ctx context.Context, intent *types.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[intent.ID]; !ok {
		return fmt.Errorf("%w: intent %s", types.ErrNotFound, intent.ID)
	}
	cp := *intent
	s.intents[intent.ID] = &cp
	return nil
}

func (s *Store) ListIntentsByStatus(ctx context.Context, statuses ...types.IntentStatus) ([]*types.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[types.IntentStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []*types.Intent
	for _, i := range s.intents {
		if want[i.Status] {
			cp := *i
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *Store) ListExpirable(ctx context.Context, now int64) ([]*types.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Intent
	for _, i := range s.intents {
		if i.IsTerminal() {
			continue
		}
		if i.ExpiresAt.Unix() <= now {
			cp := *i
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// --- Addresses ---

func (s *Store) CreateAddress(ctx context.Context, addr *types.DepositAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.addresses[addr.ID]; exists {
		return fmt.Errorf("%w: address %s already exists", types.ErrConflict, addr.ID)
	}
	if _, exists := s.addressByValue[addr.Address]; exists {
		return fmt.Errorf("%w: address value %s already exists", types.ErrConflict, addr.Address)
	}
	cp := *addr
	s.addresses[addr.ID] = &cp
	s.addressByValue[addr.Address] = addr.ID
	if addr.DerivationIndex >= s.nextDerivation {
		s.nextDerivation = addr.DerivationIndex + 1
	}
	return nil
}

func (s *Store) GetAddressByID(ctx context.Context, id string) (*types.DepositAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addresses[id]
	if !ok {
		return nil, fmt.Errorf("%w: address %s", types.ErrNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetAddressByValue(ctx context.Context, address string) (*types.DepositAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.addressByValue[address]
	if !ok {
		return nil, fmt.Errorf("%w: address %s", types.ErrNotFound, address)
	}
	cp := *s.addresses[id]
	return &cp, nil
}

func (s *Store) NextDerivationIndex(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.nextDerivation
	s.nextDerivation++
	return idx, nil
}

func (s *Store) NextUnassignedAddress(ctx context.Context) (*types.DepositAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *types.DepositAddress
	for _, a := range s.addresses {
		if a.Assigned() {
			continue
		}
		if best == nil || a.DerivationIndex < best.DerivationIndex {
			best = a
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no unassigned address", types.ErrNotFound)
	}
	cp := *best
	return &cp, nil
}

func (s *Store) AssignAddressToIntent(ctx context.Context, addressID, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.addresses[addressID]
	if !ok {
		return fmt.Errorf("%w: address %s", types.ErrNotFound, addressID)
	}
	intent, ok := s.intents[intentID]
	if !ok {
		return fmt.Errorf("%w: intent %s", types.ErrNotFound, intentID)
	}
	if addr.Assigned() {
		return fmt.Errorf("%w: address %s already assigned", types.ErrConflict, addressID)
	}
	now := s.clock.Now()
	addr.IntentID = intentID
	addr.AssignedAt = &now
	intent.AddressID = addressID
	return nil
}

func (s *Store) ListAssignedAddresses(ctx context.Context) ([]*types.DepositAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.DepositAddress
	for _, a := range s.addresses {
		if a.Assigned() {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// --- Observations ---

func (s *Store) GetObservation(ctx context.Context, txid string, vout uint32) (*types.TxObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.observations[obsKey(txid, vout)]
	if !ok {
		return nil, fmt.Errorf("%w: observation %s:%d", types.ErrNotFound, txid, vout)
	}
	cp := *o
	return &cp, nil
}

func (s *Store) UpsertObservation(ctx context.Context, obs *types.TxObservation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := obsKey(obs.Txid, obs.Vout)
	_, existed := s.observations[key]
	cp := *obs
	s.observations[key] = &cp
	return !existed, nil
}

func (s *Store) ListObservationsByAddress(ctx context.Context, addressID string) ([]*types.TxObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.TxObservation
	for _, o := range s.observations {
		if o.AddressID == addressID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Txid < out[b].Txid })
	return out, nil
}

func (s *Store) LatestObservationForIntent(ctx context.Context, addressID string) (*types.TxObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *types.TxObservation
	for _, o := range s.observations {
		if o.AddressID != addressID {
			continue
		}
		if best == nil || o.SeenAt.After(best.SeenAt) {
			best = o
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no observation for address %s", types.ErrNotFound, addressID)
	}
	cp := *best
	return &cp, nil
}

func (s *Store) ResetObservationsToMempool(ctx context.Context, txid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.observations {
		if o.Txid == txid {
			o.Status = types.ObservationMempool
			o.Confirmations = 0
		}
	}
	return nil
}

// --- Tokens ---

func (s *Store) CreateToken(ctx context.Context, token *types.MagicLinkToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.ID]; exists {
		return fmt.Errorf("%w: token %s already exists", types.ErrConflict, token.ID)
	}
	cp := *token
	s.tokens[token.ID] = &cp
	s.tokenByValue[token.Token] = token.ID
	return nil
}

func (s *Store) GetTokenByValue(ctx context.Context, token string) (*types.MagicLinkToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokenByValue[token]
	if !ok {
		return nil, fmt.Errorf("%w: token", types.ErrNotFound)
	}
	cp := *s.tokens[id]
	return &cp, nil
}

func (s *Store) MarkTokenConsumed(ctx context.Context, id string, consumedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return fmt.Errorf("%w: token %s", types.ErrNotFound, id)
	}
	when := time.Unix(consumedAt, 0).UTC()
	t.Consumed = true
	t.ConsumedAt = &when
	return nil
}

// --- Metadata ---

func (s *Store) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.metadata[key]
	return v, ok, nil
}

func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
	return nil
}

// --- Optional capability: storage.CustomerStore ---

func (s *Store) UpsertCustomer(ctx context.Context, c *storageiface.CustomerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.customers[c.ID] = &cp
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*storageiface.CustomerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, fmt.Errorf("%w: customer %s", types.ErrNotFound, id)
	}
	cp := *c
	return &cp, nil
}
