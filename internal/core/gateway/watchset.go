package gateway

import (
	"context"
	"sync"

	storageiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/storage"
)

// WatchedAddressSet is the §5 concurrency-model collaborator: a single
// lock held only for set operations (insert/lookup), never across an RPC
// call or a storage write. Populated from ListAssignedAddresses() on
// startup and extended by ensureAssigned (§4.F). Addresses are never
// removed: an address stays watched after its intent confirms.
type WatchedAddressSet struct {
	mu  sync.RWMutex
	set map[string]string // address -> addressID
}

// NewWatchedAddressSet builds an empty set.
func NewWatchedAddressSet() *WatchedAddressSet {
	return &WatchedAddressSet{set: make(map[string]string)}
}

// Load populates the set from every currently assigned address, for
// startup (§4.F: "populated from listAssignedAddresses() on startup").
func (w *WatchedAddressSet) Load(ctx context.Context, store storageiface.Core) error {
	addrs, err := store.ListAssignedAddresses(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, a := range addrs {
		w.set[a.Address] = a.ID
	}
	return nil
}

// Add registers one address as watched.
func (w *WatchedAddressSet) Add(address, addressID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.set[address] = addressID
}

// Lookup implements reconciler.WatchedAddressSet.
func (w *WatchedAddressSet) Lookup(address string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	id, ok := w.set[address]
	return id, ok
}
