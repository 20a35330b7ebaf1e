// Package reconciler implements §4.F: turning a (txid, confirmations hint)
// pair into one ObservationDelta per watched output, upserting each into
// storage, and handing every new-or-advanced observation to the intent
// state machine.
//
// Grounded on the reference node's block-connect reconciliation pass
// (internal/core/reconcile.go): per-output error isolation (one bad
// output logs and continues, never aborts the transaction), and the
// "only emit on genuine change" discipline that makes repeated passes
// over the same block idempotent.
package reconciler

import (
	"context"
	"errors"
	"math"

	"github.com/Chigala/bitcoin-pay/internal/core/infrastructure/metrics"
	"github.com/Chigala/bitcoin-pay/internal/core/intent"
	"github.com/Chigala/bitcoin-pay/internal/core/nodeclient"
	clockiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/clock"
	logiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/log"
	storageiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/storage"
	"github.com/Chigala/bitcoin-pay/pkg/types"
)

// RPC is the subset of nodeclient.RPCClient the reconciler depends on,
// declared locally so tests can supply a fake without touching the real
// HTTP client.
type RPC interface {
	GetRawTransaction(ctx context.Context, txid string) (*nodeclient.VerboseTx, error)
}

// satsPerBTCFloat converts bitcoind's BTC-float vout.value into sats.
const satsPerBTCFloat = 100_000_000

// WatchedAddressSet is the concurrency-model collaborator from §5: a
// single lock held only for set operations, never across an RPC call or
// a storage write.
type WatchedAddressSet interface {
	// Lookup returns the addressID for a watched address string, or ""
	// if address is not currently watched.
	Lookup(address string) (addressID string, watched bool)
}

// Reconciler drives §4.F.
type Reconciler struct {
	rpc     RPC
	store   storageiface.Core
	machine *intent.Machine
	watched WatchedAddressSet
	clock   clockiface.Clock
	logger  logiface.Logger
	emit    func(types.Event)
	metrics *metrics.Metrics
}

// New builds a Reconciler. emit is called for every event the state
// machine produces; it is expected to hand off to the event dispatcher
// (§4.J) and never block on a slow subscriber.
func New(rpc RPC, store storageiface.Core, machine *intent.Machine, watched WatchedAddressSet, clk clockiface.Clock, logger logiface.Logger, emit func(types.Event)) *Reconciler {
	return &Reconciler{rpc: rpc, store: store, machine: machine, watched: watched, clock: clk, logger: logger, emit: emit}
}

// SetMetrics attaches the §12 observability collectors. Optional: while
// the metrics field is nil (never set) every recording call is skipped,
// so tests that build a Reconciler without metrics are unaffected.
func (r *Reconciler) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Reconcile implements the §4.F procedure for one txid. confirmationsHint
// is the caller's best guess (0 for a bare hashtx push); the verbose RPC
// fetch's own `confirmations` field is authoritative once available.
func (r *Reconciler) Reconcile(ctx context.Context, txid string, confirmationsHint int) error {
	if r.metrics != nil {
		r.metrics.ReconcileTotal.Inc()
	}

	tx, err := r.rpc.GetRawTransaction(ctx, txid)
	if err != nil {
		return r.handleFetchError(ctx, txid, err)
	}

	confs := tx.Confirmations
	if confs == 0 {
		confs = confirmationsHint
	}

	for _, vout := range tx.Vout {
		if err := r.reconcileOutput(ctx, txid, vout.N, vout.ScriptPubKey.Address, vout.ScriptPubKey.Hex, vout.Value, confs); err != nil {
			// §4.F.4: a single bad output logs and is skipped, never
			// aborts reconciliation of the rest of the transaction.
			if r.metrics != nil {
				r.metrics.ReconcileErrorsTotal.Inc()
			}
			r.logger.Warn("reconciler: output failed, skipping",
				logiface.F("txid", txid), logiface.F("vout", vout.N), logiface.F("error", err))
		}
	}
	return nil
}

// handleFetchError implements the reorg trigger: when the node reports
// the tx unknown, every watched address that has an observation for txid
// gets a Missing delta so the state machine can demote a confirmed
// intent. Any other fetch error (transient network failure, node
// unreachable) is left for the scheduler's next tick per §7.
func (r *Reconciler) handleFetchError(ctx context.Context, txid string, fetchErr error) error {
	if !isTxNotFound(fetchErr) {
		return fetchErr
	}

	addressIDs, err := r.addressesObservingTx(ctx, txid)
	if err != nil {
		return err
	}
	for _, addrID := range addressIDs {
		ev, err := r.machine.ApplyDelta(ctx, types.ObservationDelta{
			Txid: txid, AddressID: addrID, Missing: true, SeenAt: r.clock.Now(), Source: types.SourceRPCPoll,
		})
		if err != nil {
			r.logger.Warn("reconciler: reorg delta failed", logiface.F("txid", txid), logiface.F("addressId", addrID), logiface.F("error", err))
			continue
		}
		if ev != nil {
			if r.metrics != nil {
				r.metrics.ReorgTotal.Inc()
			}
			r.emit(*ev)
		}
	}
	return nil
}

// addressesObservingTx finds every address with a stored observation for
// txid, by scanning assigned addresses. This gateway has no dedicated
// txid index table (the §6 schema's unique key is (txid,vout), not
// txid alone), so it walks the small, bounded set of currently assigned
// addresses rather than maintaining a second index.
func (r *Reconciler) addressesObservingTx(ctx context.Context, txid string) ([]string, error) {
	assigned, err := r.store.ListAssignedAddresses(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, a := range assigned {
		obs, err := r.store.ListObservationsByAddress(ctx, a.ID)
		if err != nil {
			continue
		}
		for _, o := range obs {
			if o.Txid == txid {
				ids = append(ids, a.ID)
				break
			}
		}
	}
	return ids, nil
}

func (r *Reconciler) reconcileOutput(ctx context.Context, txid string, vout uint32, address, scriptPubKeyHex string, valueBTC float64, confs int) error {
	addressID, watched := r.watched.Lookup(address)
	if !watched {
		return nil
	}

	valueSats := int64(math.Round(valueBTC * satsPerBTCFloat))

	status := types.ObservationMempool
	requiredConfs := 1
	if addr, err := r.store.GetAddressByID(ctx, addressID); err == nil && addr.IntentID != "" {
		if in, err := r.store.GetIntent(ctx, addr.IntentID); err == nil {
			requiredConfs = in.RequiredConfs
		}
	}
	if confs >= requiredConfs {
		status = types.ObservationConfirmed
	}

	now := r.clock.Now()
	created, err := r.store.UpsertObservation(ctx, &types.TxObservation{
		Txid: txid, Vout: vout, ValueSats: valueSats, Confirmations: confs,
		AddressID: addressID, ScriptPubKeyHex: scriptPubKeyHex, Status: status,
		SeenAt: now, UpdatedAt: now,
	})
	if err != nil {
		return err
	}

	ev, err := r.machine.ApplyDelta(ctx, types.ObservationDelta{
		Txid: txid, Vout: vout, AddressID: addressID, Address: address, ScriptPubKeyHex: scriptPubKeyHex,
		ValueSats: valueSats, Confirmations: confs, SeenAt: now, Source: types.SourceRPCPoll, IsNew: created,
	})
	if err != nil {
		return err
	}
	if ev != nil {
		if r.metrics != nil {
			r.metrics.ObservationsTotal.WithLabelValues(string(types.SourceRPCPoll)).Inc()
		}
		r.emit(*ev)
	}
	return nil
}

func isTxNotFound(err error) bool {
	return errors.Is(err, nodeclient.ErrTxNotFound)
}
