// Package intent implements the payment-intent lifecycle state machine
// (§4.G): a pure function from an observation delta plus the current
// stored intent to a new stored intent and, on a genuine state change,
// one dispatchable event.
//
// Grounded on the reference node's channel state machine (internal/core's
// open/active/closed transition table): transitions are a lookup table
// keyed by (fromState, trigger), each guarded, each applied as a single
// storage write, each idempotent by construction (the pre-update row is
// always read first and compared before any write is issued).
package intent

import (
	"context"
	"fmt"

	watchercfg "github.com/Chigala/bitcoin-pay/internal/config/watcher"
	clockiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/clock"
	storageiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/storage"
	"github.com/Chigala/bitcoin-pay/pkg/types"
)

// Machine applies observation deltas to stored intents per §4.G.
type Machine struct {
	store     storageiface.Core
	clock     clockiface.Clock
	matchMode watchercfg.MatchMode
}

// New builds a Machine.
func New(store storageiface.Core, clk clockiface.Clock, matchMode watchercfg.MatchMode) *Machine {
	return &Machine{store: store, clock: clk, matchMode: matchMode}
}

// ApplyDelta reads the intent owning delta.AddressID, decides the
// transition per the §4.G table, and — if the transition is a genuine
// state change — writes the new row and returns the event to dispatch.
// A nil event means no state change occurred (duplicate delta, or the
// delta doesn't meet any transition's guard); callers must not dispatch
// in that case.
func (m *Machine) ApplyDelta(ctx context.Context, delta types.ObservationDelta) (*types.Event, error) {
	addr, err := m.store.GetAddressByID(ctx, delta.AddressID)
	if err != nil {
		return nil, fmt.Errorf("intent: resolving address for delta: %w", err)
	}
	if addr.IntentID == "" {
		return nil, nil // unassigned address; nothing to drive
	}

	intent, err := m.store.GetIntent(ctx, addr.IntentID)
	if err != nil {
		return nil, fmt.Errorf("intent: loading intent %s: %w", addr.IntentID, err)
	}

	if delta.Missing {
		return m.applyReorg(ctx, intent, delta)
	}

	meetsAmount, err := m.meetsAmount(ctx, intent, delta)
	if err != nil {
		return nil, err
	}
	nowConfirmed := delta.Confirmations >= intent.RequiredConfs

	switch intent.Status {
	case types.IntentPending:
		if intent.ExpiresAt.Before(m.clock.Now()) {
			return nil, nil // expired in the meantime; the sweep owns this transition
		}
		if !meetsAmount {
			return nil, nil // under-payment: never advances pending (§4.G amount semantics)
		}
		if nowConfirmed {
			return m.transition(ctx, intent, types.IntentConfirmed, delta)
		}
		return m.transition(ctx, intent, types.IntentProcessing, delta)

	case types.IntentProcessing:
		if !meetsAmount {
			return nil, nil
		}
		if nowConfirmed {
			return m.transition(ctx, intent, types.IntentConfirmed, delta)
		}
		return nil, nil // still processing, no status column change to persist

	default:
		// confirmed/expired/failed are terminal for forward progress;
		// only applyReorg moves out of confirmed.
		return nil, nil
	}
}

// meetsAmount resolves the §9 open question (decided in SPEC_FULL.md
// §13): firstOutputMeets checks only the output that produced delta;
// sumOfOutputsMeets sums every observation recorded for the address,
// including this delta's own (possibly not-yet-persisted) value.
func (m *Machine) meetsAmount(ctx context.Context, intent *types.Intent, delta types.ObservationDelta) (bool, error) {
	if m.matchMode == watchercfg.SumOfOutputsMeets {
		existing, err := m.store.ListObservationsByAddress(ctx, delta.AddressID)
		if err != nil {
			return false, fmt.Errorf("intent: summing observations for address %s: %w", delta.AddressID, err)
		}
		total := delta.ValueSats
		for _, o := range existing {
			if o.Txid == delta.Txid && o.Vout == delta.Vout {
				continue // superseded by delta, which carries the authoritative value
			}
			total += o.ValueSats
		}
		return total >= intent.AmountSats, nil
	}
	return delta.ValueSats >= intent.AmountSats, nil
}

// applyReorg handles "no such transaction" observations: a confirmed
// intent whose paying tx vanished from the chain is demoted back to
// processing and its observations reset to 0-conf mempool, per §4.G's
// confirmed → processing reorg row.
func (m *Machine) applyReorg(ctx context.Context, intent *types.Intent, delta types.ObservationDelta) (*types.Event, error) {
	if intent.Status != types.IntentConfirmed {
		return nil, nil // reorg only demotes a confirmed intent
	}

	if err := m.store.ResetObservationsToMempool(ctx, delta.Txid); err != nil {
		return nil, fmt.Errorf("intent: resetting observations for reorg: %w", err)
	}

	intent.Status = types.IntentProcessing
	intent.ConfirmedAt = nil
	intent.UpdatedAt = m.clock.Now()
	if err := m.store.UpdateIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("intent: persisting reorg demotion: %w", err)
	}

	return &types.Event{Kind: types.EventReorg, Intent: *intent, Txid: delta.Txid}, nil
}

// transition persists a status change and builds the matching event. It
// is a no-op (returns nil, nil) when the intent is already at `to`,
// which is what makes ApplyDelta idempotent under duplicate deltas.
func (m *Machine) transition(ctx context.Context, intent *types.Intent, to types.IntentStatus, delta types.ObservationDelta) (*types.Event, error) {
	if intent.Status == to {
		return nil, nil
	}

	intent.Status = to
	intent.UpdatedAt = m.clock.Now()
	if to == types.IntentConfirmed {
		now := m.clock.Now()
		intent.ConfirmedAt = &now
	}
	if err := m.store.UpdateIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("intent: persisting transition to %s: %w", to, err)
	}

	kind := types.EventProcessing
	if to == types.IntentConfirmed {
		kind = types.EventConfirmed
	}
	return &types.Event{
		Kind:      kind,
		Intent:    *intent,
		Txid:      delta.Txid,
		ValueSats: delta.ValueSats,
		Confs:     delta.Confirmations,
	}, nil
}

// ApplyExpiry transitions a single pending intent to expired, per the
// expiry sweep's row in §4.G ("pending → expired ... no observation
// exists yet"). The scheduler (§4.H) is responsible for selecting the
// candidate set; this only guards the edge and persists it idempotently.
func (m *Machine) ApplyExpiry(ctx context.Context, intentID string) (*types.Event, error) {
	intent, err := m.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("intent: loading intent %s for expiry: %w", intentID, err)
	}
	if intent.Status != types.IntentPending {
		return nil, nil
	}
	if intent.ExpiresAt.After(m.clock.Now()) {
		return nil, nil
	}

	if addr := intent.AddressID; addr != "" {
		if _, err := m.store.LatestObservationForIntent(ctx, addr); err == nil {
			return nil, nil // an observation exists; the payment path owns this intent now
		}
	}

	intent.Status = types.IntentExpired
	intent.UpdatedAt = m.clock.Now()
	if err := m.store.UpdateIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("intent: persisting expiry: %w", err)
	}

	return &types.Event{Kind: types.EventExpired, Intent: *intent}, nil
}
