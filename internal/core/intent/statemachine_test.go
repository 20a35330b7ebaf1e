package intent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	watchercfg "github.com/Chigala/bitcoin-pay/internal/config/watcher"
	clockimpl "github.com/Chigala/bitcoin-pay/internal/core/infrastructure/clock"
	memorystore "github.com/Chigala/bitcoin-pay/internal/core/storage/memory"
	"github.com/Chigala/bitcoin-pay/pkg/types"
)

func setup(t *testing.T, matchMode watchercfg.MatchMode) (*Machine, *memorystore.Store, *clockimpl.MockClock) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	clk := clockimpl.NewMockClock(now)
	store := memorystore.New(clk)
	m := New(store, clk, matchMode)
	return m, store, clk
}

func seedPendingIntent(t *testing.T, ctx context.Context, store *memorystore.Store, id, addrID string, amount int64, requiredConfs int, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, store.CreateIntent(ctx, &types.Intent{
		ID: id, AmountSats: amount, Status: types.IntentPending,
		RequiredConfs: requiredConfs, ExpiresAt: expiresAt, AddressID: addrID,
	}))
	require.NoError(t, store.CreateAddress(ctx, &types.DepositAddress{ID: addrID, Address: "addr-" + addrID, IntentID: id}))
}

func TestApplyDelta_PendingToProcessing(t *testing.T) {
	ctx := context.Background()
	m, store, now := setup(t, watchercfg.FirstOutputMeets)
	seedPendingIntent(t, ctx, store, "i1", "a1", 1000, 2, now.Now().Add(time.Hour))

	ev, err := m.ApplyDelta(ctx, types.ObservationDelta{
		Txid: "t1", Vout: 0, AddressID: "a1", ValueSats: 1000, Confirmations: 0, IsNew: true,
	})
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, types.EventProcessing, ev.Kind)

	got, err := store.GetIntent(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, types.IntentProcessing, got.Status)
}

func TestApplyDelta_PendingDirectlyToConfirmed(t *testing.T) {
	ctx := context.Background()
	m, store, now := setup(t, watchercfg.FirstOutputMeets)
	seedPendingIntent(t, ctx, store, "i1", "a1", 1000, 1, now.Now().Add(time.Hour))

	ev, err := m.ApplyDelta(ctx, types.ObservationDelta{
		Txid: "t1", Vout: 0, AddressID: "a1", ValueSats: 1000, Confirmations: 1, IsNew: true,
	})
	require.NoError(t, err)
	require.Equal(t, types.EventConfirmed, ev.Kind)

	got, err := store.GetIntent(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, types.IntentConfirmed, got.Status)
	require.NotNil(t, got.ConfirmedAt)
}

func TestApplyDelta_UnderpaymentNeverAdvances(t *testing.T) {
	ctx := context.Background()
	m, store, now := setup(t, watchercfg.FirstOutputMeets)
	seedPendingIntent(t, ctx, store, "i1", "a1", 1000, 1, now.Now().Add(time.Hour))

	ev, err := m.ApplyDelta(ctx, types.ObservationDelta{
		Txid: "t1", Vout: 0, AddressID: "a1", ValueSats: 500, Confirmations: 1, IsNew: true,
	})
	require.NoError(t, err)
	require.Nil(t, ev)

	got, err := store.GetIntent(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, types.IntentPending, got.Status)
}

func TestApplyDelta_ProcessingToConfirmed(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setup(t, watchercfg.FirstOutputMeets)
	require.NoError(t, store.CreateIntent(ctx, &types.Intent{
		ID: "i1", AmountSats: 1000, Status: types.IntentProcessing, RequiredConfs: 2, AddressID: "a1",
	}))
	require.NoError(t, store.CreateAddress(ctx, &types.DepositAddress{ID: "a1", Address: "addr-a1", IntentID: "i1"}))

	ev, err := m.ApplyDelta(ctx, types.ObservationDelta{
		Txid: "t1", Vout: 0, AddressID: "a1", ValueSats: 1000, Confirmations: 2,
	})
	require.NoError(t, err)
	require.Equal(t, types.EventConfirmed, ev.Kind)
}

func TestApplyDelta_DuplicateDeltaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, store, now := setup(t, watchercfg.FirstOutputMeets)
	seedPendingIntent(t, ctx, store, "i1", "a1", 1000, 1, now.Now().Add(time.Hour))

	delta := types.ObservationDelta{Txid: "t1", Vout: 0, AddressID: "a1", ValueSats: 1000, Confirmations: 1, IsNew: true}
	ev1, err := m.ApplyDelta(ctx, delta)
	require.NoError(t, err)
	require.NotNil(t, ev1)

	ev2, err := m.ApplyDelta(ctx, delta)
	require.NoError(t, err)
	require.Nil(t, ev2, "re-applying the same delta after the intent already reached the target state must not re-emit")
}

func TestApplyDelta_Reorg_DemotesConfirmedToProcessing(t *testing.T) {
	ctx := context.Background()
	m, store, now := setup(t, watchercfg.FirstOutputMeets)
	confirmedAt := now.Now()
	require.NoError(t, store.CreateIntent(ctx, &types.Intent{
		ID: "i1", AmountSats: 1000, Status: types.IntentConfirmed, RequiredConfs: 1,
		AddressID: "a1", ConfirmedAt: &confirmedAt,
	}))
	require.NoError(t, store.CreateAddress(ctx, &types.DepositAddress{ID: "a1", Address: "addr-a1", IntentID: "i1"}))
	_, err := store.UpsertObservation(ctx, &types.TxObservation{
		Txid: "t1", Vout: 0, AddressID: "a1", ValueSats: 1000,
		Status: types.ObservationConfirmed, Confirmations: 3,
	})
	require.NoError(t, err)

	ev, err := m.ApplyDelta(ctx, types.ObservationDelta{Txid: "t1", AddressID: "a1", Missing: true})
	require.NoError(t, err)
	require.Equal(t, types.EventReorg, ev.Kind)

	got, err := store.GetIntent(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, types.IntentProcessing, got.Status)
	require.Nil(t, got.ConfirmedAt)

	obs, err := store.GetObservation(ctx, "t1", 0)
	require.NoError(t, err)
	require.Equal(t, types.ObservationMempool, obs.Status)
	require.Equal(t, 0, obs.Confirmations)
}

func TestApplyDelta_SumOfOutputsMeets(t *testing.T) {
	ctx := context.Background()
	m, store, now := setup(t, watchercfg.SumOfOutputsMeets)
	seedPendingIntent(t, ctx, store, "i1", "a1", 1000, 1, now.Now().Add(time.Hour))

	_, err := store.UpsertObservation(ctx, &types.TxObservation{
		Txid: "t0", Vout: 0, AddressID: "a1", ValueSats: 600, Status: types.ObservationMempool,
	})
	require.NoError(t, err)

	// A second, smaller output alone wouldn't meet the amount, but summed
	// with the earlier 600-sat output it does.
	ev, err := m.ApplyDelta(ctx, types.ObservationDelta{
		Txid: "t1", Vout: 0, AddressID: "a1", ValueSats: 500, Confirmations: 1, IsNew: true,
	})
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, types.EventConfirmed, ev.Kind)
}

func TestApplyExpiry_TransitionsPendingPastDeadline(t *testing.T) {
	ctx := context.Background()
	m, store, now := setup(t, watchercfg.FirstOutputMeets)
	require.NoError(t, store.CreateIntent(ctx, &types.Intent{
		ID: "i1", Status: types.IntentPending, ExpiresAt: now.Now().Add(-time.Minute),
	}))

	ev, err := m.ApplyExpiry(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, types.EventExpired, ev.Kind)

	got, err := store.GetIntent(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, types.IntentExpired, got.Status)
}

func TestApplyExpiry_SkipsIntentWithObservation(t *testing.T) {
	ctx := context.Background()
	m, store, now := setup(t, watchercfg.FirstOutputMeets)
	require.NoError(t, store.CreateIntent(ctx, &types.Intent{
		ID: "i1", Status: types.IntentPending, ExpiresAt: now.Now().Add(-time.Minute), AddressID: "a1",
	}))
	require.NoError(t, store.CreateAddress(ctx, &types.DepositAddress{ID: "a1", Address: "addr-a1", IntentID: "i1"}))
	_, err := store.UpsertObservation(ctx, &types.TxObservation{Txid: "t1", Vout: 0, AddressID: "a1"})
	require.NoError(t, err)

	ev, err := m.ApplyExpiry(ctx, "i1")
	require.NoError(t, err)
	require.Nil(t, ev)
}
