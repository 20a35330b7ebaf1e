package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	watchercfg "github.com/Chigala/bitcoin-pay/internal/config/watcher"
	clockimpl "github.com/Chigala/bitcoin-pay/internal/core/infrastructure/clock"
	logimpl "github.com/Chigala/bitcoin-pay/internal/core/infrastructure/log"
	"github.com/Chigala/bitcoin-pay/internal/core/intent"
	"github.com/Chigala/bitcoin-pay/internal/core/nodeclient"
	memorystore "github.com/Chigala/bitcoin-pay/internal/core/storage/memory"
	"github.com/Chigala/bitcoin-pay/pkg/types"
)

type fakeRPC struct {
	tx  *nodeclient.VerboseTx
	err error
}

func (f *fakeRPC) GetRawTransaction(ctx context.Context, txid string) (*nodeclient.VerboseTx, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tx, nil
}

type staticWatchSet struct {
	byAddress map[string]string
}

func (w *staticWatchSet) Lookup(address string) (string, bool) {
	id, ok := w.byAddress[address]
	return id, ok
}

func buildTx(txid string, confs int, outputs ...struct {
	Address string
	Value   float64
}) *nodeclient.VerboseTx {
	tx := &nodeclient.VerboseTx{Txid: txid, Confirmations: confs}
	for i, o := range outputs {
		vout := struct {
			Value        float64 `json:"value"`
			N            uint32  `json:"n"`
			ScriptPubKey struct {
				Hex     string `json:"hex"`
				Address string `json:"address"`
			} `json:"scriptPubKey"`
		}{Value: o.Value, N: uint32(i)}
		vout.ScriptPubKey.Address = o.Address
		vout.ScriptPubKey.Hex = "76a914deadbeef88ac"
		tx.Vout = append(tx.Vout, vout)
	}
	return tx
}

func TestReconcile_NewPendingObservationTriggersProcessing(t *testing.T) {
	ctx := context.Background()
	clk := clockimpl.NewMockClock(time.Unix(1_700_000_000, 0))
	store := memorystore.New(clk)
	require.NoError(t, store.CreateIntent(ctx, &types.Intent{
		ID: "i1", AmountSats: 1000, Status: types.IntentPending, RequiredConfs: 2, AddressID: "a1",
		ExpiresAt: time.Unix(1_700_100_000, 0),
	}))
	require.NoError(t, store.CreateAddress(ctx, &types.DepositAddress{ID: "a1", Address: "bc1qwatched", IntentID: "i1"}))

	machine := intent.New(store, clk, watchercfg.FirstOutputMeets)
	watched := &staticWatchSet{byAddress: map[string]string{"bc1qwatched": "a1"}}

	var emitted []types.Event
	rpc := &fakeRPC{tx: buildTx("t1", 0, struct {
		Address string
		Value   float64
	}{"bc1qwatched", 0.00001000})}

	r := New(rpc, store, machine, watched, clk, logimpl.NewNop(), func(e types.Event) { emitted = append(emitted, e) })

	require.NoError(t, r.Reconcile(ctx, "t1", 0))
	require.Len(t, emitted, 1)
	require.Equal(t, types.EventProcessing, emitted[0].Kind)

	got, err := store.GetIntent(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, types.IntentProcessing, got.Status)
}

func TestReconcile_UnwatchedOutputIgnored(t *testing.T) {
	ctx := context.Background()
	clk := clockimpl.NewMockClock(time.Now())
	store := memorystore.New(clk)
	machine := intent.New(store, clk, watchercfg.FirstOutputMeets)
	watched := &staticWatchSet{byAddress: map[string]string{}}

	var emitted []types.Event
	rpc := &fakeRPC{tx: buildTx("t1", 0, struct {
		Address string
		Value   float64
	}{"bc1qsomeoneelse", 0.0001})}

	r := New(rpc, store, machine, watched, clk, logimpl.NewNop(), func(e types.Event) { emitted = append(emitted, e) })

	require.NoError(t, r.Reconcile(ctx, "t1", 0))
	require.Empty(t, emitted)
}

func TestReconcile_TxNotFoundTriggersReorg(t *testing.T) {
	ctx := context.Background()
	clk := clockimpl.NewMockClock(time.Now())
	store := memorystore.New(clk)
	confirmedAt := clk.Now()
	require.NoError(t, store.CreateIntent(ctx, &types.Intent{
		ID: "i1", AmountSats: 1000, Status: types.IntentConfirmed, RequiredConfs: 1,
		AddressID: "a1", ConfirmedAt: &confirmedAt,
	}))
	require.NoError(t, store.CreateAddress(ctx, &types.DepositAddress{ID: "a1", Address: "bc1qwatched", IntentID: "i1"}))
	_, err := store.UpsertObservation(ctx, &types.TxObservation{
		Txid: "t1", Vout: 0, AddressID: "a1", ValueSats: 1000, Status: types.ObservationConfirmed, Confirmations: 3,
	})
	require.NoError(t, err)

	machine := intent.New(store, clk, watchercfg.FirstOutputMeets)
	watched := &staticWatchSet{byAddress: map[string]string{"bc1qwatched": "a1"}}

	var emitted []types.Event
	rpc := &fakeRPC{err: nodeclient.ErrTxNotFound}
	r := New(rpc, store, machine, watched, clk, logimpl.NewNop(), func(e types.Event) { emitted = append(emitted, e) })

	require.NoError(t, r.Reconcile(ctx, "t1", 0))
	require.Len(t, emitted, 1)
	require.Equal(t, types.EventReorg, emitted[0].Kind)

	got, err := store.GetIntent(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, types.IntentProcessing, got.Status)
}

func TestReconcile_TransientErrorPropagatesForRetry(t *testing.T) {
	ctx := context.Background()
	clk := clockimpl.NewMockClock(time.Now())
	store := memorystore.New(clk)
	machine := intent.New(store, clk, watchercfg.FirstOutputMeets)
	watched := &staticWatchSet{byAddress: map[string]string{}}

	rpc := &fakeRPC{err: types.ErrTransient}
	r := New(rpc, store, machine, watched, clk, logimpl.NewNop(), func(types.Event) {})

	err := r.Reconcile(ctx, "t1", 0)
	require.Error(t, err, "a non-reorg fetch error must propagate so the scheduler can retry per §7")
}
