package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	schedulercfg "github.com/Chigala/bitcoin-pay/internal/config/scheduler"
	watchercfg "github.com/Chigala/bitcoin-pay/internal/config/watcher"
	clockimpl "github.com/Chigala/bitcoin-pay/internal/core/infrastructure/clock"
	logimpl "github.com/Chigala/bitcoin-pay/internal/core/infrastructure/log"
	"github.com/Chigala/bitcoin-pay/internal/core/intent"
	memorystore "github.com/Chigala/bitcoin-pay/internal/core/storage/memory"
	"github.com/Chigala/bitcoin-pay/pkg/types"
)

type countingReconciler struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
}

func (c *countingReconciler) Reconcile(ctx context.Context, txid string, confs int) error {
	time.Sleep(c.delay)
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return nil
}

func (c *countingReconciler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type emptyScanner struct{ calls atomic.Int32 }

func (s *emptyScanner) ScanAddress(ctx context.Context, address string) ([]string, error) {
	s.calls.Add(1)
	return nil, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []types.Event
}

func (e *recordingEmitter) Emit(ev types.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

func TestTickExpirySweep_TransitionsExpiredIntents(t *testing.T) {
	ctx := context.Background()
	clk := clockimpl.NewMockClock(time.Unix(1_700_000_000, 0))
	store := memorystore.New(clk)
	require.NoError(t, store.CreateIntent(ctx, &types.Intent{
		ID: "i1", Status: types.IntentPending, ExpiresAt: time.Unix(1_699_999_000, 0),
	}))

	machine := intent.New(store, clk, watchercfg.FirstOutputMeets)
	emitter := &recordingEmitter{}
	sch := New(schedulercfg.Config{}, store, &countingReconciler{}, &emptyScanner{}, machine, emitter, clk, logimpl.NewNop())

	sch.tickExpirySweep(ctx)

	got, err := store.GetIntent(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, types.IntentExpired, got.Status)
	require.Equal(t, 1, emitter.count())
}

func TestTickPendingPoll_FansOutPerIntent(t *testing.T) {
	ctx := context.Background()
	clk := clockimpl.NewMockClock(time.Now())
	store := memorystore.New(clk)

	for _, id := range []string{"i1", "i2", "i3"} {
		require.NoError(t, store.CreateIntent(ctx, &types.Intent{ID: id, Status: types.IntentPending, AddressID: "a-" + id}))
		require.NoError(t, store.CreateAddress(ctx, &types.DepositAddress{ID: "a-" + id, Address: "addr-" + id, IntentID: id}))
		_, err := store.UpsertObservation(ctx, &types.TxObservation{Txid: "t-" + id, Vout: 0, AddressID: "a-" + id})
		require.NoError(t, err)
	}

	reconciler := &countingReconciler{}
	machine := intent.New(store, clk, watchercfg.FirstOutputMeets)
	sch := New(schedulercfg.Config{}, store, reconciler, &emptyScanner{}, machine, &recordingEmitter{}, clk, logimpl.NewNop())

	sch.tickPendingPoll(ctx)

	require.Equal(t, 3, reconciler.count())
}

func TestTickPendingPoll_SkipsUnassignedIntent(t *testing.T) {
	ctx := context.Background()
	clk := clockimpl.NewMockClock(time.Now())
	store := memorystore.New(clk)
	require.NoError(t, store.CreateIntent(ctx, &types.Intent{ID: "i1", Status: types.IntentPending}))

	reconciler := &countingReconciler{}
	scanner := &emptyScanner{}
	machine := intent.New(store, clk, watchercfg.FirstOutputMeets)
	sch := New(schedulercfg.Config{}, store, reconciler, scanner, machine, &recordingEmitter{}, clk, logimpl.NewNop())

	sch.tickPendingPoll(ctx)

	require.Equal(t, 0, reconciler.count())
	require.Equal(t, int32(0), scanner.calls.Load())
}

func TestRunTicker_SkipsOverlappingTick(t *testing.T) {
	reconciler := &countingReconciler{delay: 150 * time.Millisecond}
	clk := clockimpl.NewMockClock(time.Now())
	store := memorystore.New(clk)
	ctx := context.Background()
	require.NoError(t, store.CreateIntent(ctx, &types.Intent{ID: "i1", Status: types.IntentPending, AddressID: "a1"}))
	require.NoError(t, store.CreateAddress(ctx, &types.DepositAddress{ID: "a1", Address: "addr1", IntentID: "i1"}))
	_, err := store.UpsertObservation(ctx, &types.TxObservation{Txid: "t1", Vout: 0, AddressID: "a1"})
	require.NoError(t, err)

	machine := intent.New(store, clk, watchercfg.FirstOutputMeets)
	sch := New(schedulercfg.Config{
		PendingPollInterval: 20 * time.Millisecond,
		ExpirySweepInterval: 0,
	}, store, reconciler, &emptyScanner{}, machine, &recordingEmitter{}, clk, logimpl.NewNop())

	sch.Start()
	time.Sleep(250 * time.Millisecond)
	sch.Stop()

	// With a 150ms handler and a 20ms tick interval, overlapping ticks
	// must be skipped rather than queued: far fewer than 250/20=12 calls.
	require.Less(t, reconciler.count(), 5)
}

func TestScanNow_SurfacesError(t *testing.T) {
	ctx := context.Background()
	clk := clockimpl.NewMockClock(time.Now())
	store := memorystore.New(clk)
	require.NoError(t, store.CreateIntent(ctx, &types.Intent{ID: "i1", Status: types.IntentPending, AddressID: "a1"}))
	require.NoError(t, store.CreateAddress(ctx, &types.DepositAddress{ID: "a1", Address: "addr1", IntentID: "i1"}))

	machine := intent.New(store, clk, watchercfg.FirstOutputMeets)
	sch := New(schedulercfg.Config{}, store, &countingReconciler{}, &failingScanner{}, machine, &recordingEmitter{}, clk, logimpl.NewNop())

	intentRow, err := store.GetIntent(ctx, "i1")
	require.NoError(t, err)

	err = sch.ScanNow(ctx, intentRow)
	require.Error(t, err)
}

type failingScanner struct{}

func (failingScanner) ScanAddress(ctx context.Context, address string) ([]string, error) {
	return nil, types.ErrTransient
}
