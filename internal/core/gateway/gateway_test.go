package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apicfg "github.com/Chigala/bitcoin-pay/internal/config/api"
	descriptorcfg "github.com/Chigala/bitcoin-pay/internal/config/descriptor"
	schedulercfg "github.com/Chigala/bitcoin-pay/internal/config/scheduler"
	tokencfg "github.com/Chigala/bitcoin-pay/internal/config/token"
	watchercfg "github.com/Chigala/bitcoin-pay/internal/config/watcher"
	clockimpl "github.com/Chigala/bitcoin-pay/internal/core/infrastructure/clock"
	logimpl "github.com/Chigala/bitcoin-pay/internal/core/infrastructure/log"
	"github.com/Chigala/bitcoin-pay/internal/core/descriptor"
	memorystore "github.com/Chigala/bitcoin-pay/internal/core/storage/memory"
	"github.com/Chigala/bitcoin-pay/internal/core/token"
	"github.com/Chigala/bitcoin-pay/pkg/types"
)

// testXpub/testDescriptor mirror internal/core/descriptor's own test
// fixtures — a well-formed watch-only xpub descriptor; the exact value
// doesn't matter for these tests beyond parsing successfully.
const testXpub = "xpub661MyMwAqkbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"
const testDescriptor = "wpkh(" + testXpub + "/0/*)"

type recordingEmitter struct{ events []types.Event }

func (e *recordingEmitter) Emit(ev types.Event) { e.events = append(e.events, ev) }

type stubScanner struct {
	called bool
	err    error
}

func (s *stubScanner) ScanNow(ctx context.Context, in *types.Intent) error {
	s.called = true
	return s.err
}

func setup(t *testing.T) (*Gateway, *memorystore.Store, *clockimpl.MockClock, *recordingEmitter, *stubScanner) {
	t.Helper()
	clk := clockimpl.NewMockClock(time.Unix(1_700_000_000, 0))
	store := memorystore.New(clk)
	descr, err := descriptor.New(descriptorcfg.Config{Descriptor: testDescriptor, Network: descriptorcfg.Mainnet})
	require.NoError(t, err)

	codec := token.New(tokencfg.Config{
		Secret: []byte("0123456789abcdef0123456789abcdef"), DefaultTTL: time.Hour, Reuse: tokencfg.ReuseUntilExpiry,
		BaseURL: "https://pay.example.com",
	}, clk)

	emitter := &recordingEmitter{}
	scanner := &stubScanner{}

	cfg := Config{
		API:       apicfg.Config{BasePath: "/api/pay"},
		Token:     tokencfg.Config{DefaultTTL: time.Hour, Reuse: tokencfg.ReuseUntilExpiry, BaseURL: "https://pay.example.com"},
		Watcher:   watchercfg.Config{DefaultRequiredConfs: 1},
		Scheduler: schedulercfg.Config{IntentExpiryMinutes: 60},
	}

	watched := NewWatchedAddressSet()
	require.NoError(t, watched.Load(context.Background(), store))

	gw, err := New(context.Background(), cfg, store, descr, codec, scanner, watched, emitter, clk, logimpl.NewNop())
	require.NoError(t, err)
	return gw, store, clk, emitter, scanner
}

func TestCreateIntent_AppliesDefaultsAndEmits(t *testing.T) {
	gw, _, _, emitter, _ := setup(t)

	in, err := gw.CreateIntent(context.Background(), types.CreateIntentParams{AmountSats: 50_000})
	require.NoError(t, err)
	require.Equal(t, types.IntentPending, in.Status)
	require.Equal(t, 1, in.RequiredConfs)
	require.Len(t, emitter.events, 1)
	require.Equal(t, types.EventIntentCreated, emitter.events[0].Kind)
}

func TestCreateIntent_RejectsZeroAmount(t *testing.T) {
	gw, _, _, _, _ := setup(t)

	_, err := gw.CreateIntent(context.Background(), types.CreateIntentParams{AmountSats: 0})
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestEnsureAssigned_DerivesAddressAndIsIdempotent(t *testing.T) {
	gw, _, _, _, _ := setup(t)
	ctx := context.Background()

	in, err := gw.CreateIntent(ctx, types.CreateIntentParams{AmountSats: 10_000})
	require.NoError(t, err)

	view1, err := gw.EnsureAssigned(ctx, in.ID)
	require.NoError(t, err)
	require.NotEmpty(t, view1.Address)
	require.Contains(t, view1.BIP21, "bitcoin:")

	_, watched := gw.WatchedAddresses().Lookup(view1.Address)
	require.True(t, watched)

	view2, err := gw.EnsureAssigned(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, view1.Address, view2.Address)
}

func TestEnsureAssigned_ReusesUnassignedAddressBeforeDeriving(t *testing.T) {
	gw, store, clk, _, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, store.CreateAddress(ctx, &types.DepositAddress{
		ID: "preallocated", Address: "bc1qpreallocated", DerivationIndex: 0, CreatedAt: clk.Now(),
	}))

	in, err := gw.CreateIntent(ctx, types.CreateIntentParams{AmountSats: 10_000})
	require.NoError(t, err)

	view, err := gw.EnsureAssigned(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, "bc1qpreallocated", view.Address)
}

func TestEnsureAssigned_RejectsTerminalIntent(t *testing.T) {
	gw, store, _, _, _ := setup(t)
	ctx := context.Background()

	in, err := gw.CreateIntent(ctx, types.CreateIntentParams{AmountSats: 10_000})
	require.NoError(t, err)
	in.Status = types.IntentExpired
	require.NoError(t, store.UpdateIntent(ctx, in))

	_, err = gw.EnsureAssigned(ctx, in.ID)
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrInvalidState)
}

func TestIssueAndRedeemToken_RoundTrip(t *testing.T) {
	gw, _, _, _, _ := setup(t)
	ctx := context.Background()

	in, err := gw.CreateIntent(ctx, types.CreateIntentParams{AmountSats: 10_000})
	require.NoError(t, err)

	issued, err := gw.IssueToken(ctx, types.IssueTokenParams{IntentID: in.ID})
	require.NoError(t, err)
	require.Contains(t, issued.URL, "/api/pay/pay/")

	redeemed, err := gw.RedeemToken(ctx, issued.Token)
	require.NoError(t, err)
	require.Equal(t, in.ID, redeemed.IntentID)

	// Reuse-until-expiry: redeeming again before expiry still succeeds.
	redeemed2, err := gw.RedeemToken(ctx, issued.Token)
	require.NoError(t, err)
	require.Equal(t, in.ID, redeemed2.IntentID)
}

func TestIssueToken_RejectsExpiredIntent(t *testing.T) {
	gw, store, _, _, _ := setup(t)
	ctx := context.Background()

	in, err := gw.CreateIntent(ctx, types.CreateIntentParams{AmountSats: 10_000})
	require.NoError(t, err)
	in.Status = types.IntentExpired
	require.NoError(t, store.UpdateIntent(ctx, in))

	_, err = gw.IssueToken(ctx, types.IssueTokenParams{IntentID: in.ID})
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrInvalidState)
}

func TestRedeemToken_UnknownTokenSignatureRejected(t *testing.T) {
	gw, _, _, _, _ := setup(t)

	_, err := gw.RedeemToken(context.Background(), "garbage.token")
	require.Error(t, err)
}

func TestGetStatus_ReflectsLatestObservation(t *testing.T) {
	gw, store, clk, _, _ := setup(t)
	ctx := context.Background()

	in, err := gw.CreateIntent(ctx, types.CreateIntentParams{AmountSats: 10_000})
	require.NoError(t, err)
	view, err := gw.EnsureAssigned(ctx, in.ID)
	require.NoError(t, err)

	addr, err := store.GetAddressByValue(ctx, view.Address)
	require.NoError(t, err)
	_, err = store.UpsertObservation(ctx, &types.TxObservation{
		Txid: "deadbeef", Vout: 0, AddressID: addr.ID, ValueSats: 10_000,
		Status: types.ObservationMempool, SeenAt: clk.Now(),
	})
	require.NoError(t, err)

	status, err := gw.GetStatus(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, "deadbeef", status.Txid)
	require.Equal(t, int64(10_000), status.ValueSats)
}

func TestScanForPayments_DelegatesToScheduler(t *testing.T) {
	gw, _, _, _, scanner := setup(t)
	ctx := context.Background()

	in, err := gw.CreateIntent(ctx, types.CreateIntentParams{AmountSats: 10_000})
	require.NoError(t, err)
	_, err = gw.EnsureAssigned(ctx, in.ID)
	require.NoError(t, err)

	err = gw.ScanForPayments(ctx, in.ID)
	require.NoError(t, err)
	require.True(t, scanner.called)
}

func TestScanForPayments_RejectsUnassignedIntent(t *testing.T) {
	gw, _, _, _, _ := setup(t)
	ctx := context.Background()

	in, err := gw.CreateIntent(ctx, types.CreateIntentParams{AmountSats: 10_000})
	require.NoError(t, err)

	err = gw.ScanForPayments(ctx, in.ID)
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrInvalidState)
}
