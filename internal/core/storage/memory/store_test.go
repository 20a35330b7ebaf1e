package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	clockimpl "github.com/Chigala/bitcoin-pay/internal/core/infrastructure/clock"
	"github.com/Chigala/bitcoin-pay/pkg/types"
)

func TestCreateAndGetIntent(t *testing.T) {
	ctx := context.Background()
	s := New(clockimpl.NewMockClock(time.Unix(1_700_000_000, 0)))

	intent := &types.Intent{ID: "i1", AmountSats: 1000, Status: types.IntentPending}
	require.NoError(t, s.CreateIntent(ctx, intent))

	got, err := s.GetIntent(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), got.AmountSats)

	// Mutating the returned pointer must not affect the stored copy.
	got.AmountSats = 9999
	got2, err := s.GetIntent(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), got2.AmountSats)
}

func TestCreateIntent_DuplicateIsConflict(t *testing.T) {
	ctx := context.Background()
	s := New(clockimpl.NewMockClock(time.Now()))
	require.NoError(t, s.CreateIntent(ctx, &types.Intent{ID: "i1"}))

	err := s.CreateIntent(ctx, &types.Intent{ID: "i1"})
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrConflict)
}

func TestAssignAddressToIntent_LinksBothSides(t *testing.T) {
	ctx := context.Background()
	s := New(clockimpl.NewMockClock(time.Unix(1_700_000_000, 0)))

	require.NoError(t, s.CreateIntent(ctx, &types.Intent{ID: "i1", Status: types.IntentPending}))
	require.NoError(t, s.CreateAddress(ctx, &types.DepositAddress{ID: "a1", Address: "bc1q..."}))

	require.NoError(t, s.AssignAddressToIntent(ctx, "a1", "i1"))

	intent, err := s.GetIntent(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, "a1", intent.AddressID)

	addr, err := s.GetAddressByID(ctx, "a1")
	require.NoError(t, err)
	require.True(t, addr.Assigned())
	require.Equal(t, "i1", addr.IntentID)
}

func TestAssignAddressToIntent_DoubleAssignIsConflict(t *testing.T) {
	ctx := context.Background()
	s := New(clockimpl.NewMockClock(time.Now()))
	require.NoError(t, s.CreateIntent(ctx, &types.Intent{ID: "i1"}))
	require.NoError(t, s.CreateIntent(ctx, &types.Intent{ID: "i2"}))
	require.NoError(t, s.CreateAddress(ctx, &types.DepositAddress{ID: "a1", Address: "bc1q..."}))

	require.NoError(t, s.AssignAddressToIntent(ctx, "a1", "i1"))
	err := s.AssignAddressToIntent(ctx, "a1", "i2")
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrConflict)
}

func TestNextUnassignedAddress_ReturnsLowestIndex(t *testing.T) {
	ctx := context.Background()
	s := New(clockimpl.NewMockClock(time.Now()))
	require.NoError(t, s.CreateAddress(ctx, &types.DepositAddress{ID: "a2", Address: "addr2", DerivationIndex: 2}))
	require.NoError(t, s.CreateAddress(ctx, &types.DepositAddress{ID: "a0", Address: "addr0", DerivationIndex: 0}))
	require.NoError(t, s.CreateAddress(ctx, &types.DepositAddress{ID: "a1", Address: "addr1", DerivationIndex: 1}))

	a, err := s.NextUnassignedAddress(ctx)
	require.NoError(t, err)
	require.Equal(t, "a0", a.ID)
}

func TestUpsertObservation_ReportsCreated(t *testing.T) {
	ctx := context.Background()
	s := New(clockimpl.NewMockClock(time.Now()))

	created, err := s.UpsertObservation(ctx, &types.TxObservation{Txid: "t1", Vout: 0, AddressID: "a1"})
	require.NoError(t, err)
	require.True(t, created)

	created, err = s.UpsertObservation(ctx, &types.TxObservation{Txid: "t1", Vout: 0, AddressID: "a1", Confirmations: 1})
	require.NoError(t, err)
	require.False(t, created)
}

func TestListExpirable(t *testing.T) {
	ctx := context.Background()
	s := New(clockimpl.NewMockClock(time.Now()))

	require.NoError(t, s.CreateIntent(ctx, &types.Intent{
		ID: "expired", Status: types.IntentPending, ExpiresAt: time.Unix(100, 0),
	}))
	require.NoError(t, s.CreateIntent(ctx, &types.Intent{
		ID: "fresh", Status: types.IntentPending, ExpiresAt: time.Unix(10_000, 0),
	}))
	require.NoError(t, s.CreateIntent(ctx, &types.Intent{
		ID: "already-confirmed", Status: types.IntentConfirmed, ExpiresAt: time.Unix(1, 0),
	}))

	out, err := s.ListExpirable(ctx, 500)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "expired", out[0].ID)
}

func TestMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(clockimpl.NewMockClock(time.Now()))

	_, ok, err := s.GetMetadata(ctx, types.MetaNextScanHeight)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetMetadata(ctx, types.MetaNextScanHeight, "123"))
	v, ok, err := s.GetMetadata(ctx, types.MetaNextScanHeight)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "123", v)
}
