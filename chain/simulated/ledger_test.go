package simulated_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/chain"
	"github.com/xraph/sponsor/chain/simulated"
	"github.com/xraph/sponsor/types"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
	shop  = "0x3333333333333333333333333333333333333333"
)

func request(amount string) chain.CreateRequest {
	return chain.CreateRequest{
		Beneficiary: alice,
		Sponsor:     bob,
		Destination: shop,
		Amount:      types.MustParseAmount(amount),
		Description: "groceries",
	}
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	l := simulated.New()

	first, err := l.CreateBill(ctx, request("1"))
	require.NoError(t, err)
	second, err := l.CreateBill(ctx, request("2"))
	require.NoError(t, err)

	require.Equal(t, bill.ChainBillID(1), first.ChainBillID)
	require.Equal(t, bill.ChainBillID(2), second.ChainBillID)
	require.NotEqual(t, first.TransactionHash, second.TransactionHash)
	require.Equal(t, 2, l.BillCount())

	snap, err := l.GetBill(ctx, first.ChainBillID)
	require.NoError(t, err)
	require.Equal(t, bill.StatusPending, snap.Status)
	require.Equal(t, alice, snap.Beneficiary)
	require.Equal(t, "1", snap.Amount.String())
	require.Nil(t, snap.PaidAt)
}

func TestCreateRejectsZeroAmount(t *testing.T) {
	l := simulated.New()

	_, err := l.CreateBill(context.Background(), chain.CreateRequest{Beneficiary: alice, Sponsor: bob})
	require.ErrorIs(t, err, chain.ErrRejected)
	require.Equal(t, 0, l.BillCount())
}

func TestPayWithNativeRequiresExactAmount(t *testing.T) {
	ctx := context.Background()
	l := simulated.New()
	rcpt, err := l.CreateBill(ctx, request("12.5"))
	require.NoError(t, err)

	_, err = l.PayWithNative(ctx, rcpt.ChainBillID, types.MustParseAmount("12"))
	var ce *chain.Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, simulated.ReasonWrongAmount, ce.Reason)

	_, err = l.PayWithNative(ctx, rcpt.ChainBillID, types.MustParseAmount("12.50"))
	require.NoError(t, err)

	snap, err := l.GetBill(ctx, rcpt.ChainBillID)
	require.NoError(t, err)
	require.Equal(t, bill.StatusPaid, snap.Status)
	require.NotNil(t, snap.PaidAt)
}

func TestSettledBillsRevert(t *testing.T) {
	ctx := context.Background()
	l := simulated.New()
	rcpt, err := l.CreateBill(ctx, request("3"))
	require.NoError(t, err)

	_, err = l.Reject(ctx, rcpt.ChainBillID)
	require.NoError(t, err)

	for _, call := range []func() error{
		func() error { _, err := l.Reject(ctx, rcpt.ChainBillID); return err },
		func() error { _, err := l.PayWithToken(ctx, rcpt.ChainBillID); return err },
		func() error { _, err := l.PayWithNative(ctx, rcpt.ChainBillID, types.MustParseAmount("3")); return err },
	} {
		err := call()
		var ce *chain.Error
		require.ErrorAs(t, err, &ce)
		require.ErrorIs(t, err, chain.ErrRejected)
		require.Equal(t, simulated.ReasonNotPending, ce.Reason)
	}
}

func TestPayWithTokenMovesFunds(t *testing.T) {
	ctx := context.Background()
	l := simulated.New()
	rcpt, err := l.CreateBill(ctx, request("4"))
	require.NoError(t, err)

	_, err = l.PayWithToken(ctx, rcpt.ChainBillID)
	require.ErrorIs(t, err, chain.ErrRejected)

	l.SetSponsorTokenBalance(bob, types.MustParseAmount("10"))
	_, err = l.PayWithToken(ctx, rcpt.ChainBillID)
	require.NoError(t, err)

	funds, err := l.SponsorTokenBalance(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, "6", funds.String())

	received, err := l.TokenBalance(ctx, shop)
	require.NoError(t, err)
	require.Equal(t, "4", received.String())
}

func TestGetUnknownBill(t *testing.T) {
	_, err := simulated.New().GetBill(context.Background(), 99)
	require.ErrorIs(t, err, chain.ErrBillNotFound)
}

func TestBillsForRole(t *testing.T) {
	ctx := context.Background()
	l := simulated.New()
	self := l.Seed(chain.CreateRequest{Beneficiary: alice, Sponsor: alice, Amount: types.MustParseAmount("1")})
	other := l.Seed(request("2"))

	asBeneficiary, err := l.BillsForRole(ctx, "0X1111111111111111111111111111111111111111", chain.RoleBeneficiary)
	require.NoError(t, err)
	require.Equal(t, []bill.ChainBillID{self, other}, asBeneficiary)

	asSponsor, err := l.BillsForRole(ctx, alice, chain.RoleSponsor)
	require.NoError(t, err)
	require.Equal(t, []bill.ChainBillID{self}, asSponsor)

	none, err := l.BillsForRole(ctx, shop, chain.RoleSponsor)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestFaults(t *testing.T) {
	ctx := context.Background()

	t.Run("unavailable leaves state untouched", func(t *testing.T) {
		l := simulated.New()
		l.UnavailableNext(simulated.MethodCreateBill)

		_, err := l.CreateBill(ctx, request("1"))
		require.ErrorIs(t, err, chain.ErrUnavailable)
		require.Equal(t, 0, l.BillCount())

		_, err = l.CreateBill(ctx, request("1"))
		require.NoError(t, err)
		require.Equal(t, 2, l.Calls(simulated.MethodCreateBill))
	})

	t.Run("land then timeout applies the write", func(t *testing.T) {
		l := simulated.New()
		l.LandThenTimeoutNext(simulated.MethodCreateBill)

		_, err := l.CreateBill(ctx, request("1"))
		require.ErrorIs(t, err, chain.ErrUnavailable)
		require.NotEmpty(t, chain.SubmittedTx(err))
		require.Equal(t, 1, l.BillCount())
	})

	t.Run("omitted event applies the create", func(t *testing.T) {
		l := simulated.New()
		l.OmitCreateEventNext()

		_, err := l.CreateBill(ctx, request("1"))
		require.ErrorIs(t, err, chain.ErrProtocolMismatch)
		require.Equal(t, 1, l.BillCount())
	})

	t.Run("revert", func(t *testing.T) {
		l := simulated.New()
		id := l.Seed(request("1"))
		l.RevertNext(simulated.MethodReject, "paused")

		_, err := l.Reject(ctx, id)
		var ce *chain.Error
		require.ErrorAs(t, err, &ce)
		require.Equal(t, "paused", ce.Reason)

		snap, err := l.GetBill(ctx, id)
		require.NoError(t, err)
		require.Equal(t, bill.StatusPending, snap.Status)
	})

	t.Run("fail always until reset", func(t *testing.T) {
		l := simulated.New()
		boom := errors.New("boom")
		l.FailAlways(simulated.MethodGetBill, boom)

		for range 3 {
			_, err := l.GetBill(ctx, 1)
			require.ErrorIs(t, err, boom)
		}
		l.Reset()
		_, err := l.GetBill(ctx, 1)
		require.ErrorIs(t, err, chain.ErrBillNotFound)
	})

	t.Run("latency honours context", func(t *testing.T) {
		l := simulated.New()
		l.SetLatency(time.Second)
		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()

		_, err := l.CreateBill(cctx, request("1"))
		require.ErrorIs(t, err, chain.ErrUnavailable)
		require.Equal(t, 0, l.BillCount())
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	l := simulated.New()
	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return paidAt })
	id := l.Seed(request("1"))

	require.NoError(t, l.SetStatus(id, bill.StatusPaid))
	snap, err := l.GetBill(ctx, id)
	require.NoError(t, err)
	require.Equal(t, bill.StatusPaid, snap.Status)
	require.True(t, paidAt.Equal(*snap.PaidAt))

	require.Error(t, l.SetStatus(42, bill.StatusPaid))
	require.Equal(t, 0, l.WriteCalls())
}
