package audithook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/id"
	"github.com/xraph/sponsor/types"
)

type captured struct {
	events []*AuditEvent
}

func (c *captured) recorder() Recorder {
	return RecorderFunc(func(_ context.Context, e *AuditEvent) error {
		c.events = append(c.events, e)
		return nil
	})
}

func sampleBill() *bill.Bill {
	return &bill.Bill{
		ID:              id.NewBillID(),
		ChainBillID:     bill.ChainBillID(7).Ptr(),
		BeneficiaryID:   id.NewUserID(),
		SponsorID:       id.NewUserID(),
		Amount:          types.MustParseAmount("2.5"),
		Status:          bill.StatusPaid,
		TransactionHash: "0xabc",
	}
}

func TestBillEvents(t *testing.T) {
	c := &captured{}
	ext := New(c.recorder())
	ctx := context.Background()
	b := sampleBill()

	require.NoError(t, ext.OnBillCreated(ctx, b))
	require.NoError(t, ext.OnBillPaid(ctx, b, "token"))
	require.NoError(t, ext.OnBillImported(ctx, b, true))
	require.NoError(t, ext.OnBillImported(ctx, b, false))
	require.NoError(t, ext.OnBillStatusRefreshed(ctx, b, bill.StatusPending))

	require.Len(t, c.events, 5)
	actions := make([]string, len(c.events))
	for i, e := range c.events {
		actions[i] = e.Action
		require.Equal(t, ResourceBill, e.Resource)
		require.Equal(t, b.ID.String(), e.ResourceID)
		require.Equal(t, "7", e.Metadata["chain_bill_id"])
		require.Equal(t, "2.5", e.Metadata["amount"])
	}
	require.Equal(t, []string{
		ActionBillCreated,
		ActionBillPaid,
		ActionBillImported,
		ActionBillRefreshed,
		ActionBillStatusRefreshed,
	}, actions)
	require.Equal(t, "token", c.events[1].Metadata["method"])
	require.Equal(t, "PENDING", c.events[4].Metadata["from_status"])
}

func TestFailureEvents(t *testing.T) {
	c := &captured{}
	ext := New(c.recorder())
	ctx := context.Background()

	require.NoError(t, ext.OnChainError(ctx, "createBill", errors.New("dial tcp: refused")))
	require.NoError(t, ext.OnOrphanedChainWrite(ctx, 12, "0xdead", errors.New("disk full")))

	require.Len(t, c.events, 2)
	require.Equal(t, OutcomeFailure, c.events[0].Outcome)
	require.Equal(t, "dial tcp: refused", c.events[0].Reason)
	require.Equal(t, SeverityCritical, c.events[1].Severity)
	require.Equal(t, "12", c.events[1].ResourceID)
	require.Equal(t, "0xdead", c.events[1].Metadata["tx_hash"])
}

func TestBatchOutcome(t *testing.T) {
	c := &captured{}
	ext := New(c.recorder())
	ctx := context.Background()

	require.NoError(t, ext.OnWalletSynced(ctx, id.NewUserID(), 4, 4, 0, time.Second))
	require.NoError(t, ext.OnWalletSynced(ctx, id.NewUserID(), 4, 3, 1, time.Second))
	require.NoError(t, ext.OnStatusSweep(ctx, 0, 0, 0, time.Millisecond))
	require.NoError(t, ext.OnStatusSweep(ctx, 5, 2, 0, time.Millisecond))

	require.Len(t, c.events, 3, "empty sweeps are skipped")
	require.Equal(t, OutcomeSuccess, c.events[0].Outcome)
	require.Equal(t, OutcomePartial, c.events[1].Outcome)
	require.Equal(t, ActionStatusSweep, c.events[2].Action)
	require.Equal(t, int64(1000), c.events[0].Metadata["elapsed_ms"])
}

func TestActionFilters(t *testing.T) {
	ctx := context.Background()
	b := sampleBill()

	c := &captured{}
	ext := New(c.recorder(), WithEnabledActions(ActionBillPaid))
	require.NoError(t, ext.OnBillCreated(ctx, b))
	require.NoError(t, ext.OnBillPaid(ctx, b, "native"))
	require.Len(t, c.events, 1)

	c = &captured{}
	ext = New(c.recorder(), WithDisabledActions(ActionBillCreated))
	require.NoError(t, ext.OnBillCreated(ctx, b))
	require.NoError(t, ext.OnBillRejected(ctx, b))
	require.Len(t, c.events, 1)
	require.Equal(t, ActionBillRejected, c.events[0].Action)
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	ext := New(
		RecorderFunc(func(context.Context, *AuditEvent) error { return errors.New("backend down") }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, ext.OnBillPushed(context.Background(), sampleBill()))
}
