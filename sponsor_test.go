package sponsor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/sponsor"
	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/chain"
	"github.com/xraph/sponsor/chain/simulated"
	"github.com/xraph/sponsor/identity"
	"github.com/xraph/sponsor/store/memory"
)

const (
	aliceWallet = "0x1111111111111111111111111111111111111111"
	bobWallet   = "0x2222222222222222222222222222222222222222"
	carolWallet = "0x4444444444444444444444444444444444444444"
	shopWallet  = "0x3333333333333333333333333333333333333333"
)

// flakyStore fails bill writes on demand.
type flakyStore struct {
	*memory.Store
	failCreate atomic.Bool
	// racePush makes MarkBillPushed behave as if another push won.
	racePush atomic.Bool
}

func (s *flakyStore) MarkBillPushed(ctx context.Context, b *bill.Bill) error {
	if s.racePush.Load() {
		return sponsor.ErrBillAlreadyPushed
	}
	return s.Store.MarkBillPushed(ctx, b)
}

func (s *flakyStore) CreateBill(ctx context.Context, b *bill.Bill) error {
	if s.failCreate.Load() {
		return errors.New("disk full")
	}
	return s.Store.CreateBill(ctx, b)
}

// hookRecorder counts plugin callbacks.
type hookRecorder struct {
	mu        sync.Mutex
	created   int
	paid      []string
	pushed    int
	imported  map[bool]int
	refreshed []bill.Status
	synced    int
	orphans   []bill.ChainBillID
}

func (h *hookRecorder) Name() string { return "recorder" }

func (h *hookRecorder) OnBillCreated(context.Context, *bill.Bill) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created++
	return nil
}

func (h *hookRecorder) OnBillPaid(_ context.Context, _ *bill.Bill, method string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paid = append(h.paid, method)
	return nil
}

func (h *hookRecorder) OnBillPushed(context.Context, *bill.Bill) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushed++
	return nil
}

func (h *hookRecorder) OnBillImported(_ context.Context, _ *bill.Bill, created bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.imported == nil {
		h.imported = make(map[bool]int)
	}
	h.imported[created]++
	return nil
}

func (h *hookRecorder) OnBillStatusRefreshed(_ context.Context, _ *bill.Bill, from bill.Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshed = append(h.refreshed, from)
	return nil
}

func (h *hookRecorder) OnWalletSynced(context.Context, sponsor.ID, int, int, int, time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.synced++
	return nil
}

func (h *hookRecorder) OnOrphanedChainWrite(_ context.Context, chainID bill.ChainBillID, _ string, _ error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.orphans = append(h.orphans, chainID)
	return nil
}

type fixture struct {
	engine *sponsor.Engine
	ledger *simulated.Ledger
	store  *flakyStore
	hooks  *hookRecorder

	alice *identity.User // beneficiary
	bob   *identity.User // sponsor
	carol *identity.User // no wallet
}

func newFixture(t *testing.T, opts ...sponsor.Option) *fixture {
	t.Helper()

	f := &fixture{
		ledger: simulated.New(),
		store:  &flakyStore{Store: memory.New()},
		hooks:  &hookRecorder{},
	}
	opts = append([]sponsor.Option{
		sponsor.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		sponsor.WithPlugin(f.hooks),
		sponsor.WithRefreshInterval(0),
	}, opts...)
	f.engine = sponsor.New(f.store, f.ledger, opts...)

	ctx := context.Background()
	var err error
	f.alice, err = f.engine.RegisterUser(ctx, sponsor.RegisterUserInput{Username: "alice", WalletAddress: aliceWallet})
	require.NoError(t, err)
	f.bob, err = f.engine.RegisterUser(ctx, sponsor.RegisterUserInput{Username: "bob", WalletAddress: bobWallet})
	require.NoError(t, err)
	f.carol, err = f.engine.RegisterUser(ctx, sponsor.RegisterUserInput{Username: "carol"})
	require.NoError(t, err)

	return f
}

func (f *fixture) input(amount string) sponsor.CreateBillInput {
	return sponsor.CreateBillInput{
		BeneficiaryID:      f.alice.ID,
		SponsorID:          f.bob.ID,
		PaymentDestination: shopWallet,
		Amount:             amount,
		Description:        "electricity",
		Category:           "utilities",
	}
}

func (f *fixture) create(t *testing.T, amount string) *bill.Bill {
	t.Helper()
	b, err := f.engine.CreateBill(context.Background(), f.input(amount))
	require.NoError(t, err)
	return b
}

// seed creates a bill on the ledger behind the engine's back.
func (f *fixture) seed(beneficiary, sponsorAddr, amount string) bill.ChainBillID {
	return f.ledger.Seed(chain.CreateRequest{
		Beneficiary: beneficiary,
		Sponsor:     sponsorAddr,
		Destination: shopWallet,
		Amount:      sponsor.MustParseAmount(amount),
		Description: "seeded",
	})
}

func requireKind(t *testing.T, err error, kind sponsor.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, sponsor.KindOf(err), "error: %v", err)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, sponsor.WithRefreshInterval(10*time.Millisecond))
	ctx := context.Background()

	b := f.create(t, "5")
	require.NoError(t, f.engine.Start(ctx))

	require.NoError(t, f.ledger.SetStatus(*b.ChainBillID, bill.StatusRejected))
	require.Eventually(t, func() bool {
		got, err := f.store.GetBill(ctx, b.ID)
		return err == nil && got.Status == bill.StatusRejected
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.engine.Stop())
	require.NoError(t, f.engine.Stop())
	require.ErrorIs(t, f.store.Ping(ctx), sponsor.ErrStoreClosed)
}
