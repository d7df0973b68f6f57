// Package simulated provides an in-memory ledger implementing chain.Gateway.
//
// It enforces the payment contract's rules (pending-only settlement, exact
// native amount, sponsor token balance) and supports fault injection so
// reconciliation paths can be exercised deterministically.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/chain"
	"github.com/xraph/sponsor/identity"
	"github.com/xraph/sponsor/types"
)

// Method names a Gateway method for counters and fault injection.
type Method string

const (
	MethodCreateBill          Method = "CreateBill"
	MethodPayWithNative       Method = "PayWithNative"
	MethodPayWithToken        Method = "PayWithToken"
	MethodReject              Method = "Reject"
	MethodGetBill             Method = "GetBill"
	MethodBillsForRole        Method = "BillsForRole"
	MethodTokenBalance        Method = "TokenBalance"
	MethodSponsorTokenBalance Method = "SponsorTokenBalance"
)

// Revert reasons mirror the payment contract's require messages.
const (
	ReasonNotPending    = "Bill is not pending"
	ReasonWrongAmount   = "Incorrect payment amount"
	ReasonLowBalance    = "Insufficient sponsor token balance"
	ReasonUnknownBill   = "Bill does not exist"
	ReasonInvalidAmount = "Amount must be greater than zero"
)

type fault struct {
	err       error
	landFirst bool
	omitEvent bool
	revert    string
	remaining int
}

type entry struct {
	snap chain.Snapshot
}

// Ledger is a thread-safe in-memory ledger.
type Ledger struct {
	mu sync.Mutex

	bills         map[bill.ChainBillID]*entry
	beneficiaries map[string][]bill.ChainBillID
	sponsors      map[string][]bill.ChainBillID
	tokens        map[string]*big.Int
	sponsorFunds  map[string]*big.Int

	nextID  bill.ChainBillID
	block   uint64
	calls   map[Method]int
	faults  map[Method]*fault
	latency time.Duration
	now     func() time.Time
}

// New returns an empty ledger. Bill ids start at 1.
func New() *Ledger {
	return &Ledger{
		bills:         make(map[bill.ChainBillID]*entry),
		beneficiaries: make(map[string][]bill.ChainBillID),
		sponsors:      make(map[string][]bill.ChainBillID),
		tokens:        make(map[string]*big.Int),
		sponsorFunds:  make(map[string]*big.Int),
		nextID:        1,
		calls:         make(map[Method]int),
		faults:        make(map[Method]*fault),
		now:           time.Now,
	}
}

var _ chain.Gateway = (*Ledger)(nil)

// ──────────────────────────────────────────────────
// Fault injection and inspection
// ──────────────────────────────────────────────────

// FailNext makes the next call to m return err without touching ledger state.
func (l *Ledger) FailNext(m Method, err error) {
	l.setFault(m, &fault{err: err, remaining: 1})
}

// FailAlways makes every call to m fail with err until Reset.
func (l *Ledger) FailAlways(m Method, err error) {
	l.setFault(m, &fault{err: err, remaining: -1})
}

// UnavailableNext makes the next call to m fail as unreachable.
func (l *Ledger) UnavailableNext(m Method) {
	l.FailNext(m, chain.Unavailable(string(m), "", errors.New("simulated: connection refused")))
}

// RevertNext makes the next write to m revert with reason.
func (l *Ledger) RevertNext(m Method, reason string) {
	l.setFault(m, &fault{revert: reason, remaining: 1})
}

// LandThenTimeoutNext applies the next write to m but reports that its
// confirmation timed out.
func (l *Ledger) LandThenTimeoutNext(m Method) {
	l.setFault(m, &fault{landFirst: true, remaining: 1})
}

// OmitCreateEventNext applies the next create but returns a receipt without
// the creation event.
func (l *Ledger) OmitCreateEventNext() {
	l.setFault(MethodCreateBill, &fault{omitEvent: true, remaining: 1})
}

// SetLatency delays every call by d.
func (l *Ledger) SetLatency(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latency = d
}

// SetClock overrides the ledger's time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Reset clears all injected faults.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = make(map[Method]*fault)
}

// Calls returns how many times m was invoked.
func (l *Ledger) Calls(m Method) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[m]
}

// WriteCalls returns the number of state-changing calls attempted.
func (l *Ledger) WriteCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[MethodCreateBill] + l.calls[MethodPayWithNative] + l.calls[MethodPayWithToken] + l.calls[MethodReject]
}

// BillCount returns the number of bills on the ledger.
func (l *Ledger) BillCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bills)
}

// Seed creates a bill directly on the ledger, as another client would.
func (l *Ledger) Seed(req chain.CreateRequest) bill.ChainBillID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.create(req)
}

// SetStatus changes a bill's status outside the service, as another client would.
func (l *Ledger) SetStatus(billID bill.ChainBillID, status bill.Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.bills[billID]
	if !ok {
		return fmt.Errorf("simulated: no bill %s", billID)
	}
	e.snap.Status = status
	if status == bill.StatusPaid {
		t := l.now().UTC()
		e.snap.PaidAt = &t
	} else {
		e.snap.PaidAt = nil
	}
	return nil
}

// SetTokenBalance sets the value-token balance of address.
func (l *Ledger) SetTokenBalance(address string, amount types.Amount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[identity.NormalizeAddress(address)] = amount.Minor()
}

// SetSponsorTokenBalance sets the token balance the contract holds for a sponsor.
func (l *Ledger) SetSponsorTokenBalance(address string, amount types.Amount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sponsorFunds[identity.NormalizeAddress(address)] = amount.Minor()
}

// ──────────────────────────────────────────────────
// chain.Gateway
// ──────────────────────────────────────────────────

func (l *Ledger) CreateBill(ctx context.Context, req chain.CreateRequest) (*chain.CreateReceipt, error) {
	f, err := l.enter(ctx, MethodCreateBill)
	if err != nil {
		return nil, err
	}
	defer l.mu.Unlock()

	if f != nil && f.revert != "" {
		return nil, chain.Rejected(string(MethodCreateBill), f.revert, l.txHash(), nil)
	}
	if !req.Amount.IsPositive() {
		return nil, chain.Rejected(string(MethodCreateBill), ReasonInvalidAmount, l.txHash(), nil)
	}

	billID := l.create(req)
	rcpt := l.receipt()

	switch {
	case f != nil && f.omitEvent:
		return nil, chain.Mismatch(string(MethodCreateBill), rcpt.TransactionHash, errors.New("receipt has no BillCreated event"))
	case f != nil && f.landFirst:
		return nil, chain.Unavailable(string(MethodCreateBill), rcpt.TransactionHash, context.DeadlineExceeded)
	}

	return &chain.CreateReceipt{Receipt: rcpt, ChainBillID: billID}, nil
}

func (l *Ledger) PayWithNative(ctx context.Context, billID bill.ChainBillID, amount types.Amount) (*chain.Receipt, error) {
	return l.settle(ctx, MethodPayWithNative, billID, func(e *entry) string {
		if !e.snap.Amount.Equal(amount) {
			return ReasonWrongAmount
		}
		return ""
	}, bill.StatusPaid)
}

func (l *Ledger) PayWithToken(ctx context.Context, billID bill.ChainBillID) (*chain.Receipt, error) {
	return l.settle(ctx, MethodPayWithToken, billID, func(e *entry) string {
		sponsor := identity.NormalizeAddress(e.snap.Sponsor)
		funds := l.sponsorFunds[sponsor]
		need := e.snap.Amount.Minor()
		if funds == nil || funds.Cmp(need) < 0 {
			return ReasonLowBalance
		}
		l.sponsorFunds[sponsor] = new(big.Int).Sub(funds, need)
		dest := identity.NormalizeAddress(e.snap.PaymentDestination)
		l.tokens[dest] = new(big.Int).Add(l.balance(l.tokens, dest), need)
		return ""
	}, bill.StatusPaid)
}

func (l *Ledger) Reject(ctx context.Context, billID bill.ChainBillID) (*chain.Receipt, error) {
	return l.settle(ctx, MethodReject, billID, nil, bill.StatusRejected)
}

func (l *Ledger) GetBill(ctx context.Context, billID bill.ChainBillID) (*chain.Snapshot, error) {
	if _, err := l.enter(ctx, MethodGetBill); err != nil {
		return nil, err
	}
	defer l.mu.Unlock()

	e, ok := l.bills[billID]
	if !ok {
		return nil, chain.NotFound(string(MethodGetBill), nil)
	}
	snap := e.snap
	if snap.PaidAt != nil {
		t := *snap.PaidAt
		snap.PaidAt = &t
	}
	return &snap, nil
}

func (l *Ledger) BillsForRole(ctx context.Context, address string, role chain.Role) ([]bill.ChainBillID, error) {
	if _, err := l.enter(ctx, MethodBillsForRole); err != nil {
		return nil, err
	}
	defer l.mu.Unlock()

	index := l.beneficiaries
	if role == chain.RoleSponsor {
		index = l.sponsors
	}
	return slices.Clone(index[identity.NormalizeAddress(address)]), nil
}

func (l *Ledger) TokenBalance(ctx context.Context, address string) (types.Amount, error) {
	if _, err := l.enter(ctx, MethodTokenBalance); err != nil {
		return types.Amount{}, err
	}
	defer l.mu.Unlock()
	return types.AmountFromMinor(l.balance(l.tokens, identity.NormalizeAddress(address))), nil
}

func (l *Ledger) SponsorTokenBalance(ctx context.Context, address string) (types.Amount, error) {
	if _, err := l.enter(ctx, MethodSponsorTokenBalance); err != nil {
		return types.Amount{}, err
	}
	defer l.mu.Unlock()
	return types.AmountFromMinor(l.balance(l.sponsorFunds, identity.NormalizeAddress(address))), nil
}

// ──────────────────────────────────────────────────
// internals
// ──────────────────────────────────────────────────

// enter counts the call, applies latency and plain failures, and returns
// with l.mu held when err is nil.
func (l *Ledger) enter(ctx context.Context, m Method) (*fault, error) {
	l.mu.Lock()
	l.calls[m]++
	latency := l.latency
	f := l.takeFault(m)
	l.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, chain.Unavailable(string(m), "", ctx.Err())
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, chain.Unavailable(string(m), "", err)
	}
	if f != nil && f.err != nil {
		return nil, f.err
	}

	l.mu.Lock()
	return f, nil
}

func (l *Ledger) settle(ctx context.Context, m Method, billID bill.ChainBillID, check func(*entry) string, to bill.Status) (*chain.Receipt, error) {
	f, err := l.enter(ctx, m)
	if err != nil {
		return nil, err
	}
	defer l.mu.Unlock()

	if f != nil && f.revert != "" {
		return nil, chain.Rejected(string(m), f.revert, l.txHash(), nil)
	}

	e, ok := l.bills[billID]
	if !ok {
		return nil, chain.Rejected(string(m), ReasonUnknownBill, l.txHash(), nil)
	}
	if e.snap.Status != bill.StatusPending {
		return nil, chain.Rejected(string(m), ReasonNotPending, l.txHash(), nil)
	}
	if check != nil {
		if reason := check(e); reason != "" {
			return nil, chain.Rejected(string(m), reason, l.txHash(), nil)
		}
	}

	e.snap.Status = to
	if to == bill.StatusPaid {
		t := l.now().UTC()
		e.snap.PaidAt = &t
	}
	rcpt := l.receipt()

	if f != nil && f.landFirst {
		return nil, chain.Unavailable(string(m), rcpt.TransactionHash, context.DeadlineExceeded)
	}
	return &rcpt, nil
}

func (l *Ledger) create(req chain.CreateRequest) bill.ChainBillID {
	billID := l.nextID
	l.nextID++

	beneficiary := identity.NormalizeAddress(req.Beneficiary)
	sponsor := identity.NormalizeAddress(req.Sponsor)
	l.bills[billID] = &entry{snap: chain.Snapshot{
		ID:                 billID,
		Beneficiary:        beneficiary,
		Sponsor:            sponsor,
		PaymentDestination: req.Destination,
		Amount:             req.Amount,
		Description:        req.Description,
		Status:             bill.StatusPending,
		CreatedAt:          l.now().UTC().Truncate(time.Second),
	}}
	l.beneficiaries[beneficiary] = append(l.beneficiaries[beneficiary], billID)
	l.sponsors[sponsor] = append(l.sponsors[sponsor], billID)

	return billID
}

func (l *Ledger) takeFault(m Method) *fault {
	f, ok := l.faults[m]
	if !ok {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(l.faults, m)
		}
	}
	return f
}

func (l *Ledger) setFault(m Method, f *fault) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[m] = f
}

func (l *Ledger) receipt() chain.Receipt {
	l.block++
	return chain.Receipt{TransactionHash: l.txHash(), BlockNumber: l.block}
}

func (l *Ledger) txHash() string {
	return fmt.Sprintf("0x%064x", l.block)
}

func (l *Ledger) balance(m map[string]*big.Int, address string) *big.Int {
	if b, ok := m[address]; ok {
		return b
	}
	return new(big.Int)
}
