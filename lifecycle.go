package sponsor

import (
	"context"
	"errors"
	"strings"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/chain"
	"github.com/xraph/sponsor/id"
	"github.com/xraph/sponsor/identity"
	"github.com/xraph/sponsor/types"
)

// PaymentMethod selects how a sponsor settles a bill on the ledger.
type PaymentMethod string

const (
	// PayNative attaches the bill amount in the ledger's native currency.
	PayNative PaymentMethod = "native"
	// PayToken settles from the sponsor's value-token balance.
	PayToken PaymentMethod = "token"
)

// CreateBillInput is the request to create a sponsored bill.
type CreateBillInput struct {
	BeneficiaryID      id.UserID `json:"beneficiary_id"`
	SponsorID          id.UserID `json:"sponsor_id"`
	PaymentDestination string    `json:"payment_destination"`
	// Amount is a decimal string in whole units, e.g. "12.5".
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

func (in CreateBillInput) validate() (types.Amount, error) {
	switch {
	case in.BeneficiaryID.IsNil():
		return types.Amount{}, ValidationError{Field: "beneficiary_id", Message: "is required"}
	case in.SponsorID.IsNil():
		return types.Amount{}, ValidationError{Field: "sponsor_id", Message: "is required"}
	case strings.TrimSpace(in.PaymentDestination) == "":
		return types.Amount{}, ValidationError{Field: "payment_destination", Message: "is required"}
	case strings.TrimSpace(in.Description) == "":
		return types.Amount{}, ValidationError{Field: "description", Message: "is required"}
	}

	amount, err := types.ParseAmount(in.Amount)
	if err != nil {
		return types.Amount{}, ValidationError{Field: "amount", Message: err.Error()}
	}
	return amount, nil
}

func (in CreateBillInput) newBill(amount types.Amount, e *Engine) *bill.Bill {
	return &bill.Bill{
		Entity:             types.NewEntityAt(e.clock()),
		ID:                 id.NewBillID(),
		BeneficiaryID:      in.BeneficiaryID,
		SponsorID:          in.SponsorID,
		PaymentDestination: strings.TrimSpace(in.PaymentDestination),
		Amount:             amount,
		Description:        strings.TrimSpace(in.Description),
		Category:           in.Category,
		Status:             bill.StatusPending,
	}
}

// ──────────────────────────────────────────────────
// Writes
// ──────────────────────────────────────────────────

// CreateBill creates the bill on the ledger and then mirrors it locally.
//
// If the ledger accepts the bill but the local insert fails, CreateBill
// returns an *OrphanError naming the ledger bill id. The ledger write is not
// undone; ImportFromChain or SyncWallet adopts the bill later.
func (e *Engine) CreateBill(ctx context.Context, in CreateBillInput) (*bill.Bill, error) {
	amount, err := in.validate()
	if err != nil {
		return nil, err
	}

	beneficiary, sponsorUser, err := e.resolveParties(ctx, in.BeneficiaryID, in.SponsorID)
	if err != nil {
		return nil, err
	}

	b := in.newBill(amount, e)
	rcpt, err := e.gateway.CreateBill(ctx, e.createRequest(b, beneficiary, sponsorUser))
	if err != nil {
		return nil, e.chainFailed(ctx, "CreateBill", err)
	}

	b.ChainBillID = rcpt.ChainBillID.Ptr()
	b.IsPushedToBlockchain = true
	b.TransactionHash = rcpt.TransactionHash

	if err := e.store.CreateBill(ctx, b); err != nil {
		return nil, e.orphaned(ctx, id.Nil, rcpt.ChainBillID, rcpt.TransactionHash, err)
	}

	e.logger.Info("bill created",
		"bill_id", b.ID,
		"chain_bill_id", rcpt.ChainBillID,
		"tx", rcpt.TransactionHash,
	)
	e.plugins.EmitBillCreated(ctx, b)

	return b, nil
}

// DraftBill records a bill locally without touching the ledger. It can be
// published later with PushToBlockchain.
func (e *Engine) DraftBill(ctx context.Context, in CreateBillInput) (*bill.Bill, error) {
	amount, err := in.validate()
	if err != nil {
		return nil, err
	}
	for _, userID := range []id.UserID{in.BeneficiaryID, in.SponsorID} {
		if _, err := e.resolver.UserByID(ctx, userID); err != nil {
			return nil, e.identityFailed("party", userID, err)
		}
	}

	b := in.newBill(amount, e)
	if err := e.store.CreateBill(ctx, b); err != nil {
		return nil, storeError("draft bill", err)
	}

	e.logger.Debug("bill drafted", "bill_id", b.ID)
	return b, nil
}

// PayBill settles a pending bill on the ledger and mirrors the payment.
// amount is required for PayNative and ignored for PayToken.
func (e *Engine) PayBill(ctx context.Context, billID id.BillID, method PaymentMethod, amount string) (*bill.Bill, error) {
	b, err := e.loadSettleable(ctx, billID, "pay")
	if err != nil {
		return nil, err
	}

	var call func() (*chain.Receipt, error)
	switch method {
	case PayNative:
		if strings.TrimSpace(amount) == "" {
			return nil, ValidationError{Field: "amount", Message: "is required for native payment"}
		}
		value, err := types.ParseAmount(amount)
		if err != nil {
			return nil, ValidationError{Field: "amount", Message: err.Error()}
		}
		call = func() (*chain.Receipt, error) { return e.gateway.PayWithNative(ctx, *b.ChainBillID, value) }
	case PayToken:
		call = func() (*chain.Receipt, error) { return e.gateway.PayWithToken(ctx, *b.ChainBillID) }
	default:
		return nil, ValidationError{Field: "method", Message: "must be native or token"}
	}

	paid, err := e.settle(ctx, b, "Pay", bill.StatusPaid, call)
	if err != nil {
		return nil, err
	}

	e.logger.Info("bill paid", "bill_id", paid.ID, "method", method, "tx", paid.TransactionHash)
	e.plugins.EmitBillPaid(ctx, paid, string(method))
	return paid, nil
}

// RejectBill rejects a pending bill on the ledger and mirrors the rejection.
func (e *Engine) RejectBill(ctx context.Context, billID id.BillID) (*bill.Bill, error) {
	b, err := e.loadSettleable(ctx, billID, "reject")
	if err != nil {
		return nil, err
	}

	rejected, err := e.settle(ctx, b, "Reject", bill.StatusRejected, func() (*chain.Receipt, error) {
		return e.gateway.Reject(ctx, *b.ChainBillID)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("bill rejected", "bill_id", rejected.ID, "tx", rejected.TransactionHash)
	e.plugins.EmitBillRejected(ctx, rejected)
	return rejected, nil
}

// loadSettleable loads a bill and applies the guards shared by pay and
// reject. No ledger call is made when a guard fails.
func (e *Engine) loadSettleable(ctx context.Context, billID id.BillID, action string) (*bill.Bill, error) {
	b, err := e.store.GetBill(ctx, billID)
	if err != nil {
		return nil, storeError("load bill", err)
	}
	if b.Status != bill.StatusPending {
		return nil, &ConflictError{BillID: b.ID, Status: b.Status, Reason: "bill is already " + string(b.Status)}
	}
	if !b.IsPushedToBlockchain || b.ChainBillID == nil {
		return nil, &ConflictError{BillID: b.ID, Status: b.Status, Reason: "bill is not on the ledger; push it before you " + action}
	}
	return b, nil
}

// settle performs the ledger write, then the local compare-and-set.
func (e *Engine) settle(ctx context.Context, b *bill.Bill, op string, to bill.Status, call func() (*chain.Receipt, error)) (*bill.Bill, error) {
	rcpt, err := call()
	if err != nil {
		err = e.chainFailed(ctx, op, err)
		if errors.Is(err, ErrChainRejected) {
			// The ledger may have settled the bill elsewhere.
			e.refreshQuietly(ctx, b)
		}
		return nil, err
	}

	next, err := b.Apply(bill.Transition{To: to, TransactionHash: rcpt.TransactionHash}, e.clock())
	if err != nil {
		return nil, &ConflictError{BillID: b.ID, Status: b.Status, Err: err}
	}

	if err := e.store.UpdateBillStatus(ctx, &next); err != nil {
		if errors.Is(err, ErrBillNotPending) {
			return e.afterLostRace(ctx, b.ID, to)
		}
		return nil, e.orphaned(ctx, b.ID, *b.ChainBillID, rcpt.TransactionHash, err)
	}
	return &next, nil
}

// afterLostRace handles a confirmed ledger write whose local update found the
// row already terminal. A sweep that mirrored the same outcome is benign.
func (e *Engine) afterLostRace(ctx context.Context, billID id.BillID, to bill.Status) (*bill.Bill, error) {
	cur, err := e.store.GetBill(ctx, billID)
	if err != nil {
		return nil, storeError("reload bill", err)
	}
	if cur.Status == to {
		return cur, nil
	}
	return nil, &ConflictError{BillID: cur.ID, Status: cur.Status, Reason: "bill settled concurrently", Err: ErrBillNotPending}
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// BillView is a local bill merged with a fresh ledger read.
type BillView struct {
	Bill   *bill.Bill      `json:"bill"`
	Ledger *chain.Snapshot `json:"ledger,omitempty"`
	// Stale is set when the ledger could not be read; Bill may be out of date.
	Stale       bool   `json:"stale"`
	StaleReason string `json:"stale_reason,omitempty"`
	// Diverged is set when the ledger status differs from the local one.
	Diverged bool `json:"diverged"`
}

// GetBill returns the local bill with the ledger's current view. A failed
// ledger read marks the view stale instead of failing the call.
func (e *Engine) GetBill(ctx context.Context, billID id.BillID) (*BillView, error) {
	b, err := e.store.GetBill(ctx, billID)
	if err != nil {
		return nil, storeError("load bill", err)
	}

	view := &BillView{Bill: b}
	if b.ChainBillID == nil {
		return view, nil
	}

	snap, err := e.gateway.GetBill(ctx, *b.ChainBillID)
	if err != nil {
		err = e.chainFailed(ctx, "GetBill", err)
		view.Stale = true
		view.StaleReason = err.Error()
		return view, nil
	}

	view.Ledger = snap
	view.Diverged = snap.Status != b.Status
	return view, nil
}

// UserBills lists a user's local bills with the ledger's count for comparison.
type UserBills struct {
	Bills []*bill.Bill `json:"bills"`
	// LedgerBillCount is the number of distinct ledger bills naming the
	// user's wallet in the requested role.
	LedgerBillCount int  `json:"ledger_bill_count"`
	LedgerStale     bool `json:"ledger_stale"`
}

// ListBills returns the user's bills as sponsor, beneficiary or either,
// newest first.
func (e *Engine) ListBills(ctx context.Context, userID id.UserID, role bill.Role, limit, offset int) (*UserBills, error) {
	u, err := e.resolver.UserByID(ctx, userID)
	if err != nil {
		return nil, storeError("load user", err)
	}

	bills, err := e.store.ListBills(ctx, bill.ListOpts{UserID: userID, Role: role, Limit: limit, Offset: offset})
	if err != nil {
		return nil, storeError("list bills", err)
	}

	out := &UserBills{Bills: bills}
	if !u.HasWallet() {
		return out, nil
	}

	roles := []chain.Role{chain.RoleBeneficiary, chain.RoleSponsor}
	switch role {
	case bill.RoleSponsor:
		roles = []chain.Role{chain.RoleSponsor}
	case bill.RoleBeneficiary:
		roles = []chain.Role{chain.RoleBeneficiary}
	}

	ids, err := e.ledgerBillIDs(ctx, u.WalletAddress, roles...)
	if err != nil {
		out.LedgerStale = true
		return out, nil
	}
	out.LedgerBillCount = len(ids)
	return out, nil
}

// TokenBalance reads the value-token balance of address, or of the user's
// wallet when address is empty.
func (e *Engine) TokenBalance(ctx context.Context, userID id.UserID, address string) (types.Amount, error) {
	addr, err := e.balanceAddress(ctx, userID, address)
	if err != nil {
		return types.Amount{}, err
	}
	bal, err := e.gateway.TokenBalance(ctx, addr)
	if err != nil {
		return types.Amount{}, e.chainFailed(ctx, "TokenBalance", err)
	}
	return bal, nil
}

// SponsorTokenBalance reads the payment contract's token balance for a
// sponsor. It is reported as-is and never reconciled with TokenBalance.
func (e *Engine) SponsorTokenBalance(ctx context.Context, userID id.UserID, address string) (types.Amount, error) {
	addr, err := e.balanceAddress(ctx, userID, address)
	if err != nil {
		return types.Amount{}, err
	}
	bal, err := e.gateway.SponsorTokenBalance(ctx, addr)
	if err != nil {
		return types.Amount{}, e.chainFailed(ctx, "SponsorTokenBalance", err)
	}
	return bal, nil
}

func (e *Engine) balanceAddress(ctx context.Context, userID id.UserID, address string) (string, error) {
	if address = strings.TrimSpace(address); address != "" {
		return address, nil
	}
	u, err := e.resolveParty(ctx, "user", userID)
	if err != nil {
		return "", err
	}
	return u.WalletAddress, nil
}

// ──────────────────────────────────────────────────
// Helpers shared with reconciliation
// ──────────────────────────────────────────────────

func (e *Engine) resolveParties(ctx context.Context, beneficiaryID, sponsorID id.UserID) (*identity.User, *identity.User, error) {
	beneficiary, err := e.resolveParty(ctx, "beneficiary", beneficiaryID)
	if err != nil {
		return nil, nil, err
	}
	sponsorUser, err := e.resolveParty(ctx, "sponsor", sponsorID)
	if err != nil {
		return nil, nil, err
	}
	return beneficiary, sponsorUser, nil
}

func (e *Engine) resolveParty(ctx context.Context, party string, userID id.UserID) (*identity.User, error) {
	u, err := e.resolver.UserByID(ctx, userID)
	if err != nil {
		return nil, e.identityFailed(party, userID, err)
	}
	if !u.HasWallet() {
		return nil, &IdentityError{Party: party, UserID: userID}
	}
	return u, nil
}

func (e *Engine) identityFailed(party string, userID id.UserID, err error) error {
	if IsNotFound(err) {
		return &IdentityError{Party: party, UserID: userID, Err: err}
	}
	return storeError("resolve "+party, err)
}

func (e *Engine) createRequest(b *bill.Bill, beneficiary, sponsorUser *identity.User) chain.CreateRequest {
	return chain.CreateRequest{
		Beneficiary: beneficiary.WalletAddress,
		Sponsor:     sponsorUser.WalletAddress,
		Destination: b.PaymentDestination,
		Amount:      b.Amount,
		Description: b.Description,
	}
}

// chainFailed types an unclassified gateway error as unavailable, since its
// outcome on the ledger is unknown, and reports it to plugins.
func (e *Engine) chainFailed(ctx context.Context, op string, err error) error {
	var ce *chain.Error
	if !errors.As(err, &ce) {
		err = chain.Unavailable(op, "", err)
	}

	attrs := []any{"op", op, "kind", KindOf(err), "error", err}
	if tx := chain.SubmittedTx(err); tx != "" {
		attrs = append(attrs, "tx", tx)
	}
	e.logger.Warn("ledger call failed", attrs...)
	e.plugins.EmitChainError(ctx, op, err)

	return err
}

// orphaned reports a confirmed ledger write that the registry did not record.
// billID is id.Nil when no local row existed yet.
func (e *Engine) orphaned(ctx context.Context, billID id.BillID, chainID bill.ChainBillID, txHash string, cause error) error {
	err := &OrphanError{BillID: billID, ChainBillID: chainID, TxHash: txHash, Err: cause}
	e.logger.Error("ledger write not mirrored locally",
		"bill_id", billID.String(),
		"chain_bill_id", chainID,
		"tx", txHash,
		"error", cause,
	)
	e.plugins.EmitOrphanedChainWrite(ctx, chainID, txHash, cause)
	return err
}
