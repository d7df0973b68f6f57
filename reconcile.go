package sponsor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/chain"
	"github.com/xraph/sponsor/id"
	"github.com/xraph/sponsor/identity"
	"github.com/xraph/sponsor/types"
)

// ──────────────────────────────────────────────────
// Push
// ──────────────────────────────────────────────────

// PushToBlockchain publishes a local-only bill to the ledger. The requester
// must be the bill's sponsor or beneficiary.
func (e *Engine) PushToBlockchain(ctx context.Context, billID id.BillID, requesterID id.UserID) (*bill.Bill, error) {
	b, err := e.store.GetBill(ctx, billID)
	if err != nil {
		return nil, storeError("load bill", err)
	}
	if b.IsPushedToBlockchain {
		return nil, &ConflictError{BillID: b.ID, Status: b.Status, Reason: "bill is already on the ledger", Err: ErrBillAlreadyPushed}
	}
	if !b.Involves(requesterID) {
		return nil, fmt.Errorf("%w: user %s is not a party to bill %s", ErrUnauthorized, requesterID, b.ID)
	}
	if b.Status != bill.StatusPending {
		return nil, &ConflictError{BillID: b.ID, Status: b.Status, Reason: "only pending bills can be pushed"}
	}

	beneficiary, sponsorUser, err := e.resolveParties(ctx, b.BeneficiaryID, b.SponsorID)
	if err != nil {
		return nil, err
	}

	rcpt, err := e.gateway.CreateBill(ctx, e.createRequest(b, beneficiary, sponsorUser))
	if err != nil {
		return nil, e.chainFailed(ctx, "CreateBill", err)
	}

	next, err := b.MarkPushed(rcpt.ChainBillID, rcpt.TransactionHash, e.clock())
	if err != nil {
		return nil, e.orphaned(ctx, b.ID, rcpt.ChainBillID, rcpt.TransactionHash, err)
	}
	if err := e.store.MarkBillPushed(ctx, &next); err != nil {
		// On ErrBillAlreadyPushed a concurrent push won and the row mirrors
		// that push's ledger bill; this one is left for an operator.
		return nil, e.orphaned(ctx, b.ID, rcpt.ChainBillID, rcpt.TransactionHash, err)
	}

	e.logger.Info("bill pushed to ledger",
		"bill_id", next.ID,
		"chain_bill_id", rcpt.ChainBillID,
		"tx", rcpt.TransactionHash,
	)
	e.plugins.EmitBillPushed(ctx, &next)

	return &next, nil
}

// ──────────────────────────────────────────────────
// Import / refresh
// ──────────────────────────────────────────────────

// ImportOutcome describes what an import did to the registry.
type ImportOutcome string

const (
	ImportCreated   ImportOutcome = "created"
	ImportUpdated   ImportOutcome = "updated"
	ImportUnchanged ImportOutcome = "unchanged"
)

// ImportResult is the local row after an import together with what changed.
type ImportResult struct {
	Bill    *bill.Bill    `json:"bill"`
	Outcome ImportOutcome `json:"outcome"`
}

// ImportFromChain mirrors a ledger bill locally. An existing row is
// refreshed; otherwise both parties are resolved by ledger address and a new
// row is inserted. Importing the same bill twice yields one row.
func (e *Engine) ImportFromChain(ctx context.Context, chainID bill.ChainBillID) (*ImportResult, error) {
	snap, err := e.gateway.GetBill(ctx, chainID)
	if err != nil {
		return nil, e.chainFailed(ctx, "GetBill", err)
	}
	return e.importSnapshot(ctx, snap)
}

// RefreshBill re-reads one mirrored bill from the ledger and applies any
// status change.
func (e *Engine) RefreshBill(ctx context.Context, billID id.BillID) (*ImportResult, error) {
	b, err := e.store.GetBill(ctx, billID)
	if err != nil {
		return nil, storeError("load bill", err)
	}
	if b.ChainBillID == nil {
		return nil, &ConflictError{BillID: b.ID, Status: b.Status, Reason: "bill is not on the ledger"}
	}

	snap, err := e.gateway.GetBill(ctx, *b.ChainBillID)
	if err != nil {
		return nil, e.chainFailed(ctx, "GetBill", err)
	}
	return e.applySnapshot(ctx, b, snap)
}

func (e *Engine) importSnapshot(ctx context.Context, snap *chain.Snapshot) (*ImportResult, error) {
	for attempt := 0; ; attempt++ {
		existing, err := e.store.GetBillByChainID(ctx, snap.ID)
		switch {
		case err == nil:
			return e.applySnapshot(ctx, existing, snap)
		case !IsNotFound(err):
			return nil, storeError("load mirrored bill", err)
		}

		b, err := e.billFromSnapshot(ctx, snap)
		if err != nil {
			return nil, err
		}

		err = e.store.CreateBill(ctx, b)
		if err == nil {
			e.logger.Info("ledger bill imported", "bill_id", b.ID, "chain_bill_id", snap.ID)
			e.plugins.EmitBillImported(ctx, b, true)
			return &ImportResult{Bill: b, Outcome: ImportCreated}, nil
		}
		if !errors.Is(err, ErrDuplicateChainBillID) || attempt >= e.importRetries {
			return nil, storeError("insert imported bill", err)
		}
		e.logger.Debug("import lost insert race, retrying as update",
			"chain_bill_id", snap.ID,
			"attempt", attempt+1,
		)
	}
}

func (e *Engine) billFromSnapshot(ctx context.Context, snap *chain.Snapshot) (*bill.Bill, error) {
	beneficiary, err := e.userByAddress(ctx, "beneficiary", snap.Beneficiary)
	if err != nil {
		return nil, err
	}
	sponsorUser, err := e.userByAddress(ctx, "sponsor", snap.Sponsor)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	b := &bill.Bill{
		Entity:               types.NewEntityAt(now),
		ID:                   id.NewBillID(),
		ChainBillID:          snap.ID.Ptr(),
		BeneficiaryID:        beneficiary.ID,
		SponsorID:            sponsorUser.ID,
		PaymentDestination:   snap.PaymentDestination,
		Amount:               snap.Amount,
		Description:          snap.Description,
		Status:               snap.Status,
		IsPushedToBlockchain: true,
	}
	if !snap.CreatedAt.IsZero() {
		b.CreatedAt = snap.CreatedAt.UTC()
	}
	if snap.Status == bill.StatusPaid {
		paid := now
		if snap.PaidAt != nil {
			paid = snap.PaidAt.UTC()
		}
		b.PaidAt = &paid
	}
	return b, nil
}

func (e *Engine) userByAddress(ctx context.Context, party, address string) (*identity.User, error) {
	u, err := e.resolver.UserByAddress(ctx, address)
	if err == nil {
		return u, nil
	}
	if IsNotFound(err) {
		return nil, &IdentityError{Party: party, Address: address, Err: err}
	}
	return nil, storeError("resolve "+party, err)
}

// applySnapshot moves a local row to the ledger's status. A local terminal
// status that disagrees with the ledger is reported, never overwritten.
func (e *Engine) applySnapshot(ctx context.Context, b *bill.Bill, snap *chain.Snapshot) (*ImportResult, error) {
	if snap.Status == b.Status {
		return &ImportResult{Bill: b, Outcome: ImportUnchanged}, nil
	}
	if b.Status.IsTerminal() {
		return nil, &ConflictError{
			BillID: b.ID,
			Status: b.Status,
			Reason: fmt.Sprintf("local status %s contradicts ledger status %s", b.Status, snap.Status),
		}
	}

	next, err := b.Apply(bill.Transition{To: snap.Status, PaidAt: snap.PaidAt}, e.clock())
	if err != nil {
		return nil, &ConflictError{BillID: b.ID, Status: b.Status, Err: err}
	}

	if err := e.store.UpdateBillStatus(ctx, &next); err != nil {
		if !errors.Is(err, ErrBillNotPending) {
			return nil, storeError("update bill status", err)
		}
		cur, rerr := e.store.GetBill(ctx, b.ID)
		if rerr != nil {
			return nil, storeError("reload bill", rerr)
		}
		if cur.Status == snap.Status {
			return &ImportResult{Bill: cur, Outcome: ImportUnchanged}, nil
		}
		return nil, &ConflictError{BillID: cur.ID, Status: cur.Status, Reason: "bill changed concurrently", Err: err}
	}

	e.logger.Info("bill status refreshed from ledger",
		"bill_id", next.ID,
		"from", b.Status,
		"to", next.Status,
	)
	e.plugins.EmitBillImported(ctx, &next, false)

	return &ImportResult{Bill: &next, Outcome: ImportUpdated}, nil
}

// refreshQuietly applies the ledger's view of b, logging instead of failing.
func (e *Engine) refreshQuietly(ctx context.Context, b *bill.Bill) {
	snap, err := e.gateway.GetBill(ctx, *b.ChainBillID)
	if err != nil {
		return
	}
	if _, err := e.applySnapshot(ctx, b, snap); err != nil {
		e.logger.Warn("refresh after rejected ledger write failed", "bill_id", b.ID, "error", err)
	}
}

// ──────────────────────────────────────────────────
// Wallet sync
// ──────────────────────────────────────────────────

// ItemStatus is the per-item outcome of a batch.
type ItemStatus string

const (
	ItemImported  ItemStatus = "imported"
	ItemUpdated   ItemStatus = "updated"
	ItemUnchanged ItemStatus = "unchanged"
	ItemFailed    ItemStatus = "failed"
)

// SyncItem reports the outcome for a single ledger bill.
type SyncItem struct {
	ChainBillID bill.ChainBillID `json:"chain_bill_id"`
	BillID      id.BillID        `json:"bill_id,omitempty"`
	Status      ItemStatus       `json:"status"`
	ErrorKind   ErrorKind        `json:"error_kind,omitempty"`
	Error       string           `json:"error,omitempty"`
	err         error
}

// SyncReport summarizes a wallet sync. New + AlreadyKnown == Total.
type SyncReport struct {
	UserID       id.UserID     `json:"user_id"`
	Wallet       string        `json:"wallet"`
	Total        int           `json:"total"`
	New          int           `json:"new"`
	AlreadyKnown int           `json:"already_known"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Items        []SyncItem    `json:"items"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Partial reports whether some items failed.
func (r *SyncReport) Partial() bool { return r.Failed > 0 }

// Err returns a *BatchError when any item failed.
func (r *SyncReport) Err() error {
	return batchErr(r.New, itemErrors(r.Items))
}

// SyncWallet imports every ledger bill naming the wallet as beneficiary or
// sponsor that is not already mirrored. Item failures are recorded in the
// report and do not stop the batch; the call itself fails only when the
// wallet does not belong to the user or the ledger index cannot be read.
func (e *Engine) SyncWallet(ctx context.Context, userID id.UserID, walletAddress string) (*SyncReport, error) {
	start := time.Now() // latency only; the injected clock stamps rows

	u, err := e.resolver.UserByID(ctx, userID)
	if err != nil {
		return nil, storeError("load user", err)
	}
	if !identity.SameAddress(u.WalletAddress, walletAddress) {
		return nil, ValidationError{Field: "wallet_address", Message: "does not match the user's linked wallet"}
	}

	ids, err := e.ledgerBillIDs(ctx, walletAddress, chain.RoleBeneficiary, chain.RoleSponsor)
	if err != nil {
		return nil, err
	}

	known, err := e.store.ListMirroredChainIDs(ctx, ids)
	if err != nil {
		return nil, storeError("list mirrored bills", err)
	}
	remaining := slices.DeleteFunc(slices.Clone(ids), func(cid bill.ChainBillID) bool {
		return slices.Contains(known, cid)
	})

	items := make([]SyncItem, len(remaining))
	var g errgroup.Group
	g.SetLimit(e.syncConcurrency)
	for i, cid := range remaining {
		g.Go(func() error {
			items[i] = e.syncOne(ctx, cid)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // items never return errors

	report := &SyncReport{
		UserID:       userID,
		Wallet:       identity.NormalizeAddress(walletAddress),
		Total:        len(ids),
		New:          len(remaining),
		AlreadyKnown: len(ids) - len(remaining),
		Items:        items,
		Elapsed:      time.Since(start),
	}
	for _, it := range items {
		if it.Status == ItemFailed {
			report.Failed++
		} else {
			report.Succeeded++
		}
	}

	e.logger.Info("wallet synced",
		"user_id", userID,
		"total", report.Total,
		"new", report.New,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
	)
	e.plugins.EmitWalletSynced(ctx, userID, report.Total, report.Succeeded, report.Failed, report.Elapsed)

	return report, nil
}

func (e *Engine) syncOne(ctx context.Context, cid bill.ChainBillID) SyncItem {
	res, err := e.ImportFromChain(ctx, cid)
	if err != nil {
		return SyncItem{ChainBillID: cid, Status: ItemFailed, ErrorKind: KindOf(err), Error: err.Error(), err: err}
	}

	item := SyncItem{ChainBillID: cid, BillID: res.Bill.ID}
	switch res.Outcome {
	case ImportCreated:
		item.Status = ItemImported
	case ImportUpdated:
		item.Status = ItemUpdated
	default:
		item.Status = ItemUnchanged
	}
	return item
}

// ledgerBillIDs reads the per-role indexes concurrently and returns their
// union in first-seen order.
func (e *Engine) ledgerBillIDs(ctx context.Context, address string, roles ...chain.Role) ([]bill.ChainBillID, error) {
	lists := make([][]bill.ChainBillID, len(roles))

	g, gctx := errgroup.WithContext(ctx)
	for i, role := range roles {
		g.Go(func() error {
			ids, err := e.gateway.BillsForRole(gctx, address, role)
			if err != nil {
				return e.chainFailed(ctx, "BillsForRole", err)
			}
			lists[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[bill.ChainBillID]struct{})
	union := make([]bill.ChainBillID, 0)
	for _, list := range lists {
		for _, cid := range list {
			if _, dup := seen[cid]; dup {
				continue
			}
			seen[cid] = struct{}{}
			union = append(union, cid)
		}
	}
	return union, nil
}

// ──────────────────────────────────────────────────
// Status sweep
// ──────────────────────────────────────────────────

// RefreshItem reports the sweep outcome for one bill.
type RefreshItem struct {
	BillID      id.BillID        `json:"bill_id"`
	ChainBillID bill.ChainBillID `json:"chain_bill_id"`
	From        bill.Status      `json:"from"`
	To          bill.Status      `json:"to"`
	Status      ItemStatus       `json:"status"`
	ErrorKind   ErrorKind        `json:"error_kind,omitempty"`
	Error       string           `json:"error,omitempty"`
	err         error
}

// RefreshReport summarizes a pending-status sweep.
type RefreshReport struct {
	Scanned int           `json:"scanned"`
	Updated int           `json:"updated"`
	Failed  int           `json:"failed"`
	Items   []RefreshItem `json:"items"`
	Elapsed time.Duration `json:"elapsed"`
}

// Err returns a *BatchError when any item failed.
func (r *RefreshReport) Err() error {
	errs := make([]error, 0, r.Failed)
	for _, it := range r.Items {
		if it.err != nil {
			errs = append(errs, it.err)
		}
	}
	return batchErr(r.Scanned, errs)
}

// RefreshPendingStatuses re-reads every mirrored PENDING bill and applies
// statuses that changed on the ledger. Ledger state always wins; nothing is
// written to the ledger. Rows are read in keyset pages of the sweep batch
// size until the listing is exhausted.
func (e *Engine) RefreshPendingStatuses(ctx context.Context) (*RefreshReport, error) {
	start := time.Now() // latency only; the injected clock stamps rows

	report := &RefreshReport{Items: make([]RefreshItem, 0)}
	var cursor *bill.PendingCursor
	for {
		page, err := e.store.ListPendingMirrored(ctx, cursor, e.sweepBatchSize)
		if err != nil {
			return nil, storeError("list pending bills", err)
		}
		if len(page) == 0 {
			break
		}

		items := make([]RefreshItem, len(page))
		var g errgroup.Group
		g.SetLimit(e.syncConcurrency)
		for i, b := range page {
			g.Go(func() error {
				items[i] = e.refreshOne(ctx, b)
				return nil
			})
		}
		_ = g.Wait() //nolint:errcheck // items never return errors
		report.Items = append(report.Items, items...)

		if e.sweepBatchSize <= 0 || len(page) < e.sweepBatchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cursor = bill.CursorOf(page[len(page)-1])
	}

	report.Scanned = len(report.Items)
	report.Elapsed = time.Since(start)
	for _, it := range report.Items {
		switch it.Status {
		case ItemUpdated:
			report.Updated++
		case ItemFailed:
			report.Failed++
		}
	}

	e.logger.Debug("status sweep complete",
		"scanned", report.Scanned,
		"updated", report.Updated,
		"failed", report.Failed,
	)
	e.plugins.EmitStatusSweep(ctx, report.Scanned, report.Updated, report.Failed, report.Elapsed)

	return report, nil
}

func (e *Engine) refreshOne(ctx context.Context, b *bill.Bill) RefreshItem {
	item := RefreshItem{BillID: b.ID, ChainBillID: *b.ChainBillID, From: b.Status, To: b.Status}
	fail := func(err error) RefreshItem {
		item.Status = ItemFailed
		item.ErrorKind = KindOf(err)
		item.Error = err.Error()
		item.err = err
		return item
	}

	snap, err := e.gateway.GetBill(ctx, *b.ChainBillID)
	if err != nil {
		return fail(e.chainFailed(ctx, "GetBill", err))
	}

	res, err := e.applySnapshot(ctx, b, snap)
	if err != nil {
		return fail(err)
	}

	item.To = res.Bill.Status
	item.Status = ItemUnchanged
	if res.Outcome == ImportUpdated {
		item.Status = ItemUpdated
		e.plugins.EmitBillStatusRefreshed(ctx, res.Bill, b.Status)
	}
	return item
}

func itemErrors(items []SyncItem) []error {
	errs := make([]error, 0)
	for _, it := range items {
		if it.err != nil {
			errs = append(errs, it.err)
		}
	}
	return errs
}

func batchErr(total int, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &BatchError{MultiError: MultiError{Errors: errs}, Total: total}
}
