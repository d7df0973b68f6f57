package bill

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoChange is returned by Apply when the bill is already in the target status.
var ErrNoChange = errors.New("bill: already in target status")

// TransitionError reports a transition that the state machine forbids.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("bill: cannot move from %s to %s", e.From, e.To)
}

// Transition describes a status change to apply to a bill.
type Transition struct {
	To Status
	// PaidAt is recorded when moving to PAID.
	PaidAt *time.Time
	// TransactionHash replaces the stored hash when non-empty.
	TransactionHash string
}

// Apply returns the bill after the transition. The receiver is not modified.
// Only PENDING -> PAID and PENDING -> REJECTED are allowed.
func (b Bill) Apply(t Transition, now time.Time) (Bill, error) {
	if t.To == b.Status {
		return b, ErrNoChange
	}
	if b.Status != StatusPending || !t.To.IsTerminal() {
		return b, &TransitionError{From: b.Status, To: t.To}
	}

	next := b
	next.Status = t.To
	if t.To == StatusPaid {
		paid := now.UTC()
		if t.PaidAt != nil {
			paid = t.PaidAt.UTC()
		}
		next.PaidAt = &paid
	}
	if t.TransactionHash != "" {
		next.TransactionHash = t.TransactionHash
	}
	next.TouchAt(now)

	return next, nil
}

// MarkPushed returns the bill linked to its ledger identity.
// A bill can be linked exactly once.
func (b Bill) MarkPushed(chainID ChainBillID, txHash string, now time.Time) (Bill, error) {
	if b.IsPushedToBlockchain || b.ChainBillID != nil {
		return b, fmt.Errorf("bill: %s is already linked to ledger bill %s", b.ID, b.ChainBillID)
	}

	next := b
	next.ChainBillID = chainID.Ptr()
	next.IsPushedToBlockchain = true
	if txHash != "" {
		next.TransactionHash = txHash
	}
	next.TouchAt(now)

	return next, nil
}

// Validate checks the structural invariants of a bill row.
func (b *Bill) Validate() error {
	if b.ID.IsNil() {
		return errors.New("bill: missing id")
	}
	if !b.Status.IsValid() {
		return fmt.Errorf("bill: unknown status %q", b.Status)
	}
	if b.IsPushedToBlockchain != (b.ChainBillID != nil) {
		return errors.New("bill: pushed flag and ledger id disagree")
	}
	if b.Status == StatusPaid && b.PaidAt == nil {
		return errors.New("bill: paid without paid_at")
	}
	return nil
}
