// Package bill defines the locally mirrored sponsored bill and the rules
// for moving it between states.
package bill

import (
	"fmt"
	"strconv"
	"time"

	"github.com/xraph/sponsor/id"
	"github.com/xraph/sponsor/types"
)

// Status is the settlement state of a bill.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusPaid     Status = "PAID"
	StatusRejected Status = "REJECTED"
)

// ledgerStatuses is the index order the payment contract encodes statuses in.
var ledgerStatuses = [...]Status{StatusPending, StatusPaid, StatusRejected}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusRejected
}

// ParseStatus parses a stored status value.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", fmt.Errorf("bill: unknown status %q", s)
	}
	return st, nil
}

// StatusFromLedger maps the contract's enum index to a Status.
func StatusFromLedger(idx uint8) (Status, error) {
	if int(idx) >= len(ledgerStatuses) {
		return "", fmt.Errorf("bill: unknown ledger status index %d", idx)
	}
	return ledgerStatuses[idx], nil
}

// ChainBillID is the identifier the payment contract assigns to a bill.
type ChainBillID uint64

func (c ChainBillID) String() string { return strconv.FormatUint(uint64(c), 10) }

// Ptr returns a pointer to a copy of c.
func (c ChainBillID) Ptr() *ChainBillID { return &c }

// Bill is the local mirror of a sponsored bill.
type Bill struct {
	types.Entity
	ID                   id.BillID    `json:"id"`
	ChainBillID          *ChainBillID `json:"chain_bill_id,omitempty"`
	BeneficiaryID        id.UserID    `json:"beneficiary_id"`
	SponsorID            id.UserID    `json:"sponsor_id"`
	PaymentDestination   string       `json:"payment_destination"`
	Amount               types.Amount `json:"amount"`
	Description          string       `json:"description"`
	Category             string       `json:"category,omitempty"`
	Status               Status       `json:"status"`
	IsPushedToBlockchain bool         `json:"is_pushed_to_blockchain"`
	TransactionHash      string       `json:"transaction_hash,omitempty"`
	PaidAt               *time.Time   `json:"paid_at,omitempty"`
}

// Involves reports whether the user is the bill's sponsor or beneficiary.
func (b *Bill) Involves(userID id.UserID) bool {
	s := userID.String()
	return s != "" && (b.SponsorID.String() == s || b.BeneficiaryID.String() == s)
}

// Role selects which party of a bill a listing filters on.
type Role string

const (
	RoleAny         Role = ""
	RoleSponsor     Role = "sponsor"
	RoleBeneficiary Role = "beneficiary"
)

// ListOpts filters local bill listings.
type ListOpts struct {
	UserID id.UserID
	Role   Role
	Status Status
	Limit  int
	Offset int
}

// PendingCursor is a keyset position in the oldest-first listing of
// mirrored PENDING bills. Rows sort by (CreatedAt, ID) ascending.
type PendingCursor struct {
	CreatedAt time.Time
	ID        id.BillID
}

// CursorOf returns the position just past b.
func CursorOf(b *Bill) *PendingCursor {
	return &PendingCursor{CreatedAt: b.CreatedAt, ID: b.ID}
}

// Covers reports whether b sorts at or before the cursor position. A nil
// cursor covers nothing.
func (c *PendingCursor) Covers(b *Bill) bool {
	if c == nil {
		return false
	}
	if !b.CreatedAt.Equal(c.CreatedAt) {
		return b.CreatedAt.Before(c.CreatedAt)
	}
	return b.ID.String() <= c.ID.String()
}
