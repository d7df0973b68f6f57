// Package chain defines the port through which sponsor talks to the ledger
// that holds bills authoritatively.
//
// Every write blocks until the transaction is included and confirmed, and
// returns the confirmed receipt. Reads never mutate ledger state. Failures
// are reported as *Error values classified by kind; a read of an unknown
// bill is ErrBillNotFound, never an empty Snapshot.
package chain

import (
	"context"
	"time"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/types"
)

// Role selects which per-address bill index to read.
type Role int

const (
	RoleBeneficiary Role = iota
	RoleSponsor
)

func (r Role) String() string {
	if r == RoleSponsor {
		return "sponsor"
	}
	return "beneficiary"
}

// CreateRequest carries the ledger-facing fields of a new bill.
// Addresses are hex ledger addresses, not local user ids.
type CreateRequest struct {
	Beneficiary string
	Sponsor     string
	Destination string
	Amount      types.Amount
	Description string
}

// Receipt describes a confirmed transaction.
type Receipt struct {
	TransactionHash string `json:"transaction_hash"`
	BlockNumber     uint64 `json:"block_number"`
}

// CreateReceipt is a confirmed create together with the id the ledger assigned.
type CreateReceipt struct {
	Receipt
	ChainBillID bill.ChainBillID `json:"chain_bill_id"`
}

// Snapshot is the ledger's view of a bill at read time.
type Snapshot struct {
	ID                 bill.ChainBillID `json:"id"`
	Beneficiary        string           `json:"beneficiary"`
	Sponsor            string           `json:"sponsor"`
	PaymentDestination string           `json:"payment_destination"`
	Amount             types.Amount     `json:"amount"`
	Description        string           `json:"description"`
	Status             bill.Status      `json:"status"`
	CreatedAt          time.Time        `json:"created_at"`
	PaidAt             *time.Time       `json:"paid_at,omitempty"`
}

// Gateway is the single point of contact with the ledger.
type Gateway interface {
	CreateBill(ctx context.Context, req CreateRequest) (*CreateReceipt, error)
	PayWithNative(ctx context.Context, billID bill.ChainBillID, amount types.Amount) (*Receipt, error)
	PayWithToken(ctx context.Context, billID bill.ChainBillID) (*Receipt, error)
	Reject(ctx context.Context, billID bill.ChainBillID) (*Receipt, error)

	GetBill(ctx context.Context, billID bill.ChainBillID) (*Snapshot, error)
	BillsForRole(ctx context.Context, address string, role Role) ([]bill.ChainBillID, error)
	// TokenBalance reads the value-token balance of address.
	TokenBalance(ctx context.Context, address string) (types.Amount, error)
	// SponsorTokenBalance reads the balance the payment contract holds
	// for a sponsor. It is not assumed to equal TokenBalance.
	SponsorTokenBalance(ctx context.Context, address string) (types.Amount, error)
}
