// Package store defines the unified persistence interface for the bill
// registry and the user directory.
package store

import (
	"context"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/id"
	"github.com/xraph/sponsor/identity"
)

// Store is the unified storage interface for all sponsor entities.
//
// Status and ledger-link updates are compare-and-set: they apply only while
// the row is still PENDING (resp. not yet pushed), so a terminal row is never
// overwritten by a racing writer. A unique index on the ledger bill id is the
// only serialization between concurrent importers.
type Store interface {
	// Bill methods

	// CreateBill inserts a new row. It returns sponsor.ErrDuplicateChainBillID
	// when another row already mirrors the same ledger bill.
	CreateBill(ctx context.Context, b *bill.Bill) error
	GetBill(ctx context.Context, billID id.BillID) (*bill.Bill, error)
	GetBillByChainID(ctx context.Context, chainID bill.ChainBillID) (*bill.Bill, error)
	ListBills(ctx context.Context, opts bill.ListOpts) ([]*bill.Bill, error)
	// ListMirroredChainIDs returns the subset of ids already mirrored locally.
	ListMirroredChainIDs(ctx context.Context, ids []bill.ChainBillID) ([]bill.ChainBillID, error)
	// ListPendingMirrored returns up to limit pushed rows still PENDING that
	// sort after the cursor, ordered by (created_at, id). A nil cursor starts
	// at the oldest row.
	ListPendingMirrored(ctx context.Context, after *bill.PendingCursor, limit int) ([]*bill.Bill, error)
	// UpdateBillStatus persists status, paid_at and transaction hash while the
	// stored row is PENDING, else sponsor.ErrBillNotPending.
	UpdateBillStatus(ctx context.Context, b *bill.Bill) error
	// MarkBillPushed persists the ledger link while the stored row is not
	// pushed, else sponsor.ErrBillAlreadyPushed.
	MarkBillPushed(ctx context.Context, b *bill.Bill) error

	// User methods
	CreateUser(ctx context.Context, u *identity.User) error
	GetUser(ctx context.Context, userID id.UserID) (*identity.User, error)
	GetUserByWallet(ctx context.Context, address string) (*identity.User, error)
	SetUserWallet(ctx context.Context, userID id.UserID, address string) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
