package sponsor

import (
	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/identity"
	"github.com/xraph/sponsor/types"
)

// Re-export common types so callers don't have to import the subpackages.

// Bill is re-exported from the bill package.
type Bill = bill.Bill

// User is re-exported from the identity package.
type User = identity.User

// Amount is re-exported from the types package.
type Amount = types.Amount

// Bill statuses.
const (
	StatusPending  = bill.StatusPending
	StatusPaid     = bill.StatusPaid
	StatusRejected = bill.StatusRejected
)

// Re-export Amount constructors
var (
	ParseAmount     = types.ParseAmount
	MustParseAmount = types.MustParseAmount
)
