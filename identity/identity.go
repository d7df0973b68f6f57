// Package identity resolves platform users to ledger addresses and back.
package identity

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xraph/sponsor/id"
	"github.com/xraph/sponsor/types"
)

// User is the subset of a platform account the bill workflow needs.
type User struct {
	types.Entity
	ID            id.UserID `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	WalletAddress string    `json:"wallet_address,omitempty"`
}

// HasWallet reports whether the user has linked a ledger address.
func (u *User) HasWallet() bool { return u.WalletAddress != "" }

// Resolver looks users up by local id or by ledger address.
// Implementations return an error matching sponsor.ErrUserNotFound when no
// user exists.
type Resolver interface {
	UserByID(ctx context.Context, userID id.UserID) (*User, error)
	UserByAddress(ctx context.Context, address string) (*User, error)
}

// Lookup is the storage surface a store-backed Resolver needs.
type Lookup interface {
	GetUser(ctx context.Context, userID id.UserID) (*User, error)
	GetUserByWallet(ctx context.Context, address string) (*User, error)
}

// FromStore adapts a user store into a Resolver.
func FromStore(l Lookup) Resolver { return storeResolver{l: l} }

type storeResolver struct{ l Lookup }

func (r storeResolver) UserByID(ctx context.Context, userID id.UserID) (*User, error) {
	return r.l.GetUser(ctx, userID)
}

func (r storeResolver) UserByAddress(ctx context.Context, address string) (*User, error) {
	return r.l.GetUserByWallet(ctx, NormalizeAddress(address))
}

// NormalizeAddress returns the canonical lower-case form of a hex address.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// SameAddress compares two addresses ignoring case and surrounding space.
func SameAddress(a, b string) bool {
	return a != "" && NormalizeAddress(a) == NormalizeAddress(b)
}

// ValidAddress reports whether address is a 20-byte hex account address.
func ValidAddress(address string) bool {
	return common.IsHexAddress(strings.TrimSpace(address))
}
