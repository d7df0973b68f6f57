package sponsor

import (
	"context"
	"strings"

	"github.com/xraph/sponsor/id"
	"github.com/xraph/sponsor/identity"
	"github.com/xraph/sponsor/types"
)

// RegisterUserInput is the request to add a user to the directory.
type RegisterUserInput struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

// RegisterUser adds a user. The wallet address is optional but must be a
// valid account address when given, and may belong to one user only.
func (e *Engine) RegisterUser(ctx context.Context, in RegisterUserInput) (*identity.User, error) {
	if strings.TrimSpace(in.Username) == "" {
		return nil, ValidationError{Field: "username", Message: "is required"}
	}
	if in.WalletAddress != "" && !identity.ValidAddress(in.WalletAddress) {
		return nil, ValidationError{Field: "wallet_address", Message: "is not a valid account address"}
	}

	u := &identity.User{
		Entity:        types.NewEntityAt(e.clock()),
		ID:            id.NewUserID(),
		Username:      strings.TrimSpace(in.Username),
		Email:         strings.TrimSpace(in.Email),
		WalletAddress: identity.NormalizeAddress(in.WalletAddress),
	}
	if err := e.store.CreateUser(ctx, u); err != nil {
		return nil, storeError("create user", err)
	}

	e.logger.Debug("user registered", "user_id", u.ID, "has_wallet", u.HasWallet())
	return u, nil
}

// LinkWallet sets the user's ledger address. Bills already on the ledger for
// the address are not imported; call SyncWallet for that.
func (e *Engine) LinkWallet(ctx context.Context, userID id.UserID, address string) (*identity.User, error) {
	if !identity.ValidAddress(address) {
		return nil, ValidationError{Field: "wallet_address", Message: "is not a valid account address"}
	}
	if err := e.store.SetUserWallet(ctx, userID, identity.NormalizeAddress(address)); err != nil {
		return nil, storeError("link wallet", err)
	}

	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeError("load user", err)
	}
	e.logger.Info("wallet linked", "user_id", userID, "wallet", u.WalletAddress)
	return u, nil
}
