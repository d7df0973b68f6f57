package postgres

import (
	"fmt"
	"math"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/id"
	"github.com/xraph/sponsor/identity"
	"github.com/xraph/sponsor/types"
)

// ==================== Bill models ====================

type billModel struct {
	grove.BaseModel `grove:"table:sponsor_bills"`

	ID                   string     `grove:"id,pk"`
	ChainBillID          *int64     `grove:"chain_bill_id"`
	BeneficiaryID        string     `grove:"beneficiary_id"`
	SponsorID            string     `grove:"sponsor_id"`
	PaymentDestination   string     `grove:"payment_destination"`
	Amount               string     `grove:"amount"`
	Description          string     `grove:"description"`
	Category             string     `grove:"category"`
	Status               string     `grove:"status"`
	IsPushedToBlockchain bool       `grove:"is_pushed_to_blockchain"`
	TransactionHash      string     `grove:"transaction_hash"`
	PaidAt               *time.Time `grove:"paid_at"`
	CreatedAt            time.Time  `grove:"created_at"`
	UpdatedAt            time.Time  `grove:"updated_at"`
}

func toBillModel(b *bill.Bill) (*billModel, error) {
	chainID, err := toChainColumn(b.ChainBillID)
	if err != nil {
		return nil, err
	}
	return &billModel{
		ID:                   b.ID.String(),
		ChainBillID:          chainID,
		BeneficiaryID:        b.BeneficiaryID.String(),
		SponsorID:            b.SponsorID.String(),
		PaymentDestination:   b.PaymentDestination,
		Amount:               b.Amount.String(),
		Description:          b.Description,
		Category:             b.Category,
		Status:               string(b.Status),
		IsPushedToBlockchain: b.IsPushedToBlockchain,
		TransactionHash:      b.TransactionHash,
		PaidAt:               b.PaidAt,
		CreatedAt:            b.CreatedAt,
		UpdatedAt:            b.UpdatedAt,
	}, nil
}

func fromBillModel(m *billModel) (*bill.Bill, error) {
	billID, err := id.ParseBillID(m.ID)
	if err != nil {
		return nil, err
	}
	beneficiaryID, err := id.ParseUserID(m.BeneficiaryID)
	if err != nil {
		return nil, err
	}
	sponsorID, err := id.ParseUserID(m.SponsorID)
	if err != nil {
		return nil, err
	}
	amount, err := types.ParseAmount(m.Amount)
	if err != nil {
		return nil, err
	}
	status, err := bill.ParseStatus(m.Status)
	if err != nil {
		return nil, err
	}

	b := &bill.Bill{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                   billID,
		BeneficiaryID:        beneficiaryID,
		SponsorID:            sponsorID,
		PaymentDestination:   m.PaymentDestination,
		Amount:               amount,
		Description:          m.Description,
		Category:             m.Category,
		Status:               status,
		IsPushedToBlockchain: m.IsPushedToBlockchain,
		TransactionHash:      m.TransactionHash,
		PaidAt:               m.PaidAt,
	}
	if m.ChainBillID != nil {
		b.ChainBillID = bill.ChainBillID(*m.ChainBillID).Ptr()
	}
	return b, nil
}

// toChainColumn maps a ledger id onto the signed BIGINT column.
func toChainColumn(c *bill.ChainBillID) (*int64, error) {
	if c == nil {
		return nil, nil
	}
	if uint64(*c) > math.MaxInt64 {
		return nil, fmt.Errorf("sponsor/postgres: ledger bill id %s exceeds column range", c)
	}
	v := int64(*c)
	return &v, nil
}

// ==================== User models ====================

type userModel struct {
	grove.BaseModel `grove:"table:sponsor_users"`

	ID            string    `grove:"id,pk"`
	Username      string    `grove:"username"`
	Email         string    `grove:"email"`
	WalletAddress string    `grove:"wallet_address"`
	CreatedAt     time.Time `grove:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"`
}

func toUserModel(u *identity.User) *userModel {
	return &userModel{
		ID:            u.ID.String(),
		Username:      u.Username,
		Email:         u.Email,
		WalletAddress: identity.NormalizeAddress(u.WalletAddress),
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

func fromUserModel(m *userModel) (*identity.User, error) {
	userID, err := id.ParseUserID(m.ID)
	if err != nil {
		return nil, err
	}
	return &identity.User{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            userID,
		Username:      m.Username,
		Email:         m.Email,
		WalletAddress: m.WalletAddress,
	}, nil
}
