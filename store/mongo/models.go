package mongo

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

	ID                   string     `grove:"id,pk"                   bson:"_id"`
	ChainBillID          *int64     `grove:"chain_bill_id"           bson:"chain_bill_id,omitempty"`
	BeneficiaryID        string     `grove:"beneficiary_id"          bson:"beneficiary_id"`
	SponsorID            string     `grove:"sponsor_id"              bson:"sponsor_id"`
	PaymentDestination   string     `grove:"payment_destination"     bson:"payment_destination"`
	Amount               string     `grove:"amount"                  bson:"amount"`
	Description          string     `grove:"description"             bson:"description"`
	Category             string     `grove:"category"                bson:"category"`
	Status               string     `grove:"status"                  bson:"status"`
	IsPushedToBlockchain bool       `grove:"is_pushed_to_blockchain" bson:"is_pushed_to_blockchain"`
	TransactionHash      string     `grove:"transaction_hash"        bson:"transaction_hash"`
	PaidAt               *time.Time `grove:"paid_at"                 bson:"paid_at,omitempty"`
	CreatedAt            time.Time  `grove:"created_at"              bson:"created_at"`
	UpdatedAt            time.Time  `grove:"updated_at"              bson:"updated_at"`
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

// toChainColumn maps a ledger id onto a BSON int64.
func toChainColumn(c *bill.ChainBillID) (*int64, error) {
	if c == nil {
		return nil, nil
	}
	if uint64(*c) > math.MaxInt64 {
		return nil, fmt.Errorf("sponsor/mongo: ledger bill id %s exceeds column range", c)
	}
	v := int64(*c)
	return &v, nil
}

// ==================== User models ====================

type userModel struct {
	grove.BaseModel `grove:"table:sponsor_users"`

	ID            string    `grove:"id,pk"          bson:"_id"`
	Username      string    `grove:"username"       bson:"username"`
	Email         string    `grove:"email"          bson:"email"`
	WalletAddress string    `grove:"wallet_address" bson:"wallet_address"`
	CreatedAt     time.Time `grove:"created_at"     bson:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"     bson:"updated_at"`
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
