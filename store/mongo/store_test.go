package mongo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/sponsor"
)

func duplicateKey(msg string) error {
	return mongo.WriteException{
		WriteErrors: []mongo.WriteError{{Code: 11000, Message: msg}},
	}
}

func TestDuplicateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			"ledger id",
			duplicateKey("E11000 duplicate key error collection: app.sponsor_bills index: idx_sponsor_bills_chain_bill_id dup key: { chain_bill_id: 4 }"),
			sponsor.ErrDuplicateChainBillID,
		},
		{
			"wallet",
			duplicateKey("E11000 duplicate key error collection: app.sponsor_users index: idx_sponsor_users_wallet dup key"),
			sponsor.ErrDuplicateWallet,
		},
		{
			"primary key",
			duplicateKey("E11000 duplicate key error collection: app.sponsor_bills index: _id_ dup key"),
			sponsor.ErrAlreadyExists,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, duplicateError(tt.err), tt.want)
		})
	}

	require.NoError(t, duplicateError(errors.New("server selection timeout")))
}

func TestMigrationIndexes(t *testing.T) {
	idx := migrationIndexes()
	require.Len(t, idx[colBills], 4)
	require.Len(t, idx[colUsers], 1)
	require.NotNil(t, idx[colBills][0].Options)
	require.NotNil(t, idx[colUsers][0].Options)
}
