package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the sponsor store (PostgreSQL).
var Migrations = migrate.NewGroup("sponsor")

// Constraint names the store maps unique violations back to sentinels by.
const (
	constraintBillsPK      = "sponsor_bills_pkey"
	constraintChainBillID  = "idx_sponsor_bills_chain_bill_id"
	constraintUsersPK      = "sponsor_users_pkey"
	constraintUserWallet   = "idx_sponsor_users_wallet"
	uniqueViolationSQLCode = "23505"
)

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_sponsor_users",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS sponsor_users (
    id             TEXT PRIMARY KEY,
    username       TEXT NOT NULL,
    email          TEXT NOT NULL DEFAULT '',
    wallet_address TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sponsor_users_wallet
    ON sponsor_users (wallet_address) WHERE wallet_address <> '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS sponsor_users`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_sponsor_bills",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS sponsor_bills (
    id                      TEXT PRIMARY KEY,
    chain_bill_id           BIGINT,
    beneficiary_id          TEXT NOT NULL,
    sponsor_id              TEXT NOT NULL,
    payment_destination     TEXT NOT NULL DEFAULT '',
    amount                  NUMERIC(78, 18) NOT NULL,
    description             TEXT NOT NULL DEFAULT '',
    category                TEXT NOT NULL DEFAULT '',
    status                  TEXT NOT NULL DEFAULT 'PENDING'
                            CHECK (status IN ('PENDING', 'PAID', 'REJECTED')),
    is_pushed_to_blockchain BOOLEAN NOT NULL DEFAULT FALSE,
    transaction_hash        TEXT NOT NULL DEFAULT '',
    paid_at                 TIMESTAMPTZ,
    created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (is_pushed_to_blockchain = (chain_bill_id IS NOT NULL))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sponsor_bills_chain_bill_id
    ON sponsor_bills (chain_bill_id) WHERE chain_bill_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_sponsor_bills_beneficiary ON sponsor_bills (beneficiary_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_sponsor_bills_sponsor ON sponsor_bills (sponsor_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_sponsor_bills_pending_pushed
    ON sponsor_bills (created_at) WHERE status = 'PENDING' AND is_pushed_to_blockchain;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS sponsor_bills`)
				return err
			},
		},
	)
}
