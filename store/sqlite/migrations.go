package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the sponsor store (SQLite).
var Migrations = migrate.NewGroup("sponsor")

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
    created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
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
    chain_bill_id           INTEGER,
    beneficiary_id          TEXT NOT NULL,
    sponsor_id              TEXT NOT NULL,
    payment_destination     TEXT NOT NULL DEFAULT '',
    amount                  TEXT NOT NULL,
    description             TEXT NOT NULL DEFAULT '',
    category                TEXT NOT NULL DEFAULT '',
    status                  TEXT NOT NULL DEFAULT 'PENDING'
                            CHECK (status IN ('PENDING', 'PAID', 'REJECTED')),
    is_pushed_to_blockchain INTEGER NOT NULL DEFAULT 0,
    transaction_hash        TEXT NOT NULL DEFAULT '',
    paid_at                 DATETIME,
    created_at              DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at              DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sponsor_bills_chain_bill_id
    ON sponsor_bills (chain_bill_id) WHERE chain_bill_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_sponsor_bills_beneficiary ON sponsor_bills (beneficiary_id, created_at);
CREATE INDEX IF NOT EXISTS idx_sponsor_bills_sponsor ON sponsor_bills (sponsor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_sponsor_bills_status ON sponsor_bills (status, is_pushed_to_blockchain, created_at);
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
