// Package plugin provides an extensible plugin system for sponsor.
// Plugins hook into bill lifecycle and reconciliation events.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/id"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. engine is the *sponsor.Engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Bill lifecycle hooks
// ──────────────────────────────────────────────────

// OnBillCreated is called after a bill is created on the ledger and mirrored.
type OnBillCreated interface {
	Plugin
	OnBillCreated(ctx context.Context, b *bill.Bill) error
}

// OnBillPaid is called after a payment is confirmed and mirrored.
type OnBillPaid interface {
	Plugin
	OnBillPaid(ctx context.Context, b *bill.Bill, method string) error
}

// OnBillRejected is called after a rejection is confirmed and mirrored.
type OnBillRejected interface {
	Plugin
	OnBillRejected(ctx context.Context, b *bill.Bill) error
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnBillPushed is called after a local-only bill is linked to a new ledger bill.
type OnBillPushed interface {
	Plugin
	OnBillPushed(ctx context.Context, b *bill.Bill) error
}

// OnBillImported is called after a ledger bill is inserted or refreshed locally.
type OnBillImported interface {
	Plugin
	OnBillImported(ctx context.Context, b *bill.Bill, created bool) error
}

// OnBillStatusRefreshed is called when a sweep applies a status changed on the ledger.
type OnBillStatusRefreshed interface {
	Plugin
	OnBillStatusRefreshed(ctx context.Context, b *bill.Bill, from bill.Status) error
}

// OnWalletSynced is called when a wallet sync batch completes.
type OnWalletSynced interface {
	Plugin
	OnWalletSynced(ctx context.Context, userID id.UserID, total, succeeded, failed int, elapsed time.Duration) error
}

// OnStatusSweep is called when a pending-status sweep completes.
type OnStatusSweep interface {
	Plugin
	OnStatusSweep(ctx context.Context, scanned, updated, failed int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Failure hooks
// ──────────────────────────────────────────────────

// OnChainError is called for every failed ledger call.
type OnChainError interface {
	Plugin
	OnChainError(ctx context.Context, op string, err error) error
}

// OnOrphanedChainWrite is called when a ledger write succeeded but could not
// be mirrored locally. The bill must be recovered by importing chainID.
type OnOrphanedChainWrite interface {
	Plugin
	OnOrphanedChainWrite(ctx context.Context, chainID bill.ChainBillID, txHash string, err error) error
}
