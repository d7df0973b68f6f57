// Package audithook bridges sponsor bill events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on a
// particular audit store. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/id"
	"github.com/xraph/sponsor/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnBillCreated         = (*Extension)(nil)
	_ plugin.OnBillPaid            = (*Extension)(nil)
	_ plugin.OnBillRejected        = (*Extension)(nil)
	_ plugin.OnBillPushed          = (*Extension)(nil)
	_ plugin.OnBillImported        = (*Extension)(nil)
	_ plugin.OnBillStatusRefreshed = (*Extension)(nil)
	_ plugin.OnWalletSynced        = (*Extension)(nil)
	_ plugin.OnStatusSweep         = (*Extension)(nil)
	_ plugin.OnChainError          = (*Extension)(nil)
	_ plugin.OnOrphanedChainWrite  = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges sponsor bill events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Bill lifecycle hooks
// ──────────────────────────────────────────────────

// OnBillCreated implements plugin.OnBillCreated.
func (e *Extension) OnBillCreated(ctx context.Context, b *bill.Bill) error {
	return e.record(ctx, ActionBillCreated, SeverityInfo, OutcomeSuccess,
		ResourceBill, b.ID.String(), CategoryBilling, nil,
		billFields(b)...,
	)
}

// OnBillPaid implements plugin.OnBillPaid.
func (e *Extension) OnBillPaid(ctx context.Context, b *bill.Bill, method string) error {
	return e.record(ctx, ActionBillPaid, SeverityInfo, OutcomeSuccess,
		ResourceBill, b.ID.String(), CategoryPayment, nil,
		append(billFields(b), "method", method)...,
	)
}

// OnBillRejected implements plugin.OnBillRejected.
func (e *Extension) OnBillRejected(ctx context.Context, b *bill.Bill) error {
	return e.record(ctx, ActionBillRejected, SeverityWarning, OutcomeSuccess,
		ResourceBill, b.ID.String(), CategoryPayment, nil,
		billFields(b)...,
	)
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnBillPushed implements plugin.OnBillPushed.
func (e *Extension) OnBillPushed(ctx context.Context, b *bill.Bill) error {
	return e.record(ctx, ActionBillPushed, SeverityInfo, OutcomeSuccess,
		ResourceBill, b.ID.String(), CategoryReconciliation, nil,
		billFields(b)...,
	)
}

// OnBillImported implements plugin.OnBillImported. Refreshes of an
// existing row are recorded under ActionBillRefreshed.
func (e *Extension) OnBillImported(ctx context.Context, b *bill.Bill, created bool) error {
	action := ActionBillImported
	if !created {
		action = ActionBillRefreshed
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceBill, b.ID.String(), CategoryReconciliation, nil,
		billFields(b)...,
	)
}

// OnBillStatusRefreshed implements plugin.OnBillStatusRefreshed.
func (e *Extension) OnBillStatusRefreshed(ctx context.Context, b *bill.Bill, from bill.Status) error {
	return e.record(ctx, ActionBillStatusRefreshed, SeverityInfo, OutcomeSuccess,
		ResourceBill, b.ID.String(), CategoryReconciliation, nil,
		append(billFields(b), "from_status", string(from))...,
	)
}

// OnWalletSynced implements plugin.OnWalletSynced.
func (e *Extension) OnWalletSynced(ctx context.Context, userID id.UserID, total, succeeded, failed int, elapsed time.Duration) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	if failed > 0 {
		severity, outcome = SeverityWarning, OutcomePartial
	}
	return e.record(ctx, ActionWalletSynced, severity, outcome,
		ResourceWallet, userID.String(), CategoryReconciliation, nil,
		"total", total,
		"succeeded", succeeded,
		"failed", failed,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnStatusSweep implements plugin.OnStatusSweep. Empty sweeps are not audited.
func (e *Extension) OnStatusSweep(ctx context.Context, scanned, updated, failed int, elapsed time.Duration) error {
	if scanned == 0 {
		return nil
	}
	severity, outcome := SeverityInfo, OutcomeSuccess
	if failed > 0 {
		severity, outcome = SeverityWarning, OutcomePartial
	}
	return e.record(ctx, ActionStatusSweep, severity, outcome,
		ResourceBill, "", CategoryReconciliation, nil,
		"scanned", scanned,
		"updated", updated,
		"failed", failed,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Failure hooks
// ──────────────────────────────────────────────────

// OnChainError implements plugin.OnChainError.
func (e *Extension) OnChainError(ctx context.Context, op string, err error) error {
	return e.record(ctx, ActionChainError, SeverityError, OutcomeFailure,
		ResourceChain, op, CategoryIntegration, err,
		"op", op,
	)
}

// OnOrphanedChainWrite implements plugin.OnOrphanedChainWrite.
func (e *Extension) OnOrphanedChainWrite(ctx context.Context, chainID bill.ChainBillID, txHash string, err error) error {
	return e.record(ctx, ActionOrphanedWrite, SeverityCritical, OutcomeFailure,
		ResourceChain, chainID.String(), CategoryIntegration, err,
		"chain_bill_id", chainID.String(),
		"tx_hash", txHash,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func billFields(b *bill.Bill) []any {
	kv := []any{
		"status", string(b.Status),
		"amount", b.Amount.String(),
		"sponsor_id", b.SponsorID.String(),
		"beneficiary_id", b.BeneficiaryID.String(),
	}
	if b.ChainBillID != nil {
		kv = append(kv, "chain_bill_id", b.ChainBillID.String())
	}
	if b.TransactionHash != "" {
		kv = append(kv, "tx_hash", b.TransactionHash)
	}
	return kv
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
