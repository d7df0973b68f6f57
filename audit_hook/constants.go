package audithook

// Action constants for audit events.
const (
	// Bill lifecycle actions
	ActionBillCreated  = "bill.created"
	ActionBillPaid     = "bill.paid"
	ActionBillRejected = "bill.rejected"

	// Reconciliation actions
	ActionBillPushed          = "bill.pushed"
	ActionBillImported        = "bill.imported"
	ActionBillRefreshed       = "bill.refreshed"
	ActionBillStatusRefreshed = "bill.status_refreshed"
	ActionWalletSynced        = "wallet.synced"
	ActionStatusSweep         = "status.sweep"

	// Failure actions
	ActionChainError    = "chain.error"
	ActionOrphanedWrite = "chain.orphaned_write"
)

// Resource constants for audit events.
const (
	ResourceBill   = "bill"
	ResourceWallet = "wallet"
	ResourceChain  = "chain"
)

// Category constants for audit events.
const (
	CategoryBilling        = "billing"
	CategoryPayment        = "payment"
	CategoryReconciliation = "reconciliation"
	CategoryIntegration    = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
