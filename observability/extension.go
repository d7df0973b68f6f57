// Package observability provides a metrics extension for sponsor that
// records bill lifecycle and reconciliation counts through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/id"
	"github.com/xraph/sponsor/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnBillCreated         = (*MetricsExtension)(nil)
	_ plugin.OnBillPaid            = (*MetricsExtension)(nil)
	_ plugin.OnBillRejected        = (*MetricsExtension)(nil)
	_ plugin.OnBillPushed          = (*MetricsExtension)(nil)
	_ plugin.OnBillImported        = (*MetricsExtension)(nil)
	_ plugin.OnBillStatusRefreshed = (*MetricsExtension)(nil)
	_ plugin.OnWalletSynced        = (*MetricsExtension)(nil)
	_ plugin.OnStatusSweep         = (*MetricsExtension)(nil)
	_ plugin.OnChainError          = (*MetricsExtension)(nil)
	_ plugin.OnOrphanedChainWrite  = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide bill metrics.
// Register it as a sponsor plugin to track them automatically.
type MetricsExtension struct {
	// Bill lifecycle metrics
	BillCreated    Counter
	BillPaidNative Counter
	BillPaidToken  Counter
	BillRejected   Counter
	BillAmount     Histogram

	// Reconciliation metrics
	BillPushed          Counter
	BillImported        Counter
	BillRefreshed       Counter
	BillStatusRefreshed Counter
	WalletSyncs         Counter
	WalletSyncFailures  Counter
	WalletSyncLatency   Histogram
	SweepScanned        Counter
	SweepFailures       Counter
	SweepLatency        Histogram

	// Error metrics
	ChainErrors    Counter
	OrphanedWrites Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		// Bill lifecycle metrics
		BillCreated:    factory.Counter("sponsor.bill.created"),
		BillPaidNative: factory.Counter("sponsor.bill.paid.native"),
		BillPaidToken:  factory.Counter("sponsor.bill.paid.token"),
		BillRejected:   factory.Counter("sponsor.bill.rejected"),
		BillAmount:     factory.Histogram("sponsor.bill.amount"),

		// Reconciliation metrics
		BillPushed:          factory.Counter("sponsor.bill.pushed"),
		BillImported:        factory.Counter("sponsor.bill.imported"),
		BillRefreshed:       factory.Counter("sponsor.bill.refreshed"),
		BillStatusRefreshed: factory.Counter("sponsor.bill.status_refreshed"),
		WalletSyncs:         factory.Counter("sponsor.wallet.syncs"),
		WalletSyncFailures:  factory.Counter("sponsor.wallet.sync.item_failures"),
		WalletSyncLatency:   factory.Histogram("sponsor.wallet.sync.latency_ms"),
		SweepScanned:        factory.Counter("sponsor.sweep.scanned"),
		SweepFailures:       factory.Counter("sponsor.sweep.item_failures"),
		SweepLatency:        factory.Histogram("sponsor.sweep.latency_ms"),

		// Error metrics
		ChainErrors:    factory.Counter("sponsor.chain.errors"),
		OrphanedWrites: factory.Counter("sponsor.chain.orphaned_writes"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Bill lifecycle hooks
// ──────────────────────────────────────────────────

// OnBillCreated implements plugin.OnBillCreated.
func (m *MetricsExtension) OnBillCreated(_ context.Context, b *bill.Bill) error {
	m.BillCreated.Inc()
	m.BillAmount.Observe(b.Amount.Decimal().InexactFloat64())
	return nil
}

// OnBillPaid implements plugin.OnBillPaid.
func (m *MetricsExtension) OnBillPaid(_ context.Context, _ *bill.Bill, method string) error {
	if method == "native" {
		m.BillPaidNative.Inc()
	} else {
		m.BillPaidToken.Inc()
	}
	return nil
}

// OnBillRejected implements plugin.OnBillRejected.
func (m *MetricsExtension) OnBillRejected(_ context.Context, _ *bill.Bill) error {
	m.BillRejected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnBillPushed implements plugin.OnBillPushed.
func (m *MetricsExtension) OnBillPushed(_ context.Context, _ *bill.Bill) error {
	m.BillPushed.Inc()
	return nil
}

// OnBillImported implements plugin.OnBillImported.
func (m *MetricsExtension) OnBillImported(_ context.Context, _ *bill.Bill, created bool) error {
	if created {
		m.BillImported.Inc()
	} else {
		m.BillRefreshed.Inc()
	}
	return nil
}

// OnBillStatusRefreshed implements plugin.OnBillStatusRefreshed.
func (m *MetricsExtension) OnBillStatusRefreshed(_ context.Context, _ *bill.Bill, _ bill.Status) error {
	m.BillStatusRefreshed.Inc()
	return nil
}

// OnWalletSynced implements plugin.OnWalletSynced.
func (m *MetricsExtension) OnWalletSynced(_ context.Context, _ id.UserID, _, _, failed int, elapsed time.Duration) error {
	m.WalletSyncs.Inc()
	m.WalletSyncFailures.Add(float64(failed))
	m.WalletSyncLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnStatusSweep implements plugin.OnStatusSweep.
func (m *MetricsExtension) OnStatusSweep(_ context.Context, scanned, _, failed int, elapsed time.Duration) error {
	m.SweepScanned.Add(float64(scanned))
	m.SweepFailures.Add(float64(failed))
	m.SweepLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// ──────────────────────────────────────────────────
// Failure hooks
// ──────────────────────────────────────────────────

// OnChainError implements plugin.OnChainError.
func (m *MetricsExtension) OnChainError(_ context.Context, _ string, _ error) error {
	m.ChainErrors.Inc()
	return nil
}

// OnOrphanedChainWrite implements plugin.OnOrphanedChainWrite.
func (m *MetricsExtension) OnOrphanedChainWrite(_ context.Context, _ bill.ChainBillID, _ string, _ error) error {
	m.OrphanedWrites.Inc()
	return nil
}
