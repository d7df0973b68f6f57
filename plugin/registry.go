package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/id"
)

// hookTimeout bounds a single plugin callback.
const hookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are discovered once at Register time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	onInit                []OnInit
	onShutdown            []OnShutdown
	onBillCreated         []OnBillCreated
	onBillPaid            []OnBillPaid
	onBillRejected        []OnBillRejected
	onBillPushed          []OnBillPushed
	onBillImported        []OnBillImported
	onBillStatusRefreshed []OnBillStatusRefreshed
	onWalletSynced        []OnWalletSynced
	onStatusSweep         []OnStatusSweep
	onChainError          []OnChainError
	onOrphanedChainWrite  []OnOrphanedChainWrite
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default()}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnBillCreated); ok {
		r.onBillCreated = append(r.onBillCreated, v)
		hooks = append(hooks, "OnBillCreated")
	}
	if v, ok := p.(OnBillPaid); ok {
		r.onBillPaid = append(r.onBillPaid, v)
		hooks = append(hooks, "OnBillPaid")
	}
	if v, ok := p.(OnBillRejected); ok {
		r.onBillRejected = append(r.onBillRejected, v)
		hooks = append(hooks, "OnBillRejected")
	}
	if v, ok := p.(OnBillPushed); ok {
		r.onBillPushed = append(r.onBillPushed, v)
		hooks = append(hooks, "OnBillPushed")
	}
	if v, ok := p.(OnBillImported); ok {
		r.onBillImported = append(r.onBillImported, v)
		hooks = append(hooks, "OnBillImported")
	}
	if v, ok := p.(OnBillStatusRefreshed); ok {
		r.onBillStatusRefreshed = append(r.onBillStatusRefreshed, v)
		hooks = append(hooks, "OnBillStatusRefreshed")
	}
	if v, ok := p.(OnWalletSynced); ok {
		r.onWalletSynced = append(r.onWalletSynced, v)
		hooks = append(hooks, "OnWalletSynced")
	}
	if v, ok := p.(OnStatusSweep); ok {
		r.onStatusSweep = append(r.onStatusSweep, v)
		hooks = append(hooks, "OnStatusSweep")
	}
	if v, ok := p.(OnChainError); ok {
		r.onChainError = append(r.onChainError, v)
		hooks = append(hooks, "OnChainError")
	}
	if v, ok := p.(OnOrphanedChainWrite); ok {
		r.onOrphanedChainWrite = append(r.onOrphanedChainWrite, v)
		hooks = append(hooks, "OnOrphanedChainWrite")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitBillCreated emits a bill created event.
func (r *Registry) EmitBillCreated(ctx context.Context, b *bill.Bill) {
	emit(ctx, r, "OnBillCreated", snapshot(r, &r.onBillCreated), func(p OnBillCreated) error {
		return p.OnBillCreated(ctx, b)
	})
}

// EmitBillPaid emits a bill paid event.
func (r *Registry) EmitBillPaid(ctx context.Context, b *bill.Bill, method string) {
	emit(ctx, r, "OnBillPaid", snapshot(r, &r.onBillPaid), func(p OnBillPaid) error {
		return p.OnBillPaid(ctx, b, method)
	})
}

// EmitBillRejected emits a bill rejected event.
func (r *Registry) EmitBillRejected(ctx context.Context, b *bill.Bill) {
	emit(ctx, r, "OnBillRejected", snapshot(r, &r.onBillRejected), func(p OnBillRejected) error {
		return p.OnBillRejected(ctx, b)
	})
}

// EmitBillPushed emits a bill pushed event.
func (r *Registry) EmitBillPushed(ctx context.Context, b *bill.Bill) {
	emit(ctx, r, "OnBillPushed", snapshot(r, &r.onBillPushed), func(p OnBillPushed) error {
		return p.OnBillPushed(ctx, b)
	})
}

// EmitBillImported emits a bill imported event.
func (r *Registry) EmitBillImported(ctx context.Context, b *bill.Bill, created bool) {
	emit(ctx, r, "OnBillImported", snapshot(r, &r.onBillImported), func(p OnBillImported) error {
		return p.OnBillImported(ctx, b, created)
	})
}

// EmitBillStatusRefreshed emits a status refreshed event.
func (r *Registry) EmitBillStatusRefreshed(ctx context.Context, b *bill.Bill, from bill.Status) {
	emit(ctx, r, "OnBillStatusRefreshed", snapshot(r, &r.onBillStatusRefreshed), func(p OnBillStatusRefreshed) error {
		return p.OnBillStatusRefreshed(ctx, b, from)
	})
}

// EmitWalletSynced emits a wallet synced event.
func (r *Registry) EmitWalletSynced(ctx context.Context, userID id.UserID, total, succeeded, failed int, elapsed time.Duration) {
	emit(ctx, r, "OnWalletSynced", snapshot(r, &r.onWalletSynced), func(p OnWalletSynced) error {
		return p.OnWalletSynced(ctx, userID, total, succeeded, failed, elapsed)
	})
}

// EmitStatusSweep emits a status sweep completed event.
func (r *Registry) EmitStatusSweep(ctx context.Context, scanned, updated, failed int, elapsed time.Duration) {
	emit(ctx, r, "OnStatusSweep", snapshot(r, &r.onStatusSweep), func(p OnStatusSweep) error {
		return p.OnStatusSweep(ctx, scanned, updated, failed, elapsed)
	})
}

// EmitChainError emits a ledger failure event.
func (r *Registry) EmitChainError(ctx context.Context, op string, err error) {
	emit(ctx, r, "OnChainError", snapshot(r, &r.onChainError), func(p OnChainError) error {
		return p.OnChainError(ctx, op, err)
	})
}

// EmitOrphanedChainWrite emits an orphaned ledger write event.
func (r *Registry) EmitOrphanedChainWrite(ctx context.Context, chainID bill.ChainBillID, txHash string, err error) {
	emit(ctx, r, "OnOrphanedChainWrite", snapshot(r, &r.onOrphanedChainWrite), func(p OnOrphanedChainWrite) error {
		return p.OnOrphanedChainWrite(ctx, chainID, txHash, err)
	})
}

func snapshot[T any](r *Registry, hooks *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *hooks
}

// emit calls fn for every plugin, logging failures. Plugin errors never
// propagate to the caller.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, plugins []T, fn func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout executes a function with a timeout.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(hookTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
