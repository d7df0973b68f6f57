package sponsor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/sponsor/chain"
	"github.com/xraph/sponsor/identity"
	"github.com/xraph/sponsor/plugin"
	"github.com/xraph/sponsor/store"
)

// Default engine settings.
const (
	DefaultRefreshInterval = time.Minute
	DefaultSyncConcurrency = 8
	DefaultImportRetries   = 3
	DefaultSweepBatchSize  = 500
)

// Engine runs the bill lifecycle and reconciles the local registry with the
// ledger. The ledger is authoritative: every write reaches the ledger before
// the registry, and reconciliation only ever copies ledger state inward.
type Engine struct {
	store    store.Store
	gateway  chain.Gateway
	resolver identity.Resolver
	plugins  *plugin.Registry
	logger   *slog.Logger
	now      func() time.Time

	// Background workers
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Configuration
	refreshInterval time.Duration
	syncConcurrency int
	importRetries   int
	sweepBatchSize  int
	migrate         bool
}

// New creates an Engine backed by the given registry and ledger gateway.
// Users are resolved through the store unless WithResolver is given.
func New(s store.Store, gw chain.Gateway, opts ...Option) *Engine {
	e := &Engine{
		store:           s,
		gateway:         gw,
		resolver:        identity.FromStore(s),
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		now:             time.Now,
		stopChan:        make(chan struct{}),
		refreshInterval: DefaultRefreshInterval,
		syncConcurrency: DefaultSyncConcurrency,
		importRetries:   DefaultImportRetries,
		sweepBatchSize:  DefaultSweepBatchSize,
		migrate:         true,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithResolver replaces the store-backed identity resolver.
func WithResolver(r identity.Resolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// WithRefreshInterval sets how often pending mirrored bills are re-read from
// the ledger. Zero disables the background sweep.
func WithRefreshInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.refreshInterval = d
	}
}

// WithSyncConcurrency bounds concurrent ledger reads during batch reconciliation.
func WithSyncConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.syncConcurrency = n
		}
	}
}

// WithImportRetries bounds how often an import retries after losing an insert race.
func WithImportRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.importRetries = n
		}
	}
}

// WithSweepBatchSize sets the page size a sweep reads pending bills in.
func WithSweepBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sweepBatchSize = n
		}
	}
}

// WithMigrate toggles running store migrations on Start.
func WithMigrate(enabled bool) Option {
	return func(e *Engine) {
		e.migrate = enabled
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Store returns the bill registry.
func (e *Engine) Store() store.Store { return e.store }

// Gateway returns the ledger gateway.
func (e *Engine) Gateway() chain.Gateway { return e.gateway }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Start migrates the store, initializes plugins and starts the status sweep.
func (e *Engine) Start(ctx context.Context) error {
	if e.migrate {
		if err := e.store.Migrate(ctx); err != nil {
			return err
		}
	}

	e.plugins.EmitInit(ctx, e)

	if e.refreshInterval > 0 {
		e.wg.Add(1)
		go e.refreshWorker(context.WithoutCancel(ctx))
	}

	e.logger.Info("sponsor engine started",
		"refresh_interval", e.refreshInterval,
		"sync_concurrency", e.syncConcurrency,
		"plugins", e.plugins.Count(),
	)

	return nil
}

// Stop shuts down background work, notifies plugins and closes the store.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.wg.Wait()

	e.plugins.EmitShutdown(context.Background())

	return e.store.Close()
}

// refreshWorker periodically applies ledger status changes to pending bills.
func (e *Engine) refreshWorker(ctx context.Context) {
	defer e.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(e.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return

		case <-ticker.C:
			report, err := e.RefreshPendingStatuses(ctx)
			if err != nil {
				e.logger.Error("status sweep failed", "error", err)
				continue
			}
			if report != nil && report.Updated > 0 {
				e.logger.Info("status sweep applied ledger changes",
					"scanned", report.Scanned,
					"updated", report.Updated,
					"failed", report.Failed,
				)
			}
		}
	}
}

func (e *Engine) clock() time.Time { return e.now().UTC() }
